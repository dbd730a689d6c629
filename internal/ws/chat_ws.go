package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"cinema-chat/internal/middleware"
	"cinema-chat/internal/models"
	"cinema-chat/internal/observability"
	"cinema-chat/internal/presence"
)

const (
	routingKey  = "ws_events.chats"
	eventTyping = "typing"
)

type Registry interface {
	Register(userID int, h presence.Handle) bool
	Unregister(h presence.Handle) bool
}

// TypingRelay checks membership and fans out typing indicators.
type TypingRelay interface {
	Typing(ctx context.Context, chatID, userID int) error
}

// Handler serves the realtime endpoint. A connection belongs to a user, not a chat.
type Handler struct {
	validator middleware.TokenValidator
	registry  Registry
	typing    TypingRelay
}

func NewHandler(validator middleware.TokenValidator, registry Registry, typing TypingRelay) *Handler {
	return &Handler{validator: validator, registry: registry, typing: typing}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type typingData struct {
	ChatID int `json:"chat_id"`
}

// Handle authenticates, upgrades and registers the connection.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("cinema-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := tokenFromRequest(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := h.validator.ValidateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info)
	// Queued before Register so it is always the first frame the client reads.
	_ = client.Send(models.EventConnected, models.ConnectedEvent{
		Message:   "connected to chat server",
		UserID:    userID,
		ConnID:    info.ConnID,
		Timestamp: info.ConnectedAt.UTC(),
	})
	h.registry.Register(userID, client)

	observability.IncWSActive()
	h.publish("ws_connect", info, "")

	go client.writePump()
	go h.readPump(client)
}

func (h *Handler) readPump(client *Client) {
	var closeReason string
	defer func() {
		h.registry.Unregister(client)
		client.close()
		observability.DecWSActive()
		h.publish("ws_disconnect", client.info, closeReason)
	}()

	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.publish("ws_error", client.info, closeReason)
			}
			return
		}
		h.dispatchInbound(client, data)
	}
}

func (h *Handler) dispatchInbound(client *Client, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("websocket bad frame conn_id=%s: %v", client.info.ConnID, err)
		return
	}

	switch frame.Event {
	case eventTyping:
		var payload typingData
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.ChatID <= 0 {
			return
		}
		if err := h.typing.Typing(context.Background(), payload.ChatID, client.info.UserID); err != nil {
			log.Printf("websocket typing rejected conn_id=%s chat_id=%d: %v", client.info.ConnID, payload.ChatID, err)
		}
	}
}

func (h *Handler) publish(event string, info ConnInfo, reason string) {
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(context.Background(), routingKey, info.lifecycleEvent(event, reason, time.Now()), info.headers())
}
