package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cinema-chat/internal/models"
)

// ChatService is the chat operation surface used by the HTTP handlers.
type ChatService interface {
	CreateChat(ctx context.Context, requesterID, friendID int) (models.ChatSummary, error)
	ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error)
	ListMessages(ctx context.Context, chatID, userID, limit int, beforeID *int) ([]models.MessageView, error)
	SendMessage(ctx context.Context, chatID, senderID int, content string) (models.MessageView, error)
	EditMessage(ctx context.Context, chatID, messageID, editorID int, content string) (models.MessageView, error)
	DeleteMessage(ctx context.Context, chatID, messageID, requesterID int) error
	MarkRead(ctx context.Context, chatID, userID int) (time.Time, error)
	DeleteChat(ctx context.Context, chatID, userID int) error
	CanMessage(ctx context.Context, senderID, receiverID int) (bool, string, error)
	MessageAudit(ctx context.Context, messageID int) (models.MessageAudit, error)
}

// ChatHandler manages private chat endpoints.
type ChatHandler struct {
	svc ChatService
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type createChatRequest struct {
	FriendID int `json:"friend_id" binding:"required,gt=0"`
}

type messageRequest struct {
	Content string `json:"content" binding:"required"`
}

// RegisterRoutes mounts the chat endpoints on an authenticated group.
func (h *ChatHandler) RegisterRoutes(api *gin.RouterGroup) {
	chats := api.Group("/chats")
	chats.GET("", h.ListChats)
	chats.POST("", h.CreateChat)
	chats.PUT("/:chat_id/read", h.MarkRead)
	chats.GET("/:chat_id/messages", h.ListMessages)
	chats.POST("/:chat_id/messages", h.SendMessage)
	chats.PUT("/:chat_id/messages/:message_id", h.EditMessage)
	chats.DELETE("/:chat_id/messages/:message_id", h.DeleteMessage)
	chats.DELETE("/:chat_id", h.DeleteChat)

	api.GET("/users/:user_id/can-message", h.CanMessage)
}

// ListChats returns the chats visible to the authenticated user.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.svc.ListChats(requestContext(c), userIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// CreateChat opens or returns the private chat with friend_id.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	summary, err := h.svc.CreateChat(requestContext(c), userIDFromContext(c), req.FriendID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	chatID, ok := intParam(c, "chat_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	readAt, err := h.svc.MarkRead(requestContext(c), chatID, userIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read", "last_read_at": readAt})
}

// ListMessages returns a page of visible messages. limit defaults to 50; before_id pages backwards.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	chatID, ok := intParam(c, "chat_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	var beforeID *int
	if raw := c.Query("before_id"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before_id"})
			return
		}
		beforeID = &parsed
	}

	messages, err := h.svc.ListMessages(requestContext(c), chatID, userIDFromContext(c), limit, beforeID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID, ok := intParam(c, "chat_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	msg, err := h.svc.SendMessage(requestContext(c), chatID, userIDFromContext(c), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *ChatHandler) EditMessage(c *gin.Context) {
	chatID, ok := intParam(c, "chat_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	messageID, ok := intParam(c, "message_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	msg, err := h.svc.EditMessage(requestContext(c), chatID, messageID, userIDFromContext(c), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	chatID, ok := intParam(c, "chat_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	messageID, ok := intParam(c, "message_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	if err := h.svc.DeleteMessage(requestContext(c), chatID, messageID, userIDFromContext(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteChat hides the chat for the caller only.
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID, ok := intParam(c, "chat_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	if err := h.svc.DeleteChat(requestContext(c), chatID, userIDFromContext(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) CanMessage(c *gin.Context) {
	targetID, ok := intParam(c, "user_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	allowed, reason, err := h.svc.CanMessage(requestContext(c), userIDFromContext(c), targetID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"can_message": allowed, "reason": nil}
	if !allowed {
		resp["reason"] = reason
	}
	c.JSON(http.StatusOK, resp)
}
