package models

import "time"

// Realtime event names pushed to clients.
const (
	EventNewMessage       = "new_message"
	EventMessageEdited    = "message_edited"
	EventMessageDeleted   = "message_deleted"
	EventMessageRead      = "message_read"
	EventUserTyping       = "user_typing"
	EventUserOnlineStatus = "user_online_status"
	EventConnected        = "connected"
)

// Frame is the envelope written to websocket clients.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ConnectedEvent greets a connection right after the handshake.
type ConnectedEvent struct {
	Message   string    `json:"message"`
	UserID    int       `json:"user_id"`
	ConnID    string    `json:"conn_id"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageDeletedEvent is the payload of message_deleted.
type MessageDeletedEvent struct {
	ChatID    int `json:"chat_id"`
	MessageID int `json:"message_id"`
	DeletedBy int `json:"deleted_by"`
}

// MessageReadEvent is the payload of message_read.
type MessageReadEvent struct {
	ChatID int       `json:"chat_id"`
	UserID int       `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// TypingEvent is the payload of user_typing.
type TypingEvent struct {
	ChatID int `json:"chat_id"`
	UserID int `json:"user_id"`
}

// OnlineStatusEvent is the payload of user_online_status.
type OnlineStatusEvent struct {
	UserID   int  `json:"user_id"`
	IsOnline bool `json:"is_online"`
}
