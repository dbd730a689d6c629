package models

import "time"

// Message is a chat message. Rows are never removed; deletion only stamps DeletedAt.
type Message struct {
	ID              int        `db:"id" json:"id"`
	ChatID          int        `db:"chat_id" json:"chat_id"`
	SenderID        int        `db:"sender_id" json:"sender_id"`
	Content         string     `db:"content" json:"content"`
	OriginalContent string     `db:"original_content" json:"original_content"`
	IsRead          bool       `db:"is_read" json:"is_read"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	IsEdited        bool       `db:"is_edited" json:"is_edited"`
	EditedAt        *time.Time `db:"edited_at" json:"edited_at"`
	DeletedAt       *time.Time `db:"deleted_at" json:"deleted_at"`
	DeletedBy       *int       `db:"deleted_by" json:"deleted_by"`
}

// MessageEditHistory is one append-only record of a successful edit.
type MessageEditHistory struct {
	ID         int       `db:"id" json:"id"`
	MessageID  int       `db:"message_id" json:"message_id"`
	OldContent string    `db:"old_content" json:"old_content"`
	NewContent string    `db:"new_content" json:"new_content"`
	EditedBy   int       `db:"edited_by" json:"edited_by"`
	EditedAt   time.Time `db:"edited_at" json:"edited_at"`
}

// MessageView is the wire shape of a message for clients.
type MessageView struct {
	ID           int        `json:"id"`
	ChatID       int        `json:"chat_id"`
	SenderID     int        `json:"sender_id"`
	SenderName   string     `json:"sender_name"`
	SenderAvatar *string    `json:"sender_avatar"`
	Content      string     `json:"content"`
	CreatedAt    time.Time  `json:"created_at"`
	IsEdited     bool       `json:"is_edited"`
	EditedAt     *time.Time `json:"edited_at"`
	IsRead       bool       `json:"is_read"`
}

// NewMessageView combines a message with its sender profile.
func NewMessageView(msg Message, sender User) MessageView {
	view := MessageView{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		IsEdited:  msg.IsEdited,
		EditedAt:  msg.EditedAt,
		IsRead:    msg.IsRead,
	}
	view.SenderName = sender.Name
	if sender.AvatarURL != "" {
		avatar := sender.AvatarURL
		view.SenderAvatar = &avatar
	}
	return view
}

// MessageAudit is the compliance view of a message, including hidden state.
type MessageAudit struct {
	Message Message              `json:"message"`
	History []MessageEditHistory `json:"history"`
}
