package models

import "time"

// ChatTypePrivate is the only chat kind with implemented semantics.
const ChatTypePrivate = "private"

// Chat is a conversation container. Private chats own exactly two participants.
type Chat struct {
	ID        int       `db:"id" json:"id"`
	Type      string    `db:"type" json:"type"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Participant carries one user's personal visibility and read state for a chat.
type Participant struct {
	ID         int        `db:"id" json:"id"`
	ChatID     int        `db:"chat_id" json:"chat_id"`
	UserID     int        `db:"user_id" json:"user_id"`
	JoinedAt   time.Time  `db:"joined_at" json:"joined_at"`
	LastReadAt *time.Time `db:"last_read_at" json:"last_read_at"`
	DeletedAt  *time.Time `db:"deleted_at" json:"deleted_at"`
	RestoredAt *time.Time `db:"restored_at" json:"restored_at"`
}

// Hidden reports whether the user has deleted the chat from their list.
func (p Participant) Hidden() bool {
	return p.DeletedAt != nil
}

// ChatSummary is the per-viewer view of a chat returned by list and create.
type ChatSummary struct {
	ID          int       `json:"id"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UnreadCount int       `json:"unread_count"`

	OtherUserID       *int    `json:"other_user_id"`
	OtherUserName     *string `json:"other_user_name"`
	OtherUserUsername *string `json:"other_user_username"`
	OtherUserAvatar   *string `json:"other_user_avatar"`

	LastMessage         *string    `json:"last_message"`
	LastMessageTime     *time.Time `json:"last_message_time"`
	LastMessageSenderID *int       `json:"last_message_sender_id"`
}

// SortTime is the ordering key for chat lists.
func (s ChatSummary) SortTime() time.Time {
	if s.LastMessageTime != nil {
		return *s.LastMessageTime
	}
	return s.CreatedAt
}
