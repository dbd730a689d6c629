package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"cinema-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, chat_id, sender_id, content, original_content, is_read, created_at, is_edited, edited_at, deleted_at, deleted_by`

// MessageRepository defines interactions for chat messages and their edit log.
type MessageRepository interface {
	CreateMessage(ctx context.Context, chatID int, senderID int, content string, at time.Time) (models.Message, error)
	GetMessage(ctx context.Context, chatID int, messageID int) (models.Message, error)
	GetMessageByID(ctx context.Context, messageID int) (models.Message, error)
	ListVisibleMessages(ctx context.Context, chatID int, viewer models.Participant, limit int, beforeID *int) ([]models.Message, error)
	LatestVisibleMessage(ctx context.Context, chatID int, viewer models.Participant) (*models.Message, error)
	CountUnread(ctx context.Context, chatID int, viewer models.Participant) (int, error)
	UpdateContent(ctx context.Context, messageID int, editorID int, content string, at time.Time) (models.Message, error)
	SoftDelete(ctx context.Context, messageID int, deletedBy int, at time.Time) error
	ListEditHistory(ctx context.Context, messageID int) ([]models.MessageEditHistory, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage restores every hidden participant, stores the message and bumps the chat,
// all in one transaction. The restore watermark and created_at share the same instant.
func (r *MessageRepo) CreateMessage(ctx context.Context, chatID int, senderID int, content string, at time.Time) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE chat_participants SET restored_at=$2, deleted_at=NULL
        WHERE chat_id=$1 AND deleted_at IS NOT NULL`, chatID, at); err != nil {
		return models.Message{}, fmt.Errorf("restore participants: %w", err)
	}

	var msg models.Message
	if err := tx.GetContext(ctx, &msg, `INSERT INTO messages (chat_id, sender_id, content, original_content, is_read, created_at)
        VALUES ($1, $2, $3, $3, FALSE, $4) RETURNING `+messageColumns, chatID, senderID, content, at); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at=$2 WHERE id=$1`, chatID, at); err != nil {
		return models.Message{}, fmt.Errorf("bump chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetMessage retrieves a message that belongs to the chat, deleted or not.
func (r *MessageRepo) GetMessage(ctx context.Context, chatID int, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1 AND chat_id=$2`, messageID, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetMessageByID retrieves any message row for audit purposes.
func (r *MessageRepo) GetMessageByID(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// visibleFilter builds the WHERE clause shared by every viewer-facing read:
// soft-deleted rows are excluded and the restore watermark is honored.
func visibleFilter(chatID int, viewer models.Participant) (string, []any) {
	where := `chat_id = $1 AND deleted_at IS NULL`
	args := []any{chatID}
	if viewer.RestoredAt != nil {
		args = append(args, *viewer.RestoredAt)
		where += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	return where, args
}

func listVisibleQuery(chatID int, viewer models.Participant, limit int, beforeID *int) (string, []any) {
	where, args := visibleFilter(chatID, viewer)
	if beforeID != nil {
		args = append(args, *beforeID)
		where += fmt.Sprintf(` AND id < $%d`, len(args))
	}
	args = append(args, limit)
	return fmt.Sprintf(`SELECT %s FROM messages WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`, messageColumns, where, len(args)), args
}

func countUnreadQuery(chatID int, viewer models.Participant) (string, []any) {
	where, args := visibleFilter(chatID, viewer)
	args = append(args, viewer.UserID)
	where += fmt.Sprintf(` AND sender_id <> $%d`, len(args))
	if viewer.LastReadAt != nil {
		args = append(args, *viewer.LastReadAt)
		where += fmt.Sprintf(` AND created_at > $%d`, len(args))
	}
	return `SELECT COUNT(*) FROM messages WHERE ` + where, args
}

// ListVisibleMessages returns up to limit messages in chronological order, newest page first.
func (r *MessageRepo) ListVisibleMessages(ctx context.Context, chatID int, viewer models.Participant, limit int, beforeID *int) ([]models.Message, error) {
	query, args := listVisibleQuery(chatID, viewer, limit, beforeID)

	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LatestVisibleMessage returns the most recent visible message or nil.
func (r *MessageRepo) LatestVisibleMessage(ctx context.Context, chatID int, viewer models.Participant) (*models.Message, error) {
	where, args := visibleFilter(chatID, viewer)
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT 1`, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// CountUnread counts visible messages from other participants newer than last_read_at.
func (r *MessageRepo) CountUnread(ctx context.Context, chatID int, viewer models.Participant) (int, error) {
	query, args := countUnreadQuery(chatID, viewer)

	var count int
	err := r.db.GetContext(ctx, &count, query, args...)
	return count, err
}

// UpdateContent appends an edit history row holding the current content and then
// replaces it. original_content is never written.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID int, editorID int, content string, at time.Time) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.GetContext(ctx, &current, `SELECT content FROM messages WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO message_edit_history (message_id, old_content, new_content, edited_by, edited_at)
        VALUES ($1, $2, $3, $4, $5)`, messageID, current, content, editorID, at); err != nil {
		return models.Message{}, fmt.Errorf("append edit history: %w", err)
	}

	var msg models.Message
	if err := tx.GetContext(ctx, &msg, `UPDATE messages SET content=$2, is_edited=TRUE, edited_at=$3
        WHERE id=$1 RETURNING `+messageColumns, messageID, content, at); err != nil {
		return models.Message{}, fmt.Errorf("update message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// SoftDelete marks a message deleted. The row stays for audit.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int, deletedBy int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted_at=$3, deleted_by=$2 WHERE id=$1 AND deleted_at IS NULL`, messageID, deletedBy, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListEditHistory returns the edit log of a message, oldest first.
func (r *MessageRepo) ListEditHistory(ctx context.Context, messageID int) ([]models.MessageEditHistory, error) {
	var history []models.MessageEditHistory
	err := r.db.SelectContext(ctx, &history, `SELECT id, message_id, old_content, new_content, edited_by, edited_at
        FROM message_edit_history WHERE message_id=$1 ORDER BY edited_at ASC, id ASC`, messageID)
	return history, err
}
