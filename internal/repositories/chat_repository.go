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

var (
	ErrChatNotFound        = errors.New("chat not found")
	ErrParticipantNotFound = errors.New("participant not found")
)

const (
	chatColumns        = `id, type, created_at, updated_at`
	participantColumns = `id, chat_id, user_id, joined_at, last_read_at, deleted_at, restored_at`
)

// ChatRepository abstracts chat and participant persistence.
type ChatRepository interface {
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	GetParticipant(ctx context.Context, chatID int, userID int) (models.Participant, error)
	ListParticipants(ctx context.Context, chatID int) ([]models.Participant, error)
	ListActiveParticipations(ctx context.Context, userID int) ([]models.Participant, error)
	FindOrCreatePrivateChat(ctx context.Context, userID int, otherID int, at time.Time) (models.Chat, bool, error)
	HideChat(ctx context.Context, chatID int, userID int, at time.Time) error
	MarkRead(ctx context.Context, chatID int, userID int, at time.Time) (time.Time, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// GetParticipant returns the membership row of a user in a chat, hidden or not.
func (r *ChatRepo) GetParticipant(ctx context.Context, chatID int, userID int) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `SELECT `+participantColumns+` FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, err
}

// ListParticipants returns every participant of a chat regardless of visibility.
func (r *ChatRepo) ListParticipants(ctx context.Context, chatID int) ([]models.Participant, error) {
	var ps []models.Participant
	err := r.db.SelectContext(ctx, &ps, `SELECT `+participantColumns+` FROM chat_participants WHERE chat_id=$1 ORDER BY id`, chatID)
	return ps, err
}

// ListActiveParticipations returns the user's participant rows that are not hidden.
func (r *ChatRepo) ListActiveParticipations(ctx context.Context, userID int) ([]models.Participant, error) {
	var ps []models.Participant
	err := r.db.SelectContext(ctx, &ps, `SELECT `+participantColumns+` FROM chat_participants
        WHERE user_id=$1 AND deleted_at IS NULL ORDER BY id`, userID)
	return ps, err
}

// FindOrCreatePrivateChat returns a chat in which both users are visible participants,
// or creates a fresh one. A chat hidden by either side is never reused here.
// The boolean reports whether a new chat was created.
func (r *ChatRepo) FindOrCreatePrivateChat(ctx context.Context, userID int, otherID int, at time.Time) (models.Chat, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	low, high := userID, otherID
	if low > high {
		low, high = high, low
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1::int, $2::int)`, low, high); err != nil {
		return models.Chat{}, false, fmt.Errorf("lock chat pair: %w", err)
	}

	var chat models.Chat
	err = tx.GetContext(ctx, &chat, `SELECT c.id, c.type, c.created_at, c.updated_at FROM chats c
        JOIN chat_participants a ON a.chat_id = c.id AND a.user_id = $1 AND a.deleted_at IS NULL
        JOIN chat_participants b ON b.chat_id = c.id AND b.user_id = $2 AND b.deleted_at IS NULL
        WHERE c.type = $3
        ORDER BY c.id LIMIT 1`, userID, otherID, models.ChatTypePrivate)
	if err == nil {
		return chat, false, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, false, err
	}

	if err := tx.GetContext(ctx, &chat, `INSERT INTO chats (type, created_at, updated_at) VALUES ($1, $2, $2) RETURNING `+chatColumns,
		models.ChatTypePrivate, at); err != nil {
		return models.Chat{}, false, err
	}
	for _, id := range []int{userID, otherID} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id, joined_at) VALUES ($1, $2, $3)`, chat.ID, id, at); err != nil {
			return models.Chat{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Chat{}, false, err
	}
	return chat, true, nil
}

// HideChat stamps deleted_at on the user's participant row only.
func (r *ChatRepo) HideChat(ctx context.Context, chatID int, userID int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_participants SET deleted_at=$3 WHERE chat_id=$1 AND user_id=$2`, chatID, userID, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// MarkRead advances last_read_at and flips is_read on every message from the other side.
func (r *ChatRepo) MarkRead(ctx context.Context, chatID int, userID int, at time.Time) (time.Time, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return time.Time{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var readAt time.Time
	err = tx.QueryRowxContext(ctx, `UPDATE chat_participants SET last_read_at = GREATEST(last_read_at, $3)
        WHERE chat_id=$1 AND user_id=$2 RETURNING last_read_at`, chatID, userID, at).Scan(&readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrParticipantNotFound
	}
	if err != nil {
		return time.Time{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE chat_id=$1 AND sender_id<>$2 AND is_read = FALSE`, chatID, userID); err != nil {
		return time.Time{}, err
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, err
	}
	return readAt, nil
}
