package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"cinema-chat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

const (
	userColumns      = `id, username, name, COALESCE(avatar_url, '') AS avatar_url, message_privacy, COALESCE(is_active, TRUE) AS is_active`
	friendshipStatus = "accepted"
)

// UserRepository reads identity and friendship data owned by the user service.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	BulkUsers(ctx context.Context, ids []int) ([]models.User, error)
	AreFriends(ctx context.Context, userID int, otherID int) (bool, error)
	AcceptedFriendIDs(ctx context.Context, userID int) ([]int, error)
}

// UserRepo is a read-only sqlx view over the shared users and friendships tables.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetUserByUsername fetches a user by the unique username carried in tokens.
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// BulkUsers fetches multiple users in one query. Missing ids are skipped.
func (r *UserRepo) BulkUsers(ctx context.Context, ids []int) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	id64s := make([]int64, 0, len(ids))
	for _, id := range ids {
		id64s = append(id64s, int64(id))
	}

	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, pq.Int64Array(id64s))
	return users, err
}

// AreFriends reports an accepted friendship in either direction.
func (r *UserRepo) AreFriends(ctx context.Context, userID int, otherID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM friendships
        WHERE ((user_id=$1 AND friend_id=$2) OR (user_id=$2 AND friend_id=$1)) AND status=$3)`, userID, otherID, friendshipStatus)
	return exists, err
}

// AcceptedFriendIDs lists the ids of every accepted friend of the user.
func (r *UserRepo) AcceptedFriendIDs(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT DISTINCT CASE WHEN user_id=$1 THEN friend_id ELSE user_id END
        FROM friendships WHERE (user_id=$1 OR friend_id=$1) AND status=$2`, userID, friendshipStatus)
	return ids, err
}
