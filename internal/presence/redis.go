package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineSetKey   = "presence:online"
	lastSeenPrefix = "presence:last_seen:"
)

// RedisMirror exposes presence to other services through Redis.
type RedisMirror struct {
	client   redis.Cmdable
	lastSeen time.Duration
}

// NewRedisMirror builds a mirror; last-seen keys expire after ttl (0 keeps them).
func NewRedisMirror(client redis.Cmdable, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, lastSeen: ttl}
}

func (m *RedisMirror) SetOnline(ctx context.Context, userID int) error {
	return m.client.SAdd(ctx, onlineSetKey, strconv.Itoa(userID)).Err()
}

func (m *RedisMirror) SetOffline(ctx context.Context, userID int, lastSeen time.Time) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, onlineSetKey, strconv.Itoa(userID))
		pipe.Set(ctx, lastSeenKey(userID), lastSeen.UTC().Format(time.RFC3339), m.lastSeen)
		return nil
	})
	return err
}

// Reset clears the online set; presence does not survive a restart.
func (m *RedisMirror) Reset(ctx context.Context) error {
	return m.client.Del(ctx, onlineSetKey).Err()
}

func lastSeenKey(userID int) string {
	return fmt.Sprintf("%s%d", lastSeenPrefix, userID)
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
