package store

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const presenceKey = "presence:active"

// RedisPresence keeps the presence map in a single Redis hash so several
// tabs or a restarted server see the same state.
type RedisPresence struct {
	client *redis.Client
}

// NewRedisPresence connects to redisURL and verifies the connection.
func NewRedisPresence(ctx context.Context, redisURL string) (*RedisPresence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisPresence{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisPresence) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisPresence) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// LoadPresence returns every entry in the hash. Entries whose value is not a
// number are reported as zero.
func (s *RedisPresence) LoadPresence(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, presenceKey).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(raw))
	for id, v := range raw {
		ts, _ := strconv.ParseInt(v, 10, 64)
		out[id] = ts
	}
	return out, nil
}

// UpsertPresence sets userID's timestamp.
func (s *RedisPresence) UpsertPresence(ctx context.Context, userID string, at int64) error {
	return s.client.HSet(ctx, presenceKey, userID, at).Err()
}

// RemovePresence deletes userID from the hash.
func (s *RedisPresence) RemovePresence(ctx context.Context, userID string) error {
	return s.client.HDel(ctx, presenceKey, userID).Err()
}
