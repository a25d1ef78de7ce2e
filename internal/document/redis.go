package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "tutorcall:document:"
	defaultTTL = 24 * time.Hour
)

// RedisStore is a [Store] backed by Redis string keys with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps client. A non-positive ttl selects 24h.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Ping checks connectivity. It matches the health checker signature.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, sessionID, text string) error {
	if err := s.client.Set(ctx, key(sessionID), text, s.ttl).Err(); err != nil {
		return fmt.Errorf("document: redis set %s: %w", sessionID, err)
	}
	return nil
}

// Get implements Store. Reads refresh the TTL.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (string, error) {
	k := key(sessionID)
	val, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("document: redis get %s: %w", sessionID, err)
	}
	if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
		slog.Warn("document: failed to refresh ttl", "session_id", sessionID, "err", err)
	}
	return val, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("document: redis del %s: %w", sessionID, err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func key(sessionID string) string { return keyPrefix + sessionID }
