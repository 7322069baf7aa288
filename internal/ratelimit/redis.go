package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store over Redis INCR/EXPIRE, shared by every process
// pointed at the same server.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing client. The caller owns its lifecycle.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Incr implements Store.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

// Expire implements Store.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}
