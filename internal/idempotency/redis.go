package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore stores idempotency keys in Redis via SETNX, for multi-
// process gateway deployments where an in-memory store would not be
// shared across instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a RedisStore keying entries under prefix+key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return true, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.client.SetNX(ctx, s.prefix+key, "1", ttl).Result()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+key).Err()
}
