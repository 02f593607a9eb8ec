package idempotency

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps idempotency keys in an expiring in-process cache.
// This replaces a hand-rolled map+mutex+sweep with go-cache's janitor,
// the single-process default.
type MemoryStore struct {
	c *cache.Cache
}

// NewMemoryStore returns a MemoryStore whose background cleanup sweep
// runs at cleanupInterval; a non-positive interval disables the sweep
// (entries are still checked lazily on access).
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{c: cache.New(DefaultTTL, cleanupInterval)}
}

func (m *MemoryStore) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return true, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := m.c.Add(key, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Release(_ context.Context, key string) error {
	if key == "" {
		return nil
	}
	m.c.Delete(key)
	return nil
}
