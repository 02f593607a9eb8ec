package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client, "idem:")
}

func TestRedisStore_TryAcquire_FirstUseSucceedsSecondFails(t *testing.T) {
	s := newTestRedisStore(t)
	ok, err := s.TryAcquire(context.Background(), "req-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TryAcquire(context.Background(), "req-1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStore_TryAcquire_EmptyKeyAlwaysSucceeds(t *testing.T) {
	s := newTestRedisStore(t)
	ok, err := s.TryAcquire(context.Background(), "", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisStore_Release_AllowsReacquisition(t *testing.T) {
	s := newTestRedisStore(t)
	ok, err := s.TryAcquire(context.Background(), "req-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Release(context.Background(), "req-1"))

	ok, err = s.TryAcquire(context.Background(), "req-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisStore_TryAcquire_KeyedUnderConfiguredPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "gateway:idem:")

	ok, err := s.TryAcquire(context.Background(), "req-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, mr.Exists("gateway:idem:req-1"))
}
