//go:build unit

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client), server
}

func TestRedisStore_IncrementSharesWindow(t *testing.T) {
	t.Parallel()

	store, server := newRedisStore(t)

	first, err := store.Increment(context.Background(), "rate:tenant-a", time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Count)

	// The key carries the window TTL from the first touch.
	assert.Positive(t, server.TTL("rate:tenant-a"))

	second, err := store.Increment(context.Background(), "rate:tenant-a", time.Minute, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), second.Count)
}

func TestRedisStore_WindowExpiryResetsCounter(t *testing.T) {
	t.Parallel()

	store, server := newRedisStore(t)

	_, err := store.Increment(context.Background(), "rate:tenant-a", time.Minute, 5)
	require.NoError(t, err)

	server.FastForward(61 * time.Second)

	record, err := store.Increment(context.Background(), "rate:tenant-a", time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.Count)
}

func TestLimiter_OverRedisStore(t *testing.T) {
	t.Parallel()

	store, _ := newRedisStore(t)
	limiter := New(Config{Window: time.Minute, Max: 2}, store)

	for i := 0; i < 2; i++ {
		_, err := limiter.Consume(context.Background(), "tenant-a", 1)
		require.NoError(t, err)
	}

	_, err := limiter.Consume(context.Background(), "tenant-a", 1)
	require.Error(t, err)
	assert.Equal(t, 429, problem.StatusOf(err))
}

func TestNewRedisStore_NilClient(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewRedisStore(nil))
}
