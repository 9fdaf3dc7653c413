package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store enabling distributed rate limiting
// across multiple application instances.
//
// The first increment of a window sets the key's TTL; subsequent increments
// reuse it, so the window boundary is shared by every instance.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed store. Returns nil for a nil client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	if client == nil {
		return nil
	}

	return &RedisStore{client: client}
}

// Increment atomically bumps the key's counter and pins the window TTL on
// first touch.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, cost int64) (Record, error) {
	if s == nil || s.client == nil {
		return Record{}, fmt.Errorf("redis store not configured")
	}

	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, cost)
	ttl := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return Record{}, fmt.Errorf("redis increment: %w", err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		// Fresh key: start the window now.
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return Record{}, fmt.Errorf("redis expire: %w", err)
		}

		remaining = window
	}

	return Record{
		Count:     incr.Val(),
		ExpiresAt: time.Now().UTC().Add(remaining),
	}, nil
}
