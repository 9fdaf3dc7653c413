package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// RedisStore persists idempotency records in Redis with server-side expiry.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client. Returns nil for a nil client.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if client == nil {
		return nil
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisStore{client: client, ttl: ttl}
}

// Get fetches the record for (tenantId, key). Expiry is handled by Redis.
func (s *RedisStore) Get(ctx context.Context, tenantID uuid.UUID, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+storageKey(tenantID, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("redis get idempotency record: %w", err)
	}

	record := &Record{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}

	return record, nil
}

// Set stores the record with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, record *Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	compound := redisKeyPrefix + storageKey(record.TenantID, record.Key)

	if err := s.client.Set(ctx, compound, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set idempotency record: %w", err)
	}

	return nil
}
