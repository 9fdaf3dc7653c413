// Package ratelimit provides a fixed-window counter gating work per logical
// key. Counters reset lazily: an expired window is replaced on next touch,
// never proactively swept.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

// Record is one window counter.
type Record struct {
	Count     int64
	ExpiresAt time.Time
}

// Store persists window counters. Increment must be atomic per key.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, cost int64) (Record, error)
}

// Result reports the remaining budget after a successful consume.
type Result struct {
	Remaining int64
	ResetAt   time.Time
}

// Config tunes one limiter.
type Config struct {
	Window time.Duration
	Max    int64
	// KeyPrefix namespaces counters so independent limiters can share a store.
	KeyPrefix string
}

// Limiter is a fixed-window rate limiter. It never blocks and never queues.
type Limiter struct {
	window    time.Duration
	max       int64
	store     Store
	keyPrefix string
	now       func() time.Time
}

// New creates a limiter over the given store. A nil store falls back to an
// in-process memory store.
func New(cfg Config, store Store) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "rate"
	}

	return &Limiter{
		window:    cfg.Window,
		max:       cfg.Max,
		store:     store,
		keyPrefix: prefix,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Consume charges cost against the key's current window. When the
// post-increment count exceeds the limit it fails with RateLimited carrying
// the seconds until the window resets.
func (l *Limiter) Consume(ctx context.Context, key string, cost int64) (Result, error) {
	if cost <= 0 {
		cost = 1
	}

	storageKey := fmt.Sprintf("%s:%s", l.keyPrefix, key)

	record, err := l.store.Increment(ctx, storageKey, l.window, cost)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit increment: %w", err)
	}

	remaining := l.max - record.Count
	if remaining < 0 {
		remaining = 0
	}

	if record.Count > l.max {
		retryAfter := int(record.ExpiresAt.Sub(l.now()).Seconds() + 1)
		if retryAfter < 1 {
			retryAfter = 1
		}

		return Result{}, problem.RateLimited("", retryAfter)
	}

	return Result{Remaining: remaining, ResetAt: record.ExpiresAt}, nil
}

// MemoryStore is an in-process Store keyed by composed limiter keys.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Increment bumps the key's window counter, replacing expired windows.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, cost int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	existing, ok := s.records[key]
	if !ok || !existing.ExpiresAt.After(now) {
		record := &Record{Count: cost, ExpiresAt: now.Add(window)}
		s.records[key] = record

		return *record, nil
	}

	existing.Count += cost

	return *existing, nil
}

// Clear drops all counters. Test helper.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Record)
}
