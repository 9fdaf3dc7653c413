// Package idempotency deduplicates retried mutating requests by key and
// payload hash, replaying stored responses verbatim.
//
// The coordinator serializes concurrent requests sharing a key, so the record
// lookup, the guarded execution and the record write form one critical
// section. A duplicate arriving while the first execution is in flight waits
// and then replays the stored response instead of executing again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

const (
	// DefaultTTL is how long a stored response stays replayable.
	DefaultTTL = 24 * time.Hour
	// MinKeyLength is the minimum accepted Idempotency-Key length.
	MinKeyLength = 16
)

// Record stores one executed mutation's response. Read-only after creation.
type Record struct {
	Key            string
	TenantID       uuid.UUID
	RequestHash    string
	ResponseHash   string
	ResponseStatus int
	ResponseBody   json.RawMessage
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Store persists idempotency records keyed by (tenantId, key). Get must not
// return expired records.
type Store interface {
	Get(ctx context.Context, tenantID uuid.UUID, key string) (*Record, error)
	Set(ctx context.Context, record *Record) error
}

// Response is the result of one guarded execution.
type Response struct {
	Status int
	Body   json.RawMessage
	// Replayed is true when the response was served from a stored record.
	Replayed bool
}

// Execute runs the guarded mutation and returns the response to persist.
type Execute func(ctx context.Context) (status int, body any, err error)

// Hash produces the deterministic digest used to detect payload drift.
func Hash(input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal for hash: %w", err)
	}

	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:]), nil
}

// Coordinator guards mutating operations behind idempotency keys.
type Coordinator struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	inflight map[string]*keyLock
}

// keyLock serializes requests sharing one (tenantId, key) pair.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewCoordinator creates a coordinator over the given store. A nil store
// falls back to an in-process memory store; a non-positive ttl uses DefaultTTL.
func NewCoordinator(store Store, ttl time.Duration) *Coordinator {
	if store == nil {
		store = NewMemoryStore()
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Coordinator{
		store:    store,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]*keyLock),
	}
}

// acquire takes the per-key lock and returns its release func. While held,
// no other Ensure call for the same (tenantId, key) can run its lookup,
// execution or record write.
func (c *Coordinator) acquire(tenantID uuid.UUID, key string) func() {
	compound := storageKey(tenantID, key)

	c.mu.Lock()

	lock, ok := c.inflight[compound]
	if !ok {
		lock = &keyLock{}
		c.inflight[compound] = lock
	}

	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		c.mu.Lock()

		lock.refs--
		if lock.refs == 0 {
			delete(c.inflight, compound)
		}

		c.mu.Unlock()
	}
}

// Ensure executes the mutation exactly once per (tenantId, key, payload).
// A stored record with the same request hash replays the stored response;
// the same key with a different payload fails with IdempotencyKeyConflict.
func (c *Coordinator) Ensure(
	ctx context.Context,
	tenantID uuid.UUID,
	key string,
	requestBody any,
	execute Execute,
) (Response, error) {
	if len(key) < MinKeyLength {
		return Response{}, problem.BadRequest(
			fmt.Sprintf("Idempotency-Key header must be at least %d characters.", MinKeyLength),
		)
	}

	requestHash, err := Hash(requestBody)
	if err != nil {
		return Response{}, problem.Internal(err)
	}

	// Concurrent duplicates queue here; the winner executes and stores, the
	// rest observe its record and replay.
	release := c.acquire(tenantID, key)
	defer release()

	existing, err := c.store.Get(ctx, tenantID, key)
	if err != nil {
		return Response{}, fmt.Errorf("idempotency lookup: %w", err)
	}

	if existing != nil {
		if existing.RequestHash != requestHash {
			return Response{}, problem.IdempotencyKeyConflict()
		}

		return Response{
			Status:   existing.ResponseStatus,
			Body:     append(json.RawMessage(nil), existing.ResponseBody...),
			Replayed: true,
		}, nil
	}

	status, body, err := execute(ctx)
	if err != nil {
		return Response{}, err
	}

	rawBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, problem.Internal(fmt.Errorf("marshal idempotent response: %w", err))
	}

	responseHash, err := Hash(map[string]any{"status": status, "body": json.RawMessage(rawBody)})
	if err != nil {
		return Response{}, problem.Internal(err)
	}

	now := c.now()

	record := &Record{
		Key:            key,
		TenantID:       tenantID,
		RequestHash:    requestHash,
		ResponseHash:   responseHash,
		ResponseStatus: status,
		ResponseBody:   rawBody,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.ttl),
	}

	if err := c.store.Set(ctx, record); err != nil {
		return Response{}, fmt.Errorf("idempotency persist: %w", err)
	}

	return Response{Status: status, Body: rawBody, Replayed: false}, nil
}

// MemoryStore is an in-process Store with lazy expiry.
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

func storageKey(tenantID uuid.UUID, key string) string {
	return tenantID.String() + ":" + key
}

// Get returns the unexpired record for (tenantId, key), dropping expired ones.
func (s *MemoryStore) Get(_ context.Context, tenantID uuid.UUID, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	compound := storageKey(tenantID, key)

	record, ok := s.records[compound]
	if !ok {
		return nil, nil
	}

	if !record.ExpiresAt.After(s.now()) {
		delete(s.records, compound)

		return nil, nil
	}

	clone := *record
	clone.ResponseBody = append(json.RawMessage(nil), record.ResponseBody...)

	return &clone, nil
}

// Set stores a record.
func (s *MemoryStore) Set(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *record
	clone.ResponseBody = append(json.RawMessage(nil), record.ResponseBody...)
	s.records[storageKey(record.TenantID, record.Key)] = &clone

	return nil
}

// Clear drops all records. Test helper.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Record)
}
