// Package engine provides atomic, serialized execution of booking, invoice
// and payment mutations over shared in-memory state.
//
// Every transaction runs alone: callers are admitted one at a time through a
// FIFO queue, operate on a deep snapshot of the arena, and either commit the
// snapshot atomically or leave the authoritative state untouched. Outbox
// events appended inside a transaction become visible to delivery listeners
// only after commit.
//
// A production deployment replaces the in-memory arena with a transactional
// store offering SERIALIZABLE isolation behind the same Transaction contract.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/booking"
	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

// Listener receives outbox events at commit time.
type Listener func(event *OutboxEvent)

// DB is the transaction engine over the booking/invoice/payment arena.
type DB struct {
	admit chan struct{}

	mu     sync.RWMutex
	state  *state
	outbox map[uuid.UUID]*OutboxEvent

	listenerMu   sync.RWMutex
	listeners    map[int]Listener
	nextListener int

	now func() time.Time
}

// NewDB creates an empty engine.
func NewDB() *DB {
	return &DB{
		admit:     make(chan struct{}, 1),
		state:     newState(),
		outbox:    make(map[uuid.UUID]*OutboxEvent),
		listeners: make(map[int]Listener),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnOutboxEnqueued registers a commit-time listener and returns its
// unsubscribe function. Listeners run outside the engine's critical section.
func (db *DB) OnOutboxEnqueued(listener Listener) func() {
	db.listenerMu.Lock()
	defer db.listenerMu.Unlock()

	id := db.nextListener
	db.nextListener++
	db.listeners[id] = listener

	return func() {
		db.listenerMu.Lock()
		defer db.listenerMu.Unlock()

		delete(db.listeners, id)
	}
}

func (db *DB) notifyOutbox(events []*OutboxEvent) {
	if len(events) == 0 {
		return
	}

	db.listenerMu.RLock()
	listeners := make([]Listener, 0, len(db.listeners))
	for _, listener := range db.listeners {
		listeners = append(listeners, listener)
	}
	db.listenerMu.RUnlock()

	for _, event := range events {
		for _, listener := range listeners {
			listener(event.Clone())
		}
	}
}

// Transaction admits the caller into the engine's single-flight critical
// section, runs fn against a snapshot of the arena, and commits the snapshot
// atomically when fn returns nil. When fn returns an error the snapshot is
// discarded and no partial effects remain visible.
//
// Admission waiting honors ctx; once admitted the body always runs to
// completion. fn must not perform external I/O.
func (db *DB) Transaction(ctx context.Context, tenantID uuid.UUID, fn func(tx *Tx) error) error {
	if fn == nil {
		return problem.Internal(fmt.Errorf("engine: nil transaction body"))
	}

	select {
	case db.admit <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("transaction admission: %w", ctx.Err())
	}
	defer func() { <-db.admit }()

	db.mu.RLock()
	snapshot := db.state.clone()
	db.mu.RUnlock()

	tx := &Tx{
		db:       db,
		state:    snapshot,
		tenantID: tenantID,
		now:      db.now,
	}

	if err := fn(tx); err != nil {
		return err
	}

	db.mu.Lock()
	db.state = snapshot
	for _, event := range tx.appended {
		db.outbox[event.ID] = event
	}
	db.mu.Unlock()

	db.notifyOutbox(tx.appended)

	return nil
}

// ClaimPendingOutbox atomically transitions up to limit due pending events to
// processing and returns copies for dispatch. The check-and-set runs under the
// engine lock so the poll loop and commit-triggered dispatch can never claim
// the same event twice.
func (db *DB) ClaimPendingOutbox(limit int) []*OutboxEvent {
	if limit <= 0 {
		return nil
	}

	now := db.now()

	db.mu.Lock()
	defer db.mu.Unlock()

	claimed := make([]*OutboxEvent, 0, limit)

	for _, event := range db.outbox {
		if event.Status != OutboxStatusPending {
			continue
		}

		if event.NextRunAt.After(now) {
			continue
		}

		lockedAt := now
		event.Status = OutboxStatusProcessing
		event.LockedAt = &lockedAt
		event.UpdatedAt = now

		claimed = append(claimed, event.Clone())
		if len(claimed) >= limit {
			break
		}
	}

	return claimed
}

// MarkOutboxCompleted finalizes a delivered event.
func (db *DB) MarkOutboxCompleted(eventID uuid.UUID) {
	db.mu.Lock()
	defer db.mu.Unlock()

	event, ok := db.outbox[eventID]
	if !ok {
		return
	}

	event.Status = OutboxStatusCompleted
	event.LockedAt = nil
	event.UpdatedAt = db.now()
}

// ReleaseOutboxClaim returns a processing event to pending without recording a
// delivery attempt. Used when a claim is abandoned before dispatch.
func (db *DB) ReleaseOutboxClaim(eventID uuid.UUID) {
	db.mu.Lock()
	defer db.mu.Unlock()

	event, ok := db.outbox[eventID]
	if !ok || event.Status != OutboxStatusProcessing {
		return
	}

	event.Status = OutboxStatusPending
	event.LockedAt = nil
	event.UpdatedAt = db.now()
}

// MarkOutboxFailed records a delivery failure. The event is rescheduled with
// the supplied backoff, or dead-lettered once attempts reach maxAttempts.
func (db *DB) MarkOutboxFailed(eventID uuid.UUID, deliveryErr error, retryIn time.Duration, maxAttempts int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	event, ok := db.outbox[eventID]
	if !ok {
		return
	}

	now := db.now()

	event.Attempts++
	event.LockedAt = nil
	if deliveryErr != nil {
		event.LastError = deliveryErr.Error()
	}

	if event.Attempts >= maxAttempts {
		event.Status = OutboxStatusFailed
		event.NextRunAt = now
	} else {
		event.Status = OutboxStatusPending
		event.NextRunAt = now.Add(retryIn)
	}

	event.UpdatedAt = now
}

// ListDeadLetterOutbox returns all dead-lettered events.
func (db *DB) ListDeadLetterOutbox() []*OutboxEvent {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var dead []*OutboxEvent

	for _, event := range db.outbox {
		if event.Status == OutboxStatusFailed {
			dead = append(dead, event.Clone())
		}
	}

	return dead
}

// OutboxEventByID returns a copy of one outbox event, or nil when unknown.
func (db *DB) OutboxEventByID(eventID uuid.UUID) *OutboxEvent {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.outbox[eventID].Clone()
}

// GetBooking returns a copy of a tenant's booking, or nil when it does not
// exist for that tenant.
func (db *DB) GetBooking(tenantID, bookingID uuid.UUID) *booking.Booking {
	db.mu.RLock()
	defer db.mu.RUnlock()

	record, ok := db.state.bookings[bookingID]
	if !ok || record.TenantID != tenantID {
		return nil
	}

	return record.Clone()
}

// ListUpcomingBookings returns the tenant's non-cancelled bookings whose slot
// starts inside [from, to].
func (db *DB) ListUpcomingBookings(tenantID uuid.UUID, from, to time.Time) []*booking.Booking {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return listUpcomingBookings(db.state.bookings, tenantID, from, to)
}

// ListAvailability computes free slots against the committed state.
func (db *DB) ListAvailability(tenantID uuid.UUID, query booking.AvailabilityQuery) ([]booking.AvailabilitySlot, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return listAvailability(db.state.bookings, tenantID, query)
}

// HasPaymentEvent reports whether an authenticated provider event was stored.
func (db *DB) HasPaymentEvent(provider, providerEventID string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	_, ok := db.state.paymentEvents[paymentEventKey(provider, providerEventID)]

	return ok
}

// Reset drops all state. Test helper.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.state = newState()
	db.outbox = make(map[uuid.UUID]*OutboxEvent)
}

func listUpcomingBookings(bookings map[uuid.UUID]*booking.Booking, tenantID uuid.UUID, from, to time.Time) []*booking.Booking {
	var upcoming []*booking.Booking

	for _, record := range bookings {
		if record.TenantID != tenantID {
			continue
		}

		if record.Status == booking.StatusCancelled {
			continue
		}

		if record.SlotStart.Before(from) || record.SlotStart.After(to) {
			continue
		}

		upcoming = append(upcoming, record.Clone())
	}

	return upcoming
}
