package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/booking"
)

// OutboxStatus represents a valid outbox event lifecycle state.
type OutboxStatus string

const (
	// OutboxStatusPending marks an event waiting for delivery.
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusProcessing marks an event claimed by a delivery cycle.
	OutboxStatusProcessing OutboxStatus = "processing"
	// OutboxStatusCompleted marks a delivered event. Terminal.
	OutboxStatusCompleted OutboxStatus = "completed"
	// OutboxStatusFailed marks a dead-lettered event. Terminal.
	OutboxStatusFailed OutboxStatus = "failed"
)

// IsValid reports whether the status is part of the outbox lifecycle.
func (status OutboxStatus) IsValid() bool {
	switch status {
	case OutboxStatusPending, OutboxStatusProcessing, OutboxStatusCompleted, OutboxStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from status to next is allowed.
func (status OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	switch status {
	case OutboxStatusPending:
		return next == OutboxStatusProcessing
	case OutboxStatusProcessing:
		return next == OutboxStatusPending || next == OutboxStatusCompleted || next == OutboxStatusFailed
	case OutboxStatusCompleted, OutboxStatusFailed:
		return false
	default:
		return false
	}
}

func (status OutboxStatus) String() string {
	return string(status)
}

// OutboxEvent is a side-effect record appended atomically with the state
// change that caused it, then delivered asynchronously with retry.
type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  uuid.UUID       `json:"tenantId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	Status    OutboxStatus    `json:"status"`
	Attempts  int             `json:"attempts"`
	NextRunAt time.Time       `json:"nextRunAt"`
	LockedAt  *time.Time      `json:"lockedAt"`
	LastError string          `json:"lastError,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand outside the engine's lock.
func (e *OutboxEvent) Clone() *OutboxEvent {
	if e == nil {
		return nil
	}

	clone := *e

	if e.LockedAt != nil {
		lockedAt := *e.LockedAt
		clone.LockedAt = &lockedAt
	}

	clone.Payload = append(json.RawMessage(nil), e.Payload...)

	return &clone
}

// PaymentEventRecord stores one authenticated payment-provider event,
// keyed by (provider, providerEventId).
type PaymentEventRecord struct {
	Provider        string          `json:"provider"`
	ProviderEventID string          `json:"providerEventId"`
	TenantID        uuid.UUID       `json:"tenantId"`
	Sequence        *int64          `json:"sequence,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	ReceivedAt      time.Time       `json:"receivedAt"`
}

// Key returns the dedup key for the record.
func (r *PaymentEventRecord) Key() string {
	return paymentEventKey(r.Provider, r.ProviderEventID)
}

func paymentEventKey(provider, providerEventID string) string {
	return fmt.Sprintf("%s:%s", provider, providerEventID)
}

// Clone returns a deep copy of the record.
func (r *PaymentEventRecord) Clone() *PaymentEventRecord {
	if r == nil {
		return nil
	}

	clone := *r

	if r.Sequence != nil {
		sequence := *r.Sequence
		clone.Sequence = &sequence
	}

	clone.Payload = append(json.RawMessage(nil), r.Payload...)

	return &clone
}

// Invoice is generated once per booking charge and never mutated.
type Invoice struct {
	ID        uuid.UUID     `json:"id"`
	TenantID  uuid.UUID     `json:"tenantId"`
	BookingID uuid.UUID     `json:"bookingId"`
	IssueDate time.Time     `json:"issueDate"`
	DueDate   time.Time     `json:"dueDate"`
	Language  string        `json:"language"`
	PDFURL    string        `json:"pdfUrl"`
	Total     booking.Money `json:"total"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Clone returns a copy of the invoice.
func (i *Invoice) Clone() *Invoice {
	if i == nil {
		return nil
	}

	clone := *i

	return &clone
}
