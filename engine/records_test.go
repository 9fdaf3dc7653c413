//go:build unit

package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestOutboxStatus_IsValid(t *testing.T) {
	t.Parallel()

	for _, status := range []OutboxStatus{
		OutboxStatusPending,
		OutboxStatusProcessing,
		OutboxStatusCompleted,
		OutboxStatusFailed,
	} {
		assert.True(t, status.IsValid(), status.String())
	}

	assert.False(t, OutboxStatus("queued").IsValid())
	assert.False(t, OutboxStatus("").IsValid())
}

func TestOutboxStatus_CanTransitionTo(t *testing.T) {
	t.Parallel()

	assert.True(t, OutboxStatusPending.CanTransitionTo(OutboxStatusProcessing))

	// A claimed event can be released, delivered or dead-lettered.
	assert.True(t, OutboxStatusProcessing.CanTransitionTo(OutboxStatusPending))
	assert.True(t, OutboxStatusProcessing.CanTransitionTo(OutboxStatusCompleted))
	assert.True(t, OutboxStatusProcessing.CanTransitionTo(OutboxStatusFailed))

	// Completed and failed are terminal.
	assert.False(t, OutboxStatusCompleted.CanTransitionTo(OutboxStatusPending))
	assert.False(t, OutboxStatusFailed.CanTransitionTo(OutboxStatusPending))

	assert.False(t, OutboxStatusPending.CanTransitionTo(OutboxStatusCompleted))
	assert.False(t, OutboxStatusPending.CanTransitionTo(OutboxStatusFailed))
}

func TestOutboxEvent_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	lockedAt := time.Now().UTC()

	event := &OutboxEvent{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		EventType: "booking.created",
		Payload:   json.RawMessage(`{"k":"v"}`),
		Status:    OutboxStatusProcessing,
		Attempts:  1,
		LockedAt:  &lockedAt,
	}

	clone := event.Clone()

	clone.Payload[2] = 'x'
	*clone.LockedAt = clone.LockedAt.Add(time.Hour)
	clone.Status = OutboxStatusFailed

	assert.Equal(t, json.RawMessage(`{"k":"v"}`), event.Payload)
	assert.Equal(t, lockedAt, *event.LockedAt)
	assert.Equal(t, OutboxStatusProcessing, event.Status)

	var nilEvent *OutboxEvent

	assert.Nil(t, nilEvent.Clone())
}

func TestPaymentEventRecord_KeyAndClone(t *testing.T) {
	t.Parallel()

	sequence := int64(7)
	record := &PaymentEventRecord{
		Provider:        "stripe",
		ProviderEventID: "evt_123",
		TenantID:        uuid.New(),
		Sequence:        &sequence,
		Payload:         json.RawMessage(`{}`),
	}

	assert.Equal(t, "stripe:evt_123", record.Key())

	clone := record.Clone()
	*clone.Sequence = 9

	assert.Equal(t, int64(7), *record.Sequence)
}
