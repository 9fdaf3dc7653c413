//go:build unit

package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	status, err := ParseStatus("scheduled")
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, status)

	status, err = ParseStatus("rescheduled")
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, status)

	_, err = ParseStatus("pending")
	require.ErrorIs(t, err, ErrStatusInvalid)

	_, err = ParseStatus("SCHEDULED")
	require.ErrorIs(t, err, ErrStatusInvalid)
}

func TestStatusCanTransitionTo(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusScheduled.CanTransitionTo(StatusRescheduled))
	assert.True(t, StatusScheduled.CanTransitionTo(StatusCancelled))
	assert.True(t, StatusRescheduled.CanTransitionTo(StatusRescheduled))
	assert.True(t, StatusRescheduled.CanTransitionTo(StatusCancelled))

	// Cancelled is terminal.
	assert.False(t, StatusCancelled.CanTransitionTo(StatusScheduled))
	assert.False(t, StatusCancelled.CanTransitionTo(StatusRescheduled))
	assert.False(t, StatusCancelled.CanTransitionTo(StatusCancelled))

	assert.False(t, StatusScheduled.CanTransitionTo(StatusScheduled))
	assert.False(t, StatusRescheduled.CanTransitionTo(StatusScheduled))
}

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateTransition(StatusScheduled, StatusCancelled))
	require.ErrorIs(t, ValidateTransition(StatusCancelled, StatusRescheduled), ErrTransitionInvalid)
	require.ErrorIs(t, ValidateTransition(Status("unknown"), StatusCancelled), ErrStatusInvalid)
}

func TestOverlaps(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	// Partial overlap on either side.
	assert.True(t, Overlaps(base, base.Add(time.Hour), base.Add(30*time.Minute), base.Add(90*time.Minute)))
	assert.True(t, Overlaps(base.Add(30*time.Minute), base.Add(90*time.Minute), base, base.Add(time.Hour)))

	// Containment.
	assert.True(t, Overlaps(base, base.Add(2*time.Hour), base.Add(30*time.Minute), base.Add(time.Hour)))

	// Touching boundaries do not overlap.
	assert.False(t, Overlaps(base, base.Add(time.Hour), base.Add(time.Hour), base.Add(2*time.Hour)))
	assert.False(t, Overlaps(base.Add(time.Hour), base.Add(2*time.Hour), base, base.Add(time.Hour)))
}
