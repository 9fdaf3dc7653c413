package booking

import (
	"errors"
	"fmt"
)

// Status represents a booking lifecycle state.
type Status string

const (
	// StatusScheduled marks a freshly created booking.
	StatusScheduled Status = "scheduled"
	// StatusRescheduled marks a booking moved to a new slot at least once.
	StatusRescheduled Status = "rescheduled"
	// StatusCancelled is terminal. Cancelled bookings never block a slot.
	StatusCancelled Status = "cancelled"
)

// ErrStatusInvalid indicates a raw status string outside the lifecycle.
var ErrStatusInvalid = errors.New("booking status invalid")

// ErrTransitionInvalid indicates a lifecycle transition that is not allowed.
var ErrTransitionInvalid = errors.New("booking status transition invalid")

// ParseStatus validates and converts a raw string status.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)

	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrStatusInvalid, raw)
	}

	return status, nil
}

// IsValid reports whether the status is part of the booking lifecycle.
func (status Status) IsValid() bool {
	switch status {
	case StatusScheduled, StatusRescheduled, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from status to next is allowed.
// Transitions are monotonic and cancelled is terminal.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusScheduled:
		return next == StatusRescheduled || next == StatusCancelled
	case StatusRescheduled:
		return next == StatusRescheduled || next == StatusCancelled
	case StatusCancelled:
		return false
	default:
		return false
	}
}

// ValidateTransition validates a lifecycle transition using typed rules.
func ValidateTransition(from, to Status) error {
	if !from.IsValid() {
		return fmt.Errorf("from status: %w: %q", ErrStatusInvalid, string(from))
	}

	if !to.IsValid() {
		return fmt.Errorf("to status: %w: %q", ErrStatusInvalid, string(to))
	}

	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionInvalid, from, to)
	}

	return nil
}

func (status Status) String() string {
	return string(status)
}
