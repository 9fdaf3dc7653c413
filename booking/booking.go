// Package booking holds the tenant-scoped booking domain model shared by the
// transaction engine and the HTTP contract.
package booking

import (
	"time"

	"github.com/google/uuid"
)

// Money is an amount in the smallest currency unit (Rappen/Cents).
type Money struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

// Customer is the customer reference embedded in a booking.
type Customer struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
}

// Booking is the authoritative record for one reserved slot. It is owned
// exclusively by the transaction engine: created on booking creation, mutated
// on reschedule/cancel, never physically deleted.
type Booking struct {
	ID                 uuid.UUID  `json:"id"`
	TenantID           uuid.UUID  `json:"tenantId"`
	ServiceID          uuid.UUID  `json:"serviceId"`
	StaffID            uuid.UUID  `json:"staffId"`
	Customer           Customer   `json:"customer"`
	SlotStart          time.Time  `json:"slotStart"`
	SlotEnd            time.Time  `json:"slotEnd"`
	Status             Status     `json:"status"`
	Price              Money      `json:"price"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	RescheduledFromID  *uuid.UUID `json:"rescheduledFromId"`
	CancellationReason *string    `json:"cancellationReason"`
	Notes              string     `json:"notes,omitempty"`
}

// Clone returns a deep copy safe to hand outside the engine's critical section.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}

	clone := *b

	if b.RescheduledFromID != nil {
		id := *b.RescheduledFromID
		clone.RescheduledFromID = &id
	}

	if b.CancellationReason != nil {
		reason := *b.CancellationReason
		clone.CancellationReason = &reason
	}

	return &clone
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// AvailabilitySlot is one free interval returned by availability queries.
type AvailabilitySlot struct {
	SlotStart time.Time `json:"slotStart"`
	SlotEnd   time.Time `json:"slotEnd"`
	ServiceID uuid.UUID `json:"serviceId"`
	StaffID   uuid.UUID `json:"staffId"`
}

// CreateInput carries the validated fields for a booking creation.
type CreateInput struct {
	ServiceID uuid.UUID `json:"serviceId"`
	StaffID   uuid.UUID `json:"staffId"`
	SlotStart time.Time `json:"slotStart"`
	SlotEnd   time.Time `json:"slotEnd"`
	Price     Money     `json:"price"`
	Customer  Customer  `json:"customer"`
	Notes     string    `json:"notes,omitempty"`
}

// RescheduleInput moves an existing booking to a new slot.
type RescheduleInput struct {
	BookingID uuid.UUID `json:"bookingId"`
	SlotStart time.Time `json:"slotStart"`
	SlotEnd   time.Time `json:"slotEnd"`
	Reason    string    `json:"reason,omitempty"`
}

// CancelInput cancels an existing booking.
type CancelInput struct {
	BookingID uuid.UUID `json:"bookingId"`
	Reason    string    `json:"reason,omitempty"`
	WaiveFee  bool      `json:"waiveFee"`
}

// AvailabilityQuery describes one availability lookup. StaffID is required:
// resolving an arbitrary staff member from unrelated bookings would silently
// guess, so callers must supply it until a roster collaborator exists.
type AvailabilityQuery struct {
	ServiceID          uuid.UUID
	StaffID            uuid.UUID
	From               time.Time
	To                 time.Time
	GranularityMinutes int
}

// DefaultGranularityMinutes is applied when an availability query omits the
// slot granularity. MaxGranularityMinutes bounds it.
const (
	DefaultGranularityMinutes = 15
	MaxGranularityMinutes     = 480
)
