package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/booking"
	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

// Tx is the handle a transaction body uses to read and mutate the snapshot.
// It is tenant-scoped: every lookup and scan ignores other tenants' records.
// A Tx must not escape its transaction body.
type Tx struct {
	db       *DB
	state    *state
	tenantID uuid.UUID
	appended []*OutboxEvent
	now      func() time.Time
}

// TenantID returns the tenant the transaction is scoped to.
func (tx *Tx) TenantID() uuid.UUID {
	return tx.tenantID
}

func (tx *Tx) tenantBooking(bookingID uuid.UUID) (*booking.Booking, error) {
	record, ok := tx.state.bookings[bookingID]
	if !ok || record.TenantID != tx.tenantID {
		return nil, problem.BadRequest("Booking not found for tenant.")
	}

	return record, nil
}

// BookingCopy returns a deep copy of a tenant booking.
func (tx *Tx) BookingCopy(bookingID uuid.UUID) (*booking.Booking, error) {
	record, err := tx.tenantBooking(bookingID)
	if err != nil {
		return nil, err
	}

	return record.Clone(), nil
}

func validSlotRange(slotStart, slotEnd time.Time) error {
	if !slotEnd.After(slotStart) {
		return problem.BadRequest("slotEnd must be after slotStart.")
	}

	return nil
}

// ensureSlotAvailable scans the tenant's non-cancelled bookings for the same
// staff member and fails with Conflict on interval overlap. ignoreBookingID
// excludes a booking's own prior interval during reschedule.
func (tx *Tx) ensureSlotAvailable(staffID uuid.UUID, slotStart, slotEnd time.Time, ignoreBookingID uuid.UUID) error {
	for _, record := range tx.state.bookings {
		if record.TenantID != tx.tenantID {
			continue
		}

		if record.Status == booking.StatusCancelled {
			continue
		}

		if ignoreBookingID != uuid.Nil && record.ID == ignoreBookingID {
			continue
		}

		if record.StaffID != staffID {
			continue
		}

		if booking.Overlaps(slotStart, slotEnd, record.SlotStart, record.SlotEnd) {
			return problem.Conflict("Requested slot overlaps with an existing booking.")
		}
	}

	return nil
}

// CreateBooking validates the slot, rejects overlaps, inserts the booking and
// appends a booking.created outbox event.
func (tx *Tx) CreateBooking(input booking.CreateInput) (*booking.Booking, *OutboxEvent, error) {
	if err := validSlotRange(input.SlotStart, input.SlotEnd); err != nil {
		return nil, nil, err
	}

	if err := tx.ensureSlotAvailable(input.StaffID, input.SlotStart, input.SlotEnd, uuid.Nil); err != nil {
		return nil, nil, err
	}

	now := tx.now()

	record := &booking.Booking{
		ID:        uuid.New(),
		TenantID:  tx.tenantID,
		ServiceID: input.ServiceID,
		StaffID:   input.StaffID,
		Customer:  input.Customer,
		SlotStart: input.SlotStart,
		SlotEnd:   input.SlotEnd,
		Status:    booking.StatusScheduled,
		Price:     input.Price,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Notes:     input.Notes,
	}

	tx.state.bookings[record.ID] = record

	event, err := tx.EnqueueOutbox("booking.created", map[string]any{
		"bookingId":  record.ID,
		"tenantId":   record.TenantID,
		"status":     record.Status,
		"occurredAt": now,
	})
	if err != nil {
		return nil, nil, err
	}

	return record.Clone(), event, nil
}

// RescheduleBooking moves a booking to a new slot. Cancelled bookings cannot
// be rescheduled; the booking's own prior interval never conflicts with its
// new one.
func (tx *Tx) RescheduleBooking(input booking.RescheduleInput) (*booking.Booking, *OutboxEvent, error) {
	if err := validSlotRange(input.SlotStart, input.SlotEnd); err != nil {
		return nil, nil, err
	}

	record, err := tx.tenantBooking(input.BookingID)
	if err != nil {
		return nil, nil, err
	}

	if record.Status == booking.StatusCancelled {
		return nil, nil, problem.Conflict("Cannot reschedule a cancelled booking.")
	}

	if err := tx.ensureSlotAvailable(record.StaffID, input.SlotStart, input.SlotEnd, record.ID); err != nil {
		return nil, nil, err
	}

	now := tx.now()
	previousID := record.ID

	record.RescheduledFromID = &previousID
	record.SlotStart = input.SlotStart
	record.SlotEnd = input.SlotEnd
	record.Status = booking.StatusRescheduled
	record.UpdatedAt = now
	record.Version++

	event, err := tx.EnqueueOutbox("booking.rescheduled", map[string]any{
		"bookingId":  record.ID,
		"tenantId":   record.TenantID,
		"status":     record.Status,
		"occurredAt": now,
		"reason":     orNil(input.Reason),
	})
	if err != nil {
		return nil, nil, err
	}

	return record.Clone(), event, nil
}

// CancelBooking marks a booking cancelled. Cancellation is terminal; a second
// cancel fails with Conflict.
func (tx *Tx) CancelBooking(input booking.CancelInput) (*booking.Booking, *OutboxEvent, error) {
	record, err := tx.tenantBooking(input.BookingID)
	if err != nil {
		return nil, nil, err
	}

	if record.Status == booking.StatusCancelled {
		return nil, nil, problem.Conflict("Booking already cancelled.")
	}

	now := tx.now()

	record.Status = booking.StatusCancelled
	if input.Reason != "" {
		reason := input.Reason
		record.CancellationReason = &reason
	}

	record.UpdatedAt = now
	record.Version++

	event, err := tx.EnqueueOutbox("booking.cancelled", map[string]any{
		"bookingId":  record.ID,
		"tenantId":   record.TenantID,
		"status":     record.Status,
		"occurredAt": now,
		"waiveFee":   input.WaiveFee,
		"reason":     orNil(input.Reason),
	})
	if err != nil {
		return nil, nil, err
	}

	return record.Clone(), event, nil
}

// Availability partitions [from, to) into fixed-size slots and returns those
// free of overlapping non-cancelled bookings for the requested staff member.
func (tx *Tx) Availability(query booking.AvailabilityQuery) ([]booking.AvailabilitySlot, error) {
	return listAvailability(tx.state.bookings, tx.tenantID, query)
}

// RecordPaymentEvent dedupes by (provider, providerEventId). A new key is
// stored. An existing key is superseded only when both records carry a
// sequence and the new one is strictly greater; anything else is a replay.
func (tx *Tx) RecordPaymentEvent(record PaymentEventRecord) (stored bool) {
	key := record.Key()

	existing, ok := tx.state.paymentEvents[key]
	if ok {
		if record.Sequence != nil && existing.Sequence != nil && *record.Sequence > *existing.Sequence {
			tx.state.paymentEvents[key] = record.Clone()

			return true
		}

		return false
	}

	tx.state.paymentEvents[key] = record.Clone()

	return true
}

// CreateInvoice inserts an invoice. Duplicate ids fail with Conflict.
func (tx *Tx) CreateInvoice(invoice Invoice) (*Invoice, error) {
	if _, exists := tx.state.invoices[invoice.ID]; exists {
		return nil, problem.Conflict("Invoice already exists.")
	}

	record := invoice.Clone()
	tx.state.invoices[invoice.ID] = record

	return record.Clone(), nil
}

// ListUpcomingBookings returns the tenant's non-cancelled bookings whose slot
// starts inside [from, to], as seen by this transaction's snapshot.
func (tx *Tx) ListUpcomingBookings(from, to time.Time) []*booking.Booking {
	return listUpcomingBookings(tx.state.bookings, tx.tenantID, from, to)
}

// EnqueueOutbox appends a pending outbox event to the in-flight transaction.
// The event becomes visible to delivery listeners only after commit.
func (tx *Tx) EnqueueOutbox(eventType string, payload any) (*OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, problem.Internal(fmt.Errorf("marshal outbox payload: %w", err))
	}

	now := tx.now()

	event := &OutboxEvent{
		ID:        uuid.New(),
		TenantID:  tx.tenantID,
		EventType: eventType,
		Payload:   raw,
		Status:    OutboxStatusPending,
		Attempts:  0,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx.appended = append(tx.appended, event)

	return event.Clone(), nil
}

func orNil(value string) any {
	if value == "" {
		return nil
	}

	return value
}
