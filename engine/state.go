package engine

import (
	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/booking"
)

// state is the authoritative entity arena. Bookings, invoices and payment
// events are snapshot-cloned per transaction; the outbox map is owned by the
// engine directly because transactions only ever append to it, while the
// delivery runner mutates event status concurrently with in-flight snapshots.
type state struct {
	bookings      map[uuid.UUID]*booking.Booking
	invoices      map[uuid.UUID]*Invoice
	paymentEvents map[string]*PaymentEventRecord
}

func newState() *state {
	return &state{
		bookings:      make(map[uuid.UUID]*booking.Booking),
		invoices:      make(map[uuid.UUID]*Invoice),
		paymentEvents: make(map[string]*PaymentEventRecord),
	}
}

// clone deep-copies the arena for copy-on-write snapshotting.
func (s *state) clone() *state {
	snapshot := &state{
		bookings:      make(map[uuid.UUID]*booking.Booking, len(s.bookings)),
		invoices:      make(map[uuid.UUID]*Invoice, len(s.invoices)),
		paymentEvents: make(map[string]*PaymentEventRecord, len(s.paymentEvents)),
	}

	for id, record := range s.bookings {
		snapshot.bookings[id] = record.Clone()
	}

	for id, record := range s.invoices {
		snapshot.invoices[id] = record.Clone()
	}

	for key, record := range s.paymentEvents {
		snapshot.paymentEvents[key] = record.Clone()
	}

	return snapshot
}
