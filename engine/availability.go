package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/booking"
	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

// listAvailability partitions [from, to) into granularity-sized slots and
// keeps those with no overlapping non-cancelled booking for the requested
// staff member. StaffID is mandatory: guessing a staff member from unrelated
// bookings would return availability for the wrong calendar.
func listAvailability(
	bookings map[uuid.UUID]*booking.Booking,
	tenantID uuid.UUID,
	query booking.AvailabilityQuery,
) ([]booking.AvailabilitySlot, error) {
	if err := validSlotRange(query.From, query.To); err != nil {
		return nil, err
	}

	if query.StaffID == uuid.Nil {
		return nil, problem.BadRequest("staffId is required for availability queries.")
	}

	granularity := query.GranularityMinutes
	if granularity <= 0 {
		granularity = booking.DefaultGranularityMinutes
	}

	if granularity > booking.MaxGranularityMinutes {
		return nil, problem.BadRequest("granularityMinutes exceeds the maximum of 480.")
	}

	step := time.Duration(granularity) * time.Minute

	var slots []booking.AvailabilitySlot

	for slotStart := query.From; !slotStart.Add(step).After(query.To); slotStart = slotStart.Add(step) {
		slotEnd := slotStart.Add(step)

		if slotTaken(bookings, tenantID, query, slotStart, slotEnd) {
			continue
		}

		slots = append(slots, booking.AvailabilitySlot{
			SlotStart: slotStart,
			SlotEnd:   slotEnd,
			ServiceID: query.ServiceID,
			StaffID:   query.StaffID,
		})
	}

	return slots, nil
}

func slotTaken(
	bookings map[uuid.UUID]*booking.Booking,
	tenantID uuid.UUID,
	query booking.AvailabilityQuery,
	slotStart, slotEnd time.Time,
) bool {
	for _, record := range bookings {
		if record.TenantID != tenantID {
			continue
		}

		if record.ServiceID != query.ServiceID {
			continue
		}

		if record.StaffID != query.StaffID {
			continue
		}

		if record.Status == booking.StatusCancelled {
			continue
		}

		if booking.Overlaps(slotStart, slotEnd, record.SlotStart, record.SlotEnd) {
			return true
		}
	}

	return false
}
