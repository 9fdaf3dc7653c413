//go:build unit

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carosellagiuliano-max/codeccloud-core/booking"
	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

func testCreateInput(staffID uuid.UUID, start, end time.Time) booking.CreateInput {
	return booking.CreateInput{
		ServiceID: uuid.New(),
		StaffID:   staffID,
		SlotStart: start,
		SlotEnd:   end,
		Price:     booking.Money{Currency: "CHF", Amount: 8500},
		Customer: booking.Customer{
			ID:        uuid.New(),
			Email:     "anna@example.ch",
			FirstName: "Anna",
			LastName:  "Keller",
		},
	}
}

func TestTransaction_CommitMakesChangesVisible(t *testing.T) {
	t.Parallel()

	db := NewDB()
	tenantID := uuid.New()
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	var created *booking.Booking

	err := db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		record, event, err := tx.CreateBooking(testCreateInput(uuid.New(), start, start.Add(time.Hour)))
		if err != nil {
			return err
		}

		require.NotNil(t, event)
		require.Equal(t, "booking.created", event.EventType)

		created = record

		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, created)

	stored := db.GetBooking(tenantID, created.ID)
	require.NotNil(t, stored)
	assert.Equal(t, booking.StatusScheduled, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestTransaction_ErrorDiscardsAllEffects(t *testing.T) {
	t.Parallel()

	db := NewDB()
	tenantID := uuid.New()
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	var leakedID uuid.UUID

	boom := errors.New("boom")

	err := db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		record, _, err := tx.CreateBooking(testCreateInput(uuid.New(), start, start.Add(time.Hour)))
		require.NoError(t, err)

		leakedID = record.ID

		if _, err := tx.EnqueueOutbox("booking.created", map[string]any{"bookingId": record.ID}); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Nil(t, db.GetBooking(tenantID, leakedID))
	assert.Empty(t, db.ClaimPendingOutbox(10))
}

func TestTransaction_AdmissionHonorsContextWhileWaiting(t *testing.T) {
	t.Parallel()

	db := NewDB()
	tenantID := uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = db.Transaction(context.Background(), tenantID, func(*Tx) error {
			close(entered)
			<-release

			return nil
		})
	}()

	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := db.Transaction(ctx, tenantID, func(*Tx) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestTransaction_ConcurrentIdenticalSlotAdmitsExactlyOne(t *testing.T) {
	t.Parallel()

	db := NewDB()
	tenantID := uuid.New()
	staffID := uuid.New()
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	const workers = 100

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
				_, _, err := tx.CreateBooking(testCreateInput(staffID, start, start.Add(time.Hour)))

				return err
			})

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				succeeded++

				return
			}

			if problem.StatusOf(err) == 409 {
				conflicts++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
}

func TestRescheduleBooking_FreesOldSlotAndBlocksNew(t *testing.T) {
	t.Parallel()

	db := NewDB()
	tenantID := uuid.New()
	staffID := uuid.New()
	morning := time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	afternoon := time.Date(2026, 9, 2, 14, 0, 0, 0, time.UTC)

	var bookingID uuid.UUID

	require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		record, _, err := tx.CreateBooking(testCreateInput(staffID, morning, morning.Add(time.Hour)))
		if err != nil {
			return err
		}

		bookingID = record.ID

		return nil
	}))

	require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		record, event, err := tx.RescheduleBooking(booking.RescheduleInput{
			BookingID: bookingID,
			SlotStart: afternoon,
			SlotEnd:   afternoon.Add(time.Hour),
		})
		if err != nil {
			return err
		}

		require.Equal(t, booking.StatusRescheduled, record.Status)
		require.Equal(t, int64(2), record.Version)
		require.NotNil(t, record.RescheduledFromID)
		require.Equal(t, "booking.rescheduled", event.EventType)

		return nil
	}))

	// The old slot is free again.
	require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		_, _, err := tx.CreateBooking(testCreateInput(staffID, morning, morning.Add(time.Hour)))

		return err
	}))

	// The new slot is taken.
	err := db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		_, _, err := tx.CreateBooking(testCreateInput(staffID, afternoon, afternoon.Add(time.Hour)))

		return err
	})
	require.Error(t, err)
	assert.Equal(t, 409, problem.StatusOf(err))
}

func TestCancelBooking_TerminalAndFreesSlot(t *testing.T) {
	t.Parallel()

	db := NewDB()
	tenantID := uuid.New()
	staffID := uuid.New()
	start := time.Date(2026, 9, 3, 9, 0, 0, 0, time.UTC)

	var bookingID uuid.UUID

	require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		record, _, err := tx.CreateBooking(testCreateInput(staffID, start, start.Add(time.Hour)))
		if err != nil {
			return err
		}

		bookingID = record.ID

		return nil
	}))

	require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		record, event, err := tx.CancelBooking(booking.CancelInput{
			BookingID: bookingID,
			Reason:    "client request",
			WaiveFee:  true,
		})
		if err != nil {
			return err
		}

		require.Equal(t, booking.StatusCancelled, record.Status)
		require.NotNil(t, record.CancellationReason)
		require.Equal(t, "booking.cancelled", event.EventType)

		return nil
	}))

	// Cancellation is terminal.
	err := db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		_, _, err := tx.CancelBooking(booking.CancelInput{BookingID: bookingID})

		return err
	})
	require.Error(t, err)
	assert.Equal(t, 409, problem.StatusOf(err))

	err = db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		_, _, err := tx.RescheduleBooking(booking.RescheduleInput{
			BookingID: bookingID,
			SlotStart: start.Add(2 * time.Hour),
			SlotEnd:   start.Add(3 * time.Hour),
		})

		return err
	})
	require.Error(t, err)
	assert.Equal(t, 409, problem.StatusOf(err))

	// The cancelled slot no longer blocks new bookings.
	require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		_, _, err := tx.CreateBooking(testCreateInput(staffID, start, start.Add(time.Hour)))

		return err
	}))
}

func TestCreateBooking_TenantsDoNotConflict(t *testing.T) {
	t.Parallel()

	db := NewDB()
	staffID := uuid.New()
	start := time.Date(2026, 9, 4, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		tenantID := uuid.New()

		require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
			_, _, err := tx.CreateBooking(testCreateInput(staffID, start, start.Add(time.Hour)))

			return err
		}))
	}
}

func TestRecordPaymentEvent_SequenceSupersession(t *testing.T) {
	t.Parallel()

	db := NewDB()
	tenantID := uuid.New()

	record := func(sequence *int64) PaymentEventRecord {
		return PaymentEventRecord{
			Provider:        "sumup",
			ProviderEventID: "evt-1",
			TenantID:        tenantID,
			Sequence:        sequence,
			Payload:         []byte(`{}`),
			ReceivedAt:      time.Now().UTC(),
		}
	}

	seq := func(value int64) *int64 { return &value }

	var results []bool

	require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		results = append(results, tx.RecordPaymentEvent(record(seq(2))))
		results = append(results, tx.RecordPaymentEvent(record(seq(2))))
		results = append(results, tx.RecordPaymentEvent(record(seq(1))))
		results = append(results, tx.RecordPaymentEvent(record(seq(3))))
		results = append(results, tx.RecordPaymentEvent(record(nil)))

		return nil
	}))

	assert.Equal(t, []bool{true, false, false, true, false}, results)
	assert.True(t, db.HasPaymentEvent("sumup", "evt-1"))
	assert.False(t, db.HasPaymentEvent("stripe", "evt-1"))
}

func TestCreateInvoice_DuplicateConflicts(t *testing.T) {
	t.Parallel()

	db := NewDB()
	tenantID := uuid.New()
	invoiceID := uuid.New()

	invoice := Invoice{
		ID:        invoiceID,
		TenantID:  tenantID,
		BookingID: uuid.New(),
		IssueDate: time.Now().UTC(),
		Language:  "de-CH",
		Total:     booking.Money{Currency: "CHF", Amount: 8500},
	}

	require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		_, err := tx.CreateInvoice(invoice)

		return err
	}))

	err := db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		_, err := tx.CreateInvoice(invoice)

		return err
	})
	require.Error(t, err)
	assert.Equal(t, 409, problem.StatusOf(err))
}

func TestOutbox_ClaimFailAndDeadLetter(t *testing.T) {
	t.Parallel()

	db := NewDB()
	tenantID := uuid.New()

	var eventID uuid.UUID

	require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		event, err := tx.EnqueueOutbox("booking.created", map[string]any{"ok": true})
		if err != nil {
			return err
		}

		eventID = event.ID

		return nil
	}))

	claimed := db.ClaimPendingOutbox(10)
	require.Len(t, claimed, 1)
	assert.Equal(t, OutboxStatusProcessing, claimed[0].Status)

	// A processing event cannot be claimed again.
	assert.Empty(t, db.ClaimPendingOutbox(10))

	// First failure reschedules with backoff; the event is not yet due.
	db.MarkOutboxFailed(eventID, errors.New("broker down"), time.Minute, 2)

	event := db.OutboxEventByID(eventID)
	require.NotNil(t, event)
	assert.Equal(t, OutboxStatusPending, event.Status)
	assert.Equal(t, 1, event.Attempts)
	assert.Empty(t, db.ClaimPendingOutbox(10))

	// Second failure reaches the attempt cap and dead-letters.
	db.MarkOutboxFailed(eventID, errors.New("broker down"), time.Minute, 2)

	event = db.OutboxEventByID(eventID)
	require.NotNil(t, event)
	assert.Equal(t, OutboxStatusFailed, event.Status)
	assert.Equal(t, 2, event.Attempts)

	dead := db.ListDeadLetterOutbox()
	require.Len(t, dead, 1)
	assert.Equal(t, eventID, dead[0].ID)
}

func TestOutbox_ReleaseClaimDoesNotBurnAttempt(t *testing.T) {
	t.Parallel()

	db := NewDB()
	tenantID := uuid.New()

	require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		_, err := tx.EnqueueOutbox("booking.created", map[string]any{})

		return err
	}))

	claimed := db.ClaimPendingOutbox(1)
	require.Len(t, claimed, 1)

	db.ReleaseOutboxClaim(claimed[0].ID)

	event := db.OutboxEventByID(claimed[0].ID)
	require.NotNil(t, event)
	assert.Equal(t, OutboxStatusPending, event.Status)
	assert.Zero(t, event.Attempts)

	require.Len(t, db.ClaimPendingOutbox(1), 1)
}

func TestOnOutboxEnqueued_NotifiesOnCommitOnly(t *testing.T) {
	t.Parallel()

	db := NewDB()
	tenantID := uuid.New()

	var (
		mu       sync.Mutex
		received []string
	)

	unsubscribe := db.OnOutboxEnqueued(func(event *OutboxEvent) {
		mu.Lock()
		defer mu.Unlock()

		received = append(received, event.EventType)
	})
	defer unsubscribe()

	boom := errors.New("rollback")

	_ = db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		_, _ = tx.EnqueueOutbox("booking.created", map[string]any{})

		return boom
	})

	require.NoError(t, db.Transaction(context.Background(), tenantID, func(tx *Tx) error {
		_, err := tx.EnqueueOutbox("booking.cancelled", map[string]any{})

		return err
	}))

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"booking.cancelled"}, received)
}
