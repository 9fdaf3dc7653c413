//go:build unit

package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carosellagiuliano-max/codeccloud-core/engine"
)

func enqueueEvent(t *testing.T, db *engine.DB, eventType string) *engine.OutboxEvent {
	t.Helper()

	var event *engine.OutboxEvent

	require.NoError(t, db.Transaction(context.Background(), uuid.New(), func(tx *engine.Tx) error {
		enqueued, err := tx.EnqueueOutbox(eventType, map[string]any{"n": 1})
		if err != nil {
			return err
		}

		event = enqueued

		return nil
	}))

	return event
}

func newTestRunner(t *testing.T, db *engine.DB, handlers *HandlerRegistry, opts ...RunnerOption) *Runner {
	t.Helper()

	opts = append([]RunnerOption{
		WithBaseBackoff(time.Nanosecond),
		WithJitterRatio(0),
	}, opts...)

	runner, err := NewRunner(db, handlers, nil, nil, opts...)
	require.NoError(t, err)

	return runner
}

func TestNewRunner_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(nil, NewHandlerRegistry(), nil, nil)
	require.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewRunner(engine.NewDB(), nil, nil, nil)
	require.ErrorIs(t, err, ErrHandlerRegistryRequired)
}

func TestHandlerRegistry_Register(t *testing.T) {
	t.Parallel()

	registry := NewHandlerRegistry()
	handler := func(context.Context, *engine.OutboxEvent) error { return nil }

	require.NoError(t, registry.Register("booking.created", handler))

	require.ErrorIs(t, registry.Register("booking.created", handler), ErrHandlerAlreadyRegistered)
	require.ErrorIs(t, registry.Register("", handler), ErrEventTypeRequired)
	require.ErrorIs(t, registry.Register("booking.cancelled", nil), ErrEventHandlerRequired)
}

func TestProcessOnce_DeliversAndCompletes(t *testing.T) {
	t.Parallel()

	db := engine.NewDB()
	event := enqueueEvent(t, db, "booking.created")

	var (
		mu        sync.Mutex
		delivered []string
	)

	registry := NewHandlerRegistry()
	require.NoError(t, registry.Register("booking.created", func(_ context.Context, event *engine.OutboxEvent) error {
		mu.Lock()
		defer mu.Unlock()

		delivered = append(delivered, event.EventType)

		return nil
	}))

	runner := newTestRunner(t, db, registry)

	result := runner.ProcessOnce(context.Background())
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Delivered)
	assert.Zero(t, result.Failed)

	assert.Equal(t, []string{"booking.created"}, delivered)

	stored := db.OutboxEventByID(event.ID)
	require.NotNil(t, stored)
	assert.Equal(t, engine.OutboxStatusCompleted, stored.Status)
}

func TestProcessOnce_WildcardFallback(t *testing.T) {
	t.Parallel()

	db := engine.NewDB()
	enqueueEvent(t, db, "invoice.generated")

	var caught string

	registry := NewHandlerRegistry()
	require.NoError(t, registry.Register(WildcardEventType, func(_ context.Context, event *engine.OutboxEvent) error {
		caught = event.EventType

		return nil
	}))

	runner := newTestRunner(t, db, registry)

	result := runner.ProcessOnce(context.Background())
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, "invoice.generated", caught)
}

func TestProcessOnce_DeadLettersAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	db := engine.NewDB()
	event := enqueueEvent(t, db, "booking.created")

	attempts := 0

	registry := NewHandlerRegistry()
	require.NoError(t, registry.Register("booking.created", func(context.Context, *engine.OutboxEvent) error {
		attempts++

		return errors.New("broker unreachable")
	}))

	runner := newTestRunner(t, db, registry, WithMaxAttempts(3))

	// Retries become due immediately, so one drain runs the event to its cap.
	require.Eventually(t, func() bool {
		runner.ProcessOnce(context.Background())

		stored := db.OutboxEventByID(event.ID)

		return stored != nil && stored.Status == engine.OutboxStatusFailed
	}, time.Second, time.Millisecond)

	assert.Equal(t, 3, attempts)

	stored := db.OutboxEventByID(event.ID)
	require.NotNil(t, stored)
	assert.Equal(t, 3, stored.Attempts)
	assert.Contains(t, stored.LastError, "broker unreachable")

	require.Len(t, db.ListDeadLetterOutbox(), 1)

	// A dead-lettered event stays parked.
	runner.ProcessOnce(context.Background())
	assert.Equal(t, 3, attempts)
}

func TestProcessOnce_MissingHandlerRetries(t *testing.T) {
	t.Parallel()

	db := engine.NewDB()
	event := enqueueEvent(t, db, "unrouted.event")

	runner := newTestRunner(t, db, NewHandlerRegistry(), WithMaxAttempts(2))

	require.Eventually(t, func() bool {
		runner.ProcessOnce(context.Background())

		stored := db.OutboxEventByID(event.ID)

		return stored != nil && stored.Status == engine.OutboxStatusFailed
	}, time.Second, time.Millisecond)

	stored := db.OutboxEventByID(event.ID)
	require.NotNil(t, stored)
	assert.Contains(t, stored.LastError, "no handler registered")
}

func TestProcessOnce_PanicIsContainedAsFailure(t *testing.T) {
	t.Parallel()

	db := engine.NewDB()
	event := enqueueEvent(t, db, "booking.created")

	registry := NewHandlerRegistry()
	require.NoError(t, registry.Register("booking.created", func(context.Context, *engine.OutboxEvent) error {
		panic("handler bug")
	}))

	runner := newTestRunner(t, db, registry, WithMaxAttempts(1))

	require.Eventually(t, func() bool {
		runner.ProcessOnce(context.Background())

		stored := db.OutboxEventByID(event.ID)

		return stored != nil && stored.Status == engine.OutboxStatusFailed
	}, time.Second, time.Millisecond)
}

func TestRun_WakesOnCommitAndStops(t *testing.T) {
	t.Parallel()

	db := engine.NewDB()

	delivered := make(chan string, 1)

	registry := NewHandlerRegistry()
	require.NoError(t, registry.Register(WildcardEventType, func(_ context.Context, event *engine.OutboxEvent) error {
		select {
		case delivered <- event.EventType:
		default:
		}

		return nil
	}))

	runner := newTestRunner(t, db, registry, WithPollInterval(time.Hour))

	runErr := make(chan error, 1)

	go func() {
		runErr <- runner.Run(context.Background())
	}()

	// Give the loop a moment to subscribe before committing.
	time.Sleep(20 * time.Millisecond)

	enqueueEvent(t, db, "booking.created")

	select {
	case eventType := <-delivered:
		assert.Equal(t, "booking.created", eventType)
	case <-time.After(2 * time.Second):
		t.Fatal("commit did not wake the delivery loop")
	}

	runner.Stop()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRun_RejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	db := engine.NewDB()
	runner := newTestRunner(t, db, NewHandlerRegistry(), WithPollInterval(time.Hour))

	started := make(chan struct{})

	go func() {
		close(started)

		_ = runner.Run(context.Background())
	}()

	<-started
	time.Sleep(20 * time.Millisecond)

	err := runner.Run(context.Background())
	require.ErrorIs(t, err, ErrRunnerRunning)

	require.NoError(t, runner.Shutdown(context.Background()))
}
