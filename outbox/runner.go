// Package outbox delivers committed outbox events to registered handlers with
// at-least-once semantics, exponential retry backoff and dead-lettering.
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/carosellagiuliano-max/codeccloud-core/backoff"
	"github.com/carosellagiuliano-max/codeccloud-core/engine"
	"github.com/carosellagiuliano-max/codeccloud-core/log"
)

// EventStore is the engine surface the runner drives deliveries through.
type EventStore interface {
	ClaimPendingOutbox(limit int) []*engine.OutboxEvent
	MarkOutboxCompleted(eventID uuid.UUID)
	MarkOutboxFailed(eventID uuid.UUID, deliveryErr error, retryIn time.Duration, maxAttempts int)
	ReleaseOutboxClaim(eventID uuid.UUID)
	OnOutboxEnqueued(listener engine.Listener) func()
}

// CycleResult captures one delivery cycle outcome.
type CycleResult struct {
	Claimed      int
	Delivered    int
	Failed       int
	DeadLettered int
}

// Runner drains committed outbox events, dispatching each through the handler
// registry. Events are picked up both on a poll ticker and immediately after a
// transaction commit enqueues new ones.
type Runner struct {
	store    EventStore
	handlers *HandlerRegistry
	logger   log.Logger
	tracer   trace.Tracer
	cfg      RunnerConfig

	wake chan struct{}

	stop       chan struct{}
	stopOnce   sync.Once
	runStateMu sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	cycleWg    sync.WaitGroup

	metrics runnerMetrics
}

// NewRunner creates a delivery runner over the given store and handlers.
func NewRunner(
	store EventStore,
	handlers *HandlerRegistry,
	logger log.Logger,
	tracer trace.Tracer,
	opts ...RunnerOption,
) (*Runner, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	if handlers == nil {
		return nil, ErrHandlerRegistryRequired
	}

	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("codeccloud.noop")
	}

	if logger == nil {
		logger = log.NewNop()
	}

	runner := &Runner{
		store:    store,
		handlers: handlers,
		logger:   logger,
		tracer:   tracer,
		cfg:      DefaultRunnerConfig(),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}

	runner.cfg.normalize()

	metrics, err := newRunnerMetrics(runner.cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("init outbox metrics: %w", err)
	}

	runner.metrics = metrics

	return runner, nil
}

// Run drives delivery cycles until Stop is called or ctx is cancelled. A new
// commit wakes the loop immediately; otherwise cycles run on the poll
// interval. Only one Run may be active at a time.
func (runner *Runner) Run(parentCtx context.Context) error {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	if !runner.registerRun(cancel) {
		cancel()

		return ErrRunnerRunning
	}

	defer runner.clearRun()

	unsubscribe := runner.store.OnOutboxEnqueued(func(*engine.OutboxEvent) {
		select {
		case runner.wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	runner.logger.Log(ctx, log.LevelInfo, "outbox runner started")
	defer runner.logger.Log(context.Background(), log.LevelInfo, "outbox runner stopped")

	ticker := time.NewTicker(runner.cfg.PollInterval)
	defer ticker.Stop()

	runner.runCycle(ctx, "outbox.runner.initial_cycle")

	for {
		select {
		case <-runner.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-runner.wake:
			runner.runCycle(ctx, "outbox.runner.commit_cycle")
		case <-ticker.C:
			runner.runCycle(ctx, "outbox.runner.poll_cycle")
		}
	}
}

// Stop signals the runner loop to stop.
func (runner *Runner) Stop() {
	if runner == nil {
		return
	}

	runner.stopOnce.Do(func() {
		runner.runStateMu.Lock()
		cancel := runner.cancelFunc
		runner.runStateMu.Unlock()

		if cancel != nil {
			cancel()
		}

		close(runner.stop)
	})
}

// Shutdown stops the runner and waits for the in-flight cycle to finish.
func (runner *Runner) Shutdown(ctx context.Context) error {
	if runner == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	runner.Stop()

	done := make(chan struct{})

	go func() {
		runner.cycleWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runner shutdown: %w", ctx.Err())
	}
}

func (runner *Runner) runCycle(ctx context.Context, spanName string) {
	if ctx.Err() != nil {
		return
	}

	runner.cycleWg.Add(1)
	defer runner.cycleWg.Done()

	cycleCtx, span := runner.tracer.Start(ctx, spanName)
	defer span.End()

	defer func() {
		if recovered := recover(); recovered != nil {
			runner.logger.Log(
				cycleCtx,
				log.LevelError,
				"outbox delivery cycle panicked",
				log.Any("panic", recovered),
			)
		}
	}()

	result := runner.ProcessOnce(cycleCtx)
	span.SetAttributes(
		attribute.Int("outbox.cycle.claimed", result.Claimed),
		attribute.Int("outbox.cycle.delivered", result.Delivered),
		attribute.Int("outbox.cycle.failed", result.Failed),
		attribute.Int("outbox.cycle.dead_lettered", result.DeadLettered),
	)
}

// ProcessOnce claims and delivers one batch of due events. It drains until a
// cycle claims nothing, so a large commit does not wait for the next tick.
func (runner *Runner) ProcessOnce(ctx context.Context) CycleResult {
	if runner == nil || runner.store == nil || runner.handlers == nil {
		return CycleResult{}
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var total CycleResult

	for {
		if ctx.Err() != nil {
			return total
		}

		batch := runner.deliverBatch(ctx)

		total.Claimed += batch.Claimed
		total.Delivered += batch.Delivered
		total.Failed += batch.Failed
		total.DeadLettered += batch.DeadLettered

		if batch.Claimed == 0 {
			return total
		}
	}
}

func (runner *Runner) deliverBatch(ctx context.Context) CycleResult {
	start := time.Now().UTC()

	events := runner.store.ClaimPendingOutbox(runner.cfg.BatchSize)
	result := CycleResult{Claimed: len(events)}

	if runner.metrics.batchDepth != nil {
		runner.metrics.batchDepth.Record(ctx, int64(len(events)))
	}

	for _, event := range events {
		if ctx.Err() != nil {
			// A shutdown mid-batch releases the claim without counting a
			// delivery attempt toward the dead letter cap.
			runner.store.ReleaseOutboxClaim(event.ID)

			continue
		}

		if err := runner.deliver(ctx, event); err != nil {
			result.Failed++

			retryIn := backoff.ExponentialWithJitter(
				runner.cfg.BaseBackoff,
				event.Attempts+1,
				runner.cfg.JitterRatio,
			)

			runner.store.MarkOutboxFailed(event.ID, err, retryIn, runner.cfg.MaxAttempts)

			if event.Attempts+1 >= runner.cfg.MaxAttempts {
				result.DeadLettered++

				if runner.metrics.eventsDeadLettered != nil {
					runner.metrics.eventsDeadLettered.Add(ctx, 1)
				}

				runner.logger.Log(
					ctx,
					log.LevelError,
					"outbox event dead lettered",
					log.String("event_id", event.ID.String()),
					log.String("event_type", event.EventType),
					log.Int("attempts", event.Attempts+1),
					log.Err(err),
				)
			} else {
				runner.logger.Log(
					ctx,
					log.LevelWarn,
					"outbox delivery failed; retry scheduled",
					log.String("event_id", event.ID.String()),
					log.String("event_type", event.EventType),
					log.Int("attempts", event.Attempts+1),
					log.String("retry_in", retryIn.String()),
					log.Err(err),
				)
			}

			if runner.metrics.eventsFailed != nil {
				runner.metrics.eventsFailed.Add(ctx, 1)
			}

			continue
		}

		runner.store.MarkOutboxCompleted(event.ID)

		result.Delivered++

		if runner.metrics.eventsDelivered != nil {
			runner.metrics.eventsDelivered.Add(ctx, 1)
		}
	}

	if runner.metrics.cycleLatency != nil {
		runner.metrics.cycleLatency.Record(ctx, time.Since(start).Seconds())
	}

	return result
}

func (runner *Runner) deliver(ctx context.Context, event *engine.OutboxEvent) (err error) {
	if event == nil {
		return ErrEventRequired
	}

	deliverCtx, span := runner.tracer.Start(ctx, "outbox.deliver")
	span.SetAttributes(
		attribute.String("outbox.event_type", event.EventType),
		attribute.Int("outbox.attempts", event.Attempts),
	)
	defer span.End()

	// A panicking handler counts as a failed attempt, keeping the event on
	// its retry and dead letter path instead of stranding it in processing.
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("outbox handler panicked: %v", recovered)
		}
	}()

	return runner.handlers.Handle(deliverCtx, event)
}

func (runner *Runner) registerRun(cancel context.CancelFunc) bool {
	runner.runStateMu.Lock()
	defer runner.runStateMu.Unlock()

	if runner.running {
		return false
	}

	runner.running = true
	runner.cancelFunc = cancel

	return true
}

func (runner *Runner) clearRun() {
	runner.runStateMu.Lock()
	defer runner.runStateMu.Unlock()

	runner.running = false
	runner.cancelFunc = nil
}
