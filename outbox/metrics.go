package outbox

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type runnerMetrics struct {
	eventsDelivered    metric.Int64Counter
	eventsFailed       metric.Int64Counter
	eventsDeadLettered metric.Int64Counter
	cycleLatency       metric.Float64Histogram
	batchDepth         metric.Int64Gauge
}

func newRunnerMetrics(provider metric.MeterProvider) (runnerMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("codeccloud.outbox.runner")

	var (
		metrics runnerMetrics
		err     error
	)

	metrics.eventsDelivered, err = meter.Int64Counter(
		"outbox.events.delivered",
		metric.WithDescription("Number of outbox events successfully delivered"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return runnerMetrics{}, fmt.Errorf("create outbox.events.delivered counter: %w", err)
	}

	metrics.eventsFailed, err = meter.Int64Counter(
		"outbox.events.failed",
		metric.WithDescription("Number of outbox delivery attempts that failed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return runnerMetrics{}, fmt.Errorf("create outbox.events.failed counter: %w", err)
	}

	metrics.eventsDeadLettered, err = meter.Int64Counter(
		"outbox.events.dead_lettered",
		metric.WithDescription("Number of outbox events moved to the dead letter state"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return runnerMetrics{}, fmt.Errorf("create outbox.events.dead_lettered counter: %w", err)
	}

	metrics.cycleLatency, err = meter.Float64Histogram(
		"outbox.cycle.latency",
		metric.WithDescription("Time taken per delivery cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return runnerMetrics{}, fmt.Errorf("create outbox.cycle.latency histogram: %w", err)
	}

	metrics.batchDepth, err = meter.Int64Gauge(
		"outbox.batch.depth",
		metric.WithDescription("Number of outbox events claimed in a delivery cycle"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return runnerMetrics{}, fmt.Errorf("create outbox.batch.depth gauge: %w", err)
	}

	return metrics, nil
}
