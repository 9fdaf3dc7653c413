package outbox

import (
	"time"

	"go.opentelemetry.io/otel/metric"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 10
	defaultMaxAttempts  = 5
	defaultBaseBackoff  = time.Second
	defaultJitterRatio  = 0.25
)

// RunnerConfig controls delivery polling, retry, and metric behavior.
type RunnerConfig struct {
	// PollInterval is the periodic interval between delivery cycles.
	PollInterval time.Duration
	// BatchSize is the max number of events claimed per cycle.
	BatchSize int
	// MaxAttempts is the max delivery attempts before dead-lettering.
	MaxAttempts int
	// BaseBackoff is the base delay for exponential retry backoff.
	BaseBackoff time.Duration
	// JitterRatio bounds the random jitter added to each retry delay,
	// as a fraction of BaseBackoff.
	JitterRatio float64
	// MeterProvider overrides the default global meter provider when set.
	MeterProvider metric.MeterProvider
}

// DefaultRunnerConfig returns the baseline delivery configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		MaxAttempts:  defaultMaxAttempts,
		BaseBackoff:  defaultBaseBackoff,
		JitterRatio:  defaultJitterRatio,
	}
}

func (cfg *RunnerConfig) normalize() {
	defaults := DefaultRunnerConfig()

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}

	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaults.BaseBackoff
	}

	if cfg.JitterRatio < 0 {
		cfg.JitterRatio = defaults.JitterRatio
	}
}

// RunnerOption mutates runner configuration at construction.
type RunnerOption func(*Runner)

// WithPollInterval sets the delivery polling interval.
func WithPollInterval(interval time.Duration) RunnerOption {
	return func(runner *Runner) {
		if interval > 0 {
			runner.cfg.PollInterval = interval
		}
	}
}

// WithBatchSize sets the maximum events claimed in one delivery cycle.
func WithBatchSize(size int) RunnerOption {
	return func(runner *Runner) {
		if size > 0 {
			runner.cfg.BatchSize = size
		}
	}
}

// WithMaxAttempts sets max delivery attempts before dead-lettering.
func WithMaxAttempts(maxAttempts int) RunnerOption {
	return func(runner *Runner) {
		if maxAttempts > 0 {
			runner.cfg.MaxAttempts = maxAttempts
		}
	}
}

// WithBaseBackoff sets the base delay for retry backoff.
func WithBaseBackoff(base time.Duration) RunnerOption {
	return func(runner *Runner) {
		if base > 0 {
			runner.cfg.BaseBackoff = base
		}
	}
}

// WithJitterRatio sets the jitter bound as a fraction of the base backoff.
func WithJitterRatio(ratio float64) RunnerOption {
	return func(runner *Runner) {
		if ratio >= 0 {
			runner.cfg.JitterRatio = ratio
		}
	}
}

// WithMeterProvider injects a custom meter provider for runner metrics.
// Passing nil keeps the default global OpenTelemetry meter provider.
func WithMeterProvider(provider metric.MeterProvider) RunnerOption {
	return func(runner *Runner) {
		runner.cfg.MeterProvider = provider
	}
}
