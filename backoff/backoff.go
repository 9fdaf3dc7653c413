// Package backoff provides exponential backoff utilities with jitter support
// for retry scheduling.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

const maxShift = 62

// Exponential calculates exponential delay based on attempt number.
// The delay is base * 2^(attempt-1) with overflow protection; attempts
// below 1 are treated as 1.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 1 {
		attempt = 1
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << (attempt - 1)

	baseInt := int64(base)
	if baseInt > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(baseInt * multiplier)
}

// WithJitter adds up to ratio*base of random jitter to delay. A non-positive
// ratio returns delay unchanged. Spreading retries this way prevents a burst
// of failures from retrying in lockstep.
func WithJitter(delay, base time.Duration, ratio float64) time.Duration {
	if delay <= 0 {
		return 0
	}

	if ratio <= 0 || base <= 0 {
		return delay
	}

	jitterMax := float64(base) * ratio
	jitter := time.Duration(rand.Float64() * jitterMax) // #nosec G404 -- jitter needs no crypto strength

	if delay > math.MaxInt64-jitter {
		return time.Duration(math.MaxInt64)
	}

	return delay + jitter
}

// ExponentialWithJitter combines Exponential with proportional jitter:
// base * 2^(attempt-1) plus up to ratio*base of random spread.
func ExponentialWithJitter(base time.Duration, attempt int, ratio float64) time.Duration {
	return WithJitter(Exponential(base, attempt), base, ratio)
}

// SleepWithContext sleeps for the specified duration but respects context
// cancellation. Returns immediately (nil) for zero or negative durations.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
