// Package resilience provides the retry, circuit breaker, and reconnection
// primitives used around every external call the pipeline makes.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// RetryConfig holds tuning knobs for [Retry]. Zero-value fields are replaced
// with defaults by [Retry].
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay. Default: 60s.
	MaxDelay time.Duration

	// ExponentialBase is the backoff multiplier per attempt. Default: 2.0.
	ExponentialBase float64

	// OnRetry, if non-nil, is called before each retry sleep with the
	// zero-based attempt index and the error that caused it.
	OnRetry func(attempt int, err error)
}

func (cfg *RetryConfig) fillDefaults() {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.ExponentialBase <= 0 {
		cfg.ExponentialBase = 2.0
	}
}

// Retry executes op up to cfg.MaxAttempts times with exponential backoff
// between attempts. The delay before retry n (zero-based) is
// min(BaseDelay * ExponentialBase^n, MaxDelay). It returns the first
// successful result, or the last error once attempts are exhausted.
// Cancelling ctx aborts the backoff sleep and returns ctx.Err().
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	cfg.fillDefaults()

	var zero T
	var lastErr error
	for attempt := range cfg.MaxAttempts {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := Backoff(cfg.BaseDelay, cfg.MaxDelay, cfg.ExponentialBase, attempt)
		slog.Warn("operation failed, retrying",
			"attempt", attempt+1,
			"max_attempts", cfg.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

// Backoff computes the exponential backoff delay for the given zero-based
// attempt: min(base * expBase^attempt, max).
func Backoff(base, max time.Duration, expBase float64, attempt int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(expBase, float64(attempt)))
	if d > max || d <= 0 {
		return max
	}
	return d
}
