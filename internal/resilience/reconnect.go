package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultReconnectAttempts = 10
	defaultReconnectBase     = 1 * time.Second
	defaultReconnectMax      = 2 * time.Minute
	defaultPollInterval      = 5 * time.Second
)

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxAttempts is the number of reconnection attempts per outage before
	// giving up. Defaults to 10 if zero.
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt; it grows by
	// ExponentialBase per attempt up to MaxDelay. Defaults to 1s if zero.
	BaseDelay time.Duration

	// MaxDelay is the upper limit on the backoff delay. Defaults to 2m if zero.
	MaxDelay time.Duration

	// ExponentialBase is the backoff multiplier. Defaults to 2.0 if zero.
	ExponentialBase float64

	// PollInterval is how often the connection health is checked.
	// Defaults to 5s if zero.
	PollInterval time.Duration
}

// Reconnector supervises a long-lived connection. After [Reconnector.Start]
// establishes the initial connection, a background goroutine polls the health
// check and, on disconnection, re-runs the connect function with exponential
// backoff until it succeeds or the attempt budget is exhausted.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	name        string
	connect     func(ctx context.Context) error
	disconnect  func() error
	isConnected func() bool

	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	expBase      float64
	pollInterval time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReconnector creates a [Reconnector] wrapping the given connection
// lifecycle functions. Zero-value config fields are replaced with defaults.
func NewReconnector(connect func(ctx context.Context) error, disconnect func() error, isConnected func() bool, cfg ReconnectorConfig) *Reconnector {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultReconnectAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultReconnectBase
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultReconnectMax
	}
	if cfg.ExponentialBase <= 0 {
		cfg.ExponentialBase = 2.0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Reconnector{
		name:         cfg.Name,
		connect:      connect,
		disconnect:   disconnect,
		isConnected:  isConnected,
		maxAttempts:  cfg.MaxAttempts,
		baseDelay:    cfg.BaseDelay,
		maxDelay:     cfg.MaxDelay,
		expBase:      cfg.ExponentialBase,
		pollInterval: cfg.PollInterval,
		done:         make(chan struct{}),
	}
}

// Start establishes the initial connection and begins health monitoring in a
// background goroutine. If the initial connect fails no monitoring is started
// and the error is returned.
func (r *Reconnector) Start(ctx context.Context) error {
	if err := r.connect(ctx); err != nil {
		return fmt.Errorf("resilience: %s initial connect: %w", r.name, err)
	}
	r.wg.Add(1)
	go r.monitorLoop(ctx)
	return nil
}

// Stop halts monitoring and disconnects. Safe to call multiple times; only
// the first call disconnects.
func (r *Reconnector) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		err = r.disconnect()
	})
	return err
}

// monitorLoop polls connection health and triggers reconnection on loss.
func (r *Reconnector) monitorLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if r.isConnected() {
				continue
			}
			slog.Warn("connection lost, attempting reconnection", "name", r.name)
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect tries to re-establish the connection with exponential
// backoff. It gives up after the configured attempt budget; monitoring
// continues either way, so a later poll starts a fresh cycle.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	for attempt := range r.maxAttempts {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		err := r.connect(ctx)
		if err == nil && r.isConnected() {
			slog.Info("reconnection successful",
				"name", r.name,
				"attempt", attempt+1,
			)
			return
		}

		delay := Backoff(r.baseDelay, r.maxDelay, r.expBase, attempt)
		slog.Warn("reconnection attempt failed",
			"name", r.name,
			"attempt", attempt+1,
			"max_attempts", r.maxAttempts,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(delay):
		}
	}

	slog.Error("reconnection failed after max attempts",
		"name", r.name,
		"max_attempts", r.maxAttempts,
	)
}
