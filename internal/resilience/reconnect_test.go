package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestReconnectorStartFailsWithoutMonitoring(t *testing.T) {
	wantErr := errors.New("no route")
	r := NewReconnector(
		func(ctx context.Context) error { return wantErr },
		func() error { return nil },
		func() bool { return false },
		ReconnectorConfig{Name: "test"},
	)
	if err := r.Start(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Start() error = %v, want %v", err, wantErr)
	}
}

func TestReconnectorReconnectsOnLoss(t *testing.T) {
	var connected atomic.Bool
	var connects atomic.Int32

	r := NewReconnector(
		func(ctx context.Context) error {
			connects.Add(1)
			connected.Store(true)
			return nil
		},
		func() error {
			connected.Store(false)
			return nil
		},
		connected.Load,
		ReconnectorConfig{
			Name:         "test",
			PollInterval: 5 * time.Millisecond,
			BaseDelay:    time.Millisecond,
		},
	)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	// Simulate a drop and wait for the monitor to notice.
	connected.Store(false)
	deadline := time.Now().Add(time.Second)
	for !connected.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if !connected.Load() {
		t.Fatal("monitor did not reconnect after drop")
	}
	if got := connects.Load(); got < 2 {
		t.Errorf("connect called %d times, want >= 2", got)
	}
}

func TestReconnectorStopDisconnectsOnce(t *testing.T) {
	var disconnects atomic.Int32
	r := NewReconnector(
		func(ctx context.Context) error { return nil },
		func() error {
			disconnects.Add(1)
			return nil
		},
		func() bool { return true },
		ReconnectorConfig{Name: "test", PollInterval: time.Millisecond},
	)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := r.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if got := disconnects.Load(); got != 1 {
		t.Errorf("disconnect called %d times, want 1", got)
	}
}
