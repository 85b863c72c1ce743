package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Retry() = %q, want %q", got, "ok")
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestRetryRecoversAfterFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got != 42 {
		t.Errorf("Retry() = %d, want 42", got)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("permanent")
	calls := 0
	var retries []int
	_, err := Retry(context.Background(), RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnRetry:     func(attempt int, err error) { retries = append(retries, attempt) },
	}, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Retry() error = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
	if len(retries) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retries))
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() error = %v, want context.Canceled", err)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		max     time.Duration
		expBase float64
		attempt int
		want    time.Duration
	}{
		{"first", time.Second, time.Minute, 2.0, 0, time.Second},
		{"second", time.Second, time.Minute, 2.0, 1, 2 * time.Second},
		{"third", time.Second, time.Minute, 2.0, 2, 4 * time.Second},
		{"capped", time.Second, time.Minute, 2.0, 10, time.Minute},
		{"overflow clamps to max", time.Second, 2 * time.Minute, 2.0, 200, 2 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Backoff(tt.base, tt.max, tt.expBase, tt.attempt); got != tt.want {
				t.Errorf("Backoff() = %v, want %v", got, tt.want)
			}
		})
	}
}
