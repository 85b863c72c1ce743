// Package transcriber consumes audio chunks from the bus and publishes
// transcriptions produced by a speech-to-text provider.
//
// Work is bounded twice: a queue cap rejects chunks outright when too many
// are in flight, and a weighted semaphore limits concurrent provider calls
// below that. Identical audio is answered from an in-memory hash cache
// without touching the provider.
package transcriber

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/chronicler/internal/bus"
	"github.com/MrWong99/chronicler/internal/config"
	"github.com/MrWong99/chronicler/internal/events"
	"github.com/MrWong99/chronicler/internal/observe"
	"github.com/MrWong99/chronicler/internal/resilience"
	"github.com/MrWong99/chronicler/pkg/audio"
	"github.com/MrWong99/chronicler/pkg/provider/stt"
)

const component = "transcriber"

// subscriberID is the bus handler id for the audio chunk subscription.
const subscriberID = "transcriber"

const (
	// freshConfidence is attached to transcriptions returned by the provider.
	freshConfidence = 0.95
	// cachedConfidence is attached to transcriptions served from the cache;
	// the text was already accepted once.
	cachedConfidence = 1.0
)

// Transcriber converts [events.AudioChunk] into [events.Transcription].
type Transcriber struct {
	log        *slog.Logger
	bus        *bus.Bus
	cfg        config.TranscriberConfig
	sampleRate int
	provider   stt.Provider
	metrics    *observe.Metrics

	sem      *semaphore.Weighted
	inflight atomic.Int64

	mu     sync.Mutex
	cache  map[string]string
	prompt string

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a [Transcriber] reading chunks from b. sampleRate must match
// the rate the listener buffers at, since chunk PCM carries no format. A nil
// metrics falls back to [observe.DefaultMetrics], a nil logger to
// [slog.Default].
func New(log *slog.Logger, b *bus.Bus, cfg config.TranscriberConfig, sampleRate int, provider stt.Provider, metrics *observe.Metrics) *Transcriber {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Transcriber{
		log:        log,
		bus:        b,
		cfg:        cfg,
		sampleRate: sampleRate,
		provider:   provider,
		metrics:    metrics,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		cache:      make(map[string]string),
	}
}

// Start subscribes the transcriber to audio chunks. The prompt is forwarded
// to the provider on every request, typically listing the character names the
// model should expect to hear.
func (t *Transcriber) Start(ctx context.Context, prompt string) {
	t.mu.Lock()
	t.cache = make(map[string]string)
	t.prompt = prompt
	t.mu.Unlock()

	t.runCtx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	bus.Subscribe(t.bus, subscriberID, t.handleChunk)
	t.bus.Publish(ctx, events.SystemStatus{
		Component: component,
		Status:    events.StatusRunning,
		Message:   "transcribing",
		Timestamp: time.Now(),
	})
}

// Stop unsubscribes, waits for in-flight work, and drops the audio cache.
func (t *Transcriber) Stop(ctx context.Context) {
	t.bus.Unsubscribe(events.TypeAudioChunk, subscriberID)
	t.wg.Wait()
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	t.cache = make(map[string]string)
	t.mu.Unlock()

	t.bus.Publish(ctx, events.SystemStatus{
		Component: component,
		Status:    events.StatusIdle,
		Message:   "stopped",
		Timestamp: time.Now(),
	})
}

// handleChunk admits a chunk into the worker pool or drops it when the queue
// is full. It returns quickly so the publisher is never blocked on provider
// latency.
func (t *Transcriber) handleChunk(ctx context.Context, chunk events.AudioChunk) error {
	if t.inflight.Load() >= int64(t.cfg.QueueMaxSize) {
		t.log.Warn("transcription queue full, dropping chunk",
			"speaker", chunk.SpeakerID,
			"duration", chunk.Duration,
		)
		t.metrics.DroppedChunks.Add(ctx, 1)
		t.bus.Publish(ctx, events.SystemStatus{
			Component: component,
			Status:    events.StatusError,
			Message:   fmt.Sprintf("queue full, dropped %.1fs chunk from %s", chunk.Duration.Seconds(), chunk.SpeakerID),
			Timestamp: time.Now(),
		})
		return nil
	}

	t.inflight.Add(1)
	t.wg.Add(1)
	go t.process(t.runCtx, chunk)
	return nil
}

func (t *Transcriber) process(ctx context.Context, chunk events.AudioChunk) {
	defer t.wg.Done()
	defer t.inflight.Add(-1)

	sum := md5.Sum(chunk.PCM)
	key := hex.EncodeToString(sum[:])

	t.mu.Lock()
	text, hit := t.cache[key]
	prompt := t.prompt
	t.mu.Unlock()

	if hit {
		t.metrics.CacheHits.Add(ctx, 1)
		t.publish(ctx, chunk, text, cachedConfidence)
		return
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer t.sem.Release(1)

	text, err := t.transcribe(ctx, chunk, prompt)
	if err != nil {
		t.log.Error("transcription failed",
			"speaker", chunk.SpeakerID,
			"duration", chunk.Duration,
			"error", err,
		)
		t.metrics.RecordProviderError(ctx, "stt")
		t.bus.Publish(ctx, events.SystemStatus{
			Component: component,
			Status:    events.StatusError,
			Message:   fmt.Sprintf("transcription failed: %v", err),
			Timestamp: time.Now(),
		})
		return
	}

	t.mu.Lock()
	t.cache[key] = text
	t.mu.Unlock()

	t.publish(ctx, chunk, text, freshConfidence)
}

// transcribe runs the provider call with per-attempt timeout and exponential
// backoff between attempts.
func (t *Transcriber) transcribe(ctx context.Context, chunk events.AudioChunk, prompt string) (string, error) {
	wav := audio.EncodeWAV(chunk.PCM, t.sampleRate, 1)
	req := stt.Request{
		WAV:      wav,
		Language: t.cfg.Language,
		Prompt:   prompt,
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts: t.cfg.MaxRetries + 1,
		BaseDelay:   t.cfg.RetryBaseDelay(),
		OnRetry: func(attempt int, err error) {
			t.log.Warn("retrying transcription", "attempt", attempt, "error", err)
		},
	}

	start := time.Now()
	text, err := resilience.Retry(ctx, retryCfg, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, t.cfg.APITimeout())
		defer cancel()
		return t.provider.Transcribe(callCtx, req)
	})
	t.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("transcriber: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// publish emits the transcription unless the text is empty. Silence and
// breathing chunks routinely transcribe to nothing; those never reach the
// summarizer.
func (t *Transcriber) publish(ctx context.Context, chunk events.AudioChunk, text string, confidence float64) {
	if text == "" {
		return
	}
	t.metrics.Transcriptions.Add(ctx, 1)
	t.bus.Publish(ctx, events.Transcription{
		SessionID:   chunk.SessionID,
		SpeakerID:   chunk.SpeakerID,
		SpeakerName: chunk.SpeakerName,
		Text:        text,
		Timestamp:   chunk.Timestamp,
		Confidence:  confidence,
	})
}
