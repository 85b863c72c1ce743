// Package listener turns per-speaker audio frames into transcribable chunks.
//
// Each speaker gets an independent buffer gated by voice activity detection.
// A chunk is emitted when the buffered audio hits the configured duration
// cap, when the speaker pauses long enough, or when a shorter pause follows a
// long stretch of speech. Emission is checked both on frame arrival and by a
// periodic flush ticker, so a speaker who simply stops talking still gets
// their last phrase transcribed.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/chronicler/internal/bus"
	"github.com/MrWong99/chronicler/internal/config"
	"github.com/MrWong99/chronicler/internal/events"
	"github.com/MrWong99/chronicler/pkg/audio"
	"github.com/MrWong99/chronicler/pkg/provider/vad"
)

const component = "listener"

// vadFrameMs is the frame size handed to the voice activity detector.
const vadFrameMs = 20

// defaultFlushInterval is how often buffered speakers are checked for due
// chunks between frames.
const defaultFlushInterval = 250 * time.Millisecond

// Option customises a [Listener].
type Option func(*Listener)

// WithClock replaces the wall clock. Tests use this to drive the silence
// thresholds deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) {
		l.clock = now
	}
}

// WithFlushInterval overrides the periodic emission check interval.
func WithFlushInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.flushInterval = d
		}
	}
}

// Listener segments per-speaker audio into [events.AudioChunk] events on the
// bus. It implements [audio.FrameHandler] via [Listener.HandleFrame], so a
// platform connection can deliver frames to it directly.
type Listener struct {
	log    *slog.Logger
	bus    *bus.Bus
	cfg    config.ListenerConfig
	engine vad.Engine
	source string

	clock         func() time.Time
	flushInterval time.Duration

	mu        sync.Mutex
	sessionID string
	buffers   map[string]*speakerBuffer
	names     map[string]string

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a [Listener] publishing to b. The source tag ("discord",
// "file") is stamped on every emitted chunk. A nil engine disables voice
// activity detection, leaving only the duration cap to trigger emission. A
// nil logger falls back to [slog.Default].
func New(log *slog.Logger, b *bus.Bus, cfg config.ListenerConfig, engine vad.Engine, source string, opts ...Option) *Listener {
	if log == nil {
		log = slog.Default()
	}
	l := &Listener{
		log:           log,
		bus:           b,
		cfg:           cfg,
		engine:        engine,
		source:        source,
		clock:         time.Now,
		flushInterval: defaultFlushInterval,
		buffers:       make(map[string]*speakerBuffer),
		names:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start binds the listener to a session and starts the periodic flush loop.
func (l *Listener) Start(ctx context.Context, sessionID string) {
	l.mu.Lock()
	l.sessionID = sessionID
	l.buffers = make(map[string]*speakerBuffer)
	l.names = make(map[string]string)
	l.done = make(chan struct{})
	l.stopOnce = sync.Once{}
	l.mu.Unlock()

	l.bus.Publish(ctx, events.SystemStatus{
		Component: component,
		Status:    events.StatusRunning,
		Message:   "listening",
		Timestamp: l.clock(),
	})

	l.wg.Add(1)
	go l.flushLoop(ctx)
}

// Stop ends the session: it flushes every speaker buffer that still holds at
// least the minimum chunk duration, closes the VAD sessions, and reports the
// listener idle. Stop is idempotent.
func (l *Listener) Stop(ctx context.Context) error {
	var err error
	l.stopOnce.Do(func() {
		close(l.done)
		l.wg.Wait()

		l.mu.Lock()
		buffers := l.buffers
		l.buffers = make(map[string]*speakerBuffer)
		l.mu.Unlock()

		var closeErrs []error
		for id, buf := range buffers {
			// The emit lock waits out any in-flight emission for this
			// speaker before the final partial chunk goes out.
			buf.emitMu.Lock()
			l.mu.Lock()
			var chunk *events.AudioChunk
			if buf.duration() >= l.cfg.MinChunkDuration() {
				c := l.takeChunk(id, buf)
				chunk = &c
			}
			if cerr := buf.close(); cerr != nil {
				closeErrs = append(closeErrs, fmt.Errorf("listener: close vad session for %s: %w", id, cerr))
			}
			l.mu.Unlock()
			if chunk != nil {
				l.publish(ctx, *chunk)
			}
			buf.emitMu.Unlock()
		}
		l.bus.Publish(ctx, events.SystemStatus{
			Component: component,
			Status:    events.StatusIdle,
			Message:   "stopped",
			Timestamp: l.clock(),
		})
		err = errors.Join(closeErrs...)
	})
	return err
}

// HandleFrame ingests one platform frame. Stereo input is downmixed and
// off-rate input resampled to the configured listener rate before buffering.
// If the frame completes a chunk it is published before returning.
func (l *Listener) HandleFrame(f audio.Frame) {
	if len(f.PCM) == 0 {
		return
	}
	now := l.clock()

	mono := f.PCM
	if f.Format.Channels == 2 {
		mono = audio.StereoToMono(mono)
	}
	if f.Format.SampleRate > 0 && f.Format.SampleRate != l.cfg.SampleRate {
		mono = audio.ResampleMono16(mono, f.Format.SampleRate, l.cfg.SampleRate)
	}

	l.mu.Lock()
	buf, ok := l.buffers[f.SpeakerID]
	if !ok {
		buf = l.newBuffer(f.SpeakerID)
		l.buffers[f.SpeakerID] = buf
	}
	if f.SpeakerName != "" {
		l.names[f.SpeakerID] = f.SpeakerName
	}
	buf.add(mono, now)
	l.mu.Unlock()

	l.emitIfDue(context.Background(), f.SpeakerID, buf)
}

// emitIfDue takes and publishes the speaker's chunk when its emission
// condition holds. The buffer's emit lock is held across both steps; the
// frame path and the flush loop both go through here, so one speaker's
// chunks are always published in the order their audio started.
func (l *Listener) emitIfDue(ctx context.Context, speakerID string, buf *speakerBuffer) {
	buf.emitMu.Lock()
	defer buf.emitMu.Unlock()

	l.mu.Lock()
	if l.buffers[speakerID] != buf || !buf.shouldEmit(l.clock()) {
		l.mu.Unlock()
		return
	}
	c := l.takeChunk(speakerID, buf)
	l.mu.Unlock()

	l.publish(ctx, c)
}

// newBuffer creates the per-speaker buffer with its own VAD session. When
// session creation fails the buffer runs without a detector and the speaker
// chunks on the duration cap alone.
func (l *Listener) newBuffer(speakerID string) *speakerBuffer {
	format := audio.Format{SampleRate: l.cfg.SampleRate, Channels: 1}
	policy := emitPolicy{
		minChunk:     l.cfg.MinChunkDuration(),
		chunk:        l.cfg.ChunkDuration(),
		silence:      l.cfg.SilenceThreshold(),
		shortSilence: l.cfg.ShortSilenceThreshold(),
	}

	var detector vad.SessionHandle
	if l.engine != nil {
		session, err := l.engine.NewSession(vad.Config{
			SampleRate:     l.cfg.SampleRate,
			FrameSizeMs:    vadFrameMs,
			Aggressiveness: l.cfg.VADAggressiveness,
		})
		if err != nil {
			l.log.Warn("vad session creation failed, chunking on duration only",
				"speaker", speakerID,
				"error", err,
			)
		} else {
			detector = session
		}
	}

	frameBytes := l.cfg.SampleRate * vadFrameMs / 1000 * 2
	return newSpeakerBuffer(format, policy, detector, frameBytes)
}

// takeChunk flushes buf into an [events.AudioChunk]. Caller holds l.mu.
func (l *Listener) takeChunk(speakerID string, buf *speakerBuffer) events.AudioChunk {
	pcm, start, d := buf.flush()
	return events.AudioChunk{
		SessionID:   l.sessionID,
		SpeakerID:   speakerID,
		SpeakerName: l.names[speakerID],
		PCM:         pcm,
		Timestamp:   start,
		Duration:    d,
		Source:      l.source,
	}
}

func (l *Listener) publish(ctx context.Context, c events.AudioChunk) {
	l.log.Debug("audio chunk emitted",
		"speaker", c.SpeakerID,
		"duration", c.Duration,
		"bytes", len(c.PCM),
	)
	l.bus.Publish(ctx, c)
}

// flushLoop periodically emits chunks from speakers whose silence thresholds
// have elapsed between frames.
func (l *Listener) flushLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.flushDue(ctx)
		}
	}
}

// flushDue publishes every buffered chunk whose emission condition holds now.
func (l *Listener) flushDue(ctx context.Context) {
	l.mu.Lock()
	buffers := make(map[string]*speakerBuffer, len(l.buffers))
	for id, buf := range l.buffers {
		buffers[id] = buf
	}
	l.mu.Unlock()

	for id, buf := range buffers {
		l.emitIfDue(ctx, id, buf)
	}
}
