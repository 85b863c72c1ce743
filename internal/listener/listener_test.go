package listener

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/chronicler/internal/bus"
	"github.com/MrWong99/chronicler/internal/config"
	"github.com/MrWong99/chronicler/internal/events"
	"github.com/MrWong99/chronicler/pkg/audio"
	vadmock "github.com/MrWong99/chronicler/pkg/provider/vad/mock"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type chunkCollector struct {
	mu     sync.Mutex
	chunks []events.AudioChunk
}

func (c *chunkCollector) handle(ctx context.Context, ev events.AudioChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, ev)
	return nil
}

func (c *chunkCollector) all() []events.AudioChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.AudioChunk(nil), c.chunks...)
}

func testConfig() config.ListenerConfig {
	return config.ListenerConfig{
		ChunkDurationS:         10.0,
		SilenceThresholdS:      1.5,
		ShortSilenceThresholdS: 0.5,
		MinChunkDurationS:      0.5,
		SampleRate:             48000,
		Channels:               1,
		SampleWidth:            2,
		VADAggressiveness:      2,
	}
}

// monoPCM returns d worth of silence-valued mono PCM at 48 kHz.
func monoPCM(d time.Duration) []byte {
	f := audio.Format{SampleRate: 48000, Channels: 1}
	return make([]byte, f.Bytes(d))
}

func newTestListener(t *testing.T, cfg config.ListenerConfig, engine *vadmock.Engine) (*Listener, *chunkCollector, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
	b := bus.New(nil)
	col := &chunkCollector{}
	bus.Subscribe(b, "test.chunks", col.handle)

	l := New(nil, b, cfg, engine, "discord", WithClock(clock.Now))
	l.Start(context.Background(), "sess-1")
	t.Cleanup(func() { l.Stop(context.Background()) })
	return l, col, clock
}

func feed(l *Listener, speakerID, speakerName string, d time.Duration) {
	l.HandleFrame(audio.Frame{
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		PCM:         monoPCM(d),
		Format:      audio.Format{SampleRate: 48000, Channels: 1},
	})
}

func TestEmitsOnDurationCap(t *testing.T) {
	engine := &vadmock.Engine{Session: &vadmock.Session{Speech: true}}
	l, col, _ := newTestListener(t, testConfig(), engine)

	for range 20 {
		feed(l, "42", "alice", 500*time.Millisecond)
	}

	chunks := col.all()
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Duration != 10*time.Second {
		t.Errorf("Duration = %v, want 10s", c.Duration)
	}
	if c.SessionID != "sess-1" || c.SpeakerID != "42" || c.SpeakerName != "alice" {
		t.Errorf("chunk identity = %q/%q/%q", c.SessionID, c.SpeakerID, c.SpeakerName)
	}
	if c.Source != "discord" {
		t.Errorf("Source = %q, want discord", c.Source)
	}
	want := audio.Format{SampleRate: 48000, Channels: 1}.Bytes(10 * time.Second)
	if len(c.PCM) != want {
		t.Errorf("len(PCM) = %d, want %d", len(c.PCM), want)
	}
}

func TestEmitsAfterSilence(t *testing.T) {
	engine := &vadmock.Engine{Session: &vadmock.Session{Speech: true}}
	l, col, clock := newTestListener(t, testConfig(), engine)

	feed(l, "42", "alice", time.Second)
	clock.Advance(time.Second)
	l.flushDue(context.Background())
	if got := col.all(); len(got) != 0 {
		t.Fatalf("emitted %d chunks before silence threshold", len(got))
	}

	clock.Advance(time.Second)
	l.flushDue(context.Background())
	chunks := col.all()
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks after silence, want 1", len(chunks))
	}
	if chunks[0].Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", chunks[0].Duration)
	}
}

func TestShortSilenceAfterLongSpeech(t *testing.T) {
	engine := &vadmock.Engine{Session: &vadmock.Session{Speech: true}}
	l, col, clock := newTestListener(t, testConfig(), engine)

	// Short buffer, short pause: no emission.
	feed(l, "a", "", 2*time.Second)
	clock.Advance(600 * time.Millisecond)
	l.flushDue(context.Background())
	if got := col.all(); len(got) != 0 {
		t.Fatalf("2s buffer emitted after 0.6s pause")
	}

	// Long buffer, same short pause: emission.
	feed(l, "b", "", 6*time.Second)
	clock.Advance(600 * time.Millisecond)
	l.flushDue(context.Background())
	chunks := col.all()
	if len(chunks) != 1 || chunks[0].SpeakerID != "b" {
		t.Fatalf("chunks = %+v, want one chunk for speaker b", chunks)
	}
}

func TestMinChunkSuppressesEmission(t *testing.T) {
	engine := &vadmock.Engine{Session: &vadmock.Session{Speech: true}}
	l, col, clock := newTestListener(t, testConfig(), engine)

	feed(l, "42", "alice", 300*time.Millisecond)
	clock.Advance(10 * time.Second)
	l.flushDue(context.Background())
	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := col.all(); len(got) != 0 {
		t.Errorf("sub-minimum buffer emitted %d chunks", len(got))
	}
}

func TestSpeakersBufferIndependently(t *testing.T) {
	engine := &vadmock.Engine{}
	l, col, _ := newTestListener(t, testConfig(), engine)

	for range 20 {
		feed(l, "a", "alice", 500*time.Millisecond)
	}
	feed(l, "b", "bob", 3*time.Second)

	chunks := col.all()
	if len(chunks) != 1 || chunks[0].SpeakerID != "a" {
		t.Fatalf("chunks = %d, want only speaker a emitted", len(chunks))
	}

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	chunks = col.all()
	if len(chunks) != 2 || chunks[1].SpeakerID != "b" {
		t.Fatalf("after stop got %d chunks, want speaker b flushed", len(chunks))
	}
	if chunks[1].Duration != 3*time.Second {
		t.Errorf("flushed Duration = %v, want 3s", chunks[1].Duration)
	}
}

func TestStopFlushesAndClosesSessions(t *testing.T) {
	session := &vadmock.Session{Speech: true}
	engine := &vadmock.Engine{Session: session}
	l, col, _ := newTestListener(t, testConfig(), engine)

	feed(l, "42", "alice", time.Second)
	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	chunks := col.all()
	if len(chunks) != 1 || chunks[0].Duration != time.Second {
		t.Fatalf("chunks after stop = %+v, want one 1s chunk", chunks)
	}
	if !session.Closed {
		t.Error("vad session not closed on stop")
	}

	// Stop again is a no-op.
	if err := l.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if got := col.all(); len(got) != 1 {
		t.Errorf("second Stop emitted more chunks: %d", len(got))
	}
}

func TestChunksPublishInStartOrderUnderConcurrentFlush(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkDurationS = 1.0
	cfg.MinChunkDurationS = 0.1

	engine := &vadmock.Engine{Session: &vadmock.Session{Speech: true}}
	l, col, clock := newTestListener(t, cfg, engine)

	// Hammer the flush path while frames arrive, so cap emissions from the
	// frame path and silence emissions from the flush path race for the same
	// speaker.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				l.flushDue(context.Background())
			}
		}
	}()

	for i := range 200 {
		feed(l, "42", "alice", 100*time.Millisecond)
		clock.Advance(100 * time.Millisecond)
		if i%13 == 12 {
			// A pause long enough for the flush path to take the remainder.
			clock.Advance(2 * time.Second)
		}
	}
	close(stop)
	wg.Wait()

	chunks := col.all()
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if !chunks[i].Timestamp.After(chunks[i-1].Timestamp) {
			t.Fatalf("chunk %d starts at %v, not after chunk %d at %v",
				i, chunks[i].Timestamp, i-1, chunks[i-1].Timestamp)
		}
	}
}

func TestStatusEventsOnStartAndStop(t *testing.T) {
	b := bus.New(nil)
	var mu sync.Mutex
	var statuses []events.SystemStatus
	bus.Subscribe(b, "test.status", func(ctx context.Context, ev events.SystemStatus) error {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, ev)
		return nil
	})

	l := New(nil, b, testConfig(), &vadmock.Engine{}, "discord")
	l.Start(context.Background(), "sess-1")
	l.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 2 {
		t.Fatalf("got %d status events, want 2", len(statuses))
	}
	if statuses[0].Component != "listener" || statuses[0].Status != events.StatusRunning {
		t.Errorf("start status = %+v", statuses[0])
	}
	if statuses[1].Status != events.StatusIdle {
		t.Errorf("stop status = %+v", statuses[1])
	}
}

func TestDetectorErrorCountsAsVoice(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	format := audio.Format{SampleRate: 48000, Channels: 1}
	policy := emitPolicy{minChunk: 500 * time.Millisecond, chunk: 10 * time.Second, silence: 1500 * time.Millisecond, shortSilence: 500 * time.Millisecond}
	detector := &vadmock.Session{Err: errors.New("backend gone")}

	b := newSpeakerBuffer(format, policy, detector, 1920)
	b.add(monoPCM(time.Second), t0)
	b.add(monoPCM(100*time.Millisecond), t0.Add(2*time.Second))
	if !b.lastVoice.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("lastVoice = %v, want advanced to the failing frame's arrival", b.lastVoice)
	}
}

func TestSilentFramesDoNotAdvanceVoice(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	format := audio.Format{SampleRate: 48000, Channels: 1}
	policy := emitPolicy{minChunk: 500 * time.Millisecond, chunk: 10 * time.Second, silence: 1500 * time.Millisecond, shortSilence: 500 * time.Millisecond}
	detector := &vadmock.Session{Speech: false}

	b := newSpeakerBuffer(format, policy, detector, 1920)
	b.add(monoPCM(time.Second), t0)
	b.add(monoPCM(time.Second), t0.Add(time.Second))
	if !b.lastVoice.Equal(t0) {
		t.Errorf("lastVoice = %v, want unchanged %v", b.lastVoice, t0)
	}
	if !b.shouldEmit(t0.Add(1600 * time.Millisecond)) {
		t.Error("shouldEmit = false after silence threshold elapsed")
	}
}

func TestStreamWAVSegmentsFile(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkDurationS = 1.0

	engine := &vadmock.Engine{Session: &vadmock.Session{Speech: true}}
	l, col, _ := newTestListener(t, cfg, engine)

	// 2.5s of 16 kHz mono, resampled to the listener's 48 kHz on ingest.
	src := audio.Format{SampleRate: 16000, Channels: 1}
	wav := audio.EncodeWAV(make([]byte, src.Bytes(2500*time.Millisecond)), 16000, 1)
	path := filepath.Join(t.TempDir(), "session.wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := l.StreamWAV(context.Background(), path, "file", "recording"); err != nil {
		t.Fatalf("StreamWAV() error = %v", err)
	}
	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	chunks := col.all()
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	var total time.Duration
	for _, c := range chunks {
		total += c.Duration
		if c.SpeakerID != "file" || c.SpeakerName != "recording" {
			t.Errorf("chunk speaker = %q/%q", c.SpeakerID, c.SpeakerName)
		}
	}
	if total != 2500*time.Millisecond {
		t.Errorf("total duration = %v, want 2.5s", total)
	}
}
