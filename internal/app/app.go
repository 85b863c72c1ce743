// Package app assembles the chronicler pipeline: voice capture, segmentation,
// transcription, summarization, persistence, and Discord publishing, all
// connected over the event bus.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/chronicler/internal/bus"
	"github.com/MrWong99/chronicler/internal/config"
	"github.com/MrWong99/chronicler/internal/events"
	"github.com/MrWong99/chronicler/internal/listener"
	"github.com/MrWong99/chronicler/internal/observe"
	"github.com/MrWong99/chronicler/internal/publish"
	"github.com/MrWong99/chronicler/internal/resilience"
	"github.com/MrWong99/chronicler/internal/store"
	"github.com/MrWong99/chronicler/internal/summarizer"
	"github.com/MrWong99/chronicler/internal/transcriber"
	"github.com/MrWong99/chronicler/pkg/audio"
	"github.com/MrWong99/chronicler/pkg/provider/llm"
	"github.com/MrWong99/chronicler/pkg/provider/stt"
	"github.com/MrWong99/chronicler/pkg/provider/vad"
)

// Bus handler ids owned by the application.
const (
	persistTranscriptionID = "app.persist.transcription"
	persistSummaryID       = "app.persist.summary"
	audioMetricsID         = "app.metrics.audio"
)

// Deps carries everything the application needs. Platform and Messenger may
// be nil: without a Platform only file transcription works, without a
// Messenger summaries are not posted to Discord.
type Deps struct {
	Log       *slog.Logger
	Bus       *bus.Bus
	Config    *config.Config
	Store     store.Store
	Platform  audio.Platform
	VAD       vad.Engine
	STT       stt.Provider
	LLM       llm.Provider
	Messenger publish.Messenger
	Metrics   *observe.Metrics

	// OnSession is called whenever the active session changes; an empty id
	// means no session is running.
	OnSession func(sessionID string)
}

// App owns the pipeline components and the session lifecycle.
type App struct {
	log     *slog.Logger
	bus     *bus.Bus
	cfg     *config.Config
	store   store.Store
	metrics *observe.Metrics

	platform  audio.Platform
	onSession func(string)

	listener    *listener.Listener
	transcriber *transcriber.Transcriber
	summarizer  *summarizer.Summarizer
	publisher   *publish.Publisher

	mu        sync.Mutex
	sessionID string
	reconn    *resilience.Reconnector
}

// New wires the pipeline components. It does not touch the database or the
// voice platform; see [App.Bootstrap] and [App.StartSession].
func New(d Deps) (*App, error) {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.Config.Campaign == nil {
		return nil, errors.New("app: config has no campaign section")
	}

	a := &App{
		log:       d.Log,
		bus:       d.Bus,
		cfg:       d.Config,
		store:     d.Store,
		metrics:   d.Metrics,
		platform:  d.Platform,
		onSession: d.OnSession,
	}
	a.listener = listener.New(d.Log, d.Bus, d.Config.Listener, d.VAD, "discord")
	a.transcriber = transcriber.New(d.Log, d.Bus, d.Config.Transcriber, d.Config.Listener.SampleRate, d.STT, d.Metrics)
	a.summarizer = summarizer.New(d.Log, d.Bus, d.Config.Summarizer, d.Config.Campaign, d.LLM, d.Store, d.Metrics)
	if d.Messenger != nil && d.Config.Discord.SummaryChannelID != "" {
		a.publisher = publish.New(d.Log, d.Bus, d.Messenger, d.Config.Discord.SummaryChannelID)
	}
	return a, nil
}

// Bootstrap syncs the configured campaign into the store: the campaign row is
// upserted and config-declared NPCs are seeded if not yet known.
func (a *App) Bootstrap(ctx context.Context) error {
	c := a.cfg.Campaign
	err := a.store.UpsertCampaign(ctx, &store.Campaign{
		ID:                 c.ID,
		Name:               c.Name,
		GameSystem:         c.GameSystem,
		Language:           c.Language,
		Description:        c.Description,
		CampaignSummary:    c.CampaignSummary,
		SpeakerMap:         c.SpeakerMap(),
		DMSpeakerID:        c.DM.DiscordID,
		CustomInstructions: c.CustomInstructions.Text,
	})
	if err != nil {
		return fmt.Errorf("app: upsert campaign %s: %w", c.ID, err)
	}

	for _, npc := range c.NPCs {
		exists, err := a.store.NPCExists(ctx, c.ID, npc.Name)
		if err != nil {
			return fmt.Errorf("app: check npc %q: %w", npc.Name, err)
		}
		if exists {
			continue
		}
		err = a.store.SaveNPC(ctx, &store.NPC{
			CampaignID:  c.ID,
			Name:        npc.Name,
			Description: npc.Description,
		})
		if err != nil {
			return fmt.Errorf("app: seed npc %q: %w", npc.Name, err)
		}
	}
	return nil
}

// StartSession begins a new recording session in the configured voice
// channel. See [App.StartSessionIn].
func (a *App) StartSession(ctx context.Context) (string, error) {
	return a.StartSessionIn(ctx, "")
}

// StartSessionIn begins a new recording session: it creates the session row,
// starts every pipeline stage, and, when a voice platform is configured,
// joins the given voice channel under reconnection supervision. An empty
// channelID falls back to the configured voice channel. It returns the new
// session id.
func (a *App) StartSessionIn(ctx context.Context, channelID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionID != "" {
		return "", fmt.Errorf("app: session %s already running", a.sessionID)
	}

	sessionID := uuid.NewString()
	if err := a.store.CreateSession(ctx, sessionID, a.cfg.Campaign.ID); err != nil {
		return "", fmt.Errorf("app: create session: %w", err)
	}

	if err := a.summarizer.Start(ctx, sessionID); err != nil {
		return "", fmt.Errorf("app: start summarizer: %w", err)
	}
	a.transcriber.Start(ctx, a.sttPrompt())
	a.listener.Start(ctx, sessionID)
	if a.publisher != nil {
		a.publisher.Start()
	}
	a.attachHandlers(sessionID)

	if a.platform != nil {
		reconn, err := a.connectVoice(ctx, channelID)
		if err != nil {
			a.teardownLocked(ctx)
			return "", err
		}
		a.reconn = reconn
	}

	a.sessionID = sessionID
	a.metrics.ActiveSessions.Add(ctx, 1)
	a.notifySession(sessionID)
	a.log.Info("session started", "session_id", sessionID, "campaign_id", a.cfg.Campaign.ID)
	return sessionID, nil
}

// EndSession drains the pipeline in order, runs the final summary pass, and
// marks the session completed.
func (a *App) EndSession(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionID == "" {
		return errors.New("app: no session running")
	}
	sessionID := a.sessionID

	if a.reconn != nil {
		if err := a.reconn.Stop(); err != nil {
			a.log.Warn("leaving voice channel failed", "error", err)
		}
		a.reconn = nil
	}

	// Flush remaining audio, then wait for the transcriptions it produces
	// before the final summary pass reads the pending lines.
	if err := a.listener.Stop(ctx); err != nil {
		a.log.Warn("listener stop reported errors", "error", err)
	}
	a.transcriber.Stop(ctx)

	final, err := a.summarizer.Finalize(ctx)
	if err != nil {
		a.log.Error("final summary pass failed", "session_id", sessionID, "error", err)
		final, _ = a.summarizer.Summaries()
	}
	a.summarizer.Stop(ctx)
	if a.publisher != nil {
		a.publisher.Stop()
	}
	a.detachHandlers()

	if err := a.store.EndSession(ctx, sessionID, final); err != nil {
		return fmt.Errorf("app: end session %s: %w", sessionID, err)
	}

	a.sessionID = ""
	a.metrics.ActiveSessions.Add(ctx, -1)
	a.notifySession("")
	a.log.Info("session ended", "session_id", sessionID)
	return nil
}

// SessionID returns the id of the running session, or "".
func (a *App) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// TranscribeFile feeds a WAV recording through the running session as the
// given speaker, for transcribing pre-recorded sessions.
func (a *App) TranscribeFile(ctx context.Context, path, speakerID, speakerName string) error {
	if a.SessionID() == "" {
		return errors.New("app: no session running")
	}
	return a.listener.StreamWAV(ctx, path, speakerID, speakerName)
}

// Close ends a still-running session, for shutdown paths.
func (a *App) Close(ctx context.Context) error {
	if a.SessionID() == "" {
		return nil
	}
	return a.EndSession(ctx)
}

// connectVoice joins the voice channel and keeps the connection alive. The
// connection delivers frames straight into the listener.
func (a *App) connectVoice(ctx context.Context, channelID string) (*resilience.Reconnector, error) {
	var mu sync.Mutex
	var conn audio.Connection

	if channelID == "" {
		channelID = a.cfg.Discord.VoiceChannelID
	}
	reconn := resilience.NewReconnector(
		func(ctx context.Context) error {
			c, err := a.platform.Connect(ctx, channelID, a.listener.HandleFrame)
			if err != nil {
				return err
			}
			mu.Lock()
			conn = c
			mu.Unlock()
			return nil
		},
		func() error {
			mu.Lock()
			defer mu.Unlock()
			if conn == nil {
				return nil
			}
			return conn.Disconnect()
		},
		func() bool {
			mu.Lock()
			defer mu.Unlock()
			return conn != nil && conn.IsConnected()
		},
		resilience.ReconnectorConfig{Name: "discord-voice"},
	)
	if err := reconn.Start(ctx); err != nil {
		return nil, fmt.Errorf("app: join voice channel %s: %w", channelID, err)
	}
	return reconn, nil
}

// attachHandlers registers the persistence and bookkeeping bus handlers for
// the session.
func (a *App) attachHandlers(sessionID string) {
	bus.Subscribe(a.bus, audioMetricsID, func(ctx context.Context, ev events.AudioChunk) error {
		a.metrics.RecordAudioChunk(ctx, ev.Source)
		return nil
	})

	bus.Subscribe(a.bus, persistTranscriptionID, func(ctx context.Context, ev events.Transcription) error {
		if ev.IsPartial || ev.SessionID != sessionID {
			return nil
		}
		return a.store.SaveTranscription(ctx, &store.Transcription{
			SessionID:   ev.SessionID,
			SpeakerID:   ev.SpeakerID,
			SpeakerName: ev.SpeakerName,
			Text:        ev.Text,
			Timestamp:   ev.Timestamp,
			Confidence:  ev.Confidence,
		})
	})

	bus.Subscribe(a.bus, persistSummaryID, func(ctx context.Context, ev events.SummaryUpdate) error {
		if ev.SessionID != sessionID {
			return nil
		}
		if err := a.store.UpdateSessionSummary(ctx, ev.SessionID, ev.SessionSummary); err != nil {
			return err
		}
		if ev.Kind == events.UpdateFinal {
			return a.store.UpdateCampaignSummary(ctx, a.cfg.Campaign.ID, ev.CampaignSummary)
		}
		return nil
	})
}

func (a *App) detachHandlers() {
	a.bus.Unsubscribe(events.TypeAudioChunk, audioMetricsID)
	a.bus.Unsubscribe(events.TypeTranscription, persistTranscriptionID)
	a.bus.Unsubscribe(events.TypeSummaryUpdate, persistSummaryID)
}

// teardownLocked reverts a partially started session. Caller holds a.mu.
func (a *App) teardownLocked(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.listener.Stop(stopCtx); err != nil {
		a.log.Warn("listener stop reported errors", "error", err)
	}
	a.transcriber.Stop(stopCtx)
	a.summarizer.Stop(stopCtx)
	if a.publisher != nil {
		a.publisher.Stop()
	}
	a.detachHandlers()
}

func (a *App) notifySession(id string) {
	if a.onSession != nil {
		a.onSession(id)
	}
}

// sttPrompt builds the transcription context hint from the campaign roster.
func (a *App) sttPrompt() string {
	var parts []string
	if hint := a.cfg.Transcriber.PromptHint; hint != "" {
		parts = append(parts, hint)
	}
	if names := a.cfg.Campaign.CharacterNames(); len(names) > 0 {
		parts = append(parts, "Expected names: "+strings.Join(names, ", "))
	}
	return strings.Join(parts, " ")
}
