// Package summarizer maintains the running narrative summary of a session.
//
// It buffers transcriptions from the bus and periodically rewrites the
// session summary through an LLM provider. The model may ask clarifying
// questions via [QUESTION: ...] markers; those are persisted, answered by
// users out of band, and injected into the next pass exactly once. At session
// end a finalize pass produces the polished session summary and an updated
// campaign summary, split by literal markers.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/chronicler/internal/bus"
	"github.com/MrWong99/chronicler/internal/config"
	"github.com/MrWong99/chronicler/internal/events"
	"github.com/MrWong99/chronicler/internal/observe"
	"github.com/MrWong99/chronicler/internal/resilience"
	"github.com/MrWong99/chronicler/internal/store"
	"github.com/MrWong99/chronicler/pkg/provider/llm"
)

const component = "summarizer"

// subscriberID is the bus handler id for the transcription subscription.
const subscriberID = "summarizer"

var (
	questionRe = regexp.MustCompile(`\[QUESTION:\s*(.+?)\]`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
)

// pendingLine is one buffered transcription with its display name already
// resolved through the campaign speaker map.
type pendingLine struct {
	SpeakerID string
	Speaker   string
	Text      string
	Timestamp time.Time
}

// Option customises a [Summarizer].
type Option func(*Summarizer)

// WithClock replaces the wall clock, for tests driving the update interval.
func WithClock(now func() time.Time) Option {
	return func(s *Summarizer) {
		s.clock = now
	}
}

// Summarizer turns [events.Transcription] into [events.SummaryUpdate].
type Summarizer struct {
	log      *slog.Logger
	bus      *bus.Bus
	cfg      config.SummarizerConfig
	campaign *config.CampaignConfig
	provider llm.Provider
	store    store.Store
	metrics  *observe.Metrics

	clock      func() time.Time
	speakerMap map[string]string

	// mu guards the buffered state below.
	mu              sync.Mutex
	sessionID       string
	sessionSummary  string
	campaignSummary string
	pending         []pendingLine
	lastUpdate      time.Time

	// updateMu serializes passes; triggers that find it held coalesce into
	// the pass already running.
	updateMu sync.Mutex
}

// New creates a [Summarizer] for the given campaign. A nil metrics falls back
// to [observe.DefaultMetrics], a nil logger to [slog.Default].
func New(log *slog.Logger, b *bus.Bus, cfg config.SummarizerConfig, campaign *config.CampaignConfig, provider llm.Provider, st store.Store, metrics *observe.Metrics, opts ...Option) *Summarizer {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Summarizer{
		log:        log,
		bus:        b,
		cfg:        cfg,
		campaign:   campaign,
		provider:   provider,
		store:      st,
		metrics:    metrics,
		clock:      time.Now,
		speakerMap: campaign.SpeakerMap(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the summarizer to a session, loads the carried-forward campaign
// summary, and subscribes to transcriptions. Previous session state is
// discarded.
func (s *Summarizer) Start(ctx context.Context, sessionID string) error {
	campaignSummary := s.campaign.CampaignSummary
	if c, err := s.store.GetCampaign(ctx, s.campaign.ID); err != nil {
		return fmt.Errorf("summarizer: load campaign: %w", err)
	} else if c != nil && c.CampaignSummary != "" {
		campaignSummary = c.CampaignSummary
	}

	s.mu.Lock()
	s.sessionID = sessionID
	s.sessionSummary = ""
	s.campaignSummary = campaignSummary
	s.pending = nil
	s.lastUpdate = s.clock()
	s.mu.Unlock()

	bus.Subscribe(s.bus, subscriberID, s.handleTranscription)
	s.bus.Publish(ctx, events.SystemStatus{
		Component: component,
		Status:    events.StatusRunning,
		Message:   "summarizing",
		Timestamp: s.clock(),
	})
	return nil
}

// Stop unsubscribes from the bus and reports the summarizer idle. Buffered
// state survives so a [Summarizer.Finalize] after Stop still sees the last
// pending lines.
func (s *Summarizer) Stop(ctx context.Context) {
	s.bus.Unsubscribe(events.TypeTranscription, subscriberID)
	s.bus.Publish(ctx, events.SystemStatus{
		Component: component,
		Status:    events.StatusIdle,
		Message:   "stopped",
		Timestamp: s.clock(),
	})
}

// Summaries returns the current session and campaign summaries.
func (s *Summarizer) Summaries() (session, campaign string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionSummary, s.campaignSummary
}

// handleTranscription buffers one transcription and triggers a pass when the
// buffer is large enough or the update interval has elapsed.
func (s *Summarizer) handleTranscription(ctx context.Context, ev events.Transcription) error {
	if ev.IsPartial {
		return nil
	}

	s.mu.Lock()
	if ev.SessionID != s.sessionID {
		s.mu.Unlock()
		return nil
	}
	s.pending = append(s.pending, pendingLine{
		SpeakerID: ev.SpeakerID,
		Speaker:   s.displayName(ev),
		Text:      ev.Text,
		Timestamp: ev.Timestamp,
	})
	due := len(s.pending) >= s.cfg.MaxPendingTranscriptions ||
		s.clock().Sub(s.lastUpdate) >= s.cfg.UpdateInterval()
	s.mu.Unlock()

	if !due {
		return nil
	}
	if !s.updateMu.TryLock() {
		// A pass is already in flight; this trigger coalesces into it.
		return nil
	}
	defer s.updateMu.Unlock()
	s.runPass(ctx)
	return nil
}

// displayName maps a speaker to their character name when the campaign knows
// them, otherwise keeps the platform name.
func (s *Summarizer) displayName(ev events.Transcription) string {
	if name, ok := s.speakerMap[ev.SpeakerID]; ok && name != "" {
		return name
	}
	return ev.SpeakerName
}

// runPass executes one incremental summary pass. Caller holds updateMu.
func (s *Summarizer) runPass(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	snapshot := s.pending
	s.pending = nil
	sessionID := s.sessionID
	sessionSummary := s.sessionSummary
	campaignSummary := s.campaignSummary
	s.mu.Unlock()

	answersBlock, err := s.consumeAnswers(ctx, sessionID)
	if err != nil {
		s.restorePending(snapshot)
		s.failPass(ctx, fmt.Errorf("summarizer: fetch answers: %w", err))
		return
	}

	npcs, err := s.store.GetNPCs(ctx, s.campaign.ID)
	if err != nil {
		s.restorePending(snapshot)
		s.failPass(ctx, fmt.Errorf("summarizer: fetch npcs: %w", err))
		return
	}

	req := llm.Request{
		System:    buildSystemPrompt(s.campaign, campaignSummary, npcs),
		User:      buildUpdatePrompt(sessionSummary, answersBlock, formatTranscript(snapshot)),
		MaxTokens: s.cfg.MaxTokens,
	}
	response, err := s.complete(ctx, req)
	if err != nil {
		s.restorePending(snapshot)
		s.metrics.RecordProviderError(ctx, "llm")
		s.failPass(ctx, fmt.Errorf("summarizer: update pass: %w", err))
		return
	}

	questions, cleaned := extractQuestions(response)
	s.saveQuestions(ctx, sessionID, questions)

	kind := events.UpdateIncremental
	if answersBlock != "" {
		kind = events.UpdateRevision
	}

	s.mu.Lock()
	s.sessionSummary = cleaned
	s.lastUpdate = s.clock()
	campaignSummary = s.campaignSummary
	s.mu.Unlock()

	s.metrics.RecordSummaryPass(ctx, string(kind))
	s.bus.Publish(ctx, events.SummaryUpdate{
		SessionID:       sessionID,
		SessionSummary:  cleaned,
		CampaignSummary: campaignSummary,
		LastUpdated:     s.clock(),
		Kind:            kind,
	})
}

// Finalize runs the session-end pass and returns the final session summary.
// It waits for any in-flight incremental pass, consumes the remaining pending
// lines, and asks the model for the marker-delimited double summary. When the
// markers are missing the whole response becomes the session summary and the
// campaign summary is left unchanged.
func (s *Summarizer) Finalize(ctx context.Context) (string, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	snapshot := s.pending
	s.pending = nil
	sessionID := s.sessionID
	sessionSummary := s.sessionSummary
	campaignSummary := s.campaignSummary
	s.mu.Unlock()

	answersBlock, err := s.consumeAnswers(ctx, sessionID)
	if err != nil {
		s.log.Warn("fetching answers for finalize failed", "error", err)
		answersBlock = ""
	}

	npcs, err := s.store.GetNPCs(ctx, s.campaign.ID)
	if err != nil {
		s.log.Warn("fetching npcs for finalize failed", "error", err)
	}

	req := llm.Request{
		System:    buildSystemPrompt(s.campaign, campaignSummary, npcs),
		User:      buildFinalizePrompt(sessionSummary, campaignSummary, answersBlock, formatTranscript(snapshot)),
		MaxTokens: s.cfg.MaxTokens,
	}
	response, err := s.complete(ctx, req)
	if err != nil {
		s.restorePending(snapshot)
		s.metrics.RecordProviderError(ctx, "llm")
		s.failPass(ctx, fmt.Errorf("summarizer: finalize pass: %w", err))
		return "", fmt.Errorf("summarizer: finalize: %w", err)
	}

	finalSession, finalCampaign, ok := splitFinal(response)
	if !ok {
		finalSession = collapse(strings.TrimSpace(response))
		finalCampaign = campaignSummary
	}

	s.mu.Lock()
	s.sessionSummary = finalSession
	s.campaignSummary = finalCampaign
	s.lastUpdate = s.clock()
	s.mu.Unlock()

	s.metrics.RecordSummaryPass(ctx, string(events.UpdateFinal))
	s.bus.Publish(ctx, events.SummaryUpdate{
		SessionID:       sessionID,
		SessionSummary:  finalSession,
		CampaignSummary: finalCampaign,
		LastUpdated:     s.clock(),
		Kind:            events.UpdateFinal,
	})

	s.extractEntities(ctx, sessionID, finalSession)

	return finalSession, nil
}

// consumeAnswers fetches answered questions, formats them, and marks them
// processed before the model ever sees them. A later pass failure does not
// un-process them: the user-supplied facts stay true, and re-injecting them
// would spam the model.
func (s *Summarizer) consumeAnswers(ctx context.Context, sessionID string) (string, error) {
	answered, err := s.store.GetAnsweredUnprocessedQuestions(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(answered) == 0 {
		return "", nil
	}
	block := formatAnswers(answered)

	ids := make([]int64, len(answered))
	for i, q := range answered {
		ids[i] = q.ID
	}
	if err := s.store.MarkQuestionsProcessed(ctx, ids); err != nil {
		return "", err
	}
	return block, nil
}

// complete calls the LLM with per-attempt timeout and exponential backoff.
// MaxRetries is the total attempt budget for summary passes, unlike the
// transcriber where it counts retries after the first attempt.
func (s *Summarizer) complete(ctx context.Context, req llm.Request) (string, error) {
	retryCfg := resilience.RetryConfig{
		MaxAttempts: s.cfg.MaxRetries,
		BaseDelay:   s.cfg.RetryBaseDelay(),
		OnRetry: func(attempt int, err error) {
			s.log.Warn("retrying summary pass", "attempt", attempt, "error", err)
		},
	}

	start := time.Now()
	response, err := resilience.Retry(ctx, retryCfg, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.APITimeout())
		defer cancel()
		return s.provider.Complete(callCtx, req)
	})
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	return response, err
}

func (s *Summarizer) saveQuestions(ctx context.Context, sessionID string, questions []string) {
	for _, q := range questions {
		if _, err := s.store.SaveQuestion(ctx, sessionID, q); err != nil {
			s.log.Error("saving question failed", "question", q, "error", err)
		}
	}
}

// restorePending prepends the failed snapshot so no transcriptions are lost.
func (s *Summarizer) restorePending(snapshot []pendingLine) {
	s.mu.Lock()
	s.pending = append(snapshot, s.pending...)
	s.mu.Unlock()
}

func (s *Summarizer) failPass(ctx context.Context, err error) {
	s.log.Error("summary pass failed", "error", err)
	s.bus.Publish(ctx, events.SystemStatus{
		Component: component,
		Status:    events.StatusError,
		Message:   err.Error(),
		Timestamp: s.clock(),
	})
}

// extractQuestions collects [QUESTION: ...] markers from the model response
// and returns the questions together with the cleaned summary text.
func extractQuestions(response string) (questions []string, cleaned string) {
	for _, m := range questionRe.FindAllStringSubmatch(response, -1) {
		if q := strings.TrimSpace(m[1]); q != "" {
			questions = append(questions, q)
		}
	}
	cleaned = questionRe.ReplaceAllString(response, "")
	return questions, collapse(strings.TrimSpace(cleaned))
}

// collapse reduces runs of three or more newlines to exactly two.
func collapse(text string) string {
	return newlinesRe.ReplaceAllString(text, "\n\n")
}

// splitFinal splits a finalize response on the double-summary markers. ok is
// false when either marker is missing.
func splitFinal(response string) (session, campaign string, ok bool) {
	before, after, found := strings.Cut(response, campaignSummaryMarker)
	if !found || !strings.Contains(before, sessionSummaryMarker) {
		return "", "", false
	}
	session = strings.Replace(before, sessionSummaryMarker, "", 1)
	return collapse(strings.TrimSpace(session)), collapse(strings.TrimSpace(after)), true
}

// entity is one extracted NPC. The model sometimes returns bare name strings
// instead of objects; both forms decode.
type entity struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (e *entity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		e.Name = name
		return nil
	}
	type plain entity
	return json.Unmarshal(data, (*plain)(e))
}

// extractEntities runs the optional post-finalize pass that records newly
// encountered NPCs. Any failure is logged and swallowed; finalization already
// succeeded.
func (s *Summarizer) extractEntities(ctx context.Context, sessionID, sessionSummary string) {
	response, err := s.complete(ctx, llm.Request{
		User:      buildEntityPrompt(sessionSummary),
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		s.log.Warn("entity extraction failed", "error", err)
		return
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		s.log.Warn("entity extraction returned no JSON object")
		return
	}

	var parsed struct {
		NPCs      []entity `json:"npcs"`
		Locations []string `json:"locations"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &parsed); err != nil {
		s.log.Warn("entity extraction returned malformed JSON", "error", err)
		return
	}

	for _, npc := range parsed.NPCs {
		name := strings.TrimSpace(npc.Name)
		if name == "" {
			continue
		}
		known, err := s.store.NPCExists(ctx, s.campaign.ID, name)
		if err != nil {
			s.log.Warn("npc lookup failed", "npc", name, "error", err)
			continue
		}
		if known {
			continue
		}
		err = s.store.SaveNPC(ctx, &store.NPC{
			CampaignID:       s.campaign.ID,
			Name:             name,
			Description:      strings.TrimSpace(npc.Description),
			FirstSeenSession: sessionID,
		})
		if err != nil {
			s.log.Warn("saving npc failed", "npc", name, "error", err)
			continue
		}
		s.log.Info("new npc recorded", "npc", name)
	}
}
