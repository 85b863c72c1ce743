// Package web serves the admin surface: REST endpoints over the pipeline
// state, a websocket stream mirroring the event bus, Prometheus metrics, and
// health probes.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/chronicler/internal/bus"
	"github.com/MrWong99/chronicler/internal/events"
	"github.com/MrWong99/chronicler/internal/observe"
	"github.com/MrWong99/chronicler/internal/store"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the admin HTTP server. Construct with [New], wire it to the bus
// with [Server.Attach], then run it with [Server.Start].
type Server struct {
	log      *slog.Logger
	bus      *bus.Bus
	store    store.Store
	metrics  *observe.Metrics
	checkers []Checker
	hub      *hub

	mu        sync.RWMutex
	sessionID string
	statuses  map[string]events.SystemStatus
	summary   events.SummaryUpdate

	srv *http.Server
}

// New creates a [Server] listening on addr. The checkers feed /readyz. A nil
// metrics falls back to [observe.DefaultMetrics], a nil logger to
// [slog.Default].
func New(log *slog.Logger, b *bus.Bus, st store.Store, addr string, metrics *observe.Metrics, checkers ...Checker) *Server {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Server{
		log:      log,
		bus:      b,
		store:    st,
		metrics:  metrics,
		checkers: checkers,
		hub:      newHub(log),
		statuses: make(map[string]events.SystemStatus),
	}
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	return s
}

// Attach subscribes the server to the bus so REST state stays current and
// every event is mirrored onto the websocket stream. Chunk PCM never leaves
// the process; the event's JSON shape excludes it.
func (s *Server) Attach() {
	bus.Subscribe(s.bus, "web.status", func(ctx context.Context, ev events.SystemStatus) error {
		s.mu.Lock()
		s.statuses[ev.Component] = ev
		s.mu.Unlock()
		s.hub.broadcast(ev)
		return nil
	})
	bus.Subscribe(s.bus, "web.summary", func(ctx context.Context, ev events.SummaryUpdate) error {
		s.mu.Lock()
		s.summary = ev
		s.mu.Unlock()
		s.hub.broadcast(ev)
		return nil
	})
	bus.Subscribe(s.bus, "web.transcription", func(ctx context.Context, ev events.Transcription) error {
		s.hub.broadcast(ev)
		return nil
	})
	bus.Subscribe(s.bus, "web.audio", func(ctx context.Context, ev events.AudioChunk) error {
		s.hub.broadcast(ev)
		return nil
	})
}

// SetSession points the REST endpoints at the active session.
func (s *Server) SetSession(sessionID string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.mu.Unlock()
}

// Start begins serving. It returns once the listener is bound; serve errors
// after that are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("web: listen on %s: %w", s.srv.Addr, err)
	}
	s.log.Info("admin server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, closing all websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", s.handleStatus)
	api.HandleFunc("GET /api/summary", s.handleSummary)
	api.HandleFunc("GET /api/questions", s.handleQuestions)
	api.HandleFunc("POST /api/questions/{id}/answer", s.handleAnswer)
	api.HandleFunc("GET /api/transcriptions", s.handleTranscriptions)

	root := http.NewServeMux()
	// The websocket endpoint bypasses the middleware: the wrapped writer
	// would hide the Hijacker needed for the upgrade.
	root.Handle("/api/", observe.Middleware(s.metrics)(api))
	root.HandleFunc("GET /ws", s.handleWS)
	root.Handle("GET /metrics", promhttp.Handler())
	root.HandleFunc("GET /healthz", s.handleHealthz)
	root.HandleFunc("GET /readyz", s.handleReadyz)
	return root
}

func (s *Server) session() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := struct {
		SessionID  string                         `json:"session_id"`
		Components map[string]events.SystemStatus `json:"components"`
	}{
		SessionID:  s.sessionID,
		Components: make(map[string]events.SystemStatus, len(s.statuses)),
	}
	for k, v := range s.statuses {
		resp.Components[k] = v
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	summary := s.summary
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	sessionID := s.session()
	pending, err := s.store.GetPendingQuestions(r.Context(), sessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	answered, err := s.store.GetAnsweredUnprocessedQuestions(r.Context(), sessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Pending  []questionDTO `json:"pending"`
		Answered []questionDTO `json:"answered"`
	}{toQuestionDTOs(pending), toQuestionDTOs(answered)})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid question id", http.StatusBadRequest)
		return
	}
	var body struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Answer == "" {
		http.Error(w, "answer is required", http.StatusBadRequest)
		return
	}
	if err := s.store.AnswerQuestion(r.Context(), id, body.Answer); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	trs, err := s.store.GetTranscriptions(r.Context(), s.session())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]transcriptionDTO, len(trs))
	for i, tr := range trs {
		out[i] = transcriptionDTO{
			ID:          tr.ID,
			SpeakerID:   tr.SpeakerID,
			SpeakerName: tr.SpeakerName,
			Text:        tr.Text,
			Timestamp:   tr.Timestamp,
			Confidence:  tr.Confidence,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealthz is the liveness probe; a process that serves HTTP is alive.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz evaluates every registered [Checker] and fails the probe when
// any dependency does.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checkers))
	status := http.StatusOK
	overall := "ok"
	for _, c := range s.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			overall = "fail"
			status = http.StatusServiceUnavailable
		} else {
			checks[c.Name] = "ok"
		}
	}
	writeJSON(w, status, struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks,omitempty"`
	}{overall, checks})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Error("admin request failed", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

type questionDTO struct {
	ID       int64  `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
	Status   string `json:"status"`
}

func toQuestionDTOs(qs []store.Question) []questionDTO {
	out := make([]questionDTO, len(qs))
	for i, q := range qs {
		out[i] = questionDTO{
			ID:       q.ID,
			Question: q.Question,
			Answer:   q.Answer,
			Status:   string(q.Status),
		}
	}
	return out
}

type transcriptionDTO struct {
	ID          int64     `json:"id"`
	SpeakerID   string    `json:"speaker_id"`
	SpeakerName string    `json:"speaker_name"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence"`
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
