package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/chronicler/internal/bus"
	"github.com/MrWong99/chronicler/internal/events"
	"github.com/MrWong99/chronicler/internal/store"
)

func newTestServer(t *testing.T, checkers ...Checker) (*Server, *bus.Bus, *store.MemoryStore, *httptest.Server) {
	t.Helper()
	b := bus.New(nil)
	st := store.NewMemoryStore()
	s := New(nil, b, st, "127.0.0.1:0", nil, checkers...)
	s.Attach()
	s.SetSession("sess-1")

	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, b, st, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	_, b, _, ts := newTestServer(t)

	b.Publish(context.Background(), events.SystemStatus{
		Component: "listener",
		Status:    events.StatusRunning,
		Message:   "listening",
		Timestamp: time.Now(),
	})

	var resp struct {
		SessionID  string `json:"session_id"`
		Components map[string]struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"components"`
	}
	if code := getJSON(t, ts.URL+"/api/status", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if resp.SessionID != "sess-1" {
		t.Errorf("session_id = %q", resp.SessionID)
	}
	if got := resp.Components["listener"]; got.Status != "running" || got.Message != "listening" {
		t.Errorf("listener status = %+v", got)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	_, b, _, ts := newTestServer(t)

	b.Publish(context.Background(), events.SummaryUpdate{
		SessionID:       "sess-1",
		SessionSummary:  "The party explored the crypt.",
		CampaignSummary: "Chapter one.",
		LastUpdated:     time.Now(),
		Kind:            events.UpdateIncremental,
	})

	var resp struct {
		SessionSummary  string `json:"session_summary"`
		CampaignSummary string `json:"campaign_summary"`
		Kind            string `json:"update_type"`
	}
	if code := getJSON(t, ts.URL+"/api/summary", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if resp.SessionSummary != "The party explored the crypt." {
		t.Errorf("session_summary = %q", resp.SessionSummary)
	}
	if resp.Kind != "incremental" {
		t.Errorf("update_type = %q", resp.Kind)
	}
}

func TestQuestionAnswerFlow(t *testing.T) {
	ctx := context.Background()
	_, _, st, ts := newTestServer(t)

	id, err := st.SaveQuestion(ctx, "sess-1", "Who opened the vault?")
	if err != nil {
		t.Fatal(err)
	}

	var list struct {
		Pending  []questionDTO `json:"pending"`
		Answered []questionDTO `json:"answered"`
	}
	getJSON(t, ts.URL+"/api/questions", &list)
	if len(list.Pending) != 1 || list.Pending[0].Question != "Who opened the vault?" {
		t.Fatalf("pending = %+v", list.Pending)
	}

	body := bytes.NewBufferString(`{"answer": "The rogue did."}`)
	resp, err := http.Post(fmt.Sprintf("%s/api/questions/%d/answer", ts.URL, id), "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer status code = %d", resp.StatusCode)
	}

	getJSON(t, ts.URL+"/api/questions", &list)
	if len(list.Pending) != 0 || len(list.Answered) != 1 {
		t.Fatalf("after answer: pending = %d, answered = %d", len(list.Pending), len(list.Answered))
	}
	if list.Answered[0].Answer != "The rogue did." {
		t.Errorf("answer = %q", list.Answered[0].Answer)
	}
}

func TestAnswerValidation(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/questions/abc/answer", "application/json", strings.NewReader(`{"answer":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-numeric id status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/questions/1/answer", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty answer status = %d, want 400", resp.StatusCode)
	}
}

func TestTranscriptionsEndpoint(t *testing.T) {
	ctx := context.Background()
	_, _, st, ts := newTestServer(t)

	base := time.Now()
	for i, text := range []string{"first", "second"} {
		err := st.SaveTranscription(ctx, &store.Transcription{
			SessionID:   "sess-1",
			SpeakerID:   "42",
			SpeakerName: "alice",
			Text:        text,
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			Confidence:  0.95,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	var resp []transcriptionDTO
	if code := getJSON(t, ts.URL+"/api/transcriptions", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(resp) != 2 || resp[0].Text != "first" || resp[1].Text != "second" {
		t.Errorf("transcriptions = %+v", resp)
	}
}

func TestReadyzReportsFailingChecker(t *testing.T) {
	_, _, _, ts := newTestServer(t,
		Checker{Name: "database", Check: func(ctx context.Context) error { return nil }},
		Checker{Name: "provider", Check: func(ctx context.Context) error { return errors.New("unreachable") }},
	)

	if code := getJSON(t, ts.URL+"/healthz", nil); code != http.StatusOK {
		t.Errorf("healthz = %d", code)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if code := getJSON(t, ts.URL+"/readyz", &resp); code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", code)
	}
	if resp.Checks["database"] != "ok" || !strings.HasPrefix(resp.Checks["provider"], "fail") {
		t.Errorf("checks = %+v", resp.Checks)
	}
}

func TestWebsocketStreamMirrorsEvents(t *testing.T) {
	s, b, _, ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The handler registers the connection after the handshake returns.
	for range 100 {
		s.hub.mu.Lock()
		n := len(s.hub.conns)
		s.hub.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	b.Publish(context.Background(), events.AudioChunk{
		SessionID: "sess-1",
		SpeakerID: "42",
		PCM:       []byte{1, 2, 3, 4},
		Duration:  2 * time.Second,
		Source:    "discord",
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if env.Type != "audio_chunk" {
		t.Errorf("type = %q, want audio_chunk", env.Type)
	}
	if bytes.Contains(bytes.ToLower(env.Payload), []byte(`"pcm"`)) {
		t.Errorf("payload leaks raw audio: %s", env.Payload)
	}
	if !bytes.Contains(env.Payload, []byte(`"speaker_id":"42"`)) {
		t.Errorf("payload = %s", env.Payload)
	}
}
