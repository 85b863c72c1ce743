package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/chronicler/pkg/audio"
	"github.com/MrWong99/chronicler/pkg/provider/stt"
)

func TestTranscribeSendsMultipartForm(t *testing.T) {
	var gotModel, gotLanguage, gotPrompt, gotAuth string
	var gotFile []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q, want /audio/transcriptions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		gotFile, _ = io.ReadAll(f)
		json.NewEncoder(w).Encode(map[string]string{"text": "hello there"})
	}))
	defer srv.Close()

	wav := audio.EncodeWAV(make([]byte, 960), 48000, 1)
	p := New("sk-test", WithModel("gpt-4o-transcribe"), WithBaseURL(srv.URL))

	text, err := p.Transcribe(context.Background(), stt.Request{
		WAV:      wav,
		Language: "en",
		Prompt:   "Expected names: Kira, Dorian",
	})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hello there" {
		t.Errorf("Transcribe() = %q, want %q", text, "hello there")
	}
	if gotModel != "gpt-4o-transcribe" {
		t.Errorf("model field = %q, want gpt-4o-transcribe", gotModel)
	}
	if gotLanguage != "en" {
		t.Errorf("language field = %q, want en", gotLanguage)
	}
	if gotPrompt != "Expected names: Kira, Dorian" {
		t.Errorf("prompt field = %q", gotPrompt)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want Bearer sk-test", gotAuth)
	}
	if len(gotFile) != len(wav) {
		t.Errorf("uploaded %d bytes, want %d", len(gotFile), len(wav))
	}
}

func TestTranscribeOmitsEmptyOptionalFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		if _, ok := r.MultipartForm.Value["language"]; ok {
			t.Error("language field sent despite being empty")
		}
		if _, ok := r.MultipartForm.Value["prompt"]; ok {
			t.Error("prompt field sent despite being empty")
		}
		json.NewEncoder(w).Encode(map[string]string{"text": ""})
	}))
	defer srv.Close()

	p := New("sk-test", WithBaseURL(srv.URL))
	if _, err := p.Transcribe(context.Background(), stt.Request{WAV: []byte("RIFF")}); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
}

func TestTranscribeSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := New("sk-test", WithBaseURL(srv.URL))
	_, err := p.Transcribe(context.Background(), stt.Request{WAV: []byte("RIFF")})
	if err == nil {
		t.Fatal("Transcribe() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %q does not mention status 429", err)
	}
}
