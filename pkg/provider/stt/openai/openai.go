// Package openai implements the [stt.Provider] interface against the OpenAI
// audio transcription HTTP API (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MrWong99/chronicler/pkg/provider/stt"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider is an [stt.Provider] backed by the OpenAI transcription endpoint.
// It is safe for concurrent use.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// Compile-time interface check.
var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the transcription model. Default: "whisper-1".
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the API base URL, e.g. to point at a compatible local
// server or a test fixture.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithHTTPClient sets the HTTP client used for API calls. Use this to control
// timeouts or inject a test transport.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// New creates a [Provider] using the given API key.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   "whisper-1",
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Transcribe sends the WAV payload as a multipart form to the transcription
// endpoint and returns the recognized text.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", p.model); err != nil {
		return "", fmt.Errorf("openai stt: write model field: %w", err)
	}
	if req.Language != "" {
		if err := writer.WriteField("language", req.Language); err != nil {
			return "", fmt.Errorf("openai stt: write language field: %w", err)
		}
	}
	if req.Prompt != "" {
		if err := writer.WriteField("prompt", req.Prompt); err != nil {
			return "", fmt.Errorf("openai stt: write prompt field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("openai stt: create form file: %w", err)
	}
	if _, err := part.Write(req.WAV); err != nil {
		return "", fmt.Errorf("openai stt: write audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("openai stt: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("openai stt: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai stt: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai stt: status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("openai stt: decode response: %w", err)
	}
	return result.Text, nil
}
