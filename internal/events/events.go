// Package events defines the typed payloads that flow over the
// [github.com/MrWong99/chronicler/internal/bus] event bus. Every stage of the
// pipeline communicates exclusively through these types: listeners emit
// [AudioChunk], transcribers consume it and emit [Transcription], the
// summarizer consumes that and emits [SummaryUpdate], and every component may
// emit [SystemStatus] for the admin surface.
package events

import "time"

// Type identifies an event kind on the bus. Each event struct maps to exactly
// one Type.
type Type string

const (
	TypeAudioChunk    Type = "audio_chunk"
	TypeTranscription Type = "transcription"
	TypeSummaryUpdate Type = "summary_update"
	TypeSystemStatus  Type = "system_status"
)

// Event is implemented by all bus payloads.
type Event interface {
	// EventType returns the bus routing key for this payload.
	EventType() Type
}

// AudioChunk carries a segment of speech from a single speaker, emitted by a
// listener once its buffering policy decides the segment is complete.
// PCM is 16-bit little-endian mono at the listener's configured sample rate.
type AudioChunk struct {
	SessionID   string        `json:"session_id"`
	SpeakerID   string        `json:"speaker_id"`
	SpeakerName string        `json:"speaker_name"`
	PCM         []byte        `json:"-"`
	Timestamp   time.Time     `json:"timestamp"` // start of the chunk
	Duration    time.Duration `json:"duration"`
	Source      string        `json:"source"` // "discord", "file"
}

func (AudioChunk) EventType() Type { return TypeAudioChunk }

// Transcription is the text produced for one [AudioChunk]. Partial
// transcriptions are neither persisted nor summarized.
type Transcription struct {
	SessionID   string    `json:"session_id"`
	SpeakerID   string    `json:"speaker_id"`
	SpeakerName string    `json:"speaker_name"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence"`
	IsPartial   bool      `json:"is_partial"`
}

func (Transcription) EventType() Type { return TypeTranscription }

// UpdateKind distinguishes the cause of a [SummaryUpdate].
type UpdateKind string

const (
	UpdateIncremental UpdateKind = "incremental"
	UpdateRevision    UpdateKind = "revision"
	UpdateFinal       UpdateKind = "final"
)

// SummaryUpdate carries the current narrative state after a summarizer pass.
type SummaryUpdate struct {
	SessionID       string     `json:"session_id"`
	SessionSummary  string     `json:"session_summary"`
	CampaignSummary string     `json:"campaign_summary"`
	LastUpdated     time.Time  `json:"last_updated"`
	Kind            UpdateKind `json:"update_type"`
}

func (SummaryUpdate) EventType() Type { return TypeSummaryUpdate }

// Status is a coarse component health value carried by [SystemStatus].
type Status string

const (
	StatusRunning Status = "running"
	StatusIdle    Status = "idle"
	StatusError   Status = "error"
)

// SystemStatus reports component state transitions and errors. It is consumed
// by the admin web surface; no pipeline stage acts on it.
type SystemStatus struct {
	Component string    `json:"component"` // "listener", "transcriber", "summarizer", "system"
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (SystemStatus) EventType() Type { return TypeSystemStatus }
