// Package store defines the persistence gateway for campaigns, sessions,
// transcriptions, NPCs, and clarifying questions, with a PostgreSQL
// implementation and an in-memory mock for tests.
package store

import (
	"context"
	"time"
)

// QuestionStatus tracks the lifecycle of a clarifying question raised by the
// summarizer: pending → answered (by a user) → processed (consumed by the
// next summarizer pass).
type QuestionStatus string

const (
	QuestionPending   QuestionStatus = "pending"
	QuestionAnswered  QuestionStatus = "answered"
	QuestionProcessed QuestionStatus = "processed"
)

// Campaign is the persisted campaign record.
type Campaign struct {
	ID                 string
	Name               string
	GameSystem         string
	Language           string
	Description        string
	CampaignSummary    string
	SpeakerMap         map[string]string
	DMSpeakerID        string
	CustomInstructions string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SessionStatus marks whether a session is still recording.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is one recorded play session of a campaign.
type Session struct {
	ID             string
	CampaignID     string
	StartedAt      time.Time
	EndedAt        *time.Time
	SessionSummary string
	Status         SessionStatus
}

// Transcription is one persisted utterance.
type Transcription struct {
	ID          int64
	SessionID   string
	SpeakerID   string
	SpeakerName string
	Text        string
	Timestamp   time.Time
	Confidence  float64
}

// NPC is a non-player character known to the campaign, either seeded from
// config or extracted from session summaries.
type NPC struct {
	ID               string
	CampaignID       string
	Name             string
	Description      string
	FirstSeenSession string
}

// Question is a clarifying question raised by the summarizer.
type Question struct {
	ID         int64
	SessionID  string
	Question   string
	Answer     string
	AnsweredAt *time.Time
	Status     QuestionStatus
}

// Store is the persistence gateway used by the pipeline. Implementations must
// be safe for concurrent use.
type Store interface {
	// UpsertCampaign inserts the campaign or replaces its mutable fields.
	UpsertCampaign(ctx context.Context, c *Campaign) error

	// GetCampaign returns the campaign, or (nil, nil) if it does not exist.
	GetCampaign(ctx context.Context, id string) (*Campaign, error)

	// UpdateCampaignSummary replaces the accumulated campaign summary.
	UpdateCampaignSummary(ctx context.Context, id, summary string) error

	// CreateSession records a new active session.
	CreateSession(ctx context.Context, sessionID, campaignID string) error

	// EndSession marks the session completed and stores its final summary.
	EndSession(ctx context.Context, sessionID, summary string) error

	// UpdateSessionSummary replaces the running session summary.
	UpdateSessionSummary(ctx context.Context, sessionID, summary string) error

	// GetSession returns the session, or (nil, nil) if it does not exist.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns all sessions of a campaign, newest first.
	ListSessions(ctx context.Context, campaignID string) ([]Session, error)

	// SaveTranscription persists one utterance and fills in its row ID.
	SaveTranscription(ctx context.Context, tr *Transcription) error

	// GetTranscriptions returns all utterances of a session in timestamp order.
	GetTranscriptions(ctx context.Context, sessionID string) ([]Transcription, error)

	// SaveNPC inserts a new NPC record, assigning its ID if empty.
	SaveNPC(ctx context.Context, npc *NPC) error

	// GetNPCs returns all NPCs of a campaign ordered by name.
	GetNPCs(ctx context.Context, campaignID string) ([]NPC, error)

	// NPCExists reports whether an NPC with the given name is already known.
	NPCExists(ctx context.Context, campaignID, name string) (bool, error)

	// SaveQuestion records a pending question and returns its row ID.
	SaveQuestion(ctx context.Context, sessionID, question string) (int64, error)

	// AnswerQuestion stores the user's answer and moves the question to
	// answered.
	AnswerQuestion(ctx context.Context, id int64, answer string) error

	// GetPendingQuestions returns the session's unanswered questions.
	GetPendingQuestions(ctx context.Context, sessionID string) ([]Question, error)

	// GetAnsweredUnprocessedQuestions returns answered questions the
	// summarizer has not yet consumed.
	GetAnsweredUnprocessedQuestions(ctx context.Context, sessionID string) ([]Question, error)

	// MarkQuestionsProcessed moves the given questions to processed.
	MarkQuestionsProcessed(ctx context.Context, ids []int64) error
}
