package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for all chronicler tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS campaigns (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL,
    game_system         TEXT NOT NULL DEFAULT '',
    language            TEXT NOT NULL DEFAULT 'en',
    description         TEXT NOT NULL DEFAULT '',
    campaign_summary    TEXT NOT NULL DEFAULT '',
    speaker_map         JSONB NOT NULL DEFAULT '{}',
    dm_speaker_id       TEXT NOT NULL DEFAULT '',
    custom_instructions TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    campaign_id     TEXT NOT NULL REFERENCES campaigns(id),
    started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    ended_at        TIMESTAMPTZ,
    session_summary TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'active'
);
CREATE INDEX IF NOT EXISTS idx_sessions_campaign ON sessions(campaign_id);

CREATE TABLE IF NOT EXISTS transcriptions (
    id           BIGSERIAL PRIMARY KEY,
    session_id   TEXT NOT NULL REFERENCES sessions(id),
    speaker_id   TEXT NOT NULL,
    speaker_name TEXT NOT NULL,
    text         TEXT NOT NULL,
    timestamp    TIMESTAMPTZ NOT NULL,
    confidence   DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_session ON transcriptions(session_id, timestamp);

CREATE TABLE IF NOT EXISTS npcs (
    id                 TEXT PRIMARY KEY,
    campaign_id        TEXT NOT NULL REFERENCES campaigns(id),
    name               TEXT NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    first_seen_session TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_npcs_campaign ON npcs(campaign_id);

CREATE TABLE IF NOT EXISTS questions (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL REFERENCES sessions(id),
    question    TEXT NOT NULL,
    answer      TEXT NOT NULL DEFAULT '',
    answered_at TIMESTAMPTZ,
    status      TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_questions_session_status ON questions(session_id, status);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. The speaker map
// is serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating all tables
// and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// UpsertCampaign inserts the campaign or replaces its mutable fields.
func (s *PostgresStore) UpsertCampaign(ctx context.Context, c *Campaign) error {
	speakerMap, err := json.Marshal(emptyMap(c.SpeakerMap))
	if err != nil {
		return fmt.Errorf("store: marshal speaker_map: %w", err)
	}

	const query = `
		INSERT INTO campaigns (
			id, name, game_system, language, description,
			campaign_summary, speaker_map, dm_speaker_id, custom_instructions
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			game_system = EXCLUDED.game_system,
			language = EXCLUDED.language,
			description = EXCLUDED.description,
			campaign_summary = EXCLUDED.campaign_summary,
			speaker_map = EXCLUDED.speaker_map,
			dm_speaker_id = EXCLUDED.dm_speaker_id,
			custom_instructions = EXCLUDED.custom_instructions,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		c.ID, c.Name, c.GameSystem, c.Language, c.Description,
		c.CampaignSummary, speakerMap, c.DMSpeakerID, c.CustomInstructions,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert campaign: %w", err)
	}
	return nil
}

// GetCampaign returns the campaign, or (nil, nil) if it does not exist.
func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	const query = `
		SELECT id, name, game_system, language, description,
		       campaign_summary, speaker_map, dm_speaker_id, custom_instructions,
		       created_at, updated_at
		FROM campaigns
		WHERE id = $1`

	var c Campaign
	var speakerMap []byte
	err := s.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.GameSystem, &c.Language, &c.Description,
		&c.CampaignSummary, &speakerMap, &c.DMSpeakerID, &c.CustomInstructions,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get campaign %q: %w", id, err)
	}
	if err := json.Unmarshal(speakerMap, &c.SpeakerMap); err != nil {
		return nil, fmt.Errorf("store: unmarshal speaker_map: %w", err)
	}
	return &c, nil
}

// UpdateCampaignSummary replaces the accumulated campaign summary.
func (s *PostgresStore) UpdateCampaignSummary(ctx context.Context, id, summary string) error {
	const query = `UPDATE campaigns SET campaign_summary = $2, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, summary)
	if err != nil {
		return fmt.Errorf("store: update campaign summary %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: campaign %q not found", id)
	}
	return nil
}

// CreateSession records a new active session.
func (s *PostgresStore) CreateSession(ctx context.Context, sessionID, campaignID string) error {
	const query = `INSERT INTO sessions (id, campaign_id, status) VALUES ($1, $2, $3)`
	_, err := s.db.Exec(ctx, query, sessionID, campaignID, SessionActive)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: session %q already exists", sessionID)
		}
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// EndSession marks the session completed and stores its final summary.
func (s *PostgresStore) EndSession(ctx context.Context, sessionID, summary string) error {
	const query = `
		UPDATE sessions
		SET ended_at = now(), session_summary = $2, status = $3
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, sessionID, summary, SessionCompleted)
	if err != nil {
		return fmt.Errorf("store: end session %q: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: session %q not found", sessionID)
	}
	return nil
}

// UpdateSessionSummary replaces the running session summary.
func (s *PostgresStore) UpdateSessionSummary(ctx context.Context, sessionID, summary string) error {
	const query = `UPDATE sessions SET session_summary = $2 WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, sessionID, summary)
	if err != nil {
		return fmt.Errorf("store: update session summary %q: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: session %q not found", sessionID)
	}
	return nil
}

// GetSession returns the session, or (nil, nil) if it does not exist.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	const query = `
		SELECT id, campaign_id, started_at, ended_at, session_summary, status
		FROM sessions
		WHERE id = $1`

	var sess Session
	err := s.db.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.CampaignID, &sess.StartedAt, &sess.EndedAt,
		&sess.SessionSummary, &sess.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get session %q: %w", id, err)
	}
	return &sess, nil
}

// ListSessions returns all sessions of a campaign, newest first.
func (s *PostgresStore) ListSessions(ctx context.Context, campaignID string) ([]Session, error) {
	const query = `
		SELECT id, campaign_id, started_at, ended_at, session_summary, status
		FROM sessions
		WHERE campaign_id = $1
		ORDER BY started_at DESC`

	rows, err := s.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(
			&sess.ID, &sess.CampaignID, &sess.StartedAt, &sess.EndedAt,
			&sess.SessionSummary, &sess.Status,
		); err != nil {
			return nil, fmt.Errorf("store: list sessions scan: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return sessions, nil
}

// SaveTranscription persists one utterance and fills in its row ID.
func (s *PostgresStore) SaveTranscription(ctx context.Context, tr *Transcription) error {
	const query = `
		INSERT INTO transcriptions (session_id, speaker_id, speaker_name, text, timestamp, confidence)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`
	err := s.db.QueryRow(ctx, query,
		tr.SessionID, tr.SpeakerID, tr.SpeakerName, tr.Text, tr.Timestamp, tr.Confidence,
	).Scan(&tr.ID)
	if err != nil {
		return fmt.Errorf("store: save transcription: %w", err)
	}
	return nil
}

// GetTranscriptions returns all utterances of a session in timestamp order.
func (s *PostgresStore) GetTranscriptions(ctx context.Context, sessionID string) ([]Transcription, error) {
	const query = `
		SELECT id, session_id, speaker_id, speaker_name, text, timestamp, confidence
		FROM transcriptions
		WHERE session_id = $1
		ORDER BY timestamp`

	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: get transcriptions: %w", err)
	}
	defer rows.Close()

	var trs []Transcription
	for rows.Next() {
		var tr Transcription
		if err := rows.Scan(
			&tr.ID, &tr.SessionID, &tr.SpeakerID, &tr.SpeakerName,
			&tr.Text, &tr.Timestamp, &tr.Confidence,
		); err != nil {
			return nil, fmt.Errorf("store: get transcriptions scan: %w", err)
		}
		trs = append(trs, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get transcriptions: %w", err)
	}
	return trs, nil
}

// SaveNPC inserts a new NPC record, assigning a UUID if the ID is empty.
func (s *PostgresStore) SaveNPC(ctx context.Context, npc *NPC) error {
	if npc.ID == "" {
		npc.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO npcs (id, campaign_id, name, description, first_seen_session)
		VALUES ($1,$2,$3,$4,$5)`
	_, err := s.db.Exec(ctx, query,
		npc.ID, npc.CampaignID, npc.Name, npc.Description, npc.FirstSeenSession,
	)
	if err != nil {
		return fmt.Errorf("store: save npc %q: %w", npc.Name, err)
	}
	return nil
}

// GetNPCs returns all NPCs of a campaign ordered by name.
func (s *PostgresStore) GetNPCs(ctx context.Context, campaignID string) ([]NPC, error) {
	const query = `
		SELECT id, campaign_id, name, description, first_seen_session
		FROM npcs
		WHERE campaign_id = $1
		ORDER BY name`

	rows, err := s.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("store: get npcs: %w", err)
	}
	defer rows.Close()

	var npcs []NPC
	for rows.Next() {
		var npc NPC
		if err := rows.Scan(&npc.ID, &npc.CampaignID, &npc.Name, &npc.Description, &npc.FirstSeenSession); err != nil {
			return nil, fmt.Errorf("store: get npcs scan: %w", err)
		}
		npcs = append(npcs, npc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get npcs: %w", err)
	}
	return npcs, nil
}

// NPCExists reports whether an NPC with the given name is already known.
func (s *PostgresStore) NPCExists(ctx context.Context, campaignID, name string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM npcs WHERE campaign_id = $1 AND name = $2)`
	var exists bool
	if err := s.db.QueryRow(ctx, query, campaignID, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: npc exists: %w", err)
	}
	return exists, nil
}

// SaveQuestion records a pending question and returns its row ID.
func (s *PostgresStore) SaveQuestion(ctx context.Context, sessionID, question string) (int64, error) {
	const query = `
		INSERT INTO questions (session_id, question, status)
		VALUES ($1, $2, $3)
		RETURNING id`
	var id int64
	if err := s.db.QueryRow(ctx, query, sessionID, question, QuestionPending).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: save question: %w", err)
	}
	return id, nil
}

// AnswerQuestion stores the user's answer and moves the question to answered.
func (s *PostgresStore) AnswerQuestion(ctx context.Context, id int64, answer string) error {
	const query = `
		UPDATE questions
		SET answer = $2, answered_at = now(), status = $3
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, answer, QuestionAnswered)
	if err != nil {
		return fmt.Errorf("store: answer question %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: question %d not found", id)
	}
	return nil
}

// GetPendingQuestions returns the session's unanswered questions.
func (s *PostgresStore) GetPendingQuestions(ctx context.Context, sessionID string) ([]Question, error) {
	return s.questionsByStatus(ctx, sessionID, QuestionPending)
}

// GetAnsweredUnprocessedQuestions returns answered questions the summarizer
// has not yet consumed.
func (s *PostgresStore) GetAnsweredUnprocessedQuestions(ctx context.Context, sessionID string) ([]Question, error) {
	return s.questionsByStatus(ctx, sessionID, QuestionAnswered)
}

func (s *PostgresStore) questionsByStatus(ctx context.Context, sessionID string, status QuestionStatus) ([]Question, error) {
	const query = `
		SELECT id, session_id, question, answer, answered_at, status
		FROM questions
		WHERE session_id = $1 AND status = $2
		ORDER BY id`

	rows, err := s.db.Query(ctx, query, sessionID, status)
	if err != nil {
		return nil, fmt.Errorf("store: questions by status: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.SessionID, &q.Question, &q.Answer, &q.AnsweredAt, &q.Status); err != nil {
			return nil, fmt.Errorf("store: questions scan: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: questions by status: %w", err)
	}
	return questions, nil
}

// MarkQuestionsProcessed moves the given questions to processed.
func (s *PostgresStore) MarkQuestionsProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE questions SET status = $2 WHERE id = ANY($1)`
	if _, err := s.db.Exec(ctx, query, ids, QuestionProcessed); err != nil {
		return fmt.Errorf("store: mark questions processed: %w", err)
	}
	return nil
}

// emptyMap returns m if non-nil, otherwise an empty non-nil map. This ensures
// JSON marshalling produces "{}" instead of "null".
func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
