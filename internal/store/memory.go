package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory [Store]. It backs runs without a configured
// database and doubles as the test fixture for everything above the storage
// layer. All methods are safe for concurrent use.
type MemoryStore struct {
	mu             sync.Mutex
	campaigns      map[string]*Campaign
	sessions       map[string]*Session
	transcriptions []Transcription
	npcs           []NPC
	questions      []Question
	nextTrID       int64
	nextQID        int64
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[string]*Campaign),
		sessions:  make(map[string]*Session),
	}
}

func (s *MemoryStore) UpsertCampaign(ctx context.Context, c *Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cp := *c
	if existing, ok := s.campaigns[c.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.campaigns[c.ID] = &cp
	c.CreatedAt, c.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
	return nil
}

func (s *MemoryStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateCampaignSummary(ctx context.Context, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return fmt.Errorf("store: campaign %q not found", id)
	}
	c.CampaignSummary = summary
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, sessionID, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; ok {
		return fmt.Errorf("store: session %q already exists", sessionID)
	}
	s.sessions[sessionID] = &Session{
		ID:         sessionID,
		CampaignID: campaignID,
		StartedAt:  time.Now(),
		Status:     SessionActive,
	}
	return nil
}

func (s *MemoryStore) EndSession(ctx context.Context, sessionID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("store: session %q not found", sessionID)
	}
	now := time.Now()
	sess.EndedAt = &now
	sess.SessionSummary = summary
	sess.Status = SessionCompleted
	return nil
}

func (s *MemoryStore) UpdateSessionSummary(ctx context.Context, sessionID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("store: session %q not found", sessionID)
	}
	sess.SessionSummary = summary
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, campaignID string) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.CampaignID == campaignID {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) SaveTranscription(ctx context.Context, tr *Transcription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTrID++
	tr.ID = s.nextTrID
	s.transcriptions = append(s.transcriptions, *tr)
	return nil
}

func (s *MemoryStore) GetTranscriptions(ctx context.Context, sessionID string) ([]Transcription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transcription
	for _, tr := range s.transcriptions {
		if tr.SessionID == sessionID {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) SaveNPC(ctx context.Context, npc *NPC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if npc.ID == "" {
		npc.ID = uuid.NewString()
	}
	s.npcs = append(s.npcs, *npc)
	return nil
}

func (s *MemoryStore) GetNPCs(ctx context.Context, campaignID string) ([]NPC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []NPC
	for _, npc := range s.npcs {
		if npc.CampaignID == campaignID {
			out = append(out, npc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) NPCExists(ctx context.Context, campaignID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, npc := range s.npcs {
		if npc.CampaignID == campaignID && npc.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) SaveQuestion(ctx context.Context, sessionID, question string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextQID++
	s.questions = append(s.questions, Question{
		ID:        s.nextQID,
		SessionID: sessionID,
		Question:  question,
		Status:    QuestionPending,
	})
	return s.nextQID, nil
}

func (s *MemoryStore) AnswerQuestion(ctx context.Context, id int64, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.questions {
		if s.questions[i].ID == id {
			now := time.Now()
			s.questions[i].Answer = answer
			s.questions[i].AnsweredAt = &now
			s.questions[i].Status = QuestionAnswered
			return nil
		}
	}
	return fmt.Errorf("store: question %d not found", id)
}

func (s *MemoryStore) GetPendingQuestions(ctx context.Context, sessionID string) ([]Question, error) {
	return s.questionsByStatus(sessionID, QuestionPending), nil
}

func (s *MemoryStore) GetAnsweredUnprocessedQuestions(ctx context.Context, sessionID string) ([]Question, error) {
	return s.questionsByStatus(sessionID, QuestionAnswered), nil
}

func (s *MemoryStore) questionsByStatus(sessionID string, status QuestionStatus) []Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Question
	for _, q := range s.questions {
		if q.SessionID == sessionID && q.Status == status {
			out = append(out, q)
		}
	}
	return out
}

func (s *MemoryStore) MarkQuestionsProcessed(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		for i := range s.questions {
			if s.questions[i].ID == id {
				s.questions[i].Status = QuestionProcessed
			}
		}
	}
	return nil
}
