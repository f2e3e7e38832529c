package store

import (
	"sort"
	"sync"
	"time"

	"github.com/ChairsideAI/Chairside/internal/models"
)

// InMemoryStore is a threadsafe in-memory Store used by tests and local
// development when no DSN is configured.
type InMemoryStore struct {
	mu         sync.Mutex
	practices  map[string]models.PracticeProfile
	leads      []models.IntakeRecord
	chatLog    []models.ChatLogEntry
	qaPairs    []models.QAPair
	flowStates map[string]models.FlowState // key: sessionID + "|" + flowType
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		practices:  make(map[string]models.PracticeProfile),
		flowStates: make(map[string]models.FlowState),
	}
}

func (s *InMemoryStore) CreatePractice(p models.PracticeProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.practices[p.ID] = p
	return nil
}

func (s *InMemoryStore) GetPractice(id string) (models.PracticeProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.practices[id]
	if !ok {
		return models.PracticeProfile{}, models.ErrPracticeNotFound
	}
	return p, nil
}

func (s *InMemoryStore) ListPractices() ([]models.PracticeProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PracticeProfile, 0, len(s.practices))
	for _, p := range s.practices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListActivePractices() ([]models.PracticeProfile, error) {
	all, _ := s.ListPractices()
	var out []models.PracticeProfile
	for _, p := range all {
		if p.Status == models.SubscriptionActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemoryStore) UpdateSubscriptionStatus(id string, status models.SubscriptionStatus, revision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.practices[id]
	if !ok {
		return models.ErrPracticeNotFound
	}
	if p.Revision != revision {
		return models.ErrRevisionConflict
	}
	p.Status = status
	p.Revision++
	p.UpdatedAt = time.Now()
	s.practices[id] = p
	return nil
}

func (s *InMemoryStore) DeployPractices(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, id := range ids {
		p, ok := s.practices[id]
		if !ok {
			return models.ErrPracticeNotFound
		}
		deployed := now
		p.DeployedAt = &deployed
		p.UpdatedAt = now
		p.Revision++
		s.practices[id] = p
	}
	return nil
}

func (s *InMemoryStore) GetPracticeStats() (models.PracticeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats models.PracticeStats
	for _, p := range s.practices {
		stats.Total++
		switch p.Status {
		case models.SubscriptionActive:
			stats.Active++
		case models.SubscriptionPending:
			stats.Pending++
		}
		if p.DeployedAt != nil {
			stats.Deployed++
		}
	}
	return stats, nil
}

func (s *InMemoryStore) AddLead(rec models.IntakeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = append(s.leads, rec)
	return nil
}

func (s *InMemoryStore) ListLeads() ([]models.IntakeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.IntakeRecord, len(s.leads))
	copy(out, s.leads)
	return out, nil
}

func (s *InMemoryStore) AddChatLogEntry(e models.ChatLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatLog = append(s.chatLog, e)
	return nil
}

func (s *InMemoryStore) ListChatLog(practiceID string, limit int) ([]models.ChatLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatLogEntry
	for _, e := range s.chatLog {
		if e.PracticeID == practiceID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *InMemoryStore) AddQAPair(q models.QAPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qaPairs = append(s.qaPairs, q)
	return nil
}

func (s *InMemoryStore) ListQAPairs(practiceID string) ([]models.QAPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QAPair
	for _, q := range s.qaPairs {
		if q.PracticeID == practiceID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *InMemoryStore) DeleteQAPair(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.qaPairs {
		if q.ID == id {
			s.qaPairs = append(s.qaPairs[:i], s.qaPairs[i+1:]...)
			return nil
		}
	}
	return nil
}

func flowStateKey(sessionID string, flowType models.FlowType) string {
	return sessionID + "|" + string(flowType)
}

func (s *InMemoryStore) GetFlowState(sessionID string, flowType models.FlowType) (models.FlowState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.flowStates[flowStateKey(sessionID, flowType)]
	return st, ok, nil
}

func (s *InMemoryStore) SaveFlowState(st models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowStates[flowStateKey(st.SessionID, st.FlowType)] = st
	return nil
}

func (s *InMemoryStore) ResetFlowState(sessionID string, flowType models.FlowType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, flowStateKey(sessionID, flowType))
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
