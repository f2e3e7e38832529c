package flow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"

	"github.com/ChairsideAI/Chairside/internal/genai"
	"github.com/ChairsideAI/Chairside/internal/models"
	"github.com/ChairsideAI/Chairside/internal/resolver"
	"github.com/ChairsideAI/Chairside/internal/store"
	"github.com/ChairsideAI/Chairside/internal/util"
)

// historyWindow bounds how many transcript messages are replayed to the
// completion client per turn.
const historyWindow = 20

// ChatSession holds one widget conversation: an append-only transcript plus a
// composing flag that serializes turns. All widget variants run through this
// one type; behavior differences come from the capabilities it is built with.
type ChatSession struct {
	mu sync.Mutex

	id         string
	practiceID string

	transcript models.Transcript
	composing  bool

	resolver *resolver.Resolver
	genAI    genai.ClientInterface
	store    store.Store
}

// SessionOpts carries the capabilities a session consumes.
type SessionOpts struct {
	PracticeID string
	Resolver   *resolver.Resolver
	GenAI      genai.ClientInterface
	Store      store.Store
}

// NewChatSession creates a session with a fresh transcript. A nil Resolver
// falls back to the built-in response table.
func NewChatSession(id string, opts SessionOpts) *ChatSession {
	r := opts.Resolver
	if r == nil {
		r = resolver.Default()
	}
	return &ChatSession{
		id:         id,
		practiceID: opts.PracticeID,
		resolver:   r,
		genAI:      opts.GenAI,
		store:      opts.Store,
	}
}

// ID returns the session identifier.
func (s *ChatSession) ID() string { return s.id }

// Transcript returns a copy of the session transcript.
func (s *ChatSession) Transcript() models.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]models.Message, len(s.transcript.Messages))
	copy(msgs, s.transcript.Messages)
	return models.Transcript{Messages: msgs}
}

// Composing reports whether a response is currently being produced.
func (s *ChatSession) Composing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composing
}

// Submit runs one chat turn: the user message is appended synchronously, the
// resolver is consulted first, and only on a miss does the completion client
// run. Upstream failures surface as the fixed fallback copy, never as an
// error to the caller. Empty input and overlapping turns are rejected before
// any message is appended.
func (s *ChatSession) Submit(ctx context.Context, input string) (string, error) {
	return s.submit(ctx, input, nil)
}

// SubmitStream behaves like Submit but delivers the assistant reply
// incrementally through onDelta. Resolver hits arrive as a single delta.
func (s *ChatSession) SubmitStream(ctx context.Context, input string, onDelta func(delta string)) (string, error) {
	return s.submit(ctx, input, onDelta)
}

func (s *ChatSession) submit(ctx context.Context, input string, onDelta func(delta string)) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", models.ErrEmptyMessage
	}
	if len(trimmed) > models.MaxChatMessageLength {
		return "", models.ErrMessageTooLong
	}

	s.mu.Lock()
	if s.composing {
		s.mu.Unlock()
		slog.Debug("ChatSession.submit: turn already in flight", "sessionID", s.id)
		return "", models.ErrTurnInFlight
	}
	s.composing = true
	userMsg := models.Message{
		ID:        util.GenerateRandomID("msg_", 16),
		Role:      models.RoleUser,
		Content:   trimmed,
		CreatedAt: time.Now(),
	}
	s.transcript.Append(userMsg)
	history := make([]models.Message, len(s.transcript.Messages))
	copy(history, s.transcript.Messages)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.composing = false
		s.mu.Unlock()
	}()

	reply := s.compose(ctx, trimmed, history, onDelta)

	assistantMsg := models.Message{
		ID:        util.GenerateRandomID("msg_", 16),
		Role:      models.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.transcript.Append(assistantMsg)
	s.mu.Unlock()

	s.logTurn(userMsg, assistantMsg)
	return reply, nil
}

// compose produces the assistant reply for one turn: operator overrides and
// the built-in table first, then the completion client, then the fallback.
func (s *ChatSession) compose(ctx context.Context, input string, history []models.Message, onDelta func(delta string)) string {
	if reply, ok := s.resolver.ResolveWithOverrides(input, s.loadOverrides()); ok {
		slog.Debug("ChatSession.compose: resolver hit", "sessionID", s.id)
		if onDelta != nil {
			onDelta(reply)
		}
		return reply
	}

	if s.genAI == nil {
		slog.Warn("ChatSession.compose: no completion client configured", "sessionID", s.id)
		if onDelta != nil {
			onDelta(genai.FallbackMessage)
		}
		return genai.FallbackMessage
	}

	messages := s.buildMessages(history)
	var reply string
	var err error
	if onDelta != nil {
		reply, err = s.genAI.GenerateStreamWithMessages(ctx, messages, onDelta)
	} else {
		reply, err = s.genAI.GenerateWithMessages(ctx, messages)
	}
	if err != nil {
		slog.Error("ChatSession.compose: completion failed", "error", err, "sessionID", s.id)
		if onDelta != nil {
			onDelta(genai.FallbackMessage)
		}
		return genai.FallbackMessage
	}
	return reply
}

// buildMessages assembles the system instruction and the recent transcript
// into the completion request. The newest user message is the last element of
// history, so no separate append is needed.
func (s *ChatSession) buildMessages(history []models.Message) []openai.ChatCompletionMessageParamUnion {
	practice, found := s.lookupPractice()
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(BuildSystemPrompt(practice, found)),
	}
	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	for _, m := range history[start:] {
		switch m.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}

func (s *ChatSession) lookupPractice() (models.PracticeProfile, bool) {
	if s.store == nil || s.practiceID == "" {
		return models.PracticeProfile{}, false
	}
	p, err := s.store.GetPractice(s.practiceID)
	if err != nil {
		slog.Debug("ChatSession.lookupPractice: falling back to generic copy", "practiceID", s.practiceID, "error", err)
		return models.PracticeProfile{}, false
	}
	return p, true
}

// loadOverrides turns the practice's Q&A pairs into resolver rules. Each
// question contributes its words as keywords; creation order is preserved so
// earlier pairs win ties.
func (s *ChatSession) loadOverrides() []resolver.Rule {
	if s.store == nil || s.practiceID == "" {
		return nil
	}
	pairs, err := s.store.ListQAPairs(s.practiceID)
	if err != nil {
		slog.Error("ChatSession.loadOverrides failed", "error", err, "practiceID", s.practiceID)
		return nil
	}
	rules := make([]resolver.Rule, 0, len(pairs))
	for _, q := range pairs {
		keywords := strings.Fields(strings.ToLower(q.Question))
		if len(keywords) == 0 {
			continue
		}
		rules = append(rules, resolver.Rule{Keywords: keywords, Response: q.Answer})
	}
	return rules
}

// logTurn persists both turn messages fire-and-forget. A failed write is
// logged and otherwise ignored.
func (s *ChatSession) logTurn(userMsg, assistantMsg models.Message) {
	if s.store == nil || s.practiceID == "" {
		return
	}
	go func() {
		for _, m := range []models.Message{userMsg, assistantMsg} {
			entry := models.ChatLogEntry{
				ID:         m.ID,
				PracticeID: s.practiceID,
				Role:       string(m.Role),
				Content:    m.Content,
				CreatedAt:  m.CreatedAt,
			}
			if err := s.store.AddChatLogEntry(entry); err != nil {
				slog.Error("ChatSession.logTurn: chat log write failed", "error", err, "sessionID", s.id)
			}
		}
	}()
}

// sessionIdleTTL is how long an untouched session survives before eviction.
const sessionIdleTTL = 30 * time.Minute

// sessionEntry pairs a live session with its last access time.
type sessionEntry struct {
	session  *ChatSession
	lastSeen time.Time
}

// SessionManager hands out sessions keyed by (session ID, practice ID),
// creating them on first use. The same session ID presented with a different
// clinic gets its own session rather than the first clinic's transcript.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry

	resolver *resolver.Resolver
	genAI    genai.ClientInterface
	store    store.Store
}

// NewSessionManager creates a manager whose sessions share the given
// capabilities.
func NewSessionManager(r *resolver.Resolver, g genai.ClientInterface, st store.Store) *SessionManager {
	if r == nil {
		r = resolver.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*sessionEntry),
		resolver: r,
		genAI:    g,
		store:    st,
	}
}

func sessionKey(id, practiceID string) string {
	return id + "\x00" + practiceID
}

// Get returns the session for (id, practiceID), creating it on first use. An
// empty id allocates a fresh session ID. Sessions idle past sessionIdleTTL
// are evicted, so the map stays bounded by recent traffic.
func (m *SessionManager) Get(id, practiceID string) *ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.evictIdleLocked(now)

	if id == "" {
		id = util.GenerateSessionID()
	}
	key := sessionKey(id, practiceID)
	if e, ok := m.sessions[key]; ok {
		e.lastSeen = now
		return e.session
	}
	s := NewChatSession(id, SessionOpts{
		PracticeID: practiceID,
		Resolver:   m.resolver,
		GenAI:      m.genAI,
		Store:      m.store,
	})
	m.sessions[key] = &sessionEntry{session: s, lastSeen: now}
	slog.Debug("SessionManager.Get: created session", "sessionID", id, "practiceID", practiceID)
	return s
}

// evictIdleLocked drops sessions untouched for longer than sessionIdleTTL.
// Callers must hold m.mu.
func (m *SessionManager) evictIdleLocked(now time.Time) {
	for key, e := range m.sessions {
		if now.Sub(e.lastSeen) > sessionIdleTTL && !e.session.Composing() {
			delete(m.sessions, key)
		}
	}
}
