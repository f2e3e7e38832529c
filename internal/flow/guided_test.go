package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ChairsideAI/Chairside/internal/models"
	"github.com/ChairsideAI/Chairside/internal/store"
)

// failingLeadStore wraps the in-memory store and fails lead inserts on demand.
type failingLeadStore struct {
	*store.InMemoryStore
	failAddLead bool
}

func (s *failingLeadStore) AddLead(rec models.IntakeRecord) error {
	if s.failAddLead {
		return fmt.Errorf("simulated insert failure")
	}
	return s.InMemoryStore.AddLead(rec)
}

func newTestGuidedFlow() (*GuidedFlow, *failingLeadStore) {
	st := &failingLeadStore{InMemoryStore: store.NewInMemoryStore()}
	sm := NewStoreBasedStateManager(st)
	return NewGuidedFlow(sm, st, nil), st
}

func TestGuidedFlowStartRendersOpeningOnce(t *testing.T) {
	g, _ := newTestGuidedFlow()
	ctx := context.Background()

	res, err := g.Start(ctx, "s_1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if res.State != models.StateAskQualifying {
		t.Errorf("expected ask_qualifying_question, got %s", res.State)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("expected 2 opening messages, got %d", len(res.Messages))
	}
	if res.Messages[0].TypingDelay <= 0 {
		t.Error("expected a positive typing delay on the greeting")
	}
	if res.Expect != InputChoice {
		t.Errorf("expected choice input, got %s", res.Expect)
	}

	// Re-entering must not replay the script.
	res, err = g.Start(ctx, "s_1")
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if len(res.Messages) != 0 {
		t.Errorf("expected no messages on re-entry, got %d", len(res.Messages))
	}
	if res.State != models.StateAskQualifying {
		t.Errorf("expected state preserved on re-entry, got %s", res.State)
	}
}

func TestGuidedFlowDisqualification(t *testing.T) {
	g, _ := newTestGuidedFlow()
	ctx := context.Background()

	if _, err := g.Start(ctx, "s_1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	res, err := g.Advance(ctx, "s_1", "no")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.State != models.StateDisqualifiedEnd {
		t.Fatalf("expected disqualified_end, got %s", res.State)
	}
	if res.Expect != InputNone {
		t.Errorf("expected no further input, got %s", res.Expect)
	}

	// No scripted message ever follows a terminal state.
	res, err = g.Advance(ctx, "s_1", "actually yes")
	if !errors.Is(err, models.ErrFlowTerminated) {
		t.Errorf("expected ErrFlowTerminated, got %v", err)
	}
	if len(res.Messages) != 0 {
		t.Errorf("expected no messages after terminal state, got %d", len(res.Messages))
	}
}

func TestGuidedFlowHappyPath(t *testing.T) {
	g, st := newTestGuidedFlow()
	ctx := context.Background()

	if _, err := g.Start(ctx, "s_1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	res, err := g.Advance(ctx, "s_1", "yes")
	if err != nil {
		t.Fatalf("qualify failed: %v", err)
	}
	if res.State != models.StateAskProceed {
		t.Fatalf("expected auto-advance to ask_proceed, got %s", res.State)
	}
	if len(res.Messages) != 6 {
		t.Errorf("expected 6 pitch messages, got %d", len(res.Messages))
	}

	res, err = g.Advance(ctx, "s_1", "yes")
	if err != nil {
		t.Fatalf("proceed failed: %v", err)
	}
	if res.State != models.StateCollectName || res.Expect != InputText {
		t.Fatalf("expected collect_name with text input, got %s/%s", res.State, res.Expect)
	}

	if res, err = g.Advance(ctx, "s_1", "Dana Reyes"); err != nil || res.State != models.StateCollectSite {
		t.Fatalf("name step: state=%s err=%v", res.State, err)
	}
	if res, err = g.Advance(ctx, "s_1", "brightsmiles.com"); err != nil || res.State != models.StateCollectEmail {
		t.Fatalf("site step: state=%s err=%v", res.State, err)
	}
	res, err = g.Advance(ctx, "s_1", "dana@brightsmiles.com")
	if err != nil {
		t.Fatalf("email step failed: %v", err)
	}
	if res.State != models.StateComplete {
		t.Fatalf("expected complete, got %s", res.State)
	}

	leads, _ := st.ListLeads()
	if len(leads) != 1 {
		t.Fatalf("expected exactly one lead, got %d", len(leads))
	}
	lead := leads[0]
	if lead.ContactName != "Dana Reyes" {
		t.Errorf("unexpected contact name %q", lead.ContactName)
	}
	if lead.WebsiteURL != "https://brightsmiles.com" {
		t.Errorf("expected https:// prefix on bare domain, got %q", lead.WebsiteURL)
	}
	if lead.Email != "dana@brightsmiles.com" {
		t.Errorf("unexpected email %q", lead.Email)
	}
	if lead.Status != models.LeadStatusPending {
		t.Errorf("expected pending lead, got %s", lead.Status)
	}
}

func TestGuidedFlowAltContactDetour(t *testing.T) {
	g, _ := newTestGuidedFlow()
	ctx := context.Background()

	g.Start(ctx, "s_1")
	g.Advance(ctx, "s_1", "yes")

	res, err := g.Advance(ctx, "s_1", "no")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.State != models.StateShowAltContact {
		t.Fatalf("expected show_alt_contact, got %s", res.State)
	}
	if res.Expect == InputNone {
		t.Error("alt contact must not be terminal")
	}

	// Non-affirmative input stays put.
	res, _ = g.Advance(ctx, "s_1", "hmm")
	if res.State != models.StateShowAltContact {
		t.Errorf("expected to remain in show_alt_contact, got %s", res.State)
	}

	// A later affirmation enters contact capture.
	res, err = g.Advance(ctx, "s_1", "yes")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.State != models.StateCollectName {
		t.Errorf("expected collect_name after affirmation, got %s", res.State)
	}
}

func TestGuidedFlowEmptyFieldReprompts(t *testing.T) {
	g, _ := newTestGuidedFlow()
	ctx := context.Background()

	g.Start(ctx, "s_1")
	g.Advance(ctx, "s_1", "yes")
	g.Advance(ctx, "s_1", "yes")

	res, err := g.Advance(ctx, "s_1", "   ")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.State != models.StateCollectName {
		t.Errorf("expected re-prompt in collect_name, got %s", res.State)
	}
	if len(res.Messages) != 1 {
		t.Errorf("expected one re-prompt message, got %d", len(res.Messages))
	}
}

func TestGuidedFlowSubmitFailureRevertsToCollectEmail(t *testing.T) {
	g, st := newTestGuidedFlow()
	ctx := context.Background()

	g.Start(ctx, "s_1")
	g.Advance(ctx, "s_1", "yes")
	g.Advance(ctx, "s_1", "yes")
	g.Advance(ctx, "s_1", "Dana")
	g.Advance(ctx, "s_1", "https://brightsmiles.com")

	st.failAddLead = true
	res, err := g.Advance(ctx, "s_1", "dana@brightsmiles.com")
	if !errors.Is(err, models.ErrLeadSubmitFailed) {
		t.Fatalf("expected ErrLeadSubmitFailed, got %v", err)
	}
	if res.State != models.StateCollectEmail {
		t.Errorf("expected revert to collect_email, got %s", res.State)
	}

	// Retry is user-initiated: resending the email completes the flow.
	st.failAddLead = false
	res, err = g.Advance(ctx, "s_1", "dana@brightsmiles.com")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.State != models.StateComplete {
		t.Errorf("expected complete after retry, got %s", res.State)
	}
	leads, _ := st.ListLeads()
	if len(leads) != 1 {
		t.Errorf("expected exactly one lead after retry, got %d", len(leads))
	}
}

func TestNormalizeWebsiteURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"brightsmiles.com", "https://brightsmiles.com"},
		{"  brightsmiles.com  ", "https://brightsmiles.com"},
		{"https://brightsmiles.com", "https://brightsmiles.com"},
		{"http://brightsmiles.com", "http://brightsmiles.com"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeWebsiteURL(c.in); got != c.want {
			t.Errorf("NormalizeWebsiteURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// flakyStateManager wraps a real state manager and fails contact-name reads
// on demand.
type flakyStateManager struct {
	StateManager
	failContactRead bool
}

func (m *flakyStateManager) GetStateData(ctx context.Context, sessionID string, flowType models.FlowType, key models.DataKey) (string, error) {
	if m.failContactRead && key == models.DataKeyContactName {
		return "", fmt.Errorf("simulated read failure")
	}
	return m.StateManager.GetStateData(ctx, sessionID, flowType, key)
}

func TestGuidedFlowStateReadFailureKeepsSessionRetryable(t *testing.T) {
	st := &failingLeadStore{InMemoryStore: store.NewInMemoryStore()}
	sm := &flakyStateManager{StateManager: NewStoreBasedStateManager(st)}
	g := NewGuidedFlow(sm, st, nil)
	ctx := context.Background()

	g.Start(ctx, "s_1")
	g.Advance(ctx, "s_1", "yes")
	g.Advance(ctx, "s_1", "yes")
	g.Advance(ctx, "s_1", "Dana")
	g.Advance(ctx, "s_1", "brightsmiles.com")

	sm.failContactRead = true
	if _, err := g.Advance(ctx, "s_1", "dana@brightsmiles.com"); err == nil {
		t.Fatal("expected error when state reads fail")
	}

	// The session never left collect_email, so resending the email works.
	current, err := sm.GetCurrentState(ctx, "s_1", models.FlowTypeGuidedIntake)
	if err != nil {
		t.Fatalf("GetCurrentState failed: %v", err)
	}
	if current != models.StateCollectEmail {
		t.Fatalf("expected session to remain in collect_email, got %s", current)
	}

	sm.failContactRead = false
	res, err := g.Advance(ctx, "s_1", "dana@brightsmiles.com")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.State != models.StateComplete {
		t.Errorf("expected complete after retry, got %s", res.State)
	}
	leads, _ := st.ListLeads()
	if len(leads) != 1 {
		t.Errorf("expected exactly one lead, got %d", len(leads))
	}
}

func TestGuidedFlowRestartClearsStateAndReplaysOpening(t *testing.T) {
	g, _ := newTestGuidedFlow()
	ctx := context.Background()

	g.Start(ctx, "s_1")
	g.Advance(ctx, "s_1", "no")

	// The terminal session accepts nothing further until restarted.
	if _, err := g.Advance(ctx, "s_1", "yes"); !errors.Is(err, models.ErrFlowTerminated) {
		t.Fatalf("expected ErrFlowTerminated, got %v", err)
	}

	res, err := g.Restart(ctx, "s_1")
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if res.State != models.StateAskQualifying {
		t.Fatalf("expected ask_qualifying_question after restart, got %s", res.State)
	}
	if len(res.Messages) != 2 {
		t.Errorf("expected the opening script to replay, got %d messages", len(res.Messages))
	}

	// The restarted session runs the flow from scratch.
	res, err = g.Advance(ctx, "s_1", "yes")
	if err != nil {
		t.Fatalf("Advance after restart failed: %v", err)
	}
	if res.State != models.StateAskProceed {
		t.Errorf("expected ask_proceed after restart, got %s", res.State)
	}
}
