package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ChairsideAI/Chairside/internal/models"
	"github.com/ChairsideAI/Chairside/internal/notify"
	"github.com/ChairsideAI/Chairside/internal/store"
	"github.com/ChairsideAI/Chairside/internal/util"
)

// InputKind tells the caller what the flow expects next.
type InputKind string

const (
	// InputChoice expects a yes/no button tap.
	InputChoice InputKind = "choice"
	// InputText expects one free-text field.
	InputText InputKind = "text"
	// InputNone means the flow has finished and accepts nothing further.
	InputNone InputKind = "none"
)

// ScriptedMessage is one assistant line rendered on state entry. TypingDelay
// is how long the client should show the typing indicator before revealing
// the body.
type ScriptedMessage struct {
	Body        string
	TypingDelay time.Duration
}

// StepResult is what one guided-flow step hands back to the transport layer.
type StepResult struct {
	Messages []ScriptedMessage
	State    models.StateType
	Expect   InputKind
}

// Typing delays, tuned to read naturally in the widget.
const (
	shortDelay  = 600 * time.Millisecond
	mediumDelay = 1200 * time.Millisecond
	longDelay   = 1800 * time.Millisecond
)

// Scripted copy for the guided intake dialogue.
const (
	msgGreeting     = "Hi! I'm the Chairside assistant. I help dental practices answer patient questions around the clock, right on their website."
	msgQualify      = "Quick question first: do you run or manage a dental practice?"
	msgDisqualified = "No problem! Chairside is built specifically for dental practices, so I'll leave it there. Thanks for stopping by."
	msgDemoIntro    = "Great! Here's what it looks like in action."
	msgDemoBody     = "Patients ask about hours, insurance, emergencies, or booking, and the assistant answers instantly using your practice's own details."
	msgValue        = "Practices using Chairside capture after-hours questions that used to go to voicemail, and front desks field far fewer routine calls."
	msgProcess      = "Setup is simple: you tell us about your practice, we configure the assistant, and you paste one line of code into your website."
	msgPrice        = "It's a flat monthly subscription with no setup fee, and you can cancel anytime."
	msgAskProceed   = "Want to get your practice set up?"
	msgAltContact   = "Totally fine. If you'd rather talk it through first, leave your details and a real person will reach out. Want to do that instead?"
	msgAskName      = "Perfect. What's your name?"
	msgAskSite      = "Thanks! What's your practice's website?"
	msgAskEmail     = "And what's the best email to reach you at?"
	msgSubmitError  = "Sorry, something went wrong saving your details. Mind sending that email once more?"
	msgComplete     = "You're all set! We'll be in touch shortly to get your assistant configured. Talk soon!"
	msgNudgeChoice  = "Just tap yes or no and we'll keep going."
)

// GuidedFlow drives the scripted intake dialogue. Each session moves through
// a linear state graph with two branches: disqualification at the qualifying
// question, and an alternate-contact detour at the proceed question.
type GuidedFlow struct {
	stateManager StateManager
	store        store.Store
	notifier     notify.LeadNotifier
}

// NewGuidedFlow creates a guided intake flow over the given state manager and
// store. The store receives the IntakeRecord produced by a completed dialogue;
// the notifier announces it fire-and-forget.
func NewGuidedFlow(sm StateManager, st store.Store, notifier notify.LeadNotifier) *GuidedFlow {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &GuidedFlow{stateManager: sm, store: st, notifier: notifier}
}

// Start enters the flow for a session. Re-entering an already started session
// renders nothing; the opening script appears exactly once.
func (g *GuidedFlow) Start(ctx context.Context, sessionID string) (StepResult, error) {
	initialized, err := g.stateManager.GetStateData(ctx, sessionID, models.FlowTypeGuidedIntake, models.DataKeyGuidedInitialized)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to check flow initialization: %w", err)
	}
	if initialized == "true" {
		current, err := g.stateManager.GetCurrentState(ctx, sessionID, models.FlowTypeGuidedIntake)
		if err != nil {
			return StepResult{}, err
		}
		slog.Debug("GuidedFlow.Start: session already initialized", "sessionID", sessionID, "state", current)
		return StepResult{State: current, Expect: expectFor(current)}, nil
	}

	if err := g.stateManager.SetStateData(ctx, sessionID, models.FlowTypeGuidedIntake, models.DataKeyGuidedInitialized, "true"); err != nil {
		return StepResult{}, fmt.Errorf("failed to mark flow initialized: %w", err)
	}
	if err := g.stateManager.SetCurrentState(ctx, sessionID, models.FlowTypeGuidedIntake, models.StateAskQualifying); err != nil {
		return StepResult{}, fmt.Errorf("failed to enter qualifying state: %w", err)
	}
	slog.Debug("GuidedFlow.Start: session entered flow", "sessionID", sessionID)
	return StepResult{
		Messages: []ScriptedMessage{
			{Body: msgGreeting, TypingDelay: mediumDelay},
			{Body: msgQualify, TypingDelay: shortDelay},
		},
		State:  models.StateAskQualifying,
		Expect: InputChoice,
	}, nil
}

// Restart discards all flow state for the session and replays the opening
// script, for visitors who want to run the demo again after finishing or
// abandoning it.
func (g *GuidedFlow) Restart(ctx context.Context, sessionID string) (StepResult, error) {
	if err := g.stateManager.ResetState(ctx, sessionID, models.FlowTypeGuidedIntake); err != nil {
		return StepResult{}, fmt.Errorf("failed to reset flow state: %w", err)
	}
	slog.Info("GuidedFlow.Restart", "sessionID", sessionID)
	return g.Start(ctx, sessionID)
}

// Advance processes one user input (a button choice or a text field) against
// the session's current state and returns the next script. Terminal states
// return ErrFlowTerminated; no scripted message ever follows one.
func (g *GuidedFlow) Advance(ctx context.Context, sessionID, input string) (StepResult, error) {
	current, err := g.stateManager.GetCurrentState(ctx, sessionID, models.FlowTypeGuidedIntake)
	if err != nil {
		return StepResult{}, err
	}
	if current == "" || current == models.StateInitial {
		return g.Start(ctx, sessionID)
	}
	if models.IsTerminalState(current) {
		slog.Debug("GuidedFlow.Advance: input after terminal state ignored", "sessionID", sessionID, "state", current)
		return StepResult{State: current, Expect: InputNone}, models.ErrFlowTerminated
	}

	input = strings.TrimSpace(input)
	slog.Debug("GuidedFlow.Advance", "sessionID", sessionID, "state", current)

	switch current {
	case models.StateAskQualifying:
		return g.handleQualifying(ctx, sessionID, input)
	case models.StateAskProceed:
		return g.handleProceed(ctx, sessionID, input)
	case models.StateShowAltContact:
		return g.handleAltContact(ctx, sessionID, input)
	case models.StateCollectName:
		return g.handleCollectName(ctx, sessionID, input)
	case models.StateCollectSite:
		return g.handleCollectSite(ctx, sessionID, input)
	case models.StateCollectEmail:
		return g.handleCollectEmail(ctx, sessionID, input)
	default:
		return StepResult{}, fmt.Errorf("session %s in unexpected state %q", sessionID, current)
	}
}

// handleQualifying branches on the qualifying answer. A "no" terminates the
// flow; a "yes" plays the pitch states through to the proceed question in one
// step, since none of them wait for input.
func (g *GuidedFlow) handleQualifying(ctx context.Context, sessionID, input string) (StepResult, error) {
	if !isAffirmative(input) {
		if err := g.stateManager.SetCurrentState(ctx, sessionID, models.FlowTypeGuidedIntake, models.StateDisqualifiedEnd); err != nil {
			return StepResult{}, err
		}
		slog.Info("GuidedFlow: session disqualified", "sessionID", sessionID)
		return StepResult{
			Messages: []ScriptedMessage{{Body: msgDisqualified, TypingDelay: shortDelay}},
			State:    models.StateDisqualifiedEnd,
			Expect:   InputNone,
		}, nil
	}

	// show_demo, show_value, show_process, and show_price auto-advance, so
	// their scripts arrive together and the flow lands on ask_proceed.
	for _, st := range []models.StateType{models.StateShowDemo, models.StateShowValue, models.StateShowProcess, models.StateShowPrice, models.StateAskProceed} {
		if err := g.stateManager.SetCurrentState(ctx, sessionID, models.FlowTypeGuidedIntake, st); err != nil {
			return StepResult{}, err
		}
	}
	return StepResult{
		Messages: []ScriptedMessage{
			{Body: msgDemoIntro, TypingDelay: shortDelay},
			{Body: msgDemoBody, TypingDelay: longDelay},
			{Body: msgValue, TypingDelay: longDelay},
			{Body: msgProcess, TypingDelay: longDelay},
			{Body: msgPrice, TypingDelay: mediumDelay},
			{Body: msgAskProceed, TypingDelay: shortDelay},
		},
		State:  models.StateAskProceed,
		Expect: InputChoice,
	}, nil
}

func (g *GuidedFlow) handleProceed(ctx context.Context, sessionID, input string) (StepResult, error) {
	if isAffirmative(input) {
		return g.enterCollectName(ctx, sessionID)
	}
	if err := g.stateManager.SetCurrentState(ctx, sessionID, models.FlowTypeGuidedIntake, models.StateShowAltContact); err != nil {
		return StepResult{}, err
	}
	return StepResult{
		Messages: []ScriptedMessage{{Body: msgAltContact, TypingDelay: mediumDelay}},
		State:    models.StateShowAltContact,
		Expect:   InputChoice,
	}, nil
}

// handleAltContact accepts a later affirmation into contact capture. Anything
// else stays put with a nudge rather than replaying the state's script.
func (g *GuidedFlow) handleAltContact(ctx context.Context, sessionID, input string) (StepResult, error) {
	if isAffirmative(input) {
		return g.enterCollectName(ctx, sessionID)
	}
	return StepResult{
		Messages: []ScriptedMessage{{Body: msgNudgeChoice, TypingDelay: shortDelay}},
		State:    models.StateShowAltContact,
		Expect:   InputChoice,
	}, nil
}

func (g *GuidedFlow) enterCollectName(ctx context.Context, sessionID string) (StepResult, error) {
	if err := g.stateManager.SetCurrentState(ctx, sessionID, models.FlowTypeGuidedIntake, models.StateCollectName); err != nil {
		return StepResult{}, err
	}
	return StepResult{
		Messages: []ScriptedMessage{{Body: msgAskName, TypingDelay: shortDelay}},
		State:    models.StateCollectName,
		Expect:   InputText,
	}, nil
}

func (g *GuidedFlow) handleCollectName(ctx context.Context, sessionID, input string) (StepResult, error) {
	if input == "" {
		return StepResult{
			Messages: []ScriptedMessage{{Body: msgAskName, TypingDelay: shortDelay}},
			State:    models.StateCollectName,
			Expect:   InputText,
		}, nil
	}
	if err := g.stateManager.SetStateData(ctx, sessionID, models.FlowTypeGuidedIntake, models.DataKeyContactName, input); err != nil {
		return StepResult{}, err
	}
	if err := g.stateManager.SetCurrentState(ctx, sessionID, models.FlowTypeGuidedIntake, models.StateCollectSite); err != nil {
		return StepResult{}, err
	}
	return StepResult{
		Messages: []ScriptedMessage{{Body: msgAskSite, TypingDelay: shortDelay}},
		State:    models.StateCollectSite,
		Expect:   InputText,
	}, nil
}

func (g *GuidedFlow) handleCollectSite(ctx context.Context, sessionID, input string) (StepResult, error) {
	if input == "" {
		return StepResult{
			Messages: []ScriptedMessage{{Body: msgAskSite, TypingDelay: shortDelay}},
			State:    models.StateCollectSite,
			Expect:   InputText,
		}, nil
	}
	site := NormalizeWebsiteURL(input)
	if err := g.stateManager.SetStateData(ctx, sessionID, models.FlowTypeGuidedIntake, models.DataKeyWebsiteURL, site); err != nil {
		return StepResult{}, err
	}
	if err := g.stateManager.SetCurrentState(ctx, sessionID, models.FlowTypeGuidedIntake, models.StateCollectEmail); err != nil {
		return StepResult{}, err
	}
	return StepResult{
		Messages: []ScriptedMessage{{Body: msgAskEmail, TypingDelay: shortDelay}},
		State:    models.StateCollectEmail,
		Expect:   InputText,
	}, nil
}

// handleCollectEmail stores the email, passes through submitting, and inserts
// exactly one IntakeRecord. On insert failure the session reverts to
// collect_email; the user retries by sending the email again.
func (g *GuidedFlow) handleCollectEmail(ctx context.Context, sessionID, input string) (StepResult, error) {
	if input == "" {
		return StepResult{
			Messages: []ScriptedMessage{{Body: msgAskEmail, TypingDelay: shortDelay}},
			State:    models.StateCollectEmail,
			Expect:   InputText,
		}, nil
	}
	// Read the collected fields before leaving collect_email so any failure
	// here keeps the session in a retryable state.
	name, err := g.stateManager.GetStateData(ctx, sessionID, models.FlowTypeGuidedIntake, models.DataKeyContactName)
	if err != nil {
		return StepResult{}, err
	}
	site, err := g.stateManager.GetStateData(ctx, sessionID, models.FlowTypeGuidedIntake, models.DataKeyWebsiteURL)
	if err != nil {
		return StepResult{}, err
	}
	if err := g.stateManager.SetStateData(ctx, sessionID, models.FlowTypeGuidedIntake, models.DataKeyContactEmail, input); err != nil {
		return StepResult{}, err
	}
	if err := g.stateManager.TransitionState(ctx, sessionID, models.FlowTypeGuidedIntake, models.StateCollectEmail, models.StateSubmitting); err != nil {
		return StepResult{}, err
	}

	rec := models.IntakeRecord{
		ID:          util.GenerateRandomID("lead_", 16),
		ContactName: name,
		WebsiteURL:  site,
		Email:       input,
		Status:      models.LeadStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := g.store.AddLead(rec); err != nil {
		slog.Error("GuidedFlow: lead submit failed", "error", err, "sessionID", sessionID)
		if revertErr := g.stateManager.SetCurrentState(ctx, sessionID, models.FlowTypeGuidedIntake, models.StateCollectEmail); revertErr != nil {
			slog.Error("GuidedFlow: failed to revert after submit failure", "error", revertErr, "sessionID", sessionID)
		}
		return StepResult{
			Messages: []ScriptedMessage{{Body: msgSubmitError, TypingDelay: shortDelay}},
			State:    models.StateCollectEmail,
			Expect:   InputText,
		}, models.ErrLeadSubmitFailed
	}

	if err := g.stateManager.SetCurrentState(ctx, sessionID, models.FlowTypeGuidedIntake, models.StateComplete); err != nil {
		return StepResult{}, err
	}
	slog.Info("GuidedFlow: lead captured", "sessionID", sessionID, "leadID", rec.ID)
	go func() {
		if err := g.notifier.NotifyLead(context.Background(), rec); err != nil {
			slog.Error("GuidedFlow: lead alert failed", "error", err, "leadID", rec.ID)
		}
	}()
	return StepResult{
		Messages: []ScriptedMessage{{Body: msgComplete, TypingDelay: mediumDelay}},
		State:    models.StateComplete,
		Expect:   InputNone,
	}, nil
}

// expectFor maps a waiting state to the input kind it accepts.
func expectFor(state models.StateType) InputKind {
	switch state {
	case models.StateAskQualifying, models.StateAskProceed, models.StateShowAltContact:
		return InputChoice
	case models.StateCollectName, models.StateCollectSite, models.StateCollectEmail:
		return InputText
	default:
		return InputNone
	}
}

// isAffirmative interprets a button choice or short typed answer as "yes".
func isAffirmative(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "yes", "y", "yeah", "yep", "sure", "ok", "okay":
		return true
	}
	return false
}

// NormalizeWebsiteURL prefixes bare domains with https://. Anything already
// carrying a scheme passes through unchanged.
func NormalizeWebsiteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}
