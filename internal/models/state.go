// Package models defines state management structures for Chairside flows.
package models

import "time"

// FlowType represents a specific type of conversational flow.
type FlowType string

// StateType represents a specific state within a flow.
type StateType string

// DataKey represents a key for storing state-specific data.
type DataKey string

// Flow type constants.
const (
	FlowTypeGuidedIntake FlowType = "guided_intake"
)

// Guided intake flow states. The graph is linear with two branches: a "no" at
// the qualifying question terminates the flow, and a "no" at the proceed
// question detours through the alternate-contact state.
const (
	StateInitial         StateType = "initial"
	StateAskQualifying   StateType = "ask_qualifying_question"
	StateDisqualifiedEnd StateType = "disqualified_end"
	StateShowDemo        StateType = "show_demo"
	StateShowValue       StateType = "show_value"
	StateShowProcess     StateType = "show_process"
	StateShowPrice       StateType = "show_price"
	StateAskProceed      StateType = "ask_proceed"
	StateShowAltContact  StateType = "show_alt_contact"
	StateCollectName     StateType = "collect_name"
	StateCollectSite     StateType = "collect_site"
	StateCollectEmail    StateType = "collect_email"
	StateSubmitting      StateType = "submitting"
	StateComplete        StateType = "complete"
)

// IsTerminalState reports whether no further transitions exist from s.
func IsTerminalState(s StateType) bool {
	return s == StateDisqualifiedEnd || s == StateComplete
}

// Data keys used by the guided intake flow.
const (
	DataKeyGuidedInitialized DataKey = "guidedInitialized"
	DataKeyContactName       DataKey = "contactName"
	DataKeyWebsiteURL        DataKey = "websiteURL"
	DataKeyContactEmail      DataKey = "contactEmail"
)

// FlowState represents the current state of a session in a flow.
type FlowState struct {
	SessionID    string            `json:"session_id"`
	FlowType     FlowType          `json:"flow_type"`
	CurrentState StateType         `json:"current_state"`
	StateData    map[string]string `json:"state_data,omitempty"` // Additional state-specific data
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
