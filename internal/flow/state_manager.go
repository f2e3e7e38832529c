// Package flow implements Chairside's conversational surfaces: the guided
// intake dialogue driven by a state machine, and the free-form widget chat
// session backed by the template resolver and the completion client.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChairsideAI/Chairside/internal/models"
	"github.com/ChairsideAI/Chairside/internal/store"
)

// StateManager defines the interface for managing session state in flows.
type StateManager interface {
	GetCurrentState(ctx context.Context, sessionID string, flowType models.FlowType) (models.StateType, error)
	SetCurrentState(ctx context.Context, sessionID string, flowType models.FlowType, state models.StateType) error
	GetStateData(ctx context.Context, sessionID string, flowType models.FlowType, key models.DataKey) (string, error)
	SetStateData(ctx context.Context, sessionID string, flowType models.FlowType, key models.DataKey, value string) error
	TransitionState(ctx context.Context, sessionID string, flowType models.FlowType, from, to models.StateType) error
	ResetState(ctx context.Context, sessionID string, flowType models.FlowType) error
}

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

// GetCurrentState retrieves the current state for a session in a flow. An
// empty state means the session has never entered the flow.
func (sm *StoreBasedStateManager) GetCurrentState(ctx context.Context, sessionID string, flowType models.FlowType) (models.StateType, error) {
	slog.Debug("StateManager.GetCurrentState", "sessionID", sessionID, "flowType", flowType)
	st, found, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager.GetCurrentState error", "error", err, "sessionID", sessionID, "flowType", flowType)
		return "", err
	}
	if !found {
		return "", nil
	}
	return st.CurrentState, nil
}

// SetCurrentState updates the current state for a session in a flow, creating
// the flow record if it does not exist yet.
func (sm *StoreBasedStateManager) SetCurrentState(ctx context.Context, sessionID string, flowType models.FlowType, state models.StateType) error {
	slog.Debug("StateManager.SetCurrentState", "sessionID", sessionID, "flowType", flowType, "state", state)
	st, found, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager.SetCurrentState get error", "error", err, "sessionID", sessionID)
		return err
	}

	now := time.Now()
	if !found {
		st = models.FlowState{
			SessionID:    sessionID,
			FlowType:     flowType,
			CurrentState: state,
			StateData:    make(map[string]string),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	} else {
		st.CurrentState = state
		st.UpdatedAt = now
	}

	if err := sm.store.SaveFlowState(st); err != nil {
		slog.Error("StateManager.SetCurrentState save error", "error", err, "sessionID", sessionID, "state", state)
		return err
	}
	return nil
}

// GetStateData retrieves additional data associated with the session's state.
// Missing keys return an empty string without error.
func (sm *StoreBasedStateManager) GetStateData(ctx context.Context, sessionID string, flowType models.FlowType, key models.DataKey) (string, error) {
	st, found, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager.GetStateData error", "error", err, "sessionID", sessionID, "key", key)
		return "", err
	}
	if !found || st.StateData == nil {
		return "", nil
	}
	return st.StateData[string(key)], nil
}

// SetStateData stores additional data associated with the session's state.
func (sm *StoreBasedStateManager) SetStateData(ctx context.Context, sessionID string, flowType models.FlowType, key models.DataKey, value string) error {
	slog.Debug("StateManager.SetStateData", "sessionID", sessionID, "flowType", flowType, "key", key)
	st, found, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager.SetStateData get error", "error", err, "sessionID", sessionID, "key", key)
		return err
	}

	now := time.Now()
	if !found {
		st = models.FlowState{
			SessionID: sessionID,
			FlowType:  flowType,
			StateData: make(map[string]string),
			CreatedAt: now,
		}
	}
	if st.StateData == nil {
		st.StateData = make(map[string]string)
	}
	st.StateData[string(key)] = value
	st.UpdatedAt = now

	if err := sm.store.SaveFlowState(st); err != nil {
		slog.Error("StateManager.SetStateData save error", "error", err, "sessionID", sessionID, "key", key)
		return err
	}
	return nil
}

// TransitionState moves the session from one state to another, checking the
// current state matches the expected source first.
func (sm *StoreBasedStateManager) TransitionState(ctx context.Context, sessionID string, flowType models.FlowType, from, to models.StateType) error {
	current, err := sm.GetCurrentState(ctx, sessionID, flowType)
	if err != nil {
		return err
	}
	if current != from {
		slog.Warn("StateManager.TransitionState mismatch", "sessionID", sessionID, "expected", from, "actual", current)
		return fmt.Errorf("cannot transition session %s: in state %q, expected %q", sessionID, current, from)
	}
	return sm.SetCurrentState(ctx, sessionID, flowType, to)
}

// ResetState removes all flow state for the session.
func (sm *StoreBasedStateManager) ResetState(ctx context.Context, sessionID string, flowType models.FlowType) error {
	slog.Debug("StateManager.ResetState", "sessionID", sessionID, "flowType", flowType)
	return sm.store.ResetFlowState(sessionID, flowType)
}
