package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ChairsideAI/Chairside/internal/flow"
	"github.com/ChairsideAI/Chairside/internal/genai"
	"github.com/ChairsideAI/Chairside/internal/models"
	"github.com/ChairsideAI/Chairside/internal/signup"
	"github.com/ChairsideAI/Chairside/internal/util"
)

// chatRequest is the widget chat payload.
type chatRequest struct {
	Message   string `json:"message"`
	ClinicID  string `json:"clinicId"`
	SessionID string `json:"sessionId"`
}

// chatHandler runs one blocking chat turn.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWidgetJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid JSON format"})
		return
	}

	session := s.sessions.Get(req.SessionID, req.ClinicID)
	reply, err := session.Submit(r.Context(), req.Message)
	if err != nil {
		writeWidgetJSON(w, chatErrorStatus(err), map[string]interface{}{"error": err.Error()})
		return
	}

	writeWidgetJSON(w, http.StatusOK, map[string]interface{}{
		"response":  reply,
		"sessionId": session.ID(),
	})
}

// chatErrorStatus maps turn rejections onto HTTP statuses.
func chatErrorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyMessage), errors.Is(err, models.ErrMessageTooLong):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrTurnInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// chatStreamHandler runs one chat turn and streams the reply as data lines
// terminated by [DONE]. Resolver hits arrive as a single data line.
func (s *Server) chatStreamHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWidgetJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid JSON format"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeWidgetJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "streaming not supported"})
		return
	}

	session := s.sessions.Get(req.SessionID, req.ClinicID)

	// Headers go out lazily so validation failures can still return JSON.
	headersSent := false
	onDelta := func(delta string) {
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Session-Id", session.ID())
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}
		if _, err := w.Write([]byte(genai.EncodeStreamDelta(delta) + "\n")); err != nil {
			slog.Debug("Server.chatStreamHandler: client disconnected", "error", err)
			return
		}
		flusher.Flush()
	}

	if _, err := session.SubmitStream(r.Context(), req.Message, onDelta); err != nil {
		if !headersSent {
			writeWidgetJSON(w, chatErrorStatus(err), map[string]interface{}{"error": err.Error()})
		}
		return
	}

	if !headersSent {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
	w.Write([]byte(genai.SSEDataPrefix + genai.SSEDoneToken + "\n"))
	flusher.Flush()
}

// guidedRequest is one guided-flow step: "start" enters the flow, anything
// else is a button choice or text field for the current state.
type guidedRequest struct {
	SessionID string `json:"sessionId"`
	Action    string `json:"action,omitempty"` // "start", "restart", or "advance"
	Input     string `json:"input,omitempty"`
}

// wireScriptedMessage is the transport shape of a scripted line; delays go
// out in milliseconds.
type wireScriptedMessage struct {
	Body          string `json:"body"`
	TypingDelayMs int64  `json:"typingDelayMs"`
}

func toWireMessages(msgs []flow.ScriptedMessage) []wireScriptedMessage {
	out := make([]wireScriptedMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireScriptedMessage{Body: m.Body, TypingDelayMs: m.TypingDelay.Milliseconds()}
	}
	return out
}

func (s *Server) guidedHandler(w http.ResponseWriter, r *http.Request) {
	var req guidedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWidgetJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid JSON format"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = util.GenerateSessionID()
	}

	var result flow.StepResult
	var err error
	switch req.Action {
	case "start":
		result, err = s.guided.Start(r.Context(), req.SessionID)
	case "restart":
		result, err = s.guided.Restart(r.Context(), req.SessionID)
	default:
		result, err = s.guided.Advance(r.Context(), req.SessionID, req.Input)
	}

	switch {
	case errors.Is(err, models.ErrFlowTerminated):
		// The conversation is over; report the terminal state without error.
	case errors.Is(err, models.ErrLeadSubmitFailed):
		// Transient: the step result carries the retry prompt.
	case err != nil:
		slog.Error("Server.guidedHandler: step failed", "error", err, "sessionID", req.SessionID)
		writeWidgetJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "guided step failed"})
		return
	}

	writeWidgetJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": req.SessionID,
		"messages":  toWireMessages(result.Messages),
		"state":     result.State,
		"expect":    result.Expect,
	})
}

// signupRequest carries the accumulated form plus the step being confirmed.
type signupRequest struct {
	Step int              `json:"step"`
	Form signup.FormState `json:"form"`
}

// signupHandler validates intermediate steps and finalizes the last one with
// a checkout redirect.
func (s *Server) signupHandler(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWidgetJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid JSON format"})
		return
	}

	if req.Step < signup.StepPayment {
		if !signup.CanAdvance(req.Step, req.Form) {
			writeWidgetJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "step is incomplete"})
			return
		}
		writeWidgetJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
		return
	}

	if s.signup == nil {
		slog.Error("Server.signupHandler: checkout not configured")
		writeWidgetJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"error": "signup is temporarily unavailable"})
		return
	}

	url, err := s.signup.Submit(r.Context(), req.Form)
	if err != nil {
		slog.Error("Server.signupHandler: submit failed", "error", err)
		writeWidgetJSON(w, http.StatusBadGateway, map[string]interface{}{"error": "could not start checkout"})
		return
	}
	writeWidgetJSON(w, http.StatusOK, map[string]interface{}{"url": url})
}

// contactHandler relays a contact-form submission to the operations team.
func (s *Server) contactHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWidgetJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid JSON format"})
		return
	}
	if err := req.Validate(); err != nil {
		writeWidgetJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	if err := s.notifier.NotifyContact(r.Context(), req); err != nil {
		slog.Error("Server.contactHandler: relay failed", "error", err)
		writeWidgetJSON(w, http.StatusBadGateway, map[string]interface{}{"error": "could not deliver your message"})
		return
	}
	writeWidgetJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
