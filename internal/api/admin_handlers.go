package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ChairsideAI/Chairside/internal/models"
)

// adminLoginRequest carries the console credentials.
type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) adminLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid credentials"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"token": token}))
}

func (s *Server) listPracticesHandler(w http.ResponseWriter, r *http.Request) {
	practices, err := s.store.ListPractices()
	if err != nil {
		slog.Error("Server.listPracticesHandler failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch practices"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(practices))
}

func (s *Server) listActivePracticesHandler(w http.ResponseWriter, r *http.Request) {
	practices, err := s.store.ListActivePractices()
	if err != nil {
		slog.Error("Server.listActivePracticesHandler failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch practices"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(practices))
}

// deployRequest names the practices to mark deployed.
type deployRequest struct {
	IDs []string `json:"ids"`
}

// deployHandler bulk-touches deployed_at on the selected practices. An empty
// selection mutates nothing.
func (s *Server) deployHandler(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.IDs) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptySelection.Error()))
		return
	}

	if err := s.store.DeployPractices(req.IDs); err != nil {
		slog.Error("Server.deployHandler failed", "error", err, "count", len(req.IDs))
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Deploy failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Deployed successfully", map[string]int{"count": len(req.IDs)}))
}

// statusUpdateRequest changes a practice's subscription status. Revision is
// the revision the caller last read; a stale value rejects the write.
type statusUpdateRequest struct {
	Status   models.SubscriptionStatus `json:"status"`
	Revision int64                     `json:"revision"`
}

func (s *Server) updateStatusHandler(w http.ResponseWriter, r *http.Request) {
	practiceID := chi.URLParam(r, "practiceID")

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	switch req.Status {
	case models.SubscriptionPending, models.SubscriptionActive, models.SubscriptionCanceled:
	default:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown subscription status"))
		return
	}

	if err := s.store.UpdateSubscriptionStatus(practiceID, req.Status, req.Revision); err != nil {
		switch {
		case errors.Is(err, models.ErrPracticeNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Practice not found"))
		case errors.Is(err, models.ErrRevisionConflict):
			writeJSONResponse(w, http.StatusConflict, models.Error("Practice was modified concurrently; reload and retry"))
		default:
			slog.Error("Server.updateStatusHandler failed", "error", err, "practiceID", practiceID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update status"))
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Status updated", nil))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetPracticeStats()
	if err != nil {
		slog.Error("Server.statsHandler failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch stats"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

func (s *Server) listLeadsHandler(w http.ResponseWriter, r *http.Request) {
	leads, err := s.store.ListLeads()
	if err != nil {
		slog.Error("Server.listLeadsHandler failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch leads"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(leads))
}

// DefaultChatLogLimit caps a transcript page when no limit is given.
const DefaultChatLogLimit = 50

// chatLogHandler returns the most recent widget messages for a practice in
// chronological order.
func (s *Server) chatLogHandler(w http.ResponseWriter, r *http.Request) {
	practiceID := chi.URLParam(r, "practiceID")
	limit := DefaultChatLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit"))
			return
		}
		limit = parsed
	}

	entries, err := s.store.ListChatLog(practiceID, limit)
	if err != nil {
		slog.Error("Server.chatLogHandler failed", "error", err, "practiceID", practiceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch chat log"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}

// qaPairRequest is an operator-defined override to create.
type qaPairRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (s *Server) addQAPairHandler(w http.ResponseWriter, r *http.Request) {
	practiceID := chi.URLParam(r, "practiceID")
	if _, err := s.store.GetPractice(practiceID); err != nil {
		writeJSONResponse(w, qaErrorStatus(err), models.Error("Practice not found"))
		return
	}

	var req qaPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Answer) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Question and answer are required"))
		return
	}

	pair := models.QAPair{
		ID:         uuid.NewString(),
		PracticeID: practiceID,
		Question:   strings.TrimSpace(req.Question),
		Answer:     strings.TrimSpace(req.Answer),
		CreatedAt:  time.Now(),
	}
	if err := s.store.AddQAPair(pair); err != nil {
		slog.Error("Server.addQAPairHandler failed", "error", err, "practiceID", practiceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save Q&A pair"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(pair))
}

func (s *Server) listQAPairsHandler(w http.ResponseWriter, r *http.Request) {
	practiceID := chi.URLParam(r, "practiceID")
	pairs, err := s.store.ListQAPairs(practiceID)
	if err != nil {
		slog.Error("Server.listQAPairsHandler failed", "error", err, "practiceID", practiceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch Q&A pairs"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(pairs))
}

func (s *Server) deleteQAPairHandler(w http.ResponseWriter, r *http.Request) {
	pairID := chi.URLParam(r, "pairID")
	if err := s.store.DeleteQAPair(pairID); err != nil {
		slog.Error("Server.deleteQAPairHandler failed", "error", err, "pairID", pairID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete Q&A pair"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Deleted", nil))
}

func qaErrorStatus(err error) int {
	if errors.Is(err, models.ErrPracticeNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
