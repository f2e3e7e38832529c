package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/ChairsideAI/Chairside/internal/auth"
	"github.com/ChairsideAI/Chairside/internal/billing"
	"github.com/ChairsideAI/Chairside/internal/genai"
	"github.com/ChairsideAI/Chairside/internal/models"
	"github.com/ChairsideAI/Chairside/internal/store"
)

// stubGenAI returns a fixed reply for every completion.
type stubGenAI struct {
	reply string
}

func (s *stubGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return s.reply, nil
}

func (s *stubGenAI) GenerateStreamWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, onDelta func(delta string)) (string, error) {
	for _, part := range strings.SplitAfter(s.reply, " ") {
		onDelta(part)
	}
	return s.reply, nil
}

// stubCheckout returns a fixed redirect URL.
type stubCheckout struct {
	url string
	err error
}

func (s *stubCheckout) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (string, error) {
	return s.url, s.err
}

type testEnv struct {
	server *Server
	store  *store.InMemoryStore
	auth   *auth.Authenticator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewInMemoryStore()
	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	a, err := auth.New(auth.WithAdminCredentials("admin", hash), auth.WithJWTSecret("test-secret"))
	if err != nil {
		t.Fatalf("auth.New failed: %v", err)
	}
	srv, err := NewServer(Deps{
		Store:    st,
		GenAI:    &stubGenAI{reply: "A generated answer."},
		Checkout: &stubCheckout{url: "https://checkout.stripe.com/c/pay/cs_123"},
		Auth:     a,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return &testEnv{server: srv, store: st, auth: a}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/admin/login", adminLoginRequest{Username: "admin", Password: "hunter2"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Result struct {
			Token string `json:"token"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return resp.Result.Token
}

func TestChatEndpointTemplatedReply(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "What are your hours?"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Response  string `json:"response"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Response == "" {
		t.Error("expected a non-empty templated reply")
	}
	if resp.Response == "A generated answer." {
		t.Error("template match must not reach the completion client")
	}
	if resp.SessionID == "" {
		t.Error("expected an allocated session ID")
	}
}

func TestChatEndpointEmptyMessage(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "   "}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty message, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("expected an error payload, got %s", rec.Body.String())
	}
}

func TestChatStreamEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/chat/stream", chatRequest{Message: "Describe your sterilization protocols"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}

	// The body must decode back to the full reply through the shared decoder.
	var dec genai.StreamDecoder
	var got strings.Builder
	for _, delta := range dec.Feed(rec.Body.Bytes()) {
		got.WriteString(delta)
	}
	if !dec.Done() {
		t.Error("stream must terminate with [DONE]")
	}
	if got.String() != "A generated answer." {
		t.Errorf("decoded %q, want %q", got.String(), "A generated answer.")
	}
}

func TestGuidedEndpointStartAndDisqualify(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/guided", guidedRequest{Action: "start"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		SessionID string                `json:"sessionId"`
		Messages  []wireScriptedMessage `json:"messages"`
		State     string                `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("expected an allocated session ID")
	}
	if len(resp.Messages) == 0 || resp.Messages[0].TypingDelayMs <= 0 {
		t.Errorf("expected scripted messages with typing delays, got %+v", resp.Messages)
	}
	if resp.State != string(models.StateAskQualifying) {
		t.Errorf("expected ask_qualifying_question, got %s", resp.State)
	}

	rec = e.do(t, http.MethodPost, "/api/guided", guidedRequest{SessionID: resp.SessionID, Input: "no"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), string(models.StateDisqualifiedEnd)) {
		t.Errorf("expected disqualified_end state, got %s", rec.Body.String())
	}
}

func signupForm() map[string]interface{} {
	hours := make([]map[string]interface{}, 7)
	for i := range hours {
		hours[i] = map[string]interface{}{"open": false}
	}
	hours[0] = map[string]interface{}{"open": true, "start": "09:00", "end": "17:00"}
	return map[string]interface{}{
		"contact_name":     "Dana Reyes",
		"email":            "dana@example.com",
		"practice_name":    "Bright Smiles Dental",
		"website_url":      "https://brightsmiles.example.com",
		"hours":            hours,
		"services":         []string{"cleanings"},
		"insurances":       []string{"Delta Dental"},
		"emergency_policy": "Call us any time.",
	}
}

func TestSignupEndpointStepValidation(t *testing.T) {
	e := newTestEnv(t)

	form := signupForm()
	rec := e.do(t, http.MethodPost, "/api/signup", map[string]interface{}{"step": 2, "form": form}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid step, got %d: %s", rec.Code, rec.Body.String())
	}

	// Zero open days blocks step 2.
	hours := make([]map[string]interface{}, 7)
	for i := range hours {
		hours[i] = map[string]interface{}{"open": false}
	}
	form["hours"] = hours
	rec = e.do(t, http.MethodPost, "/api/signup", map[string]interface{}{"step": 2, "form": form}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero open days, got %d", rec.Code)
	}
}

func TestSignupEndpointFinalStep(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/signup", map[string]interface{}{"step": 3, "form": signupForm()}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !strings.HasPrefix(resp.URL, "https://checkout.stripe.com/") {
		t.Errorf("expected checkout redirect, got %q", resp.URL)
	}

	practices, _ := e.store.ListPractices()
	if len(practices) != 1 || practices[0].Status != models.SubscriptionPending {
		t.Errorf("expected one pending practice, got %+v", practices)
	}
}

func TestContactEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/contact", models.ContactRequest{Email: "dana@example.com", Question: "Pricing?"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Errorf("expected success payload, got %s", rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/api/contact", models.ContactRequest{Email: "", Question: "Pricing?"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing email, got %d", rec.Code)
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/admin/practices", "/api/admin/stats", "/api/admin/leads"} {
		rec := e.do(t, http.MethodGet, path, nil, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 without token, got %d", path, rec.Code)
		}
	}
}

func TestAdminLoginRejectsBadPassword(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/admin/login", adminLoginRequest{Username: "admin", Password: "wrong"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func seedPractice(t *testing.T, st *store.InMemoryStore, id string, status models.SubscriptionStatus) {
	t.Helper()
	now := time.Now()
	err := st.CreatePractice(models.PracticeProfile{
		ID: id, Name: "Practice " + id, Email: fmt.Sprintf("%s@example.com", id),
		Status: status, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed practice failed: %v", err)
	}
}

func TestAdminDeployFlow(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)
	seedPractice(t, e.store, "p1", models.SubscriptionActive)
	seedPractice(t, e.store, "p2", models.SubscriptionActive)

	// Empty selection mutates nothing.
	rec := e.do(t, http.MethodPost, "/api/admin/deploy", deployRequest{IDs: nil}, token)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty selection, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "select at least one") {
		t.Errorf("expected selection error, got %s", rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/api/admin/deploy", deployRequest{IDs: []string{"p1"}}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	p1, _ := e.store.GetPractice("p1")
	if p1.DeployedAt == nil {
		t.Error("expected p1 deployed")
	}
	p2, _ := e.store.GetPractice("p2")
	if p2.DeployedAt != nil {
		t.Error("expected p2 untouched")
	}

	rec = e.do(t, http.MethodGet, "/api/admin/stats", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats failed: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"deployed":1`) {
		t.Errorf("expected deployed count 1, got %s", rec.Body.String())
	}
}

func TestAdminActivePracticesFilter(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)
	seedPractice(t, e.store, "p1", models.SubscriptionActive)
	seedPractice(t, e.store, "p2", models.SubscriptionPending)

	rec := e.do(t, http.MethodGet, "/api/admin/practices/active", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"id":"p2"`) {
		t.Error("pending practice must not appear in the active list")
	}
	if !strings.Contains(rec.Body.String(), `"id":"p1"`) {
		t.Error("active practice missing from the active list")
	}
}

func TestAdminQAPairLifecycle(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)
	seedPractice(t, e.store, "p1", models.SubscriptionActive)

	rec := e.do(t, http.MethodPost, "/api/admin/practices/p1/qa", qaPairRequest{Question: "parking", Answer: "Lot behind the building."}, token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Result models.QAPair `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode created pair: %v", err)
	}

	rec = e.do(t, http.MethodGet, "/api/admin/practices/p1/qa", nil, token)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "parking") {
		t.Fatalf("expected pair in list, got %d: %s", rec.Code, rec.Body.String())
	}

	// The override now answers widget chat for this clinic.
	chatRec := e.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "where is parking?", ClinicID: "p1"}, "")
	if !strings.Contains(chatRec.Body.String(), "Lot behind the building.") {
		t.Errorf("expected override answer in chat, got %s", chatRec.Body.String())
	}

	rec = e.do(t, http.MethodDelete, "/api/admin/practices/p1/qa/"+created.Result.ID, nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/admin/practices/p1/qa", nil, token)
	if strings.Contains(rec.Body.String(), "parking") {
		t.Error("deleted pair must not appear in the list")
	}

	// Unknown practice rejects creation.
	rec = e.do(t, http.MethodPost, "/api/admin/practices/missing/qa", qaPairRequest{Question: "q", Answer: "a"}, token)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown practice, got %d", rec.Code)
	}
}

func TestAdminChatLogEndpoint(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)
	seedPractice(t, e.store, "p1", models.SubscriptionActive)

	base := time.Now().Add(-time.Minute)
	for i, body := range []string{"do you take ppo?", "Yes, we accept most PPO plans.", "great thanks"} {
		err := e.store.AddChatLogEntry(models.ChatLogEntry{
			ID: fmt.Sprintf("m%d", i), PracticeID: "p1",
			Role: string(models.RoleUser), Content: body, CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("seed chat log failed: %v", err)
		}
	}

	rec := e.do(t, http.MethodGet, "/api/admin/practices/p1/chatlog?limit=2", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Result []models.ChatLogEntry `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode chat log: %v", err)
	}
	if len(resp.Result) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Result))
	}
	if resp.Result[0].ID != "m1" || resp.Result[1].ID != "m2" {
		t.Errorf("expected last two entries in order, got %s then %s", resp.Result[0].ID, resp.Result[1].ID)
	}

	rec = e.do(t, http.MethodGet, "/api/admin/practices/p1/chatlog?limit=0", nil, token)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid limit, got %d", rec.Code)
	}
}

func TestAdminUpdateSubscriptionStatus(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)
	seedPractice(t, e.store, "p1", models.SubscriptionPending)

	rec := e.do(t, http.MethodPost, "/api/admin/practices/p1/status",
		statusUpdateRequest{Status: models.SubscriptionActive, Revision: 0}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	p, err := e.store.GetPractice("p1")
	if err != nil {
		t.Fatalf("GetPractice failed: %v", err)
	}
	if p.Status != models.SubscriptionActive {
		t.Errorf("expected active status, got %s", p.Status)
	}
	if p.Revision != 1 {
		t.Errorf("expected revision bump to 1, got %d", p.Revision)
	}

	// A write against the pre-update revision is rejected.
	rec = e.do(t, http.MethodPost, "/api/admin/practices/p1/status",
		statusUpdateRequest{Status: models.SubscriptionCanceled, Revision: 0}, token)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for stale revision, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/admin/practices/missing/status",
		statusUpdateRequest{Status: models.SubscriptionActive, Revision: 0}, token)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown practice, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/admin/practices/p1/status",
		statusUpdateRequest{Status: "trialing", Revision: 1}, token)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestGuidedEndpointRestart(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/guided", guidedRequest{SessionID: "s_1", Action: "start"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start failed: %d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/api/guided", guidedRequest{SessionID: "s_1", Input: "no"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disqualify failed: %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/guided", guidedRequest{SessionID: "s_1", Action: "restart"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("restart failed: %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		State    string `json:"state"`
		Messages []wireScriptedMessage
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode restart response: %v", err)
	}
	if resp.State != string(models.StateAskQualifying) {
		t.Errorf("expected ask_qualifying_question after restart, got %s", resp.State)
	}
	if len(resp.Messages) != 2 {
		t.Errorf("expected the opening script after restart, got %d messages", len(resp.Messages))
	}
}
