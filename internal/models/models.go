// Package models defines the core data structures for Chairside.
//
// It includes types for chat messages and transcripts, captured leads, practice
// profiles, and the shared API response envelope used across handlers.
package models

import (
	"errors"
	"strings"
	"time"
)

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	// RoleUser marks a message typed by the end user of the widget.
	RoleUser MessageRole = "user"
	// RoleAssistant marks a message produced by the assistant (templated or generated).
	RoleAssistant MessageRole = "assistant"
)

// Validation constants for input validation
const (
	// MaxChatMessageLength defines the maximum allowed length for a single chat message
	MaxChatMessageLength = 4096
	// MaxContactQuestionLength defines the maximum allowed length for contact-form questions
	MaxContactQuestionLength = 2000
)

// Error variables for better error handling and testability
var (
	ErrEmptyMessage       = errors.New("message cannot be empty")
	ErrMessageTooLong     = errors.New("message exceeds maximum length")
	ErrTurnInFlight       = errors.New("a response is already being composed for this session")
	ErrEmptyClinicID      = errors.New("clinic id cannot be empty")
	ErrEmptyEmail         = errors.New("email cannot be empty")
	ErrPracticeNotFound   = errors.New("practice not found")
	ErrEmptySelection     = errors.New("select at least one practice")
	ErrRevisionConflict   = errors.New("practice record was modified concurrently")
	ErrFlowTerminated     = errors.New("conversation has ended")
	ErrLeadSubmitFailed   = errors.New("could not submit contact details")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Message represents a single chat message. Immutable once created; owned by
// the Transcript that holds it.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// Transcript is the ordered, append-only message history for one chat session.
type Transcript struct {
	Messages []Message `json:"messages"`
}

// Append adds a message to the end of the transcript.
func (t *Transcript) Append(m Message) {
	t.Messages = append(t.Messages, m)
}

// Last returns the most recent message and whether one exists.
func (t *Transcript) Last() (Message, bool) {
	if len(t.Messages) == 0 {
		return Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// LeadStatus represents the follow-up status of a captured lead.
type LeadStatus string

const (
	// LeadStatusPending indicates the lead has not been contacted yet.
	LeadStatusPending LeadStatus = "pending"
	// LeadStatusContacted indicates someone has reached out to the lead.
	LeadStatusContacted LeadStatus = "contacted"
)

// IntakeRecord is the practice/contact capture produced by the guided intake
// flow. Created once on submission; the conversational core never mutates it.
type IntakeRecord struct {
	ID           string     `json:"id"`
	PracticeName string     `json:"practice_name"`
	WebsiteURL   string     `json:"website_url"`
	ContactName  string     `json:"contact_name"`
	Email        string     `json:"email"`
	Status       LeadStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Validate checks the minimum shape required before an intake record is stored.
// Email and URL are intentionally lenient: any non-empty trimmed string passes.
func (r *IntakeRecord) Validate() error {
	if strings.TrimSpace(r.ContactName) == "" {
		return errors.New("contact name is required")
	}
	if strings.TrimSpace(r.Email) == "" {
		return ErrEmptyEmail
	}
	return nil
}

// SubscriptionStatus represents the billing state of a practice.
type SubscriptionStatus string

const (
	// SubscriptionPending indicates signup completed but payment has not settled.
	SubscriptionPending SubscriptionStatus = "pending"
	// SubscriptionActive indicates the practice has a settled subscription.
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionCanceled indicates the subscription was terminated.
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// DayHours describes the office hours for a single weekday.
type DayHours struct {
	Open  bool   `json:"open"`
	Start string `json:"start,omitempty"` // "09:00"
	End   string `json:"end,omitempty"`   // "17:00"
}

// WeekHours holds per-day office hours, Monday first.
type WeekHours [7]DayHours

// OpenDays returns the number of days marked open.
func (w WeekHours) OpenDays() int {
	n := 0
	for _, d := range w {
		if d.Open {
			n++
		}
	}
	return n
}

// PracticeProfile is the stored profile of a client practice. Created at signup
// submission, updated by the admin console (deploy touch) and by the billing
// collaborator (subscription status). Revision implements optimistic versioning:
// updates must present the revision they read or they are rejected.
type PracticeProfile struct {
	ID              string             `json:"id"` // slugified practice name + uniqueness suffix
	Name            string             `json:"name"`
	WebsiteURL      string             `json:"website_url"`
	ContactName     string             `json:"contact_name"`
	Email           string             `json:"email"`
	Phone           string             `json:"phone,omitempty"`
	Address         string             `json:"address,omitempty"`
	Hours           WeekHours          `json:"hours"`
	Services        []string           `json:"services"`
	Insurances      []string           `json:"insurances"`
	EmergencyPolicy string             `json:"emergency_policy"`
	InstallHelp     bool               `json:"install_help"`
	Status          SubscriptionStatus `json:"subscription_status"`
	Revision        int64              `json:"revision"`
	DeployedAt      *time.Time         `json:"deployed_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// QAPair is an operator-defined question/answer override for one practice.
// Keywords are matched before the built-in response table, in creation order.
type QAPair struct {
	ID         string    `json:"id"`
	PracticeID string    `json:"practice_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	CreatedAt  time.Time `json:"created_at"`
}

// PracticeStats holds aggregate counts rendered by the admin console.
type PracticeStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Pending  int `json:"pending"`
	Deployed int `json:"deployed"`
}

// ChatLogEntry is one persisted chat message keyed by practice.
// Written fire-and-forget; a failed write never fails the chat turn.
type ChatLogEntry struct {
	ID         string    `json:"id"`
	PracticeID string    `json:"practice_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// ContactRequest is a relayed contact-form submission.
type ContactRequest struct {
	Email    string `json:"email"`
	Question string `json:"question"`
}

// Validate checks a contact-form submission.
func (c *ContactRequest) Validate() error {
	if strings.TrimSpace(c.Email) == "" {
		return ErrEmptyEmail
	}
	if strings.TrimSpace(c.Question) == "" {
		return ErrEmptyMessage
	}
	if len(c.Question) > MaxContactQuestionLength {
		return ErrMessageTooLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
