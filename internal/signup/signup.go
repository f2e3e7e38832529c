// Package signup implements the multi-step onboarding pipeline: step
// validation, practice profile creation, and the hand-off to checkout.
package signup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ChairsideAI/Chairside/internal/billing"
	"github.com/ChairsideAI/Chairside/internal/models"
	"github.com/ChairsideAI/Chairside/internal/store"
	"github.com/ChairsideAI/Chairside/internal/util"
)

// Signup steps, in order.
const (
	StepAccount  = 1
	StepPractice = 2
	StepPayment  = 3
)

// FormState is the accumulated signup form across steps. It is what the
// widget posts; nothing here is trusted until validated.
type FormState struct {
	// Step 1: account.
	ContactName string `json:"contact_name"`
	Email       string `json:"email"`

	// Step 2: practice.
	PracticeName    string           `json:"practice_name"`
	WebsiteURL      string           `json:"website_url"`
	Phone           string           `json:"phone"`
	Address         string           `json:"address"`
	Hours           models.WeekHours `json:"hours"`
	Services        []string         `json:"services"`
	Insurances      []string         `json:"insurances"`
	EmergencyPolicy string           `json:"emergency_policy"`
	InstallHelp     bool             `json:"install_help"`
}

// CanAdvance reports whether the form may move past the given step. Pure
// function of the form contents; no I/O.
func CanAdvance(step int, state FormState) bool {
	switch step {
	case StepAccount:
		return strings.TrimSpace(state.ContactName) != "" && strings.TrimSpace(state.Email) != ""
	case StepPractice:
		if strings.TrimSpace(state.PracticeName) == "" {
			return false
		}
		if state.Hours.OpenDays() == 0 {
			return false
		}
		if countNonEmpty(state.Services) == 0 {
			return false
		}
		if countNonEmpty(state.Insurances) == 0 {
			return false
		}
		return strings.TrimSpace(state.EmergencyPolicy) != ""
	case StepPayment:
		return CanAdvance(StepAccount, state) && CanAdvance(StepPractice, state)
	default:
		return false
	}
}

func countNonEmpty(items []string) int {
	n := 0
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

// Pipeline turns a completed form into a pending practice and a checkout
// redirect.
type Pipeline struct {
	store    store.Store
	checkout billing.CheckoutClient
}

// NewPipeline creates a signup pipeline over the given store and checkout
// client.
func NewPipeline(st store.Store, checkout billing.CheckoutClient) *Pipeline {
	return &Pipeline{store: st, checkout: checkout}
}

// Submit finalizes signup: it validates the full form, persists the practice
// with a pending subscription, and requests a checkout session. The returned
// URL is where the caller redirects the user. Any failure leaves the caller
// on the payment step; a persisted profile keeps its pending status until the
// provider confirms payment.
func (p *Pipeline) Submit(ctx context.Context, state FormState) (string, error) {
	if !CanAdvance(StepPayment, state) {
		return "", fmt.Errorf("signup form is incomplete")
	}

	profile := buildProfile(state)
	slog.Info("signup.Submit: creating practice", "practiceID", profile.ID, "name", profile.Name)
	if err := p.store.CreatePractice(profile); err != nil {
		slog.Error("signup.Submit: failed to persist practice", "error", err, "practiceID", profile.ID)
		return "", fmt.Errorf("failed to create practice: %w", err)
	}

	url, err := p.checkout.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		PracticeID:      profile.ID,
		ContactName:     profile.ContactName,
		Email:           profile.Email,
		PracticeName:    profile.Name,
		WebsiteURL:      profile.WebsiteURL,
		Phone:           profile.Phone,
		Address:         profile.Address,
		Hours:           profile.Hours,
		Services:        profile.Services,
		Insurances:      profile.Insurances,
		EmergencyPolicy: profile.EmergencyPolicy,
		InstallHelp:     profile.InstallHelp,
	})
	if err != nil {
		slog.Error("signup.Submit: checkout failed", "error", err, "practiceID", profile.ID)
		return "", fmt.Errorf("failed to start checkout: %w", err)
	}

	slog.Info("signup.Submit: checkout session created", "practiceID", profile.ID)
	return url, nil
}

// buildProfile maps the form onto a pending PracticeProfile. The ID is the
// slugified practice name plus a random suffix so two practices with the
// same name never collide.
func buildProfile(state FormState) models.PracticeProfile {
	now := time.Now()
	return models.PracticeProfile{
		ID:              util.SlugWithSuffix(state.PracticeName),
		Name:            strings.TrimSpace(state.PracticeName),
		WebsiteURL:      strings.TrimSpace(state.WebsiteURL),
		ContactName:     strings.TrimSpace(state.ContactName),
		Email:           strings.TrimSpace(state.Email),
		Phone:           strings.TrimSpace(state.Phone),
		Address:         strings.TrimSpace(state.Address),
		Hours:           state.Hours,
		Services:        trimAll(state.Services),
		Insurances:      trimAll(state.Insurances),
		EmergencyPolicy: strings.TrimSpace(state.EmergencyPolicy),
		InstallHelp:     state.InstallHelp,
		Status:          models.SubscriptionPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
