package signup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ChairsideAI/Chairside/internal/billing"
	"github.com/ChairsideAI/Chairside/internal/models"
	"github.com/ChairsideAI/Chairside/internal/store"
)

func completeForm() FormState {
	var hours models.WeekHours
	hours[0] = models.DayHours{Open: true, Start: "09:00", End: "17:00"}
	hours[2] = models.DayHours{Open: true, Start: "09:00", End: "17:00"}
	return FormState{
		ContactName:     "Dana Reyes",
		Email:           "dana@brightsmiles.example.com",
		PracticeName:    "Bright Smiles Dental",
		WebsiteURL:      "https://brightsmiles.example.com",
		Phone:           "555-0100",
		Hours:           hours,
		Services:        []string{"cleanings", "whitening"},
		Insurances:      []string{"Delta Dental"},
		EmergencyPolicy: "Call our emergency line any time.",
		InstallHelp:     true,
	}
}

func TestCanAdvanceAccountStep(t *testing.T) {
	state := completeForm()
	if !CanAdvance(StepAccount, state) {
		t.Error("complete account step must advance")
	}

	state.Email = "  "
	if CanAdvance(StepAccount, state) {
		t.Error("blank email must not advance")
	}

	state = completeForm()
	state.ContactName = ""
	if CanAdvance(StepAccount, state) {
		t.Error("blank contact name must not advance")
	}
}

func TestCanAdvancePracticeStep(t *testing.T) {
	state := completeForm()
	if !CanAdvance(StepPractice, state) {
		t.Error("complete practice step must advance")
	}

	// Zero open days blocks the step regardless of other fields.
	state = completeForm()
	state.Hours = models.WeekHours{}
	if CanAdvance(StepPractice, state) {
		t.Error("zero open days must not advance")
	}

	state = completeForm()
	state.Services = []string{"  ", ""}
	if CanAdvance(StepPractice, state) {
		t.Error("no non-empty service must not advance")
	}

	state = completeForm()
	state.Insurances = nil
	if CanAdvance(StepPractice, state) {
		t.Error("no insurance must not advance")
	}

	state = completeForm()
	state.EmergencyPolicy = ""
	if CanAdvance(StepPractice, state) {
		t.Error("empty emergency policy must not advance")
	}
}

func TestCanAdvanceUnknownStep(t *testing.T) {
	if CanAdvance(0, completeForm()) || CanAdvance(4, completeForm()) {
		t.Error("unknown steps must not advance")
	}
}

// fakeCheckout records requests and returns a canned URL or error.
type fakeCheckout struct {
	url  string
	err  error
	seen []billing.CheckoutRequest
}

func (f *fakeCheckout) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (string, error) {
	f.seen = append(f.seen, req)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func TestSubmitCreatesPendingPracticeAndRedirect(t *testing.T) {
	st := store.NewInMemoryStore()
	checkout := &fakeCheckout{url: "https://checkout.stripe.com/c/pay/cs_123"}
	p := NewPipeline(st, checkout)

	url, err := p.Submit(context.Background(), completeForm())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if url != checkout.url {
		t.Errorf("unexpected redirect URL %q", url)
	}

	practices, _ := st.ListPractices()
	if len(practices) != 1 {
		t.Fatalf("expected one practice, got %d", len(practices))
	}
	created := practices[0]
	if created.Status != models.SubscriptionPending {
		t.Errorf("expected pending subscription, got %s", created.Status)
	}
	if !strings.HasPrefix(created.ID, "bright-smiles-dental-") {
		t.Errorf("expected slug-prefixed ID, got %q", created.ID)
	}
	if len(checkout.seen) != 1 || checkout.seen[0].PracticeID != created.ID {
		t.Errorf("checkout must receive the new practice ID, got %+v", checkout.seen)
	}

	// The provider sees the full onboarding picture, not just an ID and email.
	req := checkout.seen[0]
	if req.ContactName != "Dana Reyes" || req.Email != "dana@brightsmiles.example.com" {
		t.Errorf("checkout must carry the account info, got %+v", req)
	}
	if req.PracticeName != "Bright Smiles Dental" || req.WebsiteURL != "https://brightsmiles.example.com" || req.Phone != "555-0100" {
		t.Errorf("checkout must carry the practice details, got %+v", req)
	}
	if req.Hours.OpenDays() != 2 || len(req.Services) != 2 || len(req.Insurances) != 1 {
		t.Errorf("checkout must carry hours, services, and insurances, got %+v", req)
	}
	if req.EmergencyPolicy == "" {
		t.Error("checkout must carry the emergency policy")
	}
	if !req.InstallHelp {
		t.Error("checkout must carry the install-help flag")
	}
}

func TestSubmitSlugUniqueness(t *testing.T) {
	st := store.NewInMemoryStore()
	checkout := &fakeCheckout{url: "https://checkout.stripe.com/c/pay/cs_123"}
	p := NewPipeline(st, checkout)

	if _, err := p.Submit(context.Background(), completeForm()); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	if _, err := p.Submit(context.Background(), completeForm()); err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}

	practices, _ := st.ListPractices()
	if len(practices) != 2 {
		t.Fatalf("expected two practices, got %d", len(practices))
	}
	if practices[0].ID == practices[1].ID {
		t.Errorf("same practice name must yield distinct IDs, both %q", practices[0].ID)
	}
}

func TestSubmitIncompleteFormRejected(t *testing.T) {
	st := store.NewInMemoryStore()
	checkout := &fakeCheckout{url: "https://checkout.stripe.com/c/pay/cs_123"}
	p := NewPipeline(st, checkout)

	state := completeForm()
	state.Hours = models.WeekHours{}
	if _, err := p.Submit(context.Background(), state); err == nil {
		t.Fatal("expected error for incomplete form")
	}
	if len(checkout.seen) != 0 {
		t.Error("checkout must not run for an incomplete form")
	}
	practices, _ := st.ListPractices()
	if len(practices) != 0 {
		t.Error("no practice may be created for an incomplete form")
	}
}

func TestSubmitCheckoutFailureLeavesPending(t *testing.T) {
	st := store.NewInMemoryStore()
	checkout := &fakeCheckout{err: errors.New("provider down")}
	p := NewPipeline(st, checkout)

	_, err := p.Submit(context.Background(), completeForm())
	if err == nil {
		t.Fatal("expected error when checkout fails")
	}

	// The profile persists with its pending status; the user retries payment.
	practices, _ := st.ListPractices()
	if len(practices) != 1 {
		t.Fatalf("expected the practice to persist, got %d", len(practices))
	}
	if practices[0].Status != models.SubscriptionPending {
		t.Errorf("expected pending status after checkout failure, got %s", practices[0].Status)
	}
}
