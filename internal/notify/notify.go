// Package notify sends SMS alerts to the operations team when the guided
// intake captures a new lead.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/ChairsideAI/Chairside/internal/models"
)

// LeadNotifier announces newly captured leads and relays contact-form
// submissions to the operations team.
type LeadNotifier interface {
	NotifyLead(ctx context.Context, rec models.IntakeRecord) error
	NotifyContact(ctx context.Context, req models.ContactRequest) error
}

// Opts holds configuration options for the Twilio SMS client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	ToNumber   string
}

// Option defines a configuration option for the Twilio SMS client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// WithToNumber sets the operations number that receives lead alerts.
func WithToNumber(to string) Option {
	return func(o *Opts) { o.ToNumber = to }
}

// Client sends lead alerts over Twilio SMS.
type Client struct {
	client     *twilio.RestClient
	fromNumber string
	toNumber   string
}

// NewClient creates a Twilio SMS notifier. Credentials fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER, and
// LEAD_ALERT_NUMBER environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.ToNumber == "" {
		cfg.ToNumber = os.Getenv("LEAD_ALERT_NUMBER")
	}
	slog.Debug("notify client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "",
		"ToNumber_set", cfg.ToNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" || cfg.ToNumber == "" {
		return nil, fmt.Errorf("from and to numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return &Client{
		client:     client,
		fromNumber: cfg.FromNumber,
		toNumber:   cfg.ToNumber,
	}, nil
}

// NotifyLead sends one SMS summarizing the captured lead.
func (c *Client) NotifyLead(ctx context.Context, rec models.IntakeRecord) error {
	body := fmt.Sprintf("New Chairside lead: %s <%s> %s", rec.ContactName, rec.Email, rec.WebsiteURL)

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(c.toNumber)
	params.SetFrom(c.fromNumber)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("notify.NotifyLead failed", "error", err, "leadID", rec.ID)
		return fmt.Errorf("failed to send lead alert: %w", err)
	}
	slog.Info("notify.NotifyLead sent", "leadID", rec.ID)
	return nil
}

// NotifyContact relays one contact-form submission as an SMS.
func (c *Client) NotifyContact(ctx context.Context, req models.ContactRequest) error {
	body := fmt.Sprintf("Chairside contact request from %s: %s", req.Email, req.Question)

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(c.toNumber)
	params.SetFrom(c.fromNumber)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("notify.NotifyContact failed", "error", err)
		return fmt.Errorf("failed to relay contact request: %w", err)
	}
	slog.Info("notify.NotifyContact sent")
	return nil
}

// NoopNotifier drops alerts; used when Twilio credentials are absent.
type NoopNotifier struct{}

// NotifyLead logs and discards the alert.
func (NoopNotifier) NotifyLead(ctx context.Context, rec models.IntakeRecord) error {
	slog.Debug("notify: lead alert skipped, notifier not configured", "leadID", rec.ID)
	return nil
}

// NotifyContact logs and discards the relay.
func (NoopNotifier) NotifyContact(ctx context.Context, req models.ContactRequest) error {
	slog.Debug("notify: contact relay skipped, notifier not configured")
	return nil
}
