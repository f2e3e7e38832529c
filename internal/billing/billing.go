// Package billing talks to the subscription checkout provider. It creates
// hosted checkout sessions during signup and validates the redirect URLs the
// provider hands back.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ChairsideAI/Chairside/internal/models"
)

// DefaultURLPrefix is the only redirect destination accepted from the
// provider unless overridden.
const DefaultURLPrefix = "https://checkout.stripe.com/"

const defaultRequestTimeout = 15 * time.Second

// ErrInvalidCheckoutURL is returned when the provider responds with a
// redirect URL outside the allowed prefix.
var ErrInvalidCheckoutURL = fmt.Errorf("checkout URL does not match the allowed prefix")

// CheckoutRequest describes the session to create. The provider receives the
// full onboarding picture: who is signing up, the practice being configured,
// and whether they want installation help.
type CheckoutRequest struct {
	PracticeID  string `json:"practice_id"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email"`

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

// CheckoutClient creates hosted checkout sessions.
type CheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}

// Opts holds configuration for the checkout client.
type Opts struct {
	// Endpoint is the provider URL that creates checkout sessions.
	Endpoint string
	// APIKey authenticates requests to the provider.
	APIKey string
	// URLPrefix overrides the accepted redirect prefix.
	URLPrefix string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
}

// Option defines a configuration option for the checkout client.
type Option func(*Opts)

// WithEndpoint sets the provider endpoint.
func WithEndpoint(url string) Option {
	return func(o *Opts) { o.Endpoint = url }
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithURLPrefix sets the accepted redirect URL prefix.
func WithURLPrefix(prefix string) Option {
	return func(o *Opts) { o.URLPrefix = prefix }
}

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client is the HTTP implementation of CheckoutClient.
type Client struct {
	endpoint   string
	apiKey     string
	urlPrefix  string
	httpClient *http.Client
}

// NewClient creates a checkout client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("checkout endpoint not set")
	}
	if cfg.URLPrefix == "" {
		cfg.URLPrefix = DefaultURLPrefix
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	slog.Debug("billing.NewClient", "endpoint", cfg.Endpoint, "APIKey_set", cfg.APIKey != "")
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		urlPrefix:  cfg.URLPrefix,
		httpClient: cfg.HTTPClient,
	}, nil
}

// CreateCheckoutSession asks the provider for a hosted checkout session and
// returns its redirect URL. URLs outside the allowed prefix are rejected; the
// user is never redirected to an unvetted destination.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode checkout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build checkout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("billing.CreateCheckoutSession request failed", "error", err, "practiceID", req.PracticeID)
		return "", fmt.Errorf("checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Error("billing.CreateCheckoutSession provider error", "status", resp.StatusCode, "practiceID", req.PracticeID)
		return "", fmt.Errorf("checkout provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode checkout response: %w", err)
	}
	if !strings.HasPrefix(out.URL, c.urlPrefix) {
		slog.Error("billing.CreateCheckoutSession rejected URL", "practiceID", req.PracticeID)
		return "", ErrInvalidCheckoutURL
	}

	slog.Debug("billing.CreateCheckoutSession succeeded", "practiceID", req.PracticeID)
	return out.URL, nil
}
