// Package genai provides the remote completion client used when the templated
// resolver has no answer. It wraps the OpenAI API in both blocking and
// streaming modes.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// Default generation parameters.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

// ErrNoChoicesReturned indicates the API returned an empty choice list.
var ErrNoChoicesReturned = errors.New("no choices returned")

// FallbackMessage is the fixed user-safe reply substituted for any upstream
// failure. The chat surface never shows a raw error to the end user.
const FallbackMessage = "I'm sorry, I'm having trouble answering right now. Please call the practice directly and the team will be happy to help."

// deltaStream is the minimal streaming read surface we need; satisfied by
// *ssestream.Stream[openai.ChatCompletionChunk] and by test fakes.
type deltaStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
}

// chatService defines the minimal interface for chat completions, kept small
// so tests can substitute a mock for the real OpenAI client.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
	CreateStreaming(ctx context.Context, params openai.ChatCompletionNewParams) deltaStream
}

// openaiChatService adapts the real OpenAI client to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

func (s *openaiChatService) CreateStreaming(ctx context.Context, params openai.ChatCompletionNewParams) deltaStream {
	return s.client.Chat.Completions.NewStreaming(ctx, params)
}

// ClientInterface is the completion surface consumed by the flow and API
// layers. Implementations must be safe for concurrent use.
type ClientInterface interface {
	// GenerateWithMessages performs one blocking completion over the given messages.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)

	// GenerateStreamWithMessages streams a completion, invoking onDelta for each
	// text increment as it arrives, and returns the accumulated full text.
	GenerateStreamWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, onDelta func(delta string)) (string, error)
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key (overrides $OPENAI_API_KEY).
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model used for completions.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		slog.Error("genai.NewClient: OPENAI_API_KEY not set")
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "temperature", cfg.Temperature, "maxTokens", cfg.MaxTokens)
	return &Client{
		chat:        &openaiChatService{client: cli},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (c *Client) params(messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	}
}

// GenerateWithMessages performs one blocking completion over the given messages.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	slog.Debug("genai.GenerateWithMessages: sending completion request", "messageCount", len(messages), "model", c.model)
	resp, err := c.chat.Create(ctx, c.params(messages))
	if err != nil {
		logUpstreamError("genai.GenerateWithMessages", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.GenerateWithMessages: empty choice list")
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("genai.GenerateWithMessages: completion received", "responseLength", len(content))
	return content, nil
}

// GenerateStreamWithMessages streams a completion, invoking onDelta for each
// text increment as it arrives, and returns the accumulated full text. The
// increments surface to the UI immediately; callers must not wait for the
// return value before rendering.
func (c *Client) GenerateStreamWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, onDelta func(delta string)) (string, error) {
	slog.Debug("genai.GenerateStreamWithMessages: opening stream", "messageCount", len(messages), "model", c.model)
	stream := c.chat.CreateStreaming(ctx, c.params(messages))
	var full string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full += delta
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		logUpstreamError("genai.GenerateStreamWithMessages", err)
		return full, fmt.Errorf("streaming completion failed: %w", err)
	}
	if closer, ok := stream.(*ssestream.Stream[openai.ChatCompletionChunk]); ok {
		if err := closer.Close(); err != nil {
			slog.Debug("genai.GenerateStreamWithMessages: stream close failed", "error", err)
		}
	}
	slog.Debug("genai.GenerateStreamWithMessages: stream complete", "responseLength", len(full))
	return full, nil
}

// logUpstreamError logs an upstream failure, distinguishing rate-limit and
// payment-required responses for logging purposes only; user-facing behavior
// is identical for every upstream failure.
func logUpstreamError(op string, err error) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			slog.Warn(op+": upstream rate limited", "status", apiErr.StatusCode, "error", err)
			return
		case http.StatusPaymentRequired:
			slog.Warn(op+": upstream payment required", "status", apiErr.StatusCode, "error", err)
			return
		default:
			slog.Error(op+": upstream API error", "status", apiErr.StatusCode, "error", err)
			return
		}
	}
	slog.Error(op+": request failed", "error", err)
}
