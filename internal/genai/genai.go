// Package genai wraps the OpenAI-compatible chat completion API used to
// generate counseling replies.
//
// Deployments may target any endpoint speaking the OpenAI wire protocol
// (DeepSeek by default), so the client accepts a configurable base URL.
// Callers consume a single normalized result shape: the reply text.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default configuration values.
const (
	DefaultModel               = "deepseek-chat"
	DefaultTemperature         = 0.7
	DefaultContextWindow       = 2048
	DefaultMaxCompletionTokens = 768
	DefaultTimeout             = 30 * time.Second
)

// Error variables for better error handling and testability
var (
	ErrAPIKeyNotSet      = errors.New("API key not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// openaiChatService adapts the openai-go completion service to chatService,
// applying the per-call request timeout.
type openaiChatService struct {
	svc     openai.ChatCompletionService
	timeout time.Duration
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	var reqOpts []option.RequestOption
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(s.timeout))
	}
	return s.svc.New(ctx, params, reqOpts...)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey              string
	BaseURL             string
	Model               string
	Temperature         float64
	ContextWindow       int
	MaxCompletionTokens int
	Timeout             time.Duration
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option { return func(o *Opts) { o.APIKey = key } }

// WithBaseURL sets the API base URL for OpenAI-compatible endpoints.
func WithBaseURL(url string) Option { return func(o *Opts) { o.BaseURL = url } }

// WithModel sets the model identifier.
func WithModel(model string) Option { return func(o *Opts) { o.Model = model } }

// WithTemperature sets the base sampling temperature.
func WithTemperature(t float64) Option { return func(o *Opts) { o.Temperature = t } }

// WithContextWindow caps the estimated input tokens sent per call. History
// messages beyond the window are dropped oldest-first.
func WithContextWindow(n int) Option { return func(o *Opts) { o.ContextWindow = n } }

// WithMaxCompletionTokens caps the generated output length.
func WithMaxCompletionTokens(n int) Option { return func(o *Opts) { o.MaxCompletionTokens = n } }

// WithTimeout sets the per-call request deadline.
func WithTimeout(d time.Duration) Option { return func(o *Opts) { o.Timeout = d } }

// ClientInterface defines the contract the dialogue flow depends on.
type ClientInterface interface {
	// GenerateWithMessages generates a reply for an ordered message list at
	// the given sampling temperature.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error)
	// Temperature returns the configured base sampling temperature.
	Temperature() float64
}

// noopClient satisfies ClientInterface without an upstream API. Used when
// mock mode short-circuits generation ahead of any completion call.
type noopClient struct {
	temperature float64
}

// NoopClient returns a client whose generation always fails fast. Mock
// deployments only consult its temperature.
func NoopClient(temperature float64) ClientInterface {
	return &noopClient{temperature: temperature}
}

func (n *noopClient) Temperature() float64 { return n.temperature }

func (n *noopClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error) {
	return "", ErrAPIKeyNotSet
}

// Client wraps the chat completion service for generating counseling replies.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	contextWindow       int
	maxCompletionTokens int
}

// NewClient initializes a GenAI client from options. The API key falls back
// to the OPENAI_API_KEY environment variable; a missing key is an error.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:               DefaultModel,
		Temperature:         DefaultTemperature,
		ContextWindow:       DefaultContextWindow,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
		Timeout:             DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai.NewClient: %w", ErrAPIKeyNotSet)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(clientOpts...)
	slog.Debug("genai.NewClient: client configured", "model", cfg.Model, "baseURL_set", cfg.BaseURL != "", "timeout", cfg.Timeout)

	return &Client{
		chat:                &openaiChatService{svc: cli.Chat.Completions, timeout: cfg.Timeout},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		contextWindow:       cfg.ContextWindow,
		maxCompletionTokens: cfg.MaxCompletionTokens,
	}, nil
}

// Temperature returns the configured base sampling temperature.
func (c *Client) Temperature() float64 {
	return c.temperature
}

// GenerateWithMessages calls the chat completion API with the given message
// list and temperature, returning the normalized reply text.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error) {
	messages = c.fitContextWindow(messages)

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(temperature),
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxCompletionTokens))
	}

	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("genai.GenerateWithMessages: chat completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		slog.Error("genai.GenerateWithMessages: empty choices in response", "model", c.model)
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// fitContextWindow drops the oldest history messages when the estimated
// input size exceeds the configured context window. The first (system) and
// last (current user) messages are always retained. Token usage is
// estimated at one token per rune, which is conservative for the mostly
// Chinese corpus this service handles.
func (c *Client) fitContextWindow(messages []openai.ChatCompletionMessageParamUnion) []openai.ChatCompletionMessageParamUnion {
	if c.contextWindow <= 0 || len(messages) <= 2 {
		return messages
	}
	total := 0
	sizes := make([]int, len(messages))
	for i, m := range messages {
		sizes[i] = messageRuneCount(m)
		total += sizes[i]
	}
	if total <= c.contextWindow {
		return messages
	}

	kept := []openai.ChatCompletionMessageParamUnion{messages[0]}
	budget := c.contextWindow - sizes[0] - sizes[len(messages)-1]
	// Walk history newest-first, keeping what fits, then restore order.
	var history []openai.ChatCompletionMessageParamUnion
	for i := len(messages) - 2; i >= 1; i-- {
		if budget-sizes[i] < 0 {
			break
		}
		budget -= sizes[i]
		history = append(history, messages[i])
	}
	for i := len(history) - 1; i >= 0; i-- {
		kept = append(kept, history[i])
	}
	kept = append(kept, messages[len(messages)-1])
	slog.Debug("genai.fitContextWindow: trimmed history to fit context window", "before", len(messages), "after", len(kept), "window", c.contextWindow)
	return kept
}

// messageRuneCount estimates the size of one message union by the rune
// count of its textual content.
func messageRuneCount(m openai.ChatCompletionMessageParamUnion) int {
	if m.OfSystem != nil {
		return utf8.RuneCountInString(m.OfSystem.Content.OfString.Value)
	}
	if m.OfUser != nil {
		return utf8.RuneCountInString(m.OfUser.Content.OfString.Value)
	}
	if m.OfAssistant != nil {
		return utf8.RuneCountInString(m.OfAssistant.Content.OfString.Value)
	}
	return 0
}
