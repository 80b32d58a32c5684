package ai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderGroq      = "groq"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Defaults applied by New.
const (
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 300
	DefaultChatMaxTokens = 1024
	DefaultRetries       = 2

	GroqBaseURL = "https://api.groq.com/openai/v1/"
)

var defaultModels = map[string][2]string{
	ProviderGroq:      {"llama-3.3-70b-versatile", "mixtral-8x7b-32768"},
	ProviderOpenAI:    {"gpt-4o-mini", "gpt-4o-mini"},
	ProviderAnthropic: {"claude-3-5-haiku-latest", "claude-3-5-haiku-latest"},
	ProviderGemini:    {"gemini-1.5-flash", "gemini-1.5-flash"},
}

// Options configures a Provider.
type Options struct {
	Provider string

	// Model serves completions, ChatModel serves chat. Empty picks the
	// provider default.
	Model     string
	ChatModel string

	APIKey  string
	BaseURL string

	Temperature   float64
	MaxTokens     int
	ChatMaxTokens int

	// Retries is the SDK retry count for transient failures.
	Retries int

	// Timeout bounds each request. Zero leaves it to the caller's context.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Provider is a completion and chat backend.
type Provider interface {
	CompletionService
	ChatService
	Name() string
	Close() error
}

// New creates the provider named by opts.Provider. An empty name means
// Groq, the OpenAI-compatible default.
func New(ctx context.Context, opts Options) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Provider))
	if name == "" {
		name = ProviderGroq
	}
	models, ok := defaultModels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrNoAPIKey)
	}
	if opts.Model == "" {
		opts.Model = models[0]
	}
	if opts.ChatModel == "" {
		opts.ChatModel = models[1]
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.ChatMaxTokens <= 0 {
		opts.ChatMaxTokens = DefaultChatMaxTokens
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	opts.Logger = opts.Logger.With("provider", name)

	switch name {
	case ProviderGroq:
		if opts.BaseURL == "" {
			opts.BaseURL = GroqBaseURL
		}
		return newOpenAI(name, opts), nil
	case ProviderOpenAI:
		return newOpenAI(name, opts), nil
	case ProviderAnthropic:
		return newAnthropic(opts), nil
	default:
		return newGemini(ctx, opts)
	}
}

// splitSystem separates leading system messages from the conversation.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	i := 0
	for ; i < len(messages) && messages[i].Role == RoleSystem; i++ {
		system = append(system, messages[i].Content)
	}
	return strings.Join(system, "\n\n"), messages[i:]
}
