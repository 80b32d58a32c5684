package ai

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAIProvider talks to OpenAI and OpenAI-compatible endpoints such
// as Groq.
type openAIProvider struct {
	name   string
	client openai.Client
	opts   Options
	logger *slog.Logger
}

func newOpenAI(name string, opts Options) *openAIProvider {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.Retries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	return &openAIProvider{
		name:   name,
		client: openai.NewClient(reqOpts...),
		opts:   opts,
		logger: opts.Logger,
	}
}

func (p *openAIProvider) Name() string { return p.name }

func (p *openAIProvider) Close() error { return nil }

func (p *openAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)}
	return p.complete(ctx, p.opts.Model, p.opts.MaxTokens, msgs)
}

func (p *openAIProvider) Send(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	return p.complete(ctx, p.opts.ChatModel, p.opts.ChatMaxTokens, msgs)
}

func (p *openAIProvider) complete(ctx context.Context, model string, maxTokens int, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(p.opts.Temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	})
	if err != nil {
		p.logger.Debug("chat completion failed", "model", model, "error", err)
		return "", p.fail(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *openAIProvider) fail(err error) error {
	re := &RequestError{Provider: p.name, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		re.StatusCode = apiErr.StatusCode
	}
	return re
}
