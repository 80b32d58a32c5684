package ai

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicProvider struct {
	client anthropic.Client
	opts   Options
	logger *slog.Logger
}

func newAnthropic(opts Options) *anthropicProvider {
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
	return &anthropicProvider{
		client: anthropic.NewClient(reqOpts...),
		opts:   opts,
		logger: opts.Logger,
	}
}

func (p *anthropicProvider) Name() string { return ProviderAnthropic }

func (p *anthropicProvider) Close() error { return nil }

func (p *anthropicProvider) Generate(ctx context.Context, prompt string) (string, error) {
	msgs := []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))}
	return p.complete(ctx, p.opts.Model, p.opts.MaxTokens, "", msgs)
}

func (p *anthropicProvider) Send(ctx context.Context, messages []Message) (string, error) {
	system, rest := splitSystem(messages)
	msgs := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}
	return p.complete(ctx, p.opts.ChatModel, p.opts.ChatMaxTokens, system, msgs)
}

func (p *anthropicProvider) complete(ctx context.Context, model string, maxTokens int, system string, msgs []anthropic.MessageParam) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(p.opts.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		p.logger.Debug("message request failed", "model", model, "error", err)
		re := &RequestError{Provider: ProviderAnthropic, Err: err}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			re.StatusCode = apiErr.StatusCode
		}
		return "", re
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
