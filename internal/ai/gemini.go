package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type geminiProvider struct {
	client *genai.Client
	opts   Options
	logger *slog.Logger
}

func newGemini(ctx context.Context, opts Options) (*geminiProvider, error) {
	clientOpts := []option.ClientOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.BaseURL))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &geminiProvider{client: client, opts: opts, logger: opts.Logger}, nil
}

func (p *geminiProvider) Name() string { return ProviderGemini }

func (p *geminiProvider) Close() error { return p.client.Close() }

func (p *geminiProvider) model(name string, maxTokens int) *genai.GenerativeModel {
	m := p.client.GenerativeModel(name)
	m.SetTemperature(float32(p.opts.Temperature))
	m.SetMaxOutputTokens(int32(maxTokens))
	return m
}

func (p *geminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	resp, err := p.model(p.opts.Model, p.opts.MaxTokens).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", p.fail(err)
	}
	return geminiText(resp), nil
}

func (p *geminiProvider) Send(ctx context.Context, messages []Message) (string, error) {
	system, rest := splitSystem(messages)
	if len(rest) == 0 || rest[len(rest)-1].Role != RoleUser {
		return "", &RequestError{Provider: ProviderGemini, Err: errors.New("conversation must end with a user message")}
	}

	m := p.model(p.opts.ChatModel, p.opts.ChatMaxTokens)
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	cs := m.StartChat()
	for _, msg := range rest[:len(rest)-1] {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}

	ctx, cancel := p.bound(ctx)
	defer cancel()
	resp, err := cs.SendMessage(ctx, genai.Text(rest[len(rest)-1].Content))
	if err != nil {
		return "", p.fail(err)
	}
	return geminiText(resp), nil
}

func (p *geminiProvider) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.Timeout > 0 {
		return context.WithTimeout(ctx, p.opts.Timeout)
	}
	return ctx, func() {}
}

func (p *geminiProvider) fail(err error) error {
	p.logger.Debug("gemini request failed", "error", err)
	re := &RequestError{Provider: ProviderGemini, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		re.StatusCode = gerr.Code
	}
	return re
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
