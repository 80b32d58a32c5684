// Package ai defines the completion and chat contracts the editor uses
// and the providers that implement them.
//
// Providers return the model's raw text. Callers that want code strip
// fences and markers with ExtractCode.
package ai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrRequestFailed matches every backend failure: unreachable
	// service, non-2xx status, or timeout.
	ErrRequestFailed = errors.New("ai request failed")

	// ErrNoAPIKey indicates a provider without credentials.
	ErrNoAPIKey = errors.New("ai: no API key configured")

	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("ai: unknown provider")
)

// RequestError is a backend failure. It matches ErrRequestFailed.
type RequestError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s request failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Is reports ErrRequestFailed as a match.
func (e *RequestError) Is(target error) bool { return target == ErrRequestFailed }

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionService turns a prompt into suggestion text.
type CompletionService interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChatService answers a conversation. Messages are in order; a system
// message, if any, comes first.
type ChatService interface {
	Send(ctx context.Context, messages []Message) (string, error)
}

// CompletionFunc adapts a function to CompletionService.
type CompletionFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f CompletionFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ChatFunc adapts a function to ChatService.
type ChatFunc func(ctx context.Context, messages []Message) (string, error)

// Send calls f.
func (f ChatFunc) Send(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

// CursorMarker is the placeholder the completion prompt uses for the
// cursor. Models sometimes echo it back.
const CursorMarker = "|CURSOR|"

var fenced = regexp.MustCompile("```\\w*\\n?([\\s\\S]*?)```")

// ExtractCode cleans model output for insertion: carriage returns and
// cursor markers are removed and, if the text contains a fenced block,
// only the first block's body is kept. The result is trimmed.
func ExtractCode(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	if strings.Contains(s, "```") {
		if m := fenced.FindStringSubmatch(s); m != nil {
			s = strings.TrimSpace(m[1])
		}
	}
	s = strings.ReplaceAll(s, CursorMarker, "")
	return strings.TrimSpace(s)
}
