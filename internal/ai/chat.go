package ai

import (
	"context"
	"strings"
	"sync"
)

// Chat replies shown to the user.
const (
	DefaultSystemPrompt = "You are a helpful AI assistant."
	EmptyReply          = "Sorry, I couldn't get a response."
	FailureReply        = "Sorry, something went wrong while contacting the AI assistant. Please try again."
)

// Conversation keeps the history of one chat and prepends the system
// prompt to every request. It is safe for concurrent use; concurrent
// Sends are serialized.
type Conversation struct {
	svc    ChatService
	system string

	mu      sync.Mutex
	history []Message
}

// NewConversation starts an empty conversation. An empty system prompt
// uses DefaultSystemPrompt.
func NewConversation(svc ChatService, system string) *Conversation {
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &Conversation{svc: svc, system: system}
}

// Send asks the assistant about message. On failure it returns
// FailureReply together with the error, and the turn is not recorded.
func (c *Conversation) Send(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]Message, 0, len(c.history)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: c.system})
	msgs = append(msgs, c.history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: message})

	reply, err := c.svc.Send(ctx, msgs)
	if err != nil {
		return FailureReply, err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = EmptyReply
	}
	c.history = append(c.history,
		Message{Role: RoleUser, Content: message},
		Message{Role: RoleAssistant, Content: reply},
	)
	return reply, nil
}

// History returns a copy of the recorded turns, without the system prompt.
func (c *Conversation) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

// Reset forgets the history.
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}
