package llm

import (
	"context"

	"github.com/counselhq/counsel/internal/chat"
)

// ChatRequest describes one conversational turn sent to a provider. Messages
// is the conversation so far, ending with the user message being answered.
type ChatRequest struct {
	Messages  []chat.Message
	Persona   string
	MaxTokens int
}

// Provider is a streaming chat backend. StreamChat delivers content deltas to
// onDelta in arrival order and returns the full accumulated reply. When it
// returns an error, the string still carries whatever content arrived before
// the failure so callers can preserve partial output. An error returned by
// onDelta stops the stream and is surfaced unchanged.
type Provider interface {
	Name() string
	StreamChat(ctx context.Context, req ChatRequest, onDelta func(delta string) error) (string, error)
}
