package interfaces

import (
	"context"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// LLMService is a chat completion provider
type LLMService interface {
	// Chat generates a completion for the conversation. System messages become the system prompt.
	Chat(ctx context.Context, messages []Message) (string, error)

	// Name identifies the provider in logs and generated scenarios
	Name() string

	Close() error
}
