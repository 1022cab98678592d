// Package provider defines the LLM capabilities ragchat depends on.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Client names a provider implementation.
type Client string

const (
	OpenAI Client = "openai"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamResponse is one item of a streamed generation. Exactly one item with
// Done or Error set ends the stream.
type StreamResponse struct {
	Content string
	Done    bool
	Error   error
}

// Provider is the interface that all LLM implementations must satisfy.
type Provider interface {
	// Chat returns the full completion for messages.
	Chat(ctx context.Context, messages []Message) (string, error)
	// StreamChat returns a channel of incremental tokens. Cancelling ctx
	// aborts the upstream request and closes the channel.
	StreamChat(ctx context.Context, messages []Message) (<-chan StreamResponse, error)
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ParseClient maps a configuration value to a Client.
func ParseClient(s string) (Client, error) {
	switch c := Client(strings.ToLower(strings.TrimSpace(s))); c {
	case OpenAI, "":
		return OpenAI, nil
	default:
		return "", fmt.Errorf("unsupported LLM provider %q", s)
	}
}
