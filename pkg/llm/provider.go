package llm

import (
	"context"
)

// Message represents a chat message in a provider-agnostic format
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// StreamEvent is one element of a streamed completion. Exactly one terminal
// event is produced per stream: Done=true on normal completion, Err!=nil on
// failure. Content carries an incremental text delta and may be empty on the
// terminal event.
type StreamEvent struct {
	Content string
	Done    bool
	Err     error
}

// Option allows for optional parameters like Temperature, MaxTokens, etc.
type Option func(*Options)

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // Override default model
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

// LLMProvider defines the contract for any LLM backend
type LLMProvider interface {
	// Chat sends a chat history to the model and returns the full response
	Chat(ctx context.Context, history []Message, options ...Option) (string, error)

	// ChatStream sends a chat history and returns a channel of incremental
	// deltas. A connect/auth failure is reported synchronously; failures
	// after the stream opened arrive as a terminal StreamEvent. The channel
	// is closed after the terminal event. Cancelling ctx stops production.
	ChatStream(ctx context.Context, history []Message, options ...Option) (<-chan StreamEvent, error)
}
