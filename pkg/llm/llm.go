// Package llm defines the external LLM adapter contract (spec §6) and a
// concrete, non-mocked implementation against the Anthropic API.
package llm

import "context"

// Message is one turn in the conversation passed to the provider.
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Options configures one generate/stream call.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Chunk is one piece of a streamed response.
type Chunk struct {
	Content string
}

// Provider is the LLM adapter contract every specialized agent calls
// through (spec §6): generate (non-streaming) and stream must both
// cooperate with context cancellation by stopping iteration.
type Provider interface {
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)
	Stream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, error)
}
