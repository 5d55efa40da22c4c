package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/chatsg/chatsg/pkg/logger"
)

// AnthropicProvider is the concrete Provider backing every specialized
// agent (spec's LLM adapter contract, §6), since ChatSG is a
// Claude-oriented assistant.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider builds a provider from an API key and default model.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{client: &client, model: model}
}

func (p *AnthropicProvider) toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func (p *AnthropicProvider) model_(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return p.model
}

// Generate performs one non-streaming completion (spec §4.6's
// structured query-understanding step for the CRM agent uses this path).
func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	maxTokens := int64(opts.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model_(opts)),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(opts.Temperature),
		Messages:    p.toAnthropicMessages(messages),
	})
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// Stream performs a streaming completion; cancellation of ctx stops
// iteration and closes the returned channel (spec §5/§6).
func (p *AnthropicProvider) Stream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, error) {
	maxTokens := int64(opts.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}

	stream := p.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model_(opts)),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(opts.Temperature),
		Messages:    p.toAnthropicMessages(messages),
	})

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if delta.Delta.Text != "" {
					select {
					case out <- Chunk{Content: delta.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			logger.GetLogger().Error("anthropic stream error", "err", err)
		}
	}()

	return out, nil
}
