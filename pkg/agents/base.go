// Package agents implements the concrete Specialized Agents (spec
// component C6): analytical, creative, technical, and CRM-style agents,
// each satisfying pkg/agent.Agent and exposing keyword affinities used
// by the Selection Engine (C7).
package agents

import (
	"context"
	"strings"
	"time"

	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/llm"
	"github.com/chatsg/chatsg/pkg/session"
	"github.com/chatsg/chatsg/pkg/toolctx"
)

// base holds the fields every specialized agent shares: its capability
// descriptor, LLM provider, and keyword affinities, plus the
// streaming-or-not execution helper. toolLog is nil for agents that
// never invoke tools.
type base struct {
	info     agent.Info
	caps     agent.Capabilities
	keywords []string
	provider llm.Provider
	system   string
	toolLog  toolctx.Log
}

func (b *base) GetInfo() agent.Info                 { return b.info }
func (b *base) GetCapabilities() agent.Capabilities { return b.caps }
func (b *base) Keywords() []string                  { return b.keywords }
func (b *base) Cleanup() error                       { return nil }

// respond runs the shared single-turn LLM call, streaming tokens
// through in.Writer when present and always returning the full text as
// the final assistant message content (spec §4.5's streaming-content
// equivalence requirement).
func (b *base) respond(ctx context.Context, in agent.Input, opts llm.Options) (session.Message, error) {
	messages := []llm.Message{{Role: "system", Content: b.system}}
	if in.RecalledContext != "" {
		messages = append(messages, llm.Message{Role: "system", Content: "Relevant context:\n" + in.RecalledContext})
	}
	messages = append(messages, llm.Message{Role: "user", Content: in.UserInput})

	if in.Writer == nil {
		text, err := b.provider.Generate(ctx, messages, opts)
		if err != nil {
			return session.Message{}, err
		}
		return session.Message{Type: session.MessageAssistant, Content: text, Agent: b.info.Name, Timestamp: time.Now()}, nil
	}

	chunks, err := b.provider.Stream(ctx, messages, opts)
	if err != nil {
		return session.Message{}, err
	}

	var full strings.Builder
	for chunk := range chunks {
		full.WriteString(chunk.Content)
		if err := in.Writer.Token(chunk.Content); err != nil {
			break
		}
	}
	return session.Message{Type: session.MessageAssistant, Content: full.String(), Agent: b.info.Name, Timestamp: time.Now()}, nil
}
