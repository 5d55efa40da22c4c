package agents

import (
	"context"

	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/llm"
	"github.com/chatsg/chatsg/pkg/session"
)

// CreativeAgent writes stories, copy, and brainstorms ideas.
type CreativeAgent struct{ base }

// NewCreativeAgent builds the creative specialist.
func NewCreativeAgent(provider llm.Provider) *CreativeAgent {
	return &CreativeAgent{base: base{
		info: agent.Info{Name: "CreativeAgent", Version: "1.0", Type: agent.TypeIndividual},
		caps: agent.Capabilities{
			Name: "CreativeAgent", Version: "1.0", Type: agent.TypeIndividual,
			Features:       []string{"storytelling", "copywriting", "brainstorming"},
			SupportedModes: []string{"interactive"},
			SupportsTools:  false,
		},
		keywords: []string{"story", "poem", "creative", "brainstorm", "idea", "write", "imagine", "design"},
		provider: provider,
		system:   "You are a creative writing assistant. Be imaginative, vivid, and engaging.",
	}}
}

func (a *CreativeAgent) ProcessMessage(ctx context.Context, in agent.Input) (session.Message, error) {
	return a.respond(ctx, in, llm.Options{Temperature: 0.9, MaxTokens: 1024})
}
