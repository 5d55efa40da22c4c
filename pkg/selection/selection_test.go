package selection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/session"
)

type stubAgent struct {
	name     string
	keywords []string
	caps     agent.Capabilities
}

func (s *stubAgent) ProcessMessage(ctx context.Context, in agent.Input) (session.Message, error) {
	return session.Message{}, nil
}
func (s *stubAgent) GetInfo() agent.Info                 { return agent.Info{Name: s.name} }
func (s *stubAgent) GetCapabilities() agent.Capabilities { return s.caps }
func (s *stubAgent) Cleanup() error                       { return nil }
func (s *stubAgent) Keywords() []string                   { return s.keywords }

type stubProvider struct {
	agents map[string]agent.Agent
}

func (p *stubProvider) GetAgent(name string) (agent.Agent, bool) {
	a, ok := p.agents[name]
	return a, ok
}

func (p *stubProvider) ListAgents() []agent.Capabilities {
	var out []agent.Capabilities
	for _, a := range p.agents {
		out = append(out, a.GetCapabilities())
	}
	return out
}

func newStubProvider() *stubProvider {
	return &stubProvider{agents: map[string]agent.Agent{
		"AnalyticalAgent": &stubAgent{name: "AnalyticalAgent", keywords: []string{"analyze", "statistics", "data"}, caps: agent.Capabilities{Name: "AnalyticalAgent", Features: []string{"data-analysis"}}},
		"CreativeAgent":   &stubAgent{name: "CreativeAgent", keywords: []string{"story", "poem"}, caps: agent.Capabilities{Name: "CreativeAgent", Features: []string{"storytelling"}}},
	}}
}

func TestForcedRoutingWins(t *testing.T) {
	engine := New(newStubProvider())
	sel := engine.Select("hello world", SessionContext{}, &RoutingMetadata{ForceAgent: true, AgentType: "CreativeAgent"})
	require.Equal(t, "CreativeAgent", sel.SelectedAgent)
	require.Equal(t, 1.0, sel.Confidence)
	require.Equal(t, "forced", sel.Reason)
}

func TestForcedRoutingMissingAgentFallsBack(t *testing.T) {
	engine := New(newStubProvider())
	sel := engine.Select("analyze these statistics", SessionContext{}, &RoutingMetadata{ForceAgent: true, AgentType: "MissingAgent"})
	require.Equal(t, "AnalyticalAgent", sel.SelectedAgent)
	require.NotEqual(t, 1.0, sel.Confidence)
}

func TestAgentLockOverridesKeywords(t *testing.T) {
	engine := New(newStubProvider())
	sel := engine.Select("analyze these statistics", SessionContext{
		Preferences: session.UserPreferences{AgentLock: true, PreferredAgent: "CreativeAgent"},
	}, nil)
	require.Equal(t, "CreativeAgent", sel.SelectedAgent)
	require.Equal(t, 0.95, sel.Confidence)
	require.True(t, sel.AgentLockUsed)
}

func TestKeywordRoutingWithContinuityBonus(t *testing.T) {
	engine := New(newStubProvider())
	sel := engine.Select("analyze these statistics", SessionContext{LastAgentUsed: "AnalyticalAgent"}, nil)
	require.Equal(t, "AnalyticalAgent", sel.SelectedAgent)
	require.Contains(t, sel.Reason, "continuity")
	require.LessOrEqual(t, sel.Confidence, 1.0)
}

func TestFallbackWithEmptyRegistry(t *testing.T) {
	engine := New(&stubProvider{agents: map[string]agent.Agent{}})
	sel := engine.Select("hello", SessionContext{}, nil)
	require.Equal(t, "", sel.SelectedAgent)
	require.Equal(t, 0.0, sel.Confidence)
}

func TestSelectionIsDeterministic(t *testing.T) {
	engine := New(newStubProvider())
	sel1 := engine.Select("analyze these statistics", SessionContext{}, nil)
	sel2 := engine.Select("analyze these statistics", SessionContext{}, nil)
	require.Equal(t, sel1, sel2)
}
