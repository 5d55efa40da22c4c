package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatsg/chatsg/config"
	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/memory"
	"github.com/chatsg/chatsg/pkg/selection"
	"github.com/chatsg/chatsg/pkg/session"
	"github.com/chatsg/chatsg/pkg/stream"
)

type stubAgent struct {
	name     string
	keywords []string
}

func (a *stubAgent) ProcessMessage(ctx context.Context, in agent.Input) (session.Message, error) {
	if in.Writer != nil {
		_ = in.Writer.Token("hello from " + a.name)
	}
	return session.Message{Type: session.MessageAssistant, Content: "hello from " + a.name, Agent: a.name, Timestamp: time.Now()}, nil
}
func (a *stubAgent) GetInfo() agent.Info { return agent.Info{Name: a.name, Type: agent.TypeIndividual} }
func (a *stubAgent) GetCapabilities() agent.Capabilities {
	return agent.Capabilities{Name: a.name, Features: a.keywords}
}
func (a *stubAgent) Cleanup() error  { return nil }
func (a *stubAgent) Keywords() []string { return a.keywords }

type stubProvider struct {
	agents map[string]*stubAgent
}

func (p *stubProvider) GetOrCreate(agentType string) (agent.Agent, error) {
	return p.agents[agentType], nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *session.Store) {
	t.Helper()
	store, err := session.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mem, err := memory.New(config.MemoryConfig{Backend: "noop"})
	require.NoError(t, err)

	registry := agent.NewRegistry()
	technical := &stubAgent{name: "TechnicalAgent", keywords: []string{"code", "bug"}}
	require.NoError(t, registry.RegisterAgent(technical))

	provider := &stubProvider{agents: map[string]*stubAgent{"TechnicalAgent": technical}}
	engine := selection.New(registry)

	cfg := config.OrchestratorConfig{}
	cfg.SetDefaults()

	return New(store, mem, registry, provider, engine, cfg), store
}

func TestHandleSyncPersistsBothTurnsAndRoutesByKeyword(t *testing.T) {
	o, store := newTestOrchestrator(t)
	ctx := context.Background()

	resp, err := o.HandleSync(ctx, Request{SessionID: "", UserInput: "I have a bug in my code"})
	require.NoError(t, err)
	require.Equal(t, "TechnicalAgent", resp.Message.Agent)

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	page, err := store.ReadMessages(ctx, sessions[0].ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	require.Equal(t, session.MessageUser, page.Messages[0].Type)
	require.Equal(t, session.MessageAssistant, page.Messages[1].Type)
}

func TestHandleStreamingEmitsExactlyOneTerminal(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	cw := o.HandleStreaming(ctx, Request{SessionID: "", UserInput: "fix this bug"})

	terminals := 0
	for ev := range cw.Events() {
		if ev.Type == "done" || ev.Type == "error" {
			terminals++
		}
	}
	require.Equal(t, 1, terminals)
}

// blockingAgent returns only once ctx is cancelled or done is closed,
// recording which happened first so tests can assert cancellation.
type blockingAgent struct {
	name      string
	release   chan struct{}
	cancelled chan struct{}
}

func (a *blockingAgent) ProcessMessage(ctx context.Context, in agent.Input) (session.Message, error) {
	select {
	case <-a.release:
		return session.Message{Type: session.MessageAssistant, Content: "slow reply", Agent: a.name, Timestamp: time.Now()}, nil
	case <-ctx.Done():
		close(a.cancelled)
		return session.Message{}, ctx.Err()
	}
}
func (a *blockingAgent) GetInfo() agent.Info { return agent.Info{Name: a.name, Type: agent.TypeIndividual} }
func (a *blockingAgent) GetCapabilities() agent.Capabilities {
	return agent.Capabilities{Name: a.name}
}
func (a *blockingAgent) Cleanup() error      { return nil }
func (a *blockingAgent) Keywords() []string { return nil }

func TestExecuteParallelCancelsLosingAgent(t *testing.T) {
	store, err := session.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mem, err := memory.New(config.MemoryConfig{Backend: "noop"})
	require.NoError(t, err)

	fast := &stubAgent{name: "FastAgent"}
	slow := &blockingAgent{name: "SlowAgent", release: make(chan struct{}), cancelled: make(chan struct{})}

	registry := agent.NewRegistry()
	require.NoError(t, registry.RegisterAgent(fast))

	provider := &mixedProvider{fast: fast, slow: slow}
	engine := selection.New(registry)
	cfg := config.OrchestratorConfig{FallbackStrategy: config.FallbackParallel}
	cfg.SetDefaults()

	o := New(store, mem, registry, provider, engine, cfg)

	msg, usedAgent, err := o.executeParallel(context.Background(), Request{UserInput: "hi"}, "s1", noopStreamFor(t), "", []string{"FastAgent", "SlowAgent"})
	require.NoError(t, err)
	require.Equal(t, "FastAgent", usedAgent)
	require.Equal(t, "hello from FastAgent", msg.Content)

	select {
	case <-slow.cancelled:
	case <-time.After(time.Second):
		t.Fatal("losing agent was never cancelled after a winner was picked")
	}
}

type mixedProvider struct {
	fast *stubAgent
	slow *blockingAgent
}

func (p *mixedProvider) GetOrCreate(agentType string) (agent.Agent, error) {
	if agentType == p.fast.name {
		return p.fast, nil
	}
	return p.slow, nil
}

func TestSequentialFallbackGivesEachCandidateAFreshTimeout(t *testing.T) {
	store, err := session.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mem, err := memory.New(config.MemoryConfig{Backend: "noop"})
	require.NoError(t, err)

	registry := agent.NewRegistry()
	// first burns most of the per-request budget before failing; if the
	// fallback loop shared one context across candidates instead of
	// giving each its own fresh timeout, second would see only a sliver
	// of time left on the clock.
	first := &slowFailingAgent{name: "FailsFirst", sleep: 60 * time.Millisecond}
	second := &deadlineProbeAgent{name: "ChecksDeadline"}
	require.NoError(t, registry.RegisterAgent(first))

	provider := &sequentialProvider{first: first, second: second}
	engine := selection.New(registry)
	cfg := config.OrchestratorConfig{FallbackStrategy: config.FallbackSequential, RequestTimeoutMs: 100}
	cfg.SetDefaults()

	o := New(store, mem, registry, provider, engine, cfg)

	_, usedAgent, err := o.executeWithFallback(context.Background(), Request{UserInput: "hi"}, "s1", noopStreamFor(t), "", selection.Selection{SelectedAgent: "FailsFirst", FallbackAgents: []string{"ChecksDeadline"}})
	require.NoError(t, err)
	require.Equal(t, "ChecksDeadline", usedAgent)
	require.True(t, second.sawFreshDeadline, "second candidate should see a fresh ~100ms budget, not whatever first left over")
}

type slowFailingAgent struct {
	name  string
	sleep time.Duration
}

func (a *slowFailingAgent) ProcessMessage(ctx context.Context, in agent.Input) (session.Message, error) {
	time.Sleep(a.sleep)
	return session.Message{}, errNotExpired
}
func (a *slowFailingAgent) GetInfo() agent.Info { return agent.Info{Name: a.name, Type: agent.TypeIndividual} }
func (a *slowFailingAgent) GetCapabilities() agent.Capabilities {
	return agent.Capabilities{Name: a.name}
}
func (a *slowFailingAgent) Cleanup() error      { return nil }
func (a *slowFailingAgent) Keywords() []string { return nil }

type deadlineProbeAgent struct {
	name              string
	sawFreshDeadline bool
}

func (a *deadlineProbeAgent) ProcessMessage(ctx context.Context, in agent.Input) (session.Message, error) {
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) > 80*time.Millisecond {
		a.sawFreshDeadline = true
	}
	return session.Message{Type: session.MessageAssistant, Content: "ok", Agent: a.name, Timestamp: time.Now()}, nil
}
func (a *deadlineProbeAgent) GetInfo() agent.Info { return agent.Info{Name: a.name, Type: agent.TypeIndividual} }
func (a *deadlineProbeAgent) GetCapabilities() agent.Capabilities {
	return agent.Capabilities{Name: a.name}
}
func (a *deadlineProbeAgent) Cleanup() error      { return nil }
func (a *deadlineProbeAgent) Keywords() []string { return nil }

type sequentialProvider struct {
	first  *slowFailingAgent
	second *deadlineProbeAgent
}

func (p *sequentialProvider) GetOrCreate(agentType string) (agent.Agent, error) {
	if agentType == p.first.name {
		return p.first, nil
	}
	return p.second, nil
}

var errNotExpired = fmt.Errorf("simulated failure")

func noopStreamFor(t *testing.T) *stream.Stream {
	t.Helper()
	return stream.New(stream.NullWriter{})
}

func TestHandleSyncCreatesSessionWhenUnknown(t *testing.T) {
	o, store := newTestOrchestrator(t)
	ctx := context.Background()

	resp, err := o.HandleSync(ctx, Request{SessionID: "does-not-exist", UserInput: "debug my api"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Message.Content)

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotEqual(t, "does-not-exist", sessions[0].ID)
}
