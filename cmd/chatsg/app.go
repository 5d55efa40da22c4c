package main

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsg/chatsg/config"
	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/agents"
	"github.com/chatsg/chatsg/pkg/cache"
	"github.com/chatsg/chatsg/pkg/handoff"
	"github.com/chatsg/chatsg/pkg/lifecycle"
	"github.com/chatsg/chatsg/pkg/llm"
	"github.com/chatsg/chatsg/pkg/memory"
	"github.com/chatsg/chatsg/pkg/observability"
	"github.com/chatsg/chatsg/pkg/orchestrator"
	"github.com/chatsg/chatsg/pkg/selection"
	"github.com/chatsg/chatsg/pkg/session"
	"github.com/chatsg/chatsg/pkg/toolctx"
)

// app holds every wired component for one process lifetime.
type app struct {
	cfg          *config.Config
	store        *session.Store
	mem          memory.Adapter
	registry     *agent.Registry
	cache        *cache.Cache
	engine       *selection.Engine
	handoff      *handoff.Coordinator
	orchestrator *orchestrator.Orchestrator
	supervisor   *lifecycle.Supervisor
	obsManager   *observability.Manager
}

// buildApp wires the components in the start order spec §4.11 mandates:
// Session Store -> Memory Adapter -> Registry/Cache -> Orchestrator.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	obsManager, err := observability.NewManager(ctx, observabilityConfig(cfg.Observability))
	if err != nil {
		return nil, fmt.Errorf("build observability manager: %w", err)
	}

	store, err := session.Open(cfg.Session.Driver, cfg.Session.DSN)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	mem, err := memory.New(cfg.Memory)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build memory adapter: %w", err)
	}

	providers, err := buildLLMProviders(cfg)
	if err != nil {
		return nil, fmt.Errorf("build llm providers: %w", err)
	}

	registry := agent.NewRegistry()
	for name, ac := range cfg.Agents {
		provider, ok := providers[ac.LLM]
		if !ok {
			return nil, fmt.Errorf("agent %q references undefined llm %q", name, ac.LLM)
		}
		a, err := buildAgent(ac, provider, store)
		if err != nil {
			return nil, fmt.Errorf("build agent %q: %w", name, err)
		}
		if err := registry.RegisterAgent(a); err != nil {
			return nil, fmt.Errorf("register agent %q: %w", name, err)
		}
	}

	factory := func(agentType string) (agent.Agent, error) {
		a, ok := registry.GetAgent(agentType)
		if !ok {
			return nil, fmt.Errorf("no agent registered for type %q", agentType)
		}
		return a, nil
	}
	agentCache := cache.New(cfg.Cache.Capacity, cfg.Cache.IdleTTL(), factory)

	engine := selection.New(registry)
	handoffCoordinator := handoff.New(registry, store)

	orch := orchestrator.New(store, mem, registry, agentCache, engine, cfg.Orchestrator)

	grace := time.Duration(cfg.Orchestrator.ShutdownGraceSeconds) * time.Second
	supervisor := lifecycle.New(store, mem, agentCache, grace)

	return &app{
		cfg:          cfg,
		store:        store,
		mem:          mem,
		registry:     registry,
		cache:        agentCache,
		engine:       engine,
		handoff:      handoffCoordinator,
		orchestrator: orch,
		supervisor:   supervisor,
		obsManager:   obsManager,
	}, nil
}

// observabilityConfig maps the flat ChatSG observability settings onto
// the teacher's richer tracing/metrics configuration: tracing is
// enabled whenever an OTLP endpoint is configured, metrics whenever a
// metrics listen address is configured.
func observabilityConfig(oc config.ObservabilityConfig) *observability.Config {
	return &observability.Config{
		Tracing: observability.TracingConfig{
			Enabled:     oc.OTLPEndpoint != "",
			Exporter:    "otlp",
			Endpoint:    oc.OTLPEndpoint,
			ServiceName: oc.ServiceName,
		},
		Metrics: observability.MetricsConfig{
			Enabled:   oc.MetricsAddr != "",
			Namespace: "chatsg",
		},
	}
}

func buildLLMProviders(cfg *config.Config) (map[string]llm.Provider, error) {
	providers := make(map[string]llm.Provider, len(cfg.LLMs))
	for name, lc := range cfg.LLMs {
		switch lc.Type {
		case "anthropic", "":
			apiKey := envOrDefault(lc.APIKeyEnv, "ANTHROPIC_API_KEY")
			providers[name] = llm.NewAnthropicProvider(apiKey, lc.Model)
		default:
			return nil, fmt.Errorf("unsupported llm provider type %q for %q", lc.Type, name)
		}
	}
	return providers, nil
}

// buildAgent maps a configured agent name to its concrete
// specialized-agent implementation (spec §4.6). Agent identity, not
// arbitrary plugin loading, decides which concrete type is built —
// new behaviors are added here, in the teacher's idiom of a
// closed set of compiled-in agent kinds rather than dynamic dispatch.
func buildAgent(ac config.AgentConfig, provider llm.Provider, toolLog toolctx.Log) (agent.Agent, error) {
	switch ac.Name {
	case "AnalyticalAgent":
		return agents.NewAnalyticalAgent(provider), nil
	case "CreativeAgent":
		return agents.NewCreativeAgent(provider), nil
	case "TechnicalAgent":
		return agents.NewTechnicalAgent(provider, toolLog), nil
	case "CRMAgent":
		return agents.NewCRMAgent(provider), nil
	default:
		return nil, fmt.Errorf("unknown agent kind %q", ac.Name)
	}
}
