// Package orchestrator implements the Orchestrator / Request Pipeline
// (spec component C9): the end-to-end handling of one request across
// session resolution, memory recall, agent selection, execution,
// streaming, persistence, and async memory scheduling.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/cache"
	"github.com/chatsg/chatsg/config"
	"github.com/chatsg/chatsg/pkg/logger"
	"github.com/chatsg/chatsg/pkg/memory"
	"github.com/chatsg/chatsg/pkg/selection"
	"github.com/chatsg/chatsg/pkg/session"
	"github.com/chatsg/chatsg/pkg/stream"
)

var tracer = otel.Tracer("github.com/chatsg/chatsg/pkg/orchestrator")

// Request is the request surface consumed from the transport (spec §6).
type Request struct {
	SessionID             string
	UserInput             string
	CallerActiveSessionID string
	Routing               *selection.RoutingMetadata
}

// Response is the non-streaming result.
type Response struct {
	Message  session.Message
	Summary  stream.OrchestrationSummary
}

// AgentProvider resolves agent types to live agents; the Lazy Agent
// Cache (C10) is the production implementation.
type AgentProvider interface {
	GetOrCreate(agentType string) (agent.Agent, error)
}

// Orchestrator wires the C1-C11 components together per spec §4.9.
type Orchestrator struct {
	store    *session.Store
	mem      memory.Adapter
	registry *agent.Registry
	provider AgentProvider
	engine   *selection.Engine
	cfg      config.OrchestratorConfig
}

// New builds an Orchestrator.
func New(store *session.Store, mem memory.Adapter, registry *agent.Registry, provider AgentProvider, engine *selection.Engine, cfg config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{store: store, mem: mem, registry: registry, provider: provider, engine: engine, cfg: cfg}
}

// HandleStreaming runs phases 1-10 in streaming mode, returning a
// ChannelWriter the caller reads events from until it is closed.
func (o *Orchestrator) HandleStreaming(ctx context.Context, req Request) *stream.ChannelWriter {
	cw := stream.NewChannelWriter(64)
	go func() {
		defer cw.Close()
		s := stream.New(cw)
		o.run(ctx, req, s)
	}()
	return cw
}

// HandleSync runs phases 1-10 without event emission and returns the
// assistant message (non-streaming mode, spec §4.9).
func (o *Orchestrator) HandleSync(ctx context.Context, req Request) (Response, error) {
	s := stream.New(stream.NullWriter{})
	return o.runSync(ctx, req, s)
}

func (o *Orchestrator) run(ctx context.Context, req Request, s *stream.Stream) {
	resp, err := o.runSync(ctx, req, s)
	if err != nil {
		if !s.Terminal() {
			_ = s.Err(err.Error())
		}
		return
	}
	if !s.Terminal() {
		_ = s.Done(resp.Message.Agent, resp.Summary)
	}
}

func (o *Orchestrator) runSync(ctx context.Context, req Request, s *stream.Stream) (Response, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.request", trace.WithAttributes(
		attribute.String("chatsg.session_id", req.SessionID),
	))
	defer span.End()

	// execBaseCtx carries only cancellation (e.g. the caller disconnecting),
	// not a deadline, so Phase 6's fallback loop can give each candidate
	// its own full RequestTimeout instead of racing a budget already
	// consumed by session resolution, recall, and earlier candidates.
	execBaseCtx := ctx

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout())
	defer cancel()

	start := time.Now()

	_ = s.Connected()

	// Phase 1: resolve session (creates one if sessionID is absent/unknown).
	meta, err := o.resolveSession(ctx, req.SessionID, req.UserInput)
	if err != nil {
		return Response{}, fmt.Errorf("resolve session: %w", err)
	}
	sessionID := meta.ID
	span.SetAttributes(attribute.String("chatsg.resolved_session_id", sessionID))

	// Phase 2: persist user turn.
	if _, err := o.store.AppendMessage(ctx, sessionID, session.Message{
		Type: session.MessageUser, Content: req.UserInput, Timestamp: time.Now(),
	}); err != nil {
		return Response{}, &session.WriteError{Operation: "persistUserTurn", SessionID: sessionID, Err: err}
	}

	// Phase 3: bounded recall.
	recalled, _ := o.mem.Recall(ctx, sessionID, req.UserInput, o.cfg.MemoryRecallBudget())

	// Phase 4: select.
	sctx := selection.SessionContext{Preferences: meta.Preferences, LastAgentUsed: meta.Preferences.LastAgentUsed}
	sel := o.engine.Select(req.UserInput, sctx, req.Routing)
	if sel.SelectedAgent == "" {
		return Response{}, fmt.Errorf("no agent available to serve request")
	}

	// Phase 5: open stream (start event); Connected already emitted above.
	_ = s.Start(sel.SelectedAgent)

	// Phase 6: execute (with fallback strategy on failure).
	msg, usedAgent, err := o.executeWithFallback(execBaseCtx, req, sessionID, s, recalled, sel)
	if err != nil {
		return Response{}, err
	}

	// Phase 7: finalize.
	if _, err := o.store.AppendMessage(ctx, sessionID, msg); err != nil {
		return Response{}, &session.WriteError{Operation: "persistAssistantTurn", SessionID: sessionID, Err: err}
	}
	if err := o.store.IncrementUnreadIfBackground(ctx, sessionID, req.CallerActiveSessionID); err != nil {
		logger.GetLogger().Warn("increment unread failed", "sessionId", sessionID, "err", err)
	}

	summary := stream.OrchestrationSummary{
		Confidence:           sel.Confidence,
		Reason:               sel.Reason,
		ExecutionTimeMs:      time.Since(start).Milliseconds(),
		AgentLockUsed:        sel.AgentLockUsed,
		ForcedBySlashCommand: req.Routing != nil && req.Routing.ForceAgent,
	}

	// Phase 8: emit done; run() then sees the stream terminal and skips it.
	_ = s.Done(msg.Agent, summary)

	// Phase 9: schedule async remember (fire-and-forget, after done).
	o.scheduleRemember(sessionID, req.UserInput, msg.Content)

	// Phase 10: update session.
	if err := o.store.UpdateUserPreferences(ctx, sessionID, session.UserPreferences{
		CrossSessionMemory: meta.Preferences.CrossSessionMemory,
		AgentLock:          meta.Preferences.AgentLock,
		PreferredAgent:     meta.Preferences.PreferredAgent,
		LastAgentUsed:      usedAgent,
	}); err != nil {
		logger.GetLogger().Warn("update user preferences failed", "sessionId", sessionID, "err", err)
	}
	if err := o.store.AppendAgentHistory(ctx, sessionID, session.AgentHistoryEntry{
		AgentName: usedAgent, Timestamp: time.Now(), Confidence: sel.Confidence, Reason: sel.Reason,
	}); err != nil {
		logger.GetLogger().Warn("append agent history failed", "sessionId", sessionID, "err", err)
	}

	return Response{Message: msg, Summary: summary}, nil
}

// resolveSession looks up sessionID; when it is empty or names no
// existing session, it creates a fresh session under a store-generated
// id (an unknown caller-supplied id is not reused), titled from userInput.
func (o *Orchestrator) resolveSession(ctx context.Context, sessionID, userInput string) (session.Meta, error) {
	if sessionID != "" {
		meta, err := o.store.GetSession(ctx, sessionID)
		if _, ok := err.(*session.NotFoundError); !ok {
			return meta, err
		}
	}
	title := deriveTitle(userInput)
	newID, err := o.store.CreateSession(ctx, title, nil)
	if err != nil {
		return session.Meta{}, err
	}
	return o.store.GetSession(ctx, newID)
}

// deriveTitle implements the supplemented session-title auto-generation
// (SPEC_FULL 2C): truncate the first user message.
func deriveTitle(userInput string) string {
	const maxLen = 48
	t := strings.TrimSpace(userInput)
	if len(t) <= maxLen {
		return t
	}
	return t[:maxLen] + "..."
}

// executeWithFallback calls processMessage on the selected agent,
// falling back per cfg.FallbackStrategy on failure (spec §4.9/§7).
func (o *Orchestrator) executeWithFallback(ctx context.Context, req Request, sessionID string, s *stream.Stream, recalled string, sel selection.Selection) (session.Message, string, error) {
	candidates := append([]string{sel.SelectedAgent}, sel.FallbackAgents...)

	switch o.cfg.FallbackStrategy {
	case config.FallbackParallel:
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout())
		defer cancel()
		return o.executeParallel(attemptCtx, req, sessionID, s, recalled, candidates)
	case config.FallbackBestEffort:
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout())
		defer cancel()
		msg, err := o.executeOne(attemptCtx, req, sessionID, s, recalled, candidates[0])
		if err != nil {
			return session.Message{}, "", err
		}
		return msg, candidates[0], nil
	default: // sequential
		var lastErr error
		for _, name := range candidates {
			attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout())
			msg, err := o.executeOne(attemptCtx, req, sessionID, s, recalled, name)
			cancel()
			if err == nil {
				return msg, name, nil
			}
			lastErr = err
			logger.GetLogger().Warn("agent execution failed, trying next fallback", "agent", name, "err", err)
		}
		return session.Message{}, "", fmt.Errorf("all agents failed: %w", lastErr)
	}
}

func (o *Orchestrator) executeOne(ctx context.Context, req Request, sessionID string, s *stream.Stream, recalled, agentName string) (session.Message, error) {
	a, err := o.provider.GetOrCreate(agentName)
	if err != nil {
		return session.Message{}, fmt.Errorf("get agent %q: %w", agentName, err)
	}
	if lockable, ok := o.provider.(*cache.Cache); ok {
		lockable.Acquire(agentName)
		defer lockable.Release(agentName)
	}

	return a.ProcessMessage(ctx, agent.Input{
		SessionID:       sessionID,
		UserInput:       req.UserInput,
		RecalledContext: recalled,
		Writer:          s,
		Cancel:          ctx,
	})
}

// executeParallel races candidates, first success wins; losers cancelled
// immediately so they stop doing work (and stop writing token events to
// the shared stream) once a winner has been picked.
func (o *Orchestrator) executeParallel(ctx context.Context, req Request, sessionID string, s *stream.Stream, recalled string, candidates []string) (session.Message, string, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(cctx)
	type result struct {
		msg   session.Message
		agent string
	}
	resCh := make(chan result, 1)

	for _, name := range candidates {
		name := name
		g.Go(func() error {
			msg, err := o.executeOne(gctx, req, sessionID, s, recalled, name)
			if err != nil {
				return nil // losing a race is not a group-fatal error
			}
			select {
			case resCh <- result{msg: msg, agent: name}:
			default:
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case r := <-resCh:
		cancel() // stop the remaining losing goroutines
		return r.msg, r.agent, nil
	case <-done:
		select {
		case r := <-resCh:
			return r.msg, r.agent, nil
		default:
			return session.Message{}, "", fmt.Errorf("all parallel fallback agents failed")
		}
	}
}

func (o *Orchestrator) scheduleRemember(sessionID, userInput, assistantOutput string) {
	turn := memory.Turn{ID: uuid.NewString(), UserInput: userInput, AssistantOutput: assistantOutput, Timestamp: time.Now()}
	if err := o.mem.Remember(context.Background(), sessionID, turn); err != nil {
		logger.GetLogger().Warn("schedule remember failed", "sessionId", sessionID, "err", err)
	}
}
