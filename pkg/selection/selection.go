// Package selection implements the Selection Engine (spec component
// C7): forced-routing short-circuit, agent-lock policy, keyword
// routing, capability scoring, and fallback ordering.
package selection

import (
	"sort"
	"strings"

	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/logger"
	"github.com/chatsg/chatsg/pkg/session"
)

// RoutingMetadata is the forced-routing input (spec §3).
type RoutingMetadata struct {
	ForceAgent  bool
	AgentType   string
	CommandName string
}

// SessionContext is the subset of session state the engine consults.
type SessionContext struct {
	Preferences  session.UserPreferences
	LastAgentUsed string
}

// Selection is the Agent Selection output (spec §3).
type Selection struct {
	SelectedAgent   string
	Confidence      float64
	Reason          string
	FallbackAgents  []string
	AgentLockUsed   bool
}

// toolHintWords/memoryHintWords drive the capability-scoring bonuses in
// step 4 of spec §4.7.
var toolHintWords = []string{"run", "execute", "calculate", "fetch", "search", "lookup"}
var memoryHintWords = []string{"remember", "earlier", "before", "previously", "last time"}

// AgentProvider is the read side of the registry the engine needs.
type AgentProvider interface {
	GetAgent(name string) (agent.Agent, bool)
	ListAgents() []agent.Capabilities
}

// Engine implements spec §4.7's decision order.
type Engine struct {
	provider AgentProvider
}

// New builds a selection Engine over provider.
func New(provider AgentProvider) *Engine {
	return &Engine{provider: provider}
}

// Select runs the full decision order and returns an Agent Selection.
func (e *Engine) Select(userInput string, ctx SessionContext, routing *RoutingMetadata) Selection {
	// Step 1: forced routing.
	if routing != nil && routing.ForceAgent {
		if _, ok := e.provider.GetAgent(routing.AgentType); ok {
			return Selection{SelectedAgent: routing.AgentType, Confidence: 1.0, Reason: "forced"}
		}
		logger.GetLogger().Warn("forced routing named a missing agent, falling back", "agentType", routing.AgentType)
	}

	// Step 2: agent lock.
	if ctx.Preferences.AgentLock {
		candidate := ctx.Preferences.PreferredAgent
		if candidate == "" {
			candidate = ctx.Preferences.LastAgentUsed
		}
		if candidate != "" {
			if _, ok := e.provider.GetAgent(candidate); ok {
				return Selection{SelectedAgent: candidate, Confidence: 0.95, Reason: "agent-lock", AgentLockUsed: true}
			}
		}
	}

	// Step 3: specialized keyword routing.
	if sel, ok := e.keywordRoute(userInput, ctx); ok {
		return sel
	}

	// Step 4: capability scoring.
	if sel, ok := e.capabilityRoute(userInput, ctx); ok {
		return sel
	}

	// Step 5: fallback — first registered agent.
	all := e.provider.ListAgents()
	if len(all) == 0 {
		return Selection{Confidence: 0, Reason: "no-agents-registered"}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return Selection{SelectedAgent: all[0].Name, Confidence: 0.1, Reason: "fallback"}
}

type scored struct {
	name  string
	score int
}

func (e *Engine) keywordRoute(userInput string, ctx SessionContext) (Selection, bool) {
	lower := strings.ToLower(userInput)
	var scores []scored

	for _, caps := range e.provider.ListAgents() {
		a, ok := e.provider.GetAgent(caps.Name)
		if !ok {
			continue
		}
		affine, ok := a.(agent.KeywordAffinity)
		if !ok {
			continue
		}
		hits := 0
		for _, kw := range affine.Keywords() {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > 0 {
			scores = append(scores, scored{name: caps.Name, score: hits})
		}
	}
	if len(scores) == 0 {
		return Selection{}, false
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].name < scores[j].name
	})

	top := scores[0]
	if top.score < 1 {
		return Selection{}, false
	}

	second := 0
	if len(scores) > 1 {
		second = scores[1].score
	}
	gap := top.score - second

	confidence := clamp(0.7+float64(gap)*0.1+float64(top.score)*0.05, 0, 0.95)
	if top.score >= 3 {
		confidence = clamp(confidence+0.1, 0, 0.95)
	}
	if gap >= 2 {
		confidence = clamp(confidence+0.05, 0, 0.95)
	}

	reason := "keyword-routing"
	if ctx.LastAgentUsed == top.name {
		confidence = clamp(confidence+0.1, 0, 1.0)
		reason = "keyword-routing+continuity"
	}

	fallbacks := make([]string, 0, len(scores)-1)
	for _, s := range scores[1:] {
		fallbacks = append(fallbacks, s.name)
	}

	return Selection{SelectedAgent: top.name, Confidence: confidence, Reason: reason, FallbackAgents: fallbacks}, true
}

func (e *Engine) capabilityRoute(userInput string, ctx SessionContext) (Selection, bool) {
	lower := strings.ToLower(userInput)
	wantsTool := containsAny(lower, toolHintWords)
	wantsMemory := containsAny(lower, memoryHintWords)

	var scores []scored
	caps := e.provider.ListAgents()
	for _, c := range caps {
		points := 10 // base capability points
		for _, feat := range c.Features {
			if strings.Contains(lower, strings.ToLower(feat)) {
				points += 15
			}
		}
		if wantsTool && c.SupportsTools {
			points += 20
		}
		if wantsMemory && c.SupportsStateSharing {
			points += 15
		}
		scores = append(scores, scored{name: c.Name, score: points})
	}
	if len(scores) == 0 {
		return Selection{}, false
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].name < scores[j].name
	})

	top := scores[0]
	confidence := clamp(float64(top.score)/100.0, 0, 1.0)
	reason := "capability-scoring"
	if ctx.LastAgentUsed == top.name {
		confidence = clamp(confidence+0.1, 0, 1.0)
		reason = "capability-scoring+continuity"
	}

	fallbacks := make([]string, 0, len(scores)-1)
	for _, s := range scores[1:] {
		fallbacks = append(fallbacks, s.name)
	}

	return Selection{SelectedAgent: top.name, Confidence: confidence, Reason: reason, FallbackAgents: fallbacks}, true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
