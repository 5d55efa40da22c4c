// Package handoff implements the Handoff Coordinator (spec component
// C8): inter-agent transfer of conversational control within a session.
package handoff

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/chatsg/chatsg/pkg/session"
)

// Request is the input to Handoff.
type Request struct {
	SessionID           string
	FromAgent           string
	ToAgent             string
	Reason              string
	ConversationSummary string
	UserIntent          string
}

// Result is the output of Handoff.
type Result struct {
	OK                 bool
	NewAgent           string
	TransitionMessage  string
	Error              string
}

// SessionUpdater is the subset of the session store the coordinator needs.
type SessionUpdater interface {
	SetActiveAgent(ctx context.Context, sessionID, active, previous string) error
	AppendAgentHistory(ctx context.Context, sessionID string, entry session.AgentHistoryEntry) error
}

// transitionPhrases is a deterministic template set (<=8 phrases); the
// choice is seeded by the session id so it is stable for testing
// (spec §4.8).
var transitionPhrases = []string{
	"Bringing in %s to help with this.",
	"Handing this over to %s.",
	"%s will take it from here.",
	"Switching you to %s for this one.",
	"Let %s continue the conversation.",
	"Passing this along to %s.",
	"%s is better suited for this — handing off now.",
	"Connecting you with %s.",
}

// Registered is satisfied by any agent registry with a name->exists lookup.
type Registered interface {
	Exists(name string) bool
}

// Coordinator implements Handoff.
type Coordinator struct {
	registered Registered
	store      SessionUpdater
}

// New builds a Coordinator.
func New(registered Registered, store SessionUpdater) *Coordinator {
	return &Coordinator{registered: registered, store: store}
}

// Handoff verifies toAgent is registered, then rewrites the session's
// routing state with SetActiveAgent followed by AppendAgentHistory. The
// two writes are not one transaction: if SetActiveAgent fails the session
// is left unchanged, but if AppendAgentHistory then fails the new active
// and previous agents are already written and are not rolled back.
func (c *Coordinator) Handoff(ctx context.Context, req Request) Result {
	if !c.registered.Exists(req.ToAgent) {
		return Result{OK: false, Error: fmt.Sprintf("agent %q is not registered", req.ToAgent)}
	}

	if err := c.store.SetActiveAgent(ctx, req.SessionID, req.ToAgent, req.FromAgent); err != nil {
		return Result{OK: false, Error: err.Error()}
	}

	entry := session.AgentHistoryEntry{
		AgentName:   req.ToAgent,
		Timestamp:   time.Now(),
		Confidence:  1.0,
		Reason:      req.Reason,
		HandoffFrom: req.FromAgent,
	}
	if err := c.store.AppendAgentHistory(ctx, req.SessionID, entry); err != nil {
		return Result{OK: false, Error: err.Error()}
	}

	return Result{
		OK:                true,
		NewAgent:          req.ToAgent,
		TransitionMessage: transitionMessageFor(req.SessionID, req.ToAgent),
	}
}

// transitionMessageFor picks a deterministic phrase seeded by sessionID
// so the same session always gets the same wording (spec §4.8).
func transitionMessageFor(sessionID, toAgent string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	idx := int(h.Sum32()) % len(transitionPhrases)
	if idx < 0 {
		idx += len(transitionPhrases)
	}
	return fmt.Sprintf(transitionPhrases[idx], toAgent)
}
