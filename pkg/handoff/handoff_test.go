package handoff

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatsg/chatsg/pkg/session"
)

type stubRegistry struct {
	known map[string]bool
}

func (r *stubRegistry) Exists(name string) bool { return r.known[name] }

type stubStore struct {
	setErr    error
	appendErr error

	active   string
	previous string
	history  []session.AgentHistoryEntry
}

func (s *stubStore) SetActiveAgent(ctx context.Context, sessionID, active, previous string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.active, s.previous = active, previous
	return nil
}

func (s *stubStore) AppendAgentHistory(ctx context.Context, sessionID string, entry session.AgentHistoryEntry) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.history = append(s.history, entry)
	return nil
}

func TestHandoffRejectsUnregisteredAgent(t *testing.T) {
	c := New(&stubRegistry{known: map[string]bool{"CRMAgent": true}}, &stubStore{})
	result := c.Handoff(context.Background(), Request{SessionID: "s1", FromAgent: "CRMAgent", ToAgent: "GhostAgent"})
	require.False(t, result.OK)
	require.Contains(t, result.Error, "GhostAgent")
}

func TestHandoffSucceedsAndRewritesSessionState(t *testing.T) {
	store := &stubStore{}
	c := New(&stubRegistry{known: map[string]bool{"CRMAgent": true, "TechnicalAgent": true}}, store)

	result := c.Handoff(context.Background(), Request{
		SessionID: "s1",
		FromAgent: "CRMAgent",
		ToAgent:   "TechnicalAgent",
		Reason:    "customer needs a bug diagnosed",
	})

	require.True(t, result.OK)
	require.Equal(t, "TechnicalAgent", result.NewAgent)
	require.NotEmpty(t, result.TransitionMessage)
	require.Contains(t, result.TransitionMessage, "TechnicalAgent")

	require.Equal(t, "TechnicalAgent", store.active)
	require.Equal(t, "CRMAgent", store.previous)
	require.Len(t, store.history, 1)
	require.Equal(t, "TechnicalAgent", store.history[0].AgentName)
	require.Equal(t, "CRMAgent", store.history[0].HandoffFrom)
}

func TestHandoffLeavesSessionUnchangedOnStoreError(t *testing.T) {
	store := &stubStore{setErr: errors.New("store unavailable")}
	c := New(&stubRegistry{known: map[string]bool{"TechnicalAgent": true}}, store)

	result := c.Handoff(context.Background(), Request{SessionID: "s1", FromAgent: "CRMAgent", ToAgent: "TechnicalAgent"})
	require.False(t, result.OK)
	require.Contains(t, result.Error, "store unavailable")
	require.Empty(t, store.active)
	require.Empty(t, store.history)
}

func TestHandoffSurfacesAppendHistoryError(t *testing.T) {
	store := &stubStore{appendErr: errors.New("ring buffer full")}
	c := New(&stubRegistry{known: map[string]bool{"TechnicalAgent": true}}, store)

	result := c.Handoff(context.Background(), Request{SessionID: "s1", FromAgent: "CRMAgent", ToAgent: "TechnicalAgent"})
	require.False(t, result.OK)
	require.Contains(t, result.Error, "ring buffer full")
	require.Equal(t, "TechnicalAgent", store.active) // active agent already written before the failure
}

func TestTransitionMessageIsStableForSameSession(t *testing.T) {
	first := transitionMessageFor("session-abc", "TechnicalAgent")
	second := transitionMessageFor("session-abc", "TechnicalAgent")
	require.Equal(t, first, second)
}
