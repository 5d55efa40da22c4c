package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndReadMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	seq1, err := s.AppendMessage(ctx, id, Message{Type: MessageUser, Content: "hello", Timestamp: time.Now()})
	require.NoError(t, err)
	require.Equal(t, int64(1), seq1)

	seq2, err := s.AppendMessage(ctx, id, Message{Type: MessageAssistant, Content: "hi there", Timestamp: time.Now()})
	require.NoError(t, err)
	require.Equal(t, int64(2), seq2)

	page, err := s.ReadMessages(ctx, id, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	require.False(t, page.HasMore)
	require.Equal(t, "hello", page.Messages[0].Content)

	meta, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, meta.MessageCount)
}

func TestMarkReadIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, err := s.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	require.NoError(t, s.IncrementUnreadIfBackground(ctx, id, "some-other-session"))
	meta, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, meta.UnreadCount)

	_, err = s.MarkRead(ctx, id)
	require.NoError(t, err)
	m1, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0, m1.UnreadCount)

	_, err = s.MarkRead(ctx, id)
	require.NoError(t, err)
	m2, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0, m2.UnreadCount)
}

func TestIncrementUnreadOnlyWhenBackground(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, err := s.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	require.NoError(t, s.IncrementUnreadIfBackground(ctx, id, id))
	meta, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0, meta.UnreadCount)
}

func TestAgentHistoryCapEviction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, err := s.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	for i := 0; i < AgentHistoryCap+5; i++ {
		err := s.AppendAgentHistory(ctx, id, AgentHistoryEntry{AgentName: "AnalyticalAgent", Timestamp: time.Now(), Confidence: 0.8})
		require.NoError(t, err)
	}

	meta, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Len(t, meta.AgentHistory, AgentHistoryCap)
}

func TestDeleteSessionRemovesEverything(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, err := s.CreateSession(ctx, "", nil)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, id, Message{Type: MessageUser, Content: "x", Timestamp: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, id))
	_, err = s.GetSession(ctx, id)
	require.Error(t, err)
}
