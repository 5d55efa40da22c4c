package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatsg/chatsg/config"
)

func TestRecallWithNoopBackendReturnsEmpty(t *testing.T) {
	cfg := config.MemoryConfig{Backend: "noop", RecallTopK: 5, TokenBudget: 800}
	a, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	text, err := a.Recall(ctx, "session-1", "hello", 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "", text)
}

func TestRememberIsIdempotentOnDuplicateTurnID(t *testing.T) {
	cfg := config.MemoryConfig{Backend: "noop"}
	a, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	turn := Turn{ID: "turn-1", UserInput: "hi", AssistantOutput: "hello", Timestamp: time.Now()}
	require.NoError(t, a.Remember(ctx, "session-1", turn))
	require.NoError(t, a.Remember(ctx, "session-1", turn))

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, a.Close(closeCtx))
}
