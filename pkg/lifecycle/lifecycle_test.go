package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatsg/chatsg/config"
	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/cache"
	"github.com/chatsg/chatsg/pkg/memory"
	"github.com/chatsg/chatsg/pkg/session"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	store, err := session.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	mem, err := memory.New(config.MemoryConfig{Backend: "noop"})
	require.NoError(t, err)

	factory := func(agentType string) (agent.Agent, error) { return nil, nil }
	c := cache.New(3, time.Minute, factory)

	return New(store, mem, c, 2*time.Second)
}

func TestTrackedContextCancelledOnShutdown(t *testing.T) {
	s := newTestSupervisor(t)
	ctx, release := s.Track(context.Background())
	defer release()

	require.Equal(t, 1, s.InFlightCount())

	done := make(chan struct{})
	go func() {
		require.NoError(t, s.Shutdown(context.Background()))
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("tracked context was not cancelled by shutdown")
	}

	release()
	<-done
}

func TestTrackAfterShutdownReturnsCancelledContext(t *testing.T) {
	s := newTestSupervisor(t)
	require.NoError(t, s.Shutdown(context.Background()))

	ctx, release := s.Track(context.Background())
	defer release()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be pre-cancelled after shutdown")
	}
}
