package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/session"
)

type fakeAgent struct {
	name      string
	cleanedUp int32
}

func (a *fakeAgent) ProcessMessage(ctx context.Context, in agent.Input) (session.Message, error) {
	return session.Message{}, nil
}
func (a *fakeAgent) GetInfo() agent.Info                 { return agent.Info{Name: a.name} }
func (a *fakeAgent) GetCapabilities() agent.Capabilities { return agent.Capabilities{Name: a.name} }
func (a *fakeAgent) Cleanup() error {
	atomic.AddInt32(&a.cleanedUp, 1)
	return nil
}

func TestGetOrCreateCachesByType(t *testing.T) {
	var constructs int32
	factory := func(agentType string) (agent.Agent, error) {
		atomic.AddInt32(&constructs, 1)
		return &fakeAgent{name: agentType}, nil
	}
	c := New(3, time.Hour, factory)
	defer c.Close(context.Background())

	a1, err := c.GetOrCreate("AnalyticalAgent")
	require.NoError(t, err)
	a2, err := c.GetOrCreate("AnalyticalAgent")
	require.NoError(t, err)
	require.Same(t, a1, a2)
	require.Equal(t, int32(1), atomic.LoadInt32(&constructs))
}

func TestEvictionAtCapacity(t *testing.T) {
	factory := func(agentType string) (agent.Agent, error) {
		return &fakeAgent{name: agentType}, nil
	}
	c := New(2, time.Hour, factory)
	defer c.Close(context.Background())

	for i := 0; i < 3; i++ {
		_, err := c.GetOrCreate(fmt.Sprintf("Agent%d", i))
		require.NoError(t, err)
	}

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	require.LessOrEqual(t, n, 2)
}
