// Package cache implements the Lazy Agent Cache (spec component C10):
// a bounded LRU of constructed agents with idle eviction and
// single-flight construction.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/chatsg/chatsg/pkg/agent"
	"github.com/chatsg/chatsg/pkg/logger"
)

// Factory constructs an agent for a given agent type name.
type Factory func(agentType string) (agent.Agent, error)

type entry struct {
	agentType string
	agent     agent.Agent
	lastUsed  time.Time
	elem      *list.Element
	inFlight  int // count of calls currently referencing this agent
}

// Cache is a bounded, idle-evicting, single-flight-constructing
// provider of agents keyed by agent type (spec §4.10). It satisfies
// orchestrator.AgentProvider through GetOrCreate.
type Cache struct {
	capacity int
	idleTTL  time.Duration
	factory  Factory

	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = most recently used

	group singleflight.Group

	stopCh chan struct{}

	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

// New builds a Cache with the given capacity and idle TTL.
func New(capacity int, idleTTL time.Duration, factory Factory) *Cache {
	c := &Cache{
		capacity: capacity,
		idleTTL:  idleTTL,
		factory:  factory,
		entries:  make(map[string]*entry),
		order:    list.New(),
		stopCh:   make(chan struct{}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsg_agent_cache_hits_total", Help: "Lazy agent cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsg_agent_cache_misses_total", Help: "Lazy agent cache misses.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsg_agent_cache_evictions_total", Help: "Lazy agent cache evictions.",
		}),
	}
	go c.sweepLoop()
	return c
}

// Collectors exposes the cache's prometheus metrics for registration.
func (c *Cache) Collectors() []prometheus.Collector {
	return []prometheus.Collector{c.hits, c.misses, c.evictions}
}

// GetOrCreate returns the cached agent for agentType, constructing it
// via the factory on miss. Concurrent misses for the same type share
// one construction (single-flight).
func (c *Cache) GetOrCreate(agentType string) (agent.Agent, error) {
	c.mu.Lock()
	if e, ok := c.entries[agentType]; ok {
		e.lastUsed = time.Now()
		c.order.MoveToFront(e.elem)
		c.hits.Inc()
		c.mu.Unlock()
		return e.agent, nil
	}
	c.mu.Unlock()
	c.misses.Inc()

	result, err, _ := c.group.Do(agentType, func() (interface{}, error) {
		return c.factory(agentType)
	})
	if err != nil {
		return nil, err
	}
	a := result.(agent.Agent)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[agentType]; ok {
		// Lost the race to another goroutine's earlier insert.
		existing.lastUsed = time.Now()
		c.order.MoveToFront(existing.elem)
		return existing.agent, nil
	}
	c.insertLocked(agentType, a)
	return a, nil
}

func (c *Cache) insertLocked(agentType string, a agent.Agent) {
	if c.order.Len() >= c.capacity {
		c.evictLRULocked()
	}
	elem := c.order.PushFront(agentType)
	c.entries[agentType] = &entry{agentType: agentType, agent: a, lastUsed: time.Now(), elem: elem}
}

func (c *Cache) evictLRULocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	agentType := back.Value.(string)
	e, ok := c.entries[agentType]
	if !ok {
		return
	}
	if e.inFlight > 0 {
		// Still in use; skip eviction this round rather than disposing a
		// referenced agent out from under an active processMessage call.
		return
	}
	c.order.Remove(back)
	delete(c.entries, agentType)
	_ = e.agent.Cleanup()
	c.evictions.Inc()
}

// Acquire/Release bracket one processMessage call so cleanup can quiesce
// in-flight references before disposing a cached agent (spec §4.10).
func (c *Cache) Acquire(agentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[agentType]; ok {
		e.inFlight++
	}
}

func (c *Cache) Release(agentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[agentType]; ok && e.inFlight > 0 {
		e.inFlight--
	}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepIdle()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweepIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		agentType := elem.Value.(string)
		e := c.entries[agentType]
		if e != nil && e.inFlight == 0 && now.Sub(e.lastUsed) >= c.idleTTL {
			c.order.Remove(elem)
			delete(c.entries, agentType)
			if err := e.agent.Cleanup(); err != nil {
				logger.GetLogger().Warn("agent cleanup failed during idle sweep", "agentType", agentType, "err", err)
			}
			c.evictions.Inc()
		}
		elem = prev
	}
}

// Close stops the idle sweep and disposes every cached agent, awaiting
// in-flight references first up to ctx's deadline (spec §4.11
// quiescence requirement) before force-closing.
func (c *Cache) Close(ctx context.Context) error {
	close(c.stopCh)

	for {
		if !c.anyInFlight() {
			break
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			logger.GetLogger().Warn("agent cache close deadline exceeded with agents still in flight")
			goto forceClose
		}
	}

forceClose:
	c.mu.Lock()
	defer c.mu.Unlock()
	for agentType, e := range c.entries {
		_ = e.agent.Cleanup()
		delete(c.entries, agentType)
	}
	c.order.Init()
	return nil
}

func (c *Cache) anyInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.inFlight > 0 {
			return true
		}
	}
	return false
}
