// Package lifecycle implements Lifecycle & Supervision (spec component
// C11): ordered startup of the core stores, graceful shutdown with
// in-flight request cancellation, and bounded draining of outstanding
// work before a forced close.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatsg/chatsg/pkg/cache"
	"github.com/chatsg/chatsg/pkg/logger"
	"github.com/chatsg/chatsg/pkg/memory"
	"github.com/chatsg/chatsg/pkg/session"
)

// Closer is satisfied by every component the supervisor stops in
// reverse start order.
type Closer interface {
	Close() error
}

// Supervisor owns the start/stop order of the process-wide singletons
// (spec §4.11: Session Store -> Memory Adapter -> Registry/Cache ->
// Orchestrator) and tracks in-flight requests so shutdown can cancel
// them and await a grace period before forcing a close.
type Supervisor struct {
	store    *session.Store
	mem      memory.Adapter
	cache    *cache.Cache
	grace    time.Duration

	mu       sync.Mutex
	inflight map[context.CancelFunc]struct{}
	stopping bool
}

// New builds a Supervisor over the already-constructed components.
// Construction order (Session Store, Memory Adapter, Registry/Cache)
// is the caller's responsibility — New merely records the handles it
// must stop, in the order spec §4.11 mandates.
func New(store *session.Store, mem memory.Adapter, agentCache *cache.Cache, grace time.Duration) *Supervisor {
	return &Supervisor{
		store:    store,
		mem:      mem,
		cache:    agentCache,
		grace:    grace,
		inflight: make(map[context.CancelFunc]struct{}),
	}
}

// Track registers a new in-flight request and returns a context that is
// cancelled either by the caller's own cancel or by Shutdown. Callers
// must call the returned release func when the request completes.
func (s *Supervisor) Track(parent context.Context) (ctx context.Context, release func()) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		cancel()
		return ctx, func() {}
	}
	s.inflight[cancel] = struct{}{}
	s.mu.Unlock()

	release = func() {
		s.mu.Lock()
		delete(s.inflight, cancel)
		s.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// Shutdown stops accepting new requests (subsequent Track calls return
// an already-cancelled context), cancels every in-flight request,
// awaits up to the grace period for them to unwind, then force-closes
// the memory adapter and agent cache in reverse start order.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	cancels := make([]context.CancelFunc, 0, len(s.inflight))
	for cancel := range s.inflight {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	graceCtx, graceCancel := context.WithTimeout(ctx, s.grace)
	defer graceCancel()
	s.awaitDrain(graceCtx)

	var errs []error
	if s.cache != nil {
		if err := s.cache.Close(graceCtx); err != nil {
			errs = append(errs, fmt.Errorf("close agent cache: %w", err))
		}
	}
	if s.mem != nil {
		if err := s.mem.Close(graceCtx); err != nil {
			errs = append(errs, fmt.Errorf("close memory adapter: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session store: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func (s *Supervisor) awaitDrain(ctx context.Context) {
	for {
		s.mu.Lock()
		n := len(s.inflight)
		s.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case <-ctx.Done():
			logger.GetLogger().Warn("shutdown grace period exceeded with requests still in flight", "remaining", n)
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// InFlightCount reports the number of currently tracked requests
// (observability hook for /doctor and metrics).
func (s *Supervisor) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}
