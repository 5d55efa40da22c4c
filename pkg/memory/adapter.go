package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatsg/chatsg/config"
	"github.com/chatsg/chatsg/pkg/logger"
)

// adapter composes a Backend with the FIFO remember queue, recall
// timeout, idempotency, and token-budget truncation common to every
// backend (spec §4.4).
type adapter struct {
	backend   Backend
	budgeter  *budgeter
	topK      int
	tokenCap  int
	queueCap  int

	mu      sync.Mutex
	queues  map[string]chan rememberJob
	seen    map[string]map[string]bool
	wg      sync.WaitGroup
	closed  bool
}

type rememberJob struct {
	turn Turn
}

// New builds the Memory Adapter for the configured backend.
func New(cfg config.MemoryConfig) (Adapter, error) {
	var backend Backend
	var err error

	switch cfg.Backend {
	case "chromem":
		backend, err = newChromemBackend(cfg.Path, cfg.Collection)
	case "qdrant":
		backend, err = newQdrantBackend(cfg.QdrantAddr, cfg.Collection)
	case "noop", "":
		backend = newNoopBackend()
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return &adapter{
		backend:  backend,
		budgeter: newBudgeter(),
		topK:     cfg.RecallTopK,
		tokenCap: cfg.TokenBudget,
		queueCap: 64,
		queues:   make(map[string]chan rememberJob),
		seen:     make(map[string]map[string]bool),
	}, nil
}

// Recall returns within budget or gives up with an empty result — it
// never surfaces the timeout as an error (spec §4.4/§7).
func (a *adapter) Recall(ctx context.Context, sessionID, userInput string, budget time.Duration) (string, error) {
	recallCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type out struct {
		snippets []string
		err      error
	}
	ch := make(chan out, 1)
	go func() {
		snippets, err := a.backend.Search(recallCtx, sessionID, userInput, a.topK)
		ch <- out{snippets, err}
	}()

	select {
	case <-recallCtx.Done():
		logger.GetLogger().Warn("memory recall timed out", "sessionId", sessionID, "budgetMs", budget.Milliseconds())
		return "", nil
	case r := <-ch:
		if r.err != nil {
			logger.GetLogger().Warn("memory recall failed", "sessionId", sessionID, "err", r.err)
			return "", nil
		}
		return a.budgeter.fit(r.snippets, a.tokenCap), nil
	}
}

// Remember enqueues turn on the session's FIFO queue, starting a
// single-worker goroutine for the session on first use (spec §4.4/§5:
// per-session FIFO, processed off the request path).
func (a *adapter) Remember(ctx context.Context, sessionID string, turn Turn) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("memory adapter closed")
	}
	if a.alreadySeenLocked(sessionID, turn.ID) {
		a.mu.Unlock()
		return nil
	}
	q, ok := a.queues[sessionID]
	if !ok {
		q = make(chan rememberJob, a.queueCap)
		a.queues[sessionID] = q
		a.wg.Add(1)
		go a.drain(sessionID, q)
	}
	a.mu.Unlock()

	select {
	case q <- rememberJob{turn: turn}:
		return nil
	default:
		// Bounded queue overflow: drop oldest, log, then enqueue (spec §5 backpressure).
		select {
		case <-q:
			logger.GetLogger().Warn("remember queue overflow, dropping oldest", "sessionId", sessionID)
		default:
		}
		select {
		case q <- rememberJob{turn: turn}:
		default:
			logger.GetLogger().Warn("remember queue still full after drop, discarding turn", "sessionId", sessionID, "turnId", turn.ID)
		}
		return nil
	}
}

func (a *adapter) alreadySeenLocked(sessionID, turnID string) bool {
	set, ok := a.seen[sessionID]
	if !ok {
		set = make(map[string]bool)
		a.seen[sessionID] = set
	}
	if set[turnID] {
		return true
	}
	set[turnID] = true
	return false
}

func (a *adapter) drain(sessionID string, q chan rememberJob) {
	defer a.wg.Done()
	for job := range q {
		text := job.turn.UserInput + "\n" + job.turn.AssistantOutput
		if err := a.backend.Index(context.Background(), sessionID, text, map[string]interface{}{
			"turnId":    job.turn.ID,
			"timestamp": job.turn.Timestamp,
		}); err != nil {
			logger.GetLogger().Error("memory remember failed", "sessionId", sessionID, "turnId", job.turn.ID, "err", err)
		}
	}
}

// Close drains queues up to a bounded deadline then closes the backend.
func (a *adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	for _, q := range a.queues {
		close(q)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.GetLogger().Warn("memory adapter shutdown deadline exceeded, discarding in-flight remember jobs")
	}
	return a.backend.Close()
}
