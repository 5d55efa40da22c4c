// Package memory implements the Memory Adapter (spec component C4):
// bounded-latency recall for prompt augmentation, and asynchronous,
// per-session FIFO "remember this turn" persistence.
package memory

import (
	"context"
	"time"
)

// Turn is one remembered conversational exchange.
type Turn struct {
	ID              string    `json:"id"`
	UserInput       string    `json:"userInput"`
	AssistantOutput string    `json:"assistantOutput"`
	Timestamp       time.Time `json:"timestamp"`
}

// Adapter is the external Memory Adapter contract (spec §4.4/§6): two
// operations, identified to the core only by their latency/timeout
// contract. Any backend (vector index, graph database, in-process map)
// can sit behind it.
type Adapter interface {
	// Recall returns brief context for userInput, honoring budget. On
	// timeout it returns ("", nil) rather than an error — the caller must
	// never block request progress beyond budget.
	Recall(ctx context.Context, sessionID, userInput string, budget time.Duration) (string, error)

	// Remember schedules persistence of turn, fire-and-forget. Per-session
	// submissions are observed in order even though processing happens
	// off the request path. Idempotent on duplicate turn.ID.
	Remember(ctx context.Context, sessionID string, turn Turn) error

	// Close drains in-flight remember submissions up to a bounded
	// deadline and releases backend resources (spec §4.11).
	Close(ctx context.Context) error
}

// Backend is the storage-agnostic interface a concrete vector/graph
// store implements; Adapter composes a Backend with the FIFO queue,
// timeout, and token-budget policy common to every backend.
type Backend interface {
	Index(ctx context.Context, sessionID, text string, metadata map[string]interface{}) error
	Search(ctx context.Context, sessionID, query string, topK int) ([]string, error)
	Close() error
}
