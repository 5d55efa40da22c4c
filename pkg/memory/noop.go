package memory

import "context"

// noopBackend satisfies Backend for the "noop" config option: recall
// always returns no results, remember is a silent discard. Useful for
// tests and for deployments that run ChatSG with memory disabled.
type noopBackend struct{}

func newNoopBackend() *noopBackend { return &noopBackend{} }

func (b *noopBackend) Index(ctx context.Context, sessionID, text string, metadata map[string]interface{}) error {
	return nil
}

func (b *noopBackend) Search(ctx context.Context, sessionID, query string, topK int) ([]string, error) {
	return nil, nil
}

func (b *noopBackend) Close() error { return nil }
