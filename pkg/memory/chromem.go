package memory

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
)

// chromemBackend is the embedded default Backend, a persistent
// in-process vector store. One collection holds every session's turns;
// sessionID is stored as metadata and used to filter queries so
// sessions never bleed into each other's recall results.
type chromemBackend struct {
	db         *chromem.DB
	collection *chromem.Collection
}

func newChromemBackend(path, collectionName string) (*chromemBackend, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db at %s: %w", path, err)
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create chromem collection %s: %w", collectionName, err)
	}

	return &chromemBackend{db: db, collection: col}, nil
}

func (b *chromemBackend) Index(ctx context.Context, sessionID, text string, metadata map[string]interface{}) error {
	meta := map[string]string{"sessionId": sessionID}
	for k, v := range metadata {
		meta[k] = fmt.Sprintf("%v", v)
	}

	// AddDocument upserts by ID, so the ID must be unique per turn:
	// sessionID+text-length collides whenever two turns in the same
	// session produce equal-length content, silently overwriting the
	// earlier turn. turnId (set by the caller) is unique per turn.
	id := meta["turnId"]
	if id == "" {
		id = fmt.Sprintf("%s-%d", sessionID, len(text))
	}

	doc := chromem.Document{
		ID:       id,
		Content:  text,
		Metadata: meta,
	}
	return b.collection.AddDocument(ctx, doc)
}

func (b *chromemBackend) Search(ctx context.Context, sessionID, query string, topK int) ([]string, error) {
	if b.collection.Count() == 0 {
		return nil, nil
	}
	n := topK
	if n > b.collection.Count() {
		n = b.collection.Count()
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := b.collection.Query(ctx, query, n, map[string]string{"sessionId": sessionID}, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Content)
	}
	return out, nil
}

func (b *chromemBackend) Close() error { return nil }
