// Package retriever turns a user query into a ranked list of relevant policy
// chunks via embedding and vector search.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/covergrid/policy-copilot/internal/storage"
)

// ErrEmptyQuery is returned when the query is empty or whitespace-only.
var ErrEmptyQuery = errors.New("empty query")

// DefaultTopK is the number of chunks retrieved when the caller passes 0.
const DefaultTopK = 10

// Result is a scored view of a stored chunk. Score is a similarity in [0,1],
// monotonically decreasing with vector distance.
type Result struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata ResultMetadata `json:"metadata"`
}

// ResultMetadata is the chunk metadata projection returned to callers.
type ResultMetadata struct {
	Insurer   string `json:"insurer"`
	Product   string `json:"product"`
	Version   string `json:"version,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds queries and searches the chunk store. Failures surface to
// the caller; there is no fallback to recency-ordered listings, because a
// misleadingly ordered result is worse than an explicit error.
type Retriever struct {
	embedder Embedder
	store    storage.ChunkStore
}

// New creates a retriever over the given embedder and store.
func New(embedder Embedder, store storage.ChunkStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns up to topK chunks matching the filter, ranked by
// similarity to the query. An empty store yields an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, query string, filter storage.Filter, topK int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scored, err := r.store.Search(ctx, vector, filter, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]Result, 0, len(scored))
	for _, sc := range scored {
		results = append(results, Result{
			ID:      sc.Chunk.ID,
			Content: sc.Chunk.Content,
			Score:   normalizeScore(sc.Score),
			Metadata: ResultMetadata{
				Insurer:   sc.Chunk.Insurer,
				Product:   sc.Chunk.Product,
				Version:   sc.Chunk.Version,
				SourceURL: sc.Chunk.SourceURL,
			},
		})
	}
	return results, nil
}

// normalizeScore maps cosine similarity in [-1,1] onto [0,1] with a strictly
// monotone transform, so rank order is preserved.
func normalizeScore(sim float64) float64 {
	s := (sim + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
