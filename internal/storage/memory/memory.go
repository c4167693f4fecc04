// Package memory implements the chunk store in process memory using
// brute-force cosine similarity. It backs unit tests and small deployments
// that do not want to run a vector database.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/covergrid/policy-copilot/internal/storage"
)

// Store is an in-memory chunk store. All operations take the lock, so a
// Search never observes a partially applied Insert.
type Store struct {
	mu     sync.RWMutex
	chunks []*storage.PolicyChunk
}

var _ storage.ChunkStore = (*Store)(nil)

// New creates an empty in-memory chunk store.
func New() *Store {
	return &Store{}
}

// Insert appends all chunks under one lock acquisition. Dimension validation
// happens before any chunk is stored, so a failed call stores nothing.
func (s *Store) Insert(ctx context.Context, chunks []*storage.PolicyChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, chunk := range chunks {
		if len(chunk.Embedding) != storage.VectorDimension {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				storage.ErrDimensionMismatch, i, len(chunk.Embedding), storage.VectorDimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

// Search scores every matching chunk with cosine similarity and returns the
// top limit results, ties broken by most recent creation time.
func (s *Store) Search(ctx context.Context, embedding []float32, filter storage.Filter, limit int) ([]*storage.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(embedding) != storage.VectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			storage.ErrDimensionMismatch, len(embedding), storage.VectorDimension)
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]*storage.ScoredChunk, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		if !matches(chunk, filter) {
			continue
		}
		scored = append(scored, &storage.ScoredChunk{
			Chunk: chunk,
			Score: cosine(embedding, chunk.Embedding),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.CreatedAt.After(scored[j].Chunk.CreatedAt)
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Delete removes all chunks matching the filter and returns the count removed.
func (s *Store) Delete(ctx context.Context, filter storage.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.chunks[:0]
	removed := 0
	for _, chunk := range s.chunks {
		if matches(chunk, filter) {
			removed++
			continue
		}
		kept = append(kept, chunk)
	}
	s.chunks = kept
	return removed, nil
}

// Stats returns total and per-insurer / per-product chunk counts.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		Total:     len(s.chunks),
		ByInsurer: make(map[string]int),
		ByProduct: make(map[string]int),
	}
	for _, chunk := range s.chunks {
		if chunk.Insurer != "" {
			stats.ByInsurer[chunk.Insurer]++
		}
		if chunk.Product != "" {
			stats.ByProduct[chunk.Product]++
		}
	}
	return stats, nil
}

func matches(chunk *storage.PolicyChunk, filter storage.Filter) bool {
	if filter.Insurer != "" && chunk.Insurer != filter.Insurer {
		return false
	}
	if filter.Product != "" && chunk.Product != filter.Product {
		return false
	}
	if filter.Version != "" && chunk.Version != filter.Version {
		return false
	}
	return true
}

// cosine computes cosine similarity without assuming normalized vectors.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
