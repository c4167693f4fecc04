package storage

import (
	"context"
	"time"
)

// PolicyChunk is one unit of retrievable policy knowledge.
// Chunks are immutable once created; they are removed only by filtered bulk delete.
type PolicyChunk struct {
	ID        string            // UUID
	Insurer   string            // Insurance company name
	Product   string            // Product type: "Auto", "Home", ...
	Version   string            // Optional policy version
	SourceURL string            // Optional origin URL
	Content   string            // Chunk text content
	Tokens    int               // Estimated token count (ceil(len/4))
	Metadata  map[string]string // Free-form: section, page, ...
	Embedding []float32         // 1536-dim vector (text-embedding-3-small)
	CreatedAt time.Time
}

// ScoredChunk is a chunk returned by similarity search together with its
// cosine similarity score.
type ScoredChunk struct {
	Chunk *PolicyChunk
	Score float64
}

// Filter restricts search and delete operations by exact field match.
// Zero-value fields are ignored; set fields are AND-combined.
type Filter struct {
	Insurer string
	Product string
	Version string
}

// Stats aggregates chunk counts across the store.
type Stats struct {
	Total     int            `json:"total"`
	ByInsurer map[string]int `json:"byInsurer"`
	ByProduct map[string]int `json:"byProduct"`
}

// ChunkStore persists policy chunks and supports filtered cosine similarity
// search. Implementations must make Insert atomic per call and must never
// let a concurrent Search observe a half-written chunk.
type ChunkStore interface {
	// Insert persists all chunks or none. Chunk order is preserved.
	Insert(ctx context.Context, chunks []*PolicyChunk) error

	// Search returns up to limit chunks matching the filter, ordered by
	// descending cosine similarity, ties broken by most recent CreatedAt.
	// An empty store yields an empty slice, not an error.
	Search(ctx context.Context, embedding []float32, filter Filter, limit int) ([]*ScoredChunk, error)

	// Delete removes every chunk matching the filter and returns the count removed.
	Delete(ctx context.Context, filter Filter) (int, error)

	// Stats returns total and per-insurer / per-product chunk counts.
	Stats(ctx context.Context) (*Stats, error)
}

// VectorDimension is the embedding size for text-embedding-3-small.
const VectorDimension = 1536
