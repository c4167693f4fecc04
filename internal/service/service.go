// Package service is the application-facing facade over the RAG core:
// ingestion, job status, grounded question answering, and chunk
// administration.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/covergrid/policy-copilot/internal/composer"
	"github.com/covergrid/policy-copilot/internal/ingest"
	"github.com/covergrid/policy-copilot/internal/jobs"
	"github.com/covergrid/policy-copilot/internal/retriever"
	"github.com/covergrid/policy-copilot/internal/storage"
)

// ErrValidation marks malformed caller input: empty queries, empty batches,
// unknown sources.
var ErrValidation = errors.New("invalid input")

// Retriever produces ranked context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, filter storage.Filter, topK int) ([]retriever.Result, error)
}

// Composer turns retrieved context into a grounded answer.
type Composer interface {
	Compose(ctx context.Context, query string, results []retriever.Result, requestContext map[string]string) (*composer.Answer, error)
}

// RAG wires the pipeline, tracker, retriever, composer and store behind the
// operations the rest of the application calls.
type RAG struct {
	pipeline  *ingest.Pipeline
	tracker   *jobs.Tracker
	retriever Retriever
	composer  Composer
	store     storage.ChunkStore
	logger    *slog.Logger
}

// New creates the service facade.
func New(
	pipeline *ingest.Pipeline,
	tracker *jobs.Tracker,
	retr Retriever,
	comp Composer,
	store storage.ChunkStore,
	logger *slog.Logger,
) *RAG {
	if logger == nil {
		logger = slog.Default()
	}
	return &RAG{
		pipeline:  pipeline,
		tracker:   tracker,
		retriever: retr,
		composer:  comp,
		store:     store,
		logger:    logger,
	}
}

// Ingest submits a batch of storage keys or URLs for asynchronous ingestion
// and returns the job ID immediately.
func (s *RAG) Ingest(items []string, source ingest.Source, metadata ingest.Metadata) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("%w: no items to ingest", ErrValidation)
	}
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			return "", fmt.Errorf("%w: blank ingestion item", ErrValidation)
		}
	}
	if source != ingest.SourceUpload && source != ingest.SourceURL {
		return "", fmt.Errorf("%w: unknown source %q", ErrValidation, source)
	}
	return s.pipeline.Submit(items, source, metadata)
}

// JobStatus returns a snapshot of the ingestion job, or jobs.ErrNotFound.
func (s *RAG) JobStatus(id string) (*jobs.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty job id", ErrValidation)
	}
	return s.tracker.Get(id)
}

// AnswerQuery retrieves context matching the filter and composes a grounded
// answer with citations and confidence. Retrieval and composition failures
// surface to the caller; there is no degraded fallback answer.
func (s *RAG) AnswerQuery(ctx context.Context, query string, filter storage.Filter, topK int) (*composer.Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrValidation)
	}

	results, err := s.retriever.Retrieve(ctx, query, filter, topK)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("retrieved context", "query", query, "results", len(results))

	return s.composer.Compose(ctx, query, results, requestContext(filter))
}

// DeleteChunks bulk-removes chunks matching the filter and returns the count.
func (s *RAG) DeleteChunks(ctx context.Context, filter storage.Filter) (int, error) {
	count, err := s.store.Delete(ctx, filter)
	if err != nil {
		return 0, err
	}
	s.logger.Info("deleted chunks", "count", count,
		"insurer", filter.Insurer, "product", filter.Product, "version", filter.Version)
	return count, nil
}

// Stats returns aggregate chunk counts.
func (s *RAG) Stats(ctx context.Context) (*storage.Stats, error) {
	return s.store.Stats(ctx)
}

// requestContext projects the filter into the prompt context map.
func requestContext(filter storage.Filter) map[string]string {
	rc := make(map[string]string)
	if filter.Insurer != "" {
		rc["insurer"] = filter.Insurer
	}
	if filter.Product != "" {
		rc["product"] = filter.Product
	}
	if filter.Version != "" {
		rc["version"] = filter.Version
	}
	return rc
}
