// Package ingest orchestrates batch ingestion of policy documents: fetch,
// chunk, embed, store, with progress tracked per job.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covergrid/policy-copilot/internal/chunker"
	"github.com/covergrid/policy-copilot/internal/jobs"
	"github.com/covergrid/policy-copilot/internal/storage"
)

// Source identifies where batch items come from: object storage keys or URLs.
type Source string

const (
	SourceUpload Source = "upload"
	SourceURL    Source = "url"
)

// Metadata is stamped on every chunk produced from a batch.
type Metadata struct {
	Insurer   string
	Product   string
	Version   string
	SourceURL string
}

// Fetcher retrieves raw documents and normalizes them to plain text.
type Fetcher interface {
	FetchURL(ctx context.Context, url string) (string, error)
	FetchObject(ctx context.Context, key string) (string, error)
}

// Embedder converts texts into fixed-dimension vectors, one per input.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// batch is one submitted ingestion run queued for the worker.
type batch struct {
	jobID    string
	items    []string
	source   Source
	metadata Metadata
}

// Pipeline consumes submitted batches from a queue with a bounded worker
// pool. Items within a batch are processed strictly in order; a per-item
// failure is recorded on the job and processing continues with the next item.
type Pipeline struct {
	fetcher  Fetcher
	chunker  *chunker.Chunker
	embedder Embedder
	store    storage.ChunkStore
	tracker  *jobs.Tracker
	logger   *slog.Logger

	queue chan batch
	wg    sync.WaitGroup
}

// NewPipeline creates an ingestion pipeline. Call Start before Submit.
func NewPipeline(
	fetcher Fetcher,
	chunkr *chunker.Chunker,
	embedder Embedder,
	store storage.ChunkStore,
	tracker *jobs.Tracker,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher:  fetcher,
		chunker:  chunkr,
		embedder: embedder,
		store:    store,
		tracker:  tracker,
		logger:   logger,
		queue:    make(chan batch, 128),
	}
}

// Start launches workers consuming the queue until ctx is canceled. Batches
// in flight when ctx is canceled are marked failed rather than left hanging.
func (p *Pipeline) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-p.queue:
					p.processBatch(ctx, b)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited after their context is canceled.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Submit registers a batch and enqueues it for asynchronous processing,
// returning the job ID immediately. Callers poll the tracker for progress.
func (p *Pipeline) Submit(items []string, source Source, metadata Metadata) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("empty ingestion batch")
	}
	if source != SourceUpload && source != SourceURL {
		return "", fmt.Errorf("unknown ingestion source %q", source)
	}

	jobID := p.tracker.Create(len(items))
	p.queue <- batch{jobID: jobID, items: items, source: source, metadata: metadata}
	return jobID, nil
}

// processBatch runs one batch sequentially, accounting every item on the job.
func (p *Pipeline) processBatch(ctx context.Context, b batch) {
	start := time.Now()
	if err := p.tracker.Start(b.jobID); err != nil {
		p.logger.Error("start job", "job", b.jobID, "error", err)
		return
	}
	p.logger.Info("ingestion started", "job", b.jobID, "items", len(b.items), "source", b.source)

	for _, item := range b.items {
		if err := ctx.Err(); err != nil {
			_ = p.tracker.Fail(b.jobID, fmt.Sprintf("ingestion canceled: %v", err))
			p.logger.Warn("ingestion canceled", "job", b.jobID)
			return
		}

		chunks, err := p.processItem(ctx, item, b.source, b.metadata)
		if err != nil {
			p.logger.Warn("item failed", "job", b.jobID, "item", item, "error", err)
			_ = p.tracker.ItemDone(b.jobID, fmt.Sprintf("%s: %v", item, err))
			continue
		}
		_ = p.tracker.ItemDone(b.jobID, "")
		p.logger.Debug("item ingested", "job", b.jobID, "item", item, "chunks", chunks)
	}

	// Cancellation during the last item shows up as that item's error, not
	// as a ctx check inside the loop; it still has to fail the job.
	if err := ctx.Err(); err != nil {
		_ = p.tracker.Fail(b.jobID, fmt.Sprintf("ingestion canceled: %v", err))
		p.logger.Warn("ingestion canceled", "job", b.jobID)
		return
	}

	_ = p.tracker.Finish(b.jobID)
	job, _ := p.tracker.Get(b.jobID)
	p.logger.Info("ingestion finished",
		"job", b.jobID,
		"status", job.Status,
		"processed", job.ProcessedItems,
		"errors", len(job.Errors),
		"duration", time.Since(start),
	)
}

// processItem handles one document end to end and returns the number of
// chunks stored.
func (p *Pipeline) processItem(ctx context.Context, item string, source Source, md Metadata) (int, error) {
	var content string
	var err error
	switch source {
	case SourceURL:
		content, err = p.fetcher.FetchURL(ctx, item)
	default:
		content, err = p.fetcher.FetchObject(ctx, item)
	}
	if err != nil {
		return 0, err
	}

	texts := p.chunker.Chunk(content)
	if len(texts) == 0 {
		return 0, fmt.Errorf("document produced no chunks")
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	sourceURL := md.SourceURL
	if source == SourceURL {
		sourceURL = item
	}

	now := time.Now()
	chunks := make([]*storage.PolicyChunk, len(texts))
	for i, text := range texts {
		chunks[i] = &storage.PolicyChunk{
			ID:        uuid.New().String(),
			Insurer:   md.Insurer,
			Product:   md.Product,
			Version:   md.Version,
			SourceURL: sourceURL,
			Content:   text,
			Tokens:    chunker.EstimateTokens(text),
			Embedding: vectors[i],
			CreatedAt: now,
		}
	}

	if err := p.store.Insert(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}
