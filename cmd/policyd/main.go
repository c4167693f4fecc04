// Package main runs the policy copilot HTTP API: document ingestion, job
// polling, grounded question answering, and chunk administration.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/covergrid/policy-copilot/internal/chunker"
	"github.com/covergrid/policy-copilot/internal/composer"
	"github.com/covergrid/policy-copilot/internal/config"
	"github.com/covergrid/policy-copilot/internal/embedding"
	"github.com/covergrid/policy-copilot/internal/fetch"
	"github.com/covergrid/policy-copilot/internal/ingest"
	"github.com/covergrid/policy-copilot/internal/jobs"
	"github.com/covergrid/policy-copilot/internal/objstore"
	"github.com/covergrid/policy-copilot/internal/retriever"
	"github.com/covergrid/policy-copilot/internal/server"
	"github.com/covergrid/policy-copilot/internal/service"
	"github.com/covergrid/policy-copilot/internal/storage"
	"github.com/covergrid/policy-copilot/internal/storage/memory"
	"github.com/covergrid/policy-copilot/internal/storage/qdrant"
)

func main() {
	// Load .env if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Cancel on SIGTERM/SIGINT so in-flight ingestion jobs are marked failed
	// instead of left hanging in processing.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := slog.Default()

	// Chunk store
	var store storage.ChunkStore
	var health server.HealthChecker = server.NoopHealth{}
	switch cfg.Store {
	case config.StoreQdrant:
		qstore, err := qdrant.New(cfg.QdrantHost, cfg.QdrantPort)
		if err != nil {
			log.Fatalf("failed to connect to Qdrant: %v", err)
		}
		defer qstore.Close()
		if err := qstore.EnsureCollection(ctx); err != nil {
			log.Fatalf("failed to ensure collection: %v", err)
		}
		store = qstore
		health = qstore
	default:
		store = memory.New()
	}

	// OpenAI-backed embedder and composer share one client; missing
	// credentials kill the process here, not mid-request.
	aiClient, err := embedding.NewClient()
	if err != nil {
		log.Fatalf("failed to create OpenAI client: %v", err)
	}
	embedder := embedding.NewEmbedder(aiClient, cfg.EmbedBatchSize)
	comp := composer.New(aiClient.Client())

	// Ingestion pipeline
	objects, err := objstore.NewFilesystemStore(cfg.ObjectStoreDir)
	if err != nil {
		log.Fatalf("failed to open object store: %v", err)
	}
	fetcher := fetch.NewFetcher(nil, objects)
	chunkr := chunker.New(
		chunker.WithMaxTokens(cfg.ChunkMaxTokens),
		chunker.WithOverlapTokens(cfg.ChunkOverlapTokens),
	)
	tracker := jobs.NewTracker()
	pipeline := ingest.NewPipeline(fetcher, chunkr, embedder, store, tracker, logger)
	pipeline.Start(ctx, cfg.Workers)

	// HTTP layer
	rag := service.New(pipeline, tracker, retriever.New(embedder, store), comp, store, logger)
	srv := server.New(rag, logger)
	httpServer := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: srv.Routes(server.NewHealthHandler(health)),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("policyd listening on %s (store=%s)", httpServer.Addr, cfg.Store)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server error: %v", err)
	}

	pipeline.Wait()
	log.Println("policyd stopped")
	os.Exit(0)
}
