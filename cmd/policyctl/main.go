// Package main provides the policyctl CLI for managing the policy document
// index: ingestion from files or URLs, grounded queries, stats and deletion.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/covergrid/policy-copilot/internal/chunker"
	"github.com/covergrid/policy-copilot/internal/composer"
	"github.com/covergrid/policy-copilot/internal/config"
	"github.com/covergrid/policy-copilot/internal/embedding"
	"github.com/covergrid/policy-copilot/internal/fetch"
	"github.com/covergrid/policy-copilot/internal/ingest"
	"github.com/covergrid/policy-copilot/internal/jobs"
	"github.com/covergrid/policy-copilot/internal/objstore"
	"github.com/covergrid/policy-copilot/internal/retriever"
	"github.com/covergrid/policy-copilot/internal/storage"
	"github.com/covergrid/policy-copilot/internal/storage/memory"
	"github.com/covergrid/policy-copilot/internal/storage/qdrant"
)

var (
	flagInsurer string
	flagProduct string
	flagVersion string
	flagTopK    int
	flagStream  bool
)

var rootCmd = &cobra.Command{
	Use:   "policyctl",
	Short: "Policy document index management tool",
	Long: `CLI for the insurance policy RAG index.

Environment variables:
  POLICY_STORE   Chunk store backend: qdrant or memory (default: qdrant)
  QDRANT_HOST    Qdrant hostname (default: localhost)
  QDRANT_PORT    Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY OpenAI API key for embeddings and answers (required)
  POLICYD_URL    Base URL of a running policyd, for the status command
                 (default: http://localhost:$PORT)`,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest policy documents into the index",
}

var ingestUploadCmd = &cobra.Command{
	Use:   "upload <path>...",
	Short: "Ingest local documents (txt, md, pdf)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngestUpload,
}

var ingestURLCmd = &cobra.Command{
	Use:   "url <url>...",
	Short: "Ingest documents fetched from URLs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngestURL,
}

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Ask a question against the indexed policy documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of an ingestion job running on policyd",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate chunk counts",
	RunE:  runStats,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Bulk-delete chunks matching the given filters",
	RunE:  runDelete,
}

func init() {
	for _, cmd := range []*cobra.Command{ingestUploadCmd, ingestURLCmd, deleteCmd} {
		cmd.Flags().StringVarP(&flagInsurer, "insurer", "i", "", "insurance company name")
		cmd.Flags().StringVarP(&flagProduct, "product", "p", "", "product type")
		cmd.Flags().StringVar(&flagVersion, "version", "", "policy version")
	}
	askCmd.Flags().StringVarP(&flagInsurer, "insurer", "i", "", "restrict to insurer")
	askCmd.Flags().StringVarP(&flagProduct, "product", "p", "", "restrict to product")
	askCmd.Flags().IntVarP(&flagTopK, "top-k", "k", 10, "number of context chunks")
	askCmd.Flags().BoolVar(&flagStream, "stream", false, "stream the answer text")

	ingestCmd.AddCommand(ingestUploadCmd, ingestURLCmd)
	rootCmd.AddCommand(ingestCmd, statusCmd, askCmd, statsCmd, deleteCmd)
}

func main() {
	// Load .env if present (local development), ignore if missing
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// core holds the wired components shared by all subcommands.
type core struct {
	cfg      *config.Config
	store    storage.ChunkStore
	embedder *embedding.Embedder
	composer *composer.Composer
	objects  objstore.Store
	chunker  *chunker.Chunker
	close    func()
}

// buildCore wires the store, embedder and composer from the environment.
func buildCore() (*core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var store storage.ChunkStore
	closeFn := func() {}
	switch cfg.Store {
	case config.StoreQdrant:
		qstore, err := qdrant.New(cfg.QdrantHost, cfg.QdrantPort)
		if err != nil {
			return nil, fmt.Errorf("connect to Qdrant: %w", err)
		}
		if err := qstore.EnsureCollection(context.Background()); err != nil {
			qstore.Close()
			return nil, fmt.Errorf("ensure collection: %w", err)
		}
		store = qstore
		closeFn = func() { qstore.Close() }
	default:
		store = memory.New()
	}

	aiClient, err := embedding.NewClient()
	if err != nil {
		closeFn()
		return nil, err
	}

	objects, err := objstore.NewFilesystemStore(cfg.ObjectStoreDir)
	if err != nil {
		closeFn()
		return nil, err
	}

	return &core{
		cfg:      cfg,
		store:    store,
		embedder: embedding.NewEmbedder(aiClient, cfg.EmbedBatchSize),
		composer: composer.New(aiClient.Client()),
		objects:  objects,
		chunker: chunker.New(
			chunker.WithMaxTokens(cfg.ChunkMaxTokens),
			chunker.WithOverlapTokens(cfg.ChunkOverlapTokens),
		),
		close: closeFn,
	}, nil
}

func runIngestUpload(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	// Stage local files into the object store first, so ingestion reads
	// them the same way the upload flow of the application does.
	keys := make([]string, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		key := objstore.GenerateKey("cli", path)
		if err := c.objects.Put(cmd.Context(), key, data, ""); err != nil {
			return fmt.Errorf("stage %s: %w", path, err)
		}
		keys = append(keys, key)
		fmt.Printf("Staged %s -> %s\n", path, key)
	}

	return runBatch(cmd.Context(), c, keys, ingest.SourceUpload)
}

func runIngestURL(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	return runBatch(cmd.Context(), c, args, ingest.SourceURL)
}

// runBatch submits one batch to an in-process pipeline and polls the tracker
// until the job is terminal, mirroring how the API's status endpoint is used.
func runBatch(ctx context.Context, c *core, items []string, source ingest.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := jobs.NewTracker()
	pipeline := ingest.NewPipeline(fetch.NewFetcher(nil, c.objects), c.chunker, c.embedder, c.store, tracker, slog.Default())
	pipeline.Start(ctx, c.cfg.Workers)

	start := time.Now()
	jobID, err := pipeline.Submit(items, source, ingest.Metadata{
		Insurer: flagInsurer,
		Product: flagProduct,
		Version: flagVersion,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Ingestion job started: %s\n", jobID)

	for {
		job, err := tracker.Get(jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			fmt.Println()
			fmt.Printf("Status:    %s\n", job.Status)
			fmt.Printf("Processed: %d/%d\n", job.ProcessedItems, job.TotalItems)
			fmt.Printf("Duration:  %s\n", time.Since(start).Round(time.Second))
			if len(job.Errors) > 0 {
				fmt.Println("Errors:")
				for _, e := range job.Errors {
					fmt.Printf("  - %s\n", e)
				}
			}
			return nil
		}
		fmt.Printf("  %.1f%% (%d/%d)\n", job.Progress, job.ProcessedItems, job.TotalItems)
		time.Sleep(500 * time.Millisecond)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	ctx := cmd.Context()
	filter := storage.Filter{Insurer: flagInsurer, Product: flagProduct}

	results, err := retriever.New(c.embedder, c.store).Retrieve(ctx, args[0], filter, flagTopK)
	if err != nil {
		return err
	}

	requestContext := map[string]string{}
	if flagInsurer != "" {
		requestContext["insurer"] = flagInsurer
	}
	if flagProduct != "" {
		requestContext["product"] = flagProduct
	}

	if flagStream {
		err := c.composer.Stream(ctx, args[0], results, requestContext, func(delta string) error {
			fmt.Print(delta)
			return nil
		})
		fmt.Println()
		return err
	}

	answer, err := c.composer.Compose(ctx, args[0], results, requestContext)
	if err != nil {
		return err
	}

	fmt.Println(answer.Content)
	fmt.Println()
	fmt.Printf("Confidence: %.2f\n", answer.Confidence)
	if len(answer.Citations) > 0 {
		fmt.Println("Citations:")
		for _, cit := range answer.Citations {
			fmt.Printf("  %s %s / %s\n", cit.Text, cit.Metadata.Insurer, cit.Metadata.Product)
		}
	}
	return nil
}

// runStatus polls policyd for a job started there. Jobs started by this
// process's own ingest commands finish before the command returns and never
// need this.
func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	baseURL := os.Getenv("POLICYD_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + cfg.Port
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
		baseURL+"/v1/jobs/"+args[0], nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query policyd at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job %s not found", args[0])
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("policyd returned status %d", resp.StatusCode)
	}

	var job jobs.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return fmt.Errorf("decode job status: %w", err)
	}

	fmt.Printf("Job:       %s\n", job.ID)
	fmt.Printf("Status:    %s\n", job.Status)
	fmt.Printf("Progress:  %.1f%% (%d/%d)\n", job.Progress, job.ProcessedItems, job.TotalItems)
	if len(job.Errors) > 0 {
		fmt.Println("Errors:")
		for _, e := range job.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	stats, err := c.store.Stats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Total chunks: %d\n", stats.Total)
	if len(stats.ByInsurer) > 0 {
		fmt.Println("By insurer:")
		for insurer, count := range stats.ByInsurer {
			fmt.Printf("  %-24s %d\n", insurer, count)
		}
	}
	if len(stats.ByProduct) > 0 {
		fmt.Println("By product:")
		for product, count := range stats.ByProduct {
			fmt.Printf("  %-24s %d\n", product, count)
		}
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if flagInsurer == "" && flagProduct == "" && flagVersion == "" {
		return fmt.Errorf("refusing to delete without any filter; pass --insurer, --product or --version")
	}

	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	count, err := c.store.Delete(cmd.Context(), storage.Filter{
		Insurer: flagInsurer,
		Product: flagProduct,
		Version: flagVersion,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d chunks\n", count)
	return nil
}
