// Package qdrant implements the chunk store on a Qdrant collection.
//
// Vectors are compared with cosine distance. Insert upserts all points of a
// call in a single request with wait enabled, so a concurrent Search either
// sees the whole batch or none of it.
package qdrant

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/covergrid/policy-copilot/internal/storage"
)

// CollectionName is the single Qdrant collection holding all policy chunks.
const CollectionName = "policy_chunks"

// Store wraps the Qdrant client with connection management and health checks.
type Store struct {
	client *qdrant.Client
	host   string
	port   int
}

var _ storage.ChunkStore = (*Store)(nil)

// New creates a Qdrant-backed chunk store. It performs a health check with
// retry on startup and fails fast if Qdrant is unreachable.
func New(host string, port int) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	s := &Store{
		client: client,
		host:   host,
		port:   port,
	}

	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreUnreachable, err)
	}

	return s, nil
}

// healthCheckWithRetry performs a health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *Store) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (s *Store) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection ensures the policy chunk collection exists with cosine
// distance and payload indexes on the filterable fields. Idempotent.
func (s *Store) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	for _, name := range collections {
		if name == CollectionName {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: CollectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     storage.VectorDimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	// Without these indexes filtered search degrades badly on large corpora.
	for _, field := range []string{"insurer", "product", "version"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: CollectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("create index for field %s: %w", field, err)
		}
	}

	return nil
}

// ClearCollection drops and recreates the collection. Used by re-ingestion
// tooling and integration tests.
func (s *Store) ClearCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, CollectionName)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, CollectionName); err != nil {
			return fmt.Errorf("delete collection: %w", err)
		}
	}
	return s.EnsureCollection(ctx)
}

// Close closes the Qdrant client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Insert persists all chunks of the call in one upsert with wait enabled.
// Qdrant applies the whole batch atomically, so either every chunk of the
// call lands or none does.
func (s *Store) Insert(ctx context.Context, chunks []*storage.PolicyChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for i, chunk := range chunks {
		if len(chunk.Embedding) != storage.VectorDimension {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				storage.ErrDimensionMismatch, i, len(chunk.Embedding), storage.VectorDimension)
		}
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		payload := map[string]any{
			"insurer":    chunk.Insurer,
			"product":    chunk.Product,
			"version":    chunk.Version,
			"source_url": chunk.SourceURL,
			"content":    chunk.Content,
			"tokens":     chunk.Tokens,
			"created_at": chunk.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		for k, v := range chunk.Metadata {
			payload["meta_"+k] = v
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunk.ID),
			Vectors: qdrant.NewVectors(chunk.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	if err := s.upsertWithRetry(ctx, points); err != nil {
		return fmt.Errorf("%w: upsert %d chunks: %v", storage.ErrStore, len(points), err)
	}
	return nil
}

// upsertWithRetry performs the upsert with exponential backoff. Wait is set
// so the points are durable and searchable before the call returns.
func (s *Store) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: CollectionName,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// Search performs filtered cosine similarity search. Results come back from
// Qdrant ordered by score; equal scores are re-broken by most recent
// creation time.
func (s *Store) Search(ctx context.Context, embedding []float32, filter storage.Filter, limit int) ([]*storage.ScoredChunk, error) {
	if len(embedding) != storage.VectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			storage.ErrDimensionMismatch, len(embedding), storage.VectorDimension)
	}
	if limit <= 0 {
		limit = 10
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName,
		Query:          qdrant.NewQuery(embedding...),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", storage.ErrStore, err)
	}

	scored := make([]*storage.ScoredChunk, 0, len(results))
	for _, result := range results {
		scored = append(scored, &storage.ScoredChunk{
			Chunk: chunkFromPayload(result.Id.GetUuid(), result.Payload),
			Score: float64(result.Score),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.CreatedAt.After(scored[j].Chunk.CreatedAt)
	})

	return scored, nil
}

// Delete removes all chunks matching the filter and returns the count removed.
// The count is taken before deletion; concurrent inserts between the two calls
// may make it approximate, which is acceptable for the bulk-admin use case.
func (s *Store) Delete(ctx context.Context, filter storage.Filter) (int, error) {
	f := buildFilter(filter)

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: CollectionName,
		Filter:         f,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count before delete: %v", storage.ErrStore, err)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName,
		Points:         qdrant.NewPointsSelectorFilter(f),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete: %v", storage.ErrStore, err)
	}

	return int(count), nil
}

// Stats scrolls all points reading only the grouping fields and aggregates
// counts per insurer and per product. The total comes from an exact count
// rather than the scroll, so it cannot drift with pagination.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{
		ByInsurer: make(map[string]int),
		ByProduct: make(map[string]int),
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: CollectionName,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: count stats: %v", storage.ErrStore, err)
	}
	stats.Total = int(count)

	var offset *qdrant.PointId
	batchSize := uint32(256)

	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: CollectionName,
			Limit:          qdrant.PtrOf(batchSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("insurer", "product"),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scroll stats: %v", storage.ErrStore, err)
		}

		for _, result := range results {
			// The scroll offset is inclusive: every page after the first
			// starts with the point the previous page ended on.
			if offset != nil && result.Id.GetUuid() == offset.GetUuid() {
				continue
			}
			if insurer := result.Payload["insurer"].GetStringValue(); insurer != "" {
				stats.ByInsurer[insurer]++
			}
			if product := result.Payload["product"].GetStringValue(); product != "" {
				stats.ByProduct[product]++
			}
		}

		if uint32(len(results)) < batchSize {
			break
		}
		offset = results[len(results)-1].Id
	}

	return stats, nil
}

// buildFilter translates the equality filter into Qdrant match conditions.
// Returns nil when no field is set so the query scans the whole collection.
func buildFilter(filter storage.Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if filter.Insurer != "" {
		must = append(must, qdrant.NewMatch("insurer", filter.Insurer))
	}
	if filter.Product != "" {
		must = append(must, qdrant.NewMatch("product", filter.Product))
	}
	if filter.Version != "" {
		must = append(must, qdrant.NewMatch("version", filter.Version))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// chunkFromPayload rebuilds a PolicyChunk from a Qdrant payload.
// The embedding is not returned by search and stays nil.
func chunkFromPayload(id string, payload map[string]*qdrant.Value) *storage.PolicyChunk {
	createdAt, err := time.Parse(time.RFC3339Nano, payload["created_at"].GetStringValue())
	if err != nil {
		createdAt = time.Time{}
	}

	var meta map[string]string
	for k, v := range payload {
		if len(k) > 5 && k[:5] == "meta_" {
			if meta == nil {
				meta = make(map[string]string)
			}
			meta[k[5:]] = v.GetStringValue()
		}
	}

	return &storage.PolicyChunk{
		ID:        id,
		Insurer:   payload["insurer"].GetStringValue(),
		Product:   payload["product"].GetStringValue(),
		Version:   payload["version"].GetStringValue(),
		SourceURL: payload["source_url"].GetStringValue(),
		Content:   payload["content"].GetStringValue(),
		Tokens:    int(payload["tokens"].GetIntegerValue()),
		Metadata:  meta,
		CreatedAt: createdAt,
	}
}
