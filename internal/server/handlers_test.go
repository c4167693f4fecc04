package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covergrid/policy-copilot/internal/chunker"
	"github.com/covergrid/policy-copilot/internal/composer"
	"github.com/covergrid/policy-copilot/internal/ingest"
	"github.com/covergrid/policy-copilot/internal/jobs"
	"github.com/covergrid/policy-copilot/internal/retriever"
	"github.com/covergrid/policy-copilot/internal/service"
	"github.com/covergrid/policy-copilot/internal/storage"
	"github.com/covergrid/policy-copilot/internal/storage/memory"
)

type stubRetriever struct {
	results []retriever.Result
	err     error
}

func (s stubRetriever) Retrieve(ctx context.Context, query string, filter storage.Filter, topK int) ([]retriever.Result, error) {
	return s.results, s.err
}

type stubComposer struct {
	answer *composer.Answer
	err    error
}

func (s stubComposer) Compose(ctx context.Context, query string, results []retriever.Result, requestContext map[string]string) (*composer.Answer, error) {
	return s.answer, s.err
}

type stubFetcher struct{ doc string }

func (f stubFetcher) FetchURL(ctx context.Context, url string) (string, error)    { return f.doc, nil }
func (f stubFetcher) FetchObject(ctx context.Context, key string) (string, error) { return f.doc, nil }

type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, storage.VectorDimension)
		vectors[i][0] = 1
	}
	return vectors, nil
}

type testEnv struct {
	mux     *http.ServeMux
	tracker *jobs.Tracker
	store   *memory.Store
}

func newTestServer(t *testing.T, retr service.Retriever, comp service.Composer) *testEnv {
	t.Helper()

	store := memory.New()
	tracker := jobs.NewTracker()
	pipeline := ingest.NewPipeline(
		stubFetcher{doc: "The policy covers accidental damage. The excess is 250 GBP."},
		chunker.New(),
		stubEmbedder{},
		store,
		tracker,
		slog.Default(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pipeline.Start(ctx, 1)

	rag := service.New(pipeline, tracker, retr, comp, store, slog.Default())
	srv := New(rag, slog.Default())
	return &testEnv{
		mux:     srv.Routes(NewHealthHandler(NoopHealth{})),
		tracker: tracker,
		store:   store,
	}
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleIngest_Accepted(t *testing.T) {
	env := newTestServer(t, stubRetriever{}, stubComposer{})

	rec := doJSON(t, env.mux, http.MethodPost, "/v1/ingest",
		`{"items": ["uploads/acme.txt"], "source": "upload", "insurer": "Acme", "product": "Auto"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)

	_, err := env.tracker.Get(resp.JobID)
	require.NoError(t, err)
}

func TestHandleIngest_BadRequests(t *testing.T) {
	env := newTestServer(t, stubRetriever{}, stubComposer{})

	rec := doJSON(t, env.mux, http.MethodPost, "/v1/ingest", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, env.mux, http.MethodPost, "/v1/ingest", `{"items": [], "source": "upload"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, env.mux, http.MethodPost, "/v1/ingest", `{"items": ["a"], "source": "fax"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleJobStatus(t *testing.T) {
	env := newTestServer(t, stubRetriever{}, stubComposer{})

	rec := doJSON(t, env.mux, http.MethodGet, "/v1/jobs/no-such-job", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := env.tracker.Create(2)
	rec = doJSON(t, env.mux, http.MethodGet, "/v1/jobs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, jobs.StatusPending, job.Status)
	assert.Equal(t, 2, job.TotalItems)
}

func TestHandleAsk(t *testing.T) {
	answer := &composer.Answer{
		Content: "Windscreen cover has no excess [1].",
		Citations: []composer.Citation{{
			Index:   0,
			Text:    "[1]",
			Content: "Windscreen cover carries no excess.",
		}},
		Confidence: 0.85,
	}
	env := newTestServer(t,
		stubRetriever{results: []retriever.Result{{ID: "a", Content: "Windscreen cover carries no excess.", Score: 0.9}}},
		stubComposer{answer: answer},
	)

	rec := doJSON(t, env.mux, http.MethodPost, "/v1/ask",
		`{"query": "What is the windscreen excess?", "insurer": "Acme"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var got composer.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, answer.Content, got.Content)
	require.Len(t, got.Citations, 1)
	assert.InDelta(t, 0.85, got.Confidence, 1e-9)
}

func TestHandleAsk_EmptyQuery(t *testing.T) {
	env := newTestServer(t, stubRetriever{}, stubComposer{})

	rec := doJSON(t, env.mux, http.MethodPost, "/v1/ask", `{"query": "  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestHandleAsk_UpstreamFailuresMapToBadGateway(t *testing.T) {
	env := newTestServer(t,
		stubRetriever{results: []retriever.Result{{ID: "a", Content: "clause"}}},
		stubComposer{err: composer.ErrComposition},
	)

	rec := doJSON(t, env.mux, http.MethodPost, "/v1/ask", `{"query": "anything"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleDeleteChunks(t *testing.T) {
	env := newTestServer(t, stubRetriever{}, stubComposer{})
	seedChunks(t, env.store, "Acme", 2)
	seedChunks(t, env.store, "Globex", 1)

	rec := doJSON(t, env.mux, http.MethodDelete, "/v1/chunks?insurer=Acme", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp deleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Deleted)
}

func TestHandleStats(t *testing.T) {
	env := newTestServer(t, stubRetriever{}, stubComposer{})
	seedChunks(t, env.store, "Acme", 3)

	rec := doJSON(t, env.mux, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats storage.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.ByInsurer["Acme"])
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t, stubRetriever{}, stubComposer{})

	rec := doJSON(t, env.mux, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func seedChunks(t *testing.T, store *memory.Store, insurer string, n int) {
	t.Helper()
	chunks := make([]*storage.PolicyChunk, n)
	for i := range chunks {
		v := make([]float32, storage.VectorDimension)
		v[0] = 1
		chunks[i] = &storage.PolicyChunk{
			ID:        insurer + string(rune('a'+i)),
			Insurer:   insurer,
			Product:   "Auto",
			Content:   "clause",
			Embedding: v,
			CreatedAt: time.Now(),
		}
	}
	require.NoError(t, store.Insert(context.Background(), chunks))
}
