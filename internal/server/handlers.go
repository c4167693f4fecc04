package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/covergrid/policy-copilot/internal/composer"
	"github.com/covergrid/policy-copilot/internal/embedding"
	"github.com/covergrid/policy-copilot/internal/fetch"
	"github.com/covergrid/policy-copilot/internal/ingest"
	"github.com/covergrid/policy-copilot/internal/jobs"
	"github.com/covergrid/policy-copilot/internal/retriever"
	"github.com/covergrid/policy-copilot/internal/service"
	"github.com/covergrid/policy-copilot/internal/storage"
)

type ingestRequest struct {
	Items     []string `json:"items"`
	Source    string   `json:"source"`
	Insurer   string   `json:"insurer,omitempty"`
	Product   string   `json:"product,omitempty"`
	Version   string   `json:"version,omitempty"`
	SourceURL string   `json:"sourceUrl,omitempty"`
}

type ingestResponse struct {
	JobID string `json:"jobId"`
}

type askRequest struct {
	Query   string `json:"query"`
	Insurer string `json:"insurer,omitempty"`
	Product string `json:"product,omitempty"`
	TopK    int    `json:"topK,omitempty"`
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	jobID, err := s.rag.Ingest(req.Items, ingest.Source(req.Source), ingest.Metadata{
		Insurer:   req.Insurer,
		Product:   req.Product,
		Version:   req.Version,
		SourceURL: req.SourceURL,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{JobID: jobID})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.rag.JobStatus(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	answer, err := s.rag.AnswerQuery(r.Context(), req.Query, storage.Filter{
		Insurer: req.Insurer,
		Product: req.Product,
	}, req.TopK)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleDeleteChunks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count, err := s.rag.DeleteChunks(r.Context(), storage.Filter{
		Insurer: q.Get("insurer"),
		Product: q.Get("product"),
		Version: q.Get("version"),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: count})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.rag.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeServiceError maps the core error taxonomy onto HTTP status codes.
// Query failures are surfaced as explicit errors, never as empty answers.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, retriever.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, embedding.ErrEmbedding), errors.Is(err, composer.ErrComposition):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, fetch.ErrFetch):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, storage.ErrStore), errors.Is(err, storage.ErrStoreUnreachable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
