// Package server exposes the RAG core over HTTP for the rest of the
// application: ingestion, job polling, question answering, and chunk
// administration.
package server

import (
	"log/slog"
	"net/http"

	"github.com/covergrid/policy-copilot/internal/service"
)

// Server wraps the service facade with HTTP handlers.
type Server struct {
	rag    *service.RAG
	logger *slog.Logger
}

// New creates the HTTP server layer.
func New(rag *service.RAG, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{rag: rag, logger: logger}
}

// Routes registers all endpoints on a new mux.
func (s *Server) Routes(health http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health)
	mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleJobStatus)
	mux.HandleFunc("POST /v1/ask", s.handleAsk)
	mux.HandleFunc("DELETE /v1/chunks", s.handleDeleteChunks)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	return mux
}
