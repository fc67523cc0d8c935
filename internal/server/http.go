// Package server exposes the read API: REST endpoints for markets and
// 24h stats, a WebSocket stats push, health and Prometheus metrics.
// All writes originate inside the pipeline; nothing here mutates state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"compute-perps-indexer/internal/observability"
	"compute-perps-indexer/internal/query"
	"compute-perps-indexer/internal/registry"
	"compute-perps-indexer/internal/storage"
)

// Server is the read-side HTTP server.
type Server struct {
	queries *query.Service
	hub     *Hub
	logger  *log.Logger

	httpServer *http.Server
}

// Options contains configuration for creating a Server.
type Options struct {
	Addr    string
	Queries *query.Service
	Hub     *Hub
	Logger  *log.Logger
}

// New creates the read API server. The hub is optional; without one
// the /ws endpoint is not registered.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		queries: opts.Queries,
		hub:     opts.Hub,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /markets", s.handleMarkets)
	mux.HandleFunc("GET /markets/{id}/stats", s.handleStats)
	if s.hub != nil {
		mux.Handle("GET /ws", s.hub)
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called. Blocks.
func (s *Server) Start() error {
	s.logger.Printf("[server] listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queries.Markets())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")

	row, err := s.queries.Get24hStats(r.Context(), marketID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, row)
	case errors.Is(err, registry.ErrUnknownMarket):
		writeError(w, http.StatusNotFound, "unknown market")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "stats not yet aggregated")
	default:
		s.logger.Printf("[server] stats %s: %v", marketID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
