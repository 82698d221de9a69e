// Package ui is the ops HTTP server: station status, performance statistics
// and Prometheus metrics.
package ui

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evfleet/ocppsim/internal/pool"
	"github.com/evfleet/ocppsim/internal/stats"
)

// Server exposes the harness state over HTTP.
type Server struct {
	pool   *pool.Pool
	sink   *stats.Sink
	logger *slog.Logger
	srv    *http.Server
}

// NewServer wires the router. Start must be called to listen.
func NewServer(addr string, p *pool.Pool, sink *stats.Sink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		pool:   p,
		sink:   sink,
		logger: logger.With("component", "ui"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(sink.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start listens until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.pool.Snapshots())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.sink.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}
