// Package gateway serves the admin views over plain HTTP/JSON next to the
// prometheus scrape endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixperk/stompguard/pkg/introspect"
	"github.com/pixperk/stompguard/pkg/types"
)

type Server struct {
	httpServer *http.Server
	source     introspect.Source
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// NewServer builds the gateway. A nil gatherer uses the default
// prometheus registry.
func NewServer(httpAddr string, source introspect.Source, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		httpServer: &http.Server{Addr: httpAddr},
		source:     source,
		gatherer:   gatherer,
		logger:     logger.With(slog.String("component", "gateway")),
	}
	s.httpServer.Handler = s.Handler()
	return s
}

// Handler exposes the routes for embedding or tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /v1/locks", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.source.Locks())
	})
	mux.HandleFunc("GET /v1/stats", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.source.Contention())
	})
	mux.HandleFunc("GET /v1/policies", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.source.Policies())
	})
	mux.HandleFunc("GET /v1/keys", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		view, err := s.source.ResolveKey(q.Get("class"), q.Get("scope"))
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, types.ErrUnknownResourceClass) || errors.Is(err, types.ErrInvalidDescriptor) {
				code = http.StatusBadRequest
			}
			s.writeJSON(w, code, map[string]string{"error": err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, view)
	})
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", slog.String("error", err.Error()))
	}
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP gateway: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
