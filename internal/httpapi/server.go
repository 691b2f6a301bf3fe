// Package httpapi serves the operational surface: health snapshot and
// Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tradelab/outcomes/internal/scheduler"
)

// Server exposes /health and /metrics over one listener
type Server struct {
	srv *http.Server
}

// New builds the HTTP server around the scheduler's health snapshot
func New(listen string, sched *scheduler.Scheduler) *Server {
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler(sched)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return &Server{
		srv: &http.Server{
			Addr:         listen,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Start serves until Shutdown; a closed listener is not an error
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func healthHandler(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sched.Health()); err != nil {
			log.Error().Err(err).Msg("failed to encode health response")
		}
	}
}
