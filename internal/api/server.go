// Package api exposes the sync daemon's operational endpoints: liveness,
// readiness, prometheus metrics and a registry snapshot. The assistant's
// conversational API lives in the backend, not here.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/companionlabs/companion-memory/internal/model"
)

// StatsSource snapshots the manager registry. Satisfied by
// registry.Registry.
type StatsSource interface {
	Stats() []model.ManagerStats
	Len() int
}

// ReadinessChecker reports aggregated service health. Satisfied by
// health.ServiceHealthChecker.
type ReadinessChecker interface {
	IsHealthy() bool
}

// Server is the ops HTTP surface of the sync daemon.
type Server struct {
	router *mux.Router
	ready  ReadinessChecker
	stats  StatsSource
	log    zerolog.Logger
}

// NewServer wires the ops routes. ready may be nil, in which case the
// readiness endpoint always reports healthy.
func NewServer(stats StatsSource, ready ReadinessChecker, log zerolog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		ready:  ready,
		stats:  stats,
		log:    log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/v0/health/live", s.handleLive).Methods(http.MethodGet)
	s.router.HandleFunc("/v0/health/ready", s.handleReady).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/v0/stats", s.handleStats).Methods(http.MethodGet)
}

// Handler returns the root handler for http.Server wiring.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready.IsHealthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"managerCount": s.stats.Len(),
		"managers":     s.stats.Stats(),
		"generatedAt":  time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
