// Package api provides the HTTP server for NoFree.
// It exposes stored run reports and a live view of the running simulation.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nofree-network/nofree/internal/domain"
	"github.com/nofree-network/nofree/internal/health"
	"github.com/nofree-network/nofree/internal/infra/metrics"
	"github.com/nofree-network/nofree/internal/infra/sim"
)

// RunStore is the read side of the run report store.
type RunStore interface {
	ListRuns(limit int) ([]domain.RunReport, error)
	GetRun(id string) (*domain.RunReport, error)
	NodeReputation(runID string, node domain.PeerID) (map[domain.PeerID]domain.ReputationRecord, error)
}

// LiveSim is the inspection surface of a running simulation.
type LiveSim interface {
	Status() sim.Status
	Nodes() []domain.NodeState
	Node(id domain.PeerID) (domain.NodeState, error)
}

// HealthReporter is the latest result of the periodic health checks.
type HealthReporter interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// Server is the NoFree HTTP API server.
type Server struct {
	runs           RunStore
	log            *zap.Logger
	version        string
	metricsEnabled bool

	mu     sync.RWMutex
	live   LiveSim // nil until a simulation is attached
	health HealthReporter
}

// NewServer creates a new API server.
func NewServer(runs RunStore, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{runs: runs, log: log, version: "dev"}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetVersion sets the version reported by /api/version.
func (s *Server) SetVersion(v string) { s.version = v }

// SetSimulation attaches the simulation served under /api/sim.
func (s *Server) SetSimulation(l LiveSim) {
	s.mu.Lock()
	s.live = l
	s.mu.Unlock()
}

// SetHealth attaches the checker reported by /health.
func (s *Server) SetHealth(h HealthReporter) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.health
	s.mu.RUnlock()
	if h == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	status, code := "ok", http.StatusOK
	if !h.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": h.Statuses(),
	})
}

func (s *Server) simulation() LiveSim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": s.version,
		})
	})

	// Stored run reports
	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Get("/{id}/nodes/{node}/reputation", s.handleRunReputation)
	})

	// Live simulation
	r.Route("/api/sim", func(r chi.Router) {
		r.Get("/status", s.handleSimStatus)
		r.Get("/nodes", s.handleSimNodes)
		r.Get("/nodes/{node}", s.handleSimNode)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Middleware ─────────────────────────────────────────────────────────────

// instrument records per-route metrics and a debug log line per request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status/100)+"xx").Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
