// Package statsapi exposes the pool's occupancy and Prometheus metrics
// over HTTP, narrowed from the teacher's multi-tenant REST+dashboard API
// down to the read-only surface a single pool core has to offer: no
// tenant CRUD, no pause/resume, no admin dashboard (SPEC_FULL.md §2/§6).
package statsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mysqlasync/pool/internal/metrics"
	"github.com/mysqlasync/pool/internal/pool"
)

// Server is the stats/metrics HTTP server.
type Server struct {
	pool       *pool.Pool
	metrics    *metrics.Collector
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a new stats API server bound to a single pool.
func NewServer(p *pool.Pool, m *metrics.Collector) *Server {
	return &Server{
		pool:      p,
		metrics:   m,
		startTime: time.Now(),
	}
}

// Start starts the HTTP server on bind:port.
func (s *Server) Start(bind string, port int) error {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/debug/pool", s.poolStatsHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	addr := fmt.Sprintf("%s:%d", bind, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("stats API listening", "addr", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("stats API server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the stats API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) poolStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Stats())
}

// healthHandler reports unhealthy once every entry is locked: a fully
// locked pool can't service a new GetConnection until something releases,
// which never happens on its own when every entry is Q1-quarantined after
// ErrRetriesExhausted. stats.ByState leaves locked entries out (see
// Pool.Stats), so the check compares Locked with Capacity directly.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.pool.Stats()
	healthy := stats.Locked < stats.Capacity

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": boolToStatus(healthy)})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"pool":           s.pool.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
