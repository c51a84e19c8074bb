package statsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mysqlasync/pool/internal/metrics"
	"github.com/mysqlasync/pool/internal/pool"
	"github.com/mysqlasync/pool/internal/session"
)

func newTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()

	p := pool.New(pool.PoolConfig{
		Hostname: "127.0.0.1",
		Port:     "3306",
		Handshake: session.HandshakeParams{
			Username: "app_user",
			DBName:   "app",
		},
		Capacity: 2,
	})
	m := metrics.New()
	s := NewServer(p, m)

	r := mux.NewRouter()
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/debug/pool", s.poolStatsHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	return s, r
}

func TestStatusEndpoint(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("expected uptime_seconds field")
	}
	if _, ok := body["pool"]; !ok {
		t.Error("expected pool field")
	}
}

func TestPoolStatsEndpoint(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest("GET", "/debug/pool", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var stats pool.Stats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if stats.Capacity != 2 {
		t.Errorf("expected capacity 2, got %d", stats.Capacity)
	}
}

func TestHealthEndpointHealthyWhenNoEntriesInUse(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

// alwaysFailResolver fails every lookup, driving GetConnection straight to
// ErrRetriesExhausted so its entry stays locked (Q1 quarantine) without
// needing a real network failure to manufacture the same outcome.
type alwaysFailResolver struct{}

func (alwaysFailResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return nil, context.DeadlineExceeded
}

func TestHealthEndpointUnhealthyWhenAllEntriesLocked(t *testing.T) {
	p := pool.New(pool.PoolConfig{
		Hostname:     "db.invalid",
		Port:         "3306",
		Capacity:     1,
		MaxNumTries:  1,
		BetweenTries: time.Millisecond,
		WaitTimeout:  time.Second,
	}, pool.WithResolver(alwaysFailResolver{}))
	s := NewServer(p, metrics.New())

	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	var diag session.Diagnostics
	if _, err := p.GetConnection(context.Background(), &diag); err == nil {
		t.Fatal("expected GetConnection to fail and quarantine the only entry")
	}

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once every entry is locked, got %d", rr.Code)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct == "" {
		t.Error("expected a Content-Type header on the metrics response")
	}
}

func TestServerStartStop(t *testing.T) {
	p := pool.New(pool.PoolConfig{Hostname: "127.0.0.1", Port: "3306", Capacity: 1})
	m := metrics.New()
	s := NewServer(p, m)

	if err := s.Start("127.0.0.1", 0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Give the listener goroutine a moment to bind before shutting down.
	time.Sleep(10 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
