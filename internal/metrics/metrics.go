// Package metrics provides Prometheus instrumentation for the pool core,
// narrowed from the teacher's multi-tenant dashboard metrics down to what
// a single-endpoint pool and its setup state machine can actually emit.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the pool's Prometheus metrics on a private registry, so
// multiple pools (e.g. in tests) never collide on metric registration.
type Collector struct {
	Registry *prometheus.Registry

	entriesByState   *prometheus.GaugeVec
	acquireDuration  prometheus.Histogram
	poolExhausted    prometheus.Counter
	retriesExhausted prometheus.Counter
}

// New creates and registers the pool's metrics on a fresh registry. Safe to
// call multiple times — each call is fully independent.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		entriesByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mysqlpool_entries",
				Help: "Number of unlocked pool entries in each lifecycle state, as of the last Pool.Stats call; locked entries are not counted",
			},
			[]string{"state"},
		),
		acquireDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mysqlpool_acquire_duration_seconds",
				Help:    "Time spent in GetConnection until a BorrowedConnection is returned",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
		),
		poolExhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mysqlpool_exhausted_total",
				Help: "Number of times GetConnection found no eligible entry and had to wait",
			},
		),
		retriesExhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mysqlpool_retries_exhausted_total",
				Help: "Number of SetupStateMachine runs that failed after MaxNumTries attempts",
			},
		),
	}

	reg.MustRegister(c.entriesByState, c.acquireDuration, c.poolExhausted, c.retriesExhausted)
	return c
}

// SetEntryStateCounts sets the entries-by-state gauge from a snapshot.
func (c *Collector) SetEntryStateCounts(counts map[string]int) {
	for _, state := range []string{"not_connected", "iddle", "pending_reset", "in_use"} {
		c.entriesByState.WithLabelValues(state).Set(float64(counts[state]))
	}
}

// ObserveAcquireDuration records a completed GetConnection's latency.
func (c *Collector) ObserveAcquireDuration(d time.Duration) {
	c.acquireDuration.Observe(d.Seconds())
}

// IncExhausted increments the pool-exhaustion counter.
func (c *Collector) IncExhausted() {
	c.poolExhausted.Inc()
}

// IncRetriesExhausted increments the retries-exhausted counter.
func (c *Collector) IncRetriesExhausted() {
	c.retriesExhausted.Inc()
}
