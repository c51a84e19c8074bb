// Package pool implements the connection pool core of an asynchronous
// MySQL client: a bounded set of PooledEntry slots, each driven to InUse by
// a SetupStateMachine, handed out to callers as BorrowedConnections.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mysqlasync/pool/internal/session"
)

// Metrics is the subset of instrumentation the pool reports into. Kept as
// an interface here (rather than importing internal/metrics directly) so
// the pool has zero hard dependency on Prometheus; metrics.Collector
// satisfies it.
type Metrics interface {
	SetEntryStateCounts(counts map[string]int)
	ObserveAcquireDuration(d time.Duration)
	IncExhausted()
	IncRetriesExhausted()
}

// Pool holds a fixed-capacity set of PooledEntry and hands them out to
// callers (spec.md §4.4). Its internal structure is stable for the pool's
// lifetime (invariant I5); borrowed references remain valid.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg     PoolConfig
	entries []*PooledEntry

	resolver session.Resolver
	metrics  Metrics
}

// Option configures optional Pool behavior.
type Option func(*Pool)

// WithMetrics wires a Metrics sink into the pool.
func WithMetrics(m Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithResolver overrides the Resolver used by every entry's Session. The
// zero value uses the system DNS resolver.
func WithResolver(r session.Resolver) Option {
	return func(p *Pool) { p.resolver = r }
}

// New constructs a Pool with the given configuration and fixed capacity
// (spec.md §4.4 construction: executor, ssl_ctx, how_to_connect, capacity).
func New(cfg PoolConfig, opts ...Option) *Pool {
	cfg = cfg.withDefaults()

	p := &Pool{cfg: cfg}
	for _, o := range opts {
		o(p)
	}

	factory := func() sessionAPI { return session.New(p.resolver) }

	p.entries = make([]*PooledEntry, cfg.Capacity)
	for i := range p.entries {
		p.entries[i] = newPooledEntry(p, factory(), factory)
	}
	p.cond = sync.NewCond(&p.mu)

	return p
}

// GetConnection implements spec.md §4.4's get_connection algorithm: search
// for a reusable entry, lock it, release the pool mutex, run setup, and
// return a BorrowedConnection — or wait on the condition variable with a
// bounded timeout and retry.
func (p *Pool) GetConnection(ctx context.Context, diag *session.Diagnostics) (*BorrowedConnection, error) {
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.mu.Lock()
		entry := p.findConnection()
		if entry != nil {
			entry.locked = true
			p.mu.Unlock()

			if err := entry.setup(ctx, diag); err != nil {
				// Q1: setup failure does not clear locked — the entry is
				// quarantined until a BorrowedConnection.Release() runs,
				// which never happens for a failed GetConnection because
				// none was created. This is the spec's literal behavior
				// (spec.md §4.4 step 3 / §9/Q1), not an oversight.
				if errors.Is(err, ErrRetriesExhausted) && p.metrics != nil {
					p.metrics.IncRetriesExhausted()
				}
				return nil, err
			}

			if p.metrics != nil {
				p.metrics.ObserveAcquireDuration(time.Since(start))
			}
			return &BorrowedConnection{pool: p, entry: entry}, nil
		}

		if p.metrics != nil {
			p.metrics.IncExhausted()
		}
		p.mu.Unlock()

		if err := waitForWithTimeout(ctx, p.cond, p.cfg.WaitTimeout); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			// Internal pool-wait timeout: transparent to the caller
			// (spec.md §4.4 step 4) — loop and retry.
		}
	}
}

// findConnection scans entries for the first with locked=false and
// state != InUse (spec.md §4.4 step 2). Must be called with mu held.
func (p *Pool) findConnection() *PooledEntry {
	for _, e := range p.entries {
		if !e.locked && e.state != StateInUse {
			return e
		}
	}
	return nil
}

// returnConnection clears locked and notifies one waiter (spec.md §4.4
// return_connection); see PooledEntry.release for the InUse -> PendingReset
// transition this performs (DESIGN.md's Q3-extension note).
func (p *Pool) returnConnection(e *PooledEntry) {
	e.release()
}

// Stats is a point-in-time snapshot of pool occupancy, for the stats
// surface (SPEC_FULL §2/§6).
type Stats struct {
	Capacity int            `json:"capacity"`
	Locked   int            `json:"locked"`
	ByState  map[string]int `json:"by_state"`
}

// Stats returns current pool occupancy. Mirrors findConnection's locking
// discipline: entry.state is only read for entries with locked == false,
// since a locked entry's state is owned and mutated by its
// SetupStateMachine on a separate goroutine without holding p.mu (spec.md
// §4.3's single-executor assumption does not hold for real goroutines, so
// this avoids racing with stepNotConnected/stepIddle's unsynchronized
// writes). Locked entries are counted in Locked only, not bucketed by
// state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Capacity: len(p.entries), ByState: make(map[string]int)}
	for _, e := range p.entries {
		if e.locked {
			s.Locked++
			continue
		}
		s.ByState[e.state.String()]++
	}
	if p.metrics != nil {
		p.metrics.SetEntryStateCounts(s.ByState)
	}
	return s
}

// errWaitTimeout is the internal signal that the bounded wait elapsed
// without a notification; GetConnection treats it as "loop and retry"
// (spec.md §4.5/§7), never surfacing it to its own caller.
var errWaitTimeout = fmt.Errorf("pool: wait timeout")

// waitForWithTimeout awaits whichever occurs first: a notification on cond,
// a bounded timeout, or ctx cancellation (spec.md §4.5). Reports nil on
// notify, errWaitTimeout on timeout (transparent to GetConnection), or
// ctx.Err() on cancellation (surfaced).
func waitForWithTimeout(ctx context.Context, cond *sync.Cond, timeout time.Duration) error {
	woke := make(chan struct{})
	timedOut := make(chan struct{})

	timer := time.AfterFunc(timeout, func() {
		close(timedOut)
		cond.Broadcast()
	})
	defer timer.Stop()

	go func() {
		cond.L.Lock()
		cond.Wait()
		cond.L.Unlock()
		close(woke)
	}()

	select {
	case <-woke:
		select {
		case <-timedOut:
			return errWaitTimeout
		default:
			return nil
		}
	case <-ctx.Done():
		cond.Broadcast() // release the helper goroutine above
		<-woke
		return ctx.Err()
	}
}

// BorrowedConnection is a scoped right to use an Entry's Session, released
// on Release() (spec.md §4/glossary: "Borrow"). Release is idempotent
// (invariant I4).
type BorrowedConnection struct {
	pool  *Pool
	entry *PooledEntry

	mu       sync.Mutex
	released bool
}

// Session returns the wrapped session for protocol-layer use.
func (b *BorrowedConnection) Session() sessionAPI {
	return b.entry.session
}

// Release returns the entry to the pool via PooledEntry.release: clears
// locked, notifies one waiter, and moves an InUse entry to PendingReset so
// it becomes reselectable. Idempotent and noexcept.
func (b *BorrowedConnection) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.pool.returnConnection(b.entry)
}

var _ sessionAPI = (*session.Session)(nil)
