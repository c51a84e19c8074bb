package pool

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/mysqlasync/pool/internal/session"
)

// SessionState is the per-entry lifecycle state (spec.md §3).
type SessionState int

const (
	// StateNotConnected: no socket, no endpoints resolved, or the
	// underlying session was discarded.
	StateNotConnected SessionState = iota
	// StateIddle: a live, authenticated session with no active user; may
	// be stale (peer could have closed). Spelling matches spec.md's
	// glossary verbatim.
	StateIddle
	// StatePendingReset: a live session just returned by a user; a reset
	// should be performed before next use (elided in this revision, §9/Q3).
	StatePendingReset
	// StateInUse: currently borrowed.
	StateInUse
)

func (s SessionState) String() string {
	switch s {
	case StateNotConnected:
		return "not_connected"
	case StateIddle:
		return "iddle"
	case StatePendingReset:
		return "pending_reset"
	case StateInUse:
		return "in_use"
	default:
		return "unknown"
	}
}

// sessionAPI is the subset of *session.Session the state machine drives.
// Extracted as an interface so tests can inject a fake without a real
// socket, and so the pool never depends on session internals (spec.md §4.1:
// Session is treated as opaque by the pool except for these primitives).
type sessionAPI interface {
	Resolve(ctx context.Context, host, port string) ([]session.Endpoint, error)
	Connect(ctx context.Context, ep session.Endpoint, params session.HandshakeParams, tlsCfg *tls.Config, diag *session.Diagnostics) error
	Ping(ctx context.Context) error
	Close() error
}

// sessionFactory builds a replacement Session bound to the same resolver
// and TLS context a pool shares across all its entries (spec.md §4.1:
// recreatability — the timer and resolver survive replacement).
type sessionFactory func() sessionAPI

// PooledEntry wraps a Session with pool bookkeeping (spec.md §4.2):
// lifecycle state, a "locked" flag (at-most-one-user), and the
// SetupStateMachine that drives it to InUse.
type PooledEntry struct {
	pool *Pool // back-reference, non-owning (spec.md §9: back-references)

	state   SessionState
	locked  bool
	session sessionAPI

	newSession sessionFactory

	createdAt time.Time
	lastUsed  time.Time
}

func newPooledEntry(p *Pool, sess sessionAPI, factory sessionFactory) *PooledEntry {
	now := time.Now()
	return &PooledEntry{
		pool:       p,
		state:      StateNotConnected,
		session:    sess,
		newSession: factory,
		createdAt:  now,
		lastUsed:   now,
	}
}

// setup runs the SetupStateMachine to bring this (already-locked) entry to
// InUse, or fails. Callers must hold `locked = true` on the entry before
// calling setup (spec.md §4.4 step 3).
func (e *PooledEntry) setup(ctx context.Context, diag *session.Diagnostics) error {
	sm := &SetupStateMachine{
		entry:        e,
		maxNumTries:  e.pool.cfg.MaxNumTries,
		betweenTries: e.pool.cfg.BetweenTries,
	}
	err := sm.run(ctx, diag)
	if err == nil {
		e.lastUsed = time.Now()
	}
	return err
}

// release clears `locked`, notifies one waiter, and — if the entry was
// InUse — moves it to PendingReset so it becomes reselectable by a future
// find_connection (spec.md §3 defines PendingReset as exactly "a live
// session that was just returned by a user"; DESIGN.md's Q3-extension note
// records why, since otherwise no entry could ever be reused after its
// first borrow). Must never panic.
func (e *PooledEntry) release() {
	e.pool.mu.Lock()
	if e.state == StateInUse {
		e.state = StatePendingReset
	}
	e.locked = false
	e.pool.mu.Unlock()
	e.pool.cond.Signal()
}

// Session returns the entry's underlying session for protocol-layer use
// (query/prepare/execute), which this core does not implement.
func (e *PooledEntry) Session() sessionAPI {
	return e.session
}
