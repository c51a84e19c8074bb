package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mysqlasync/pool/internal/session"
)

// ErrRetriesExhausted is returned when the setup state machine exhausts
// MaxNumTries attempts without reaching InUse (spec.md §4.3/§7).
var ErrRetriesExhausted = errors.New("pool: retries exhausted")

// SetupStateMachine brings an acquired (locked=true) entry to InUse, or
// fails (spec.md §4.3). It is the only mutator of entry.state during setup;
// the pool promises not to touch state while locked=true.
type SetupStateMachine struct {
	entry        *PooledEntry
	maxNumTries  int
	betweenTries time.Duration
}

// run executes the retry loop described in spec.md §4.3's pseudocode.
func (sm *SetupStateMachine) run(ctx context.Context, diag *session.Diagnostics) error {
	e := sm.entry

	for attempt := 0; attempt < sm.maxNumTries; attempt++ {
		var done bool
		var err error

		switch e.state {
		case StateNotConnected:
			done, err = sm.stepNotConnected(ctx, diag)
		case StatePendingReset:
			// Reset elided in this revision (spec.md §9/Q3).
			e.state = StateInUse
			diag.Clear()
			done = true
		case StateIddle:
			done, err = sm.stepIddle(ctx, diag)
		case StateInUse:
			// Already InUse: nothing to do. Defensive only — the pool never
			// calls setup on an entry already in this state.
			return nil
		default:
			return fmt.Errorf("pool: unknown session state %v", e.state)
		}

		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	slog.Warn("pool: retries exhausted, quarantining entry", "host", e.pool.cfg.Hostname, "max_num_tries", sm.maxNumTries)
	return ErrRetriesExhausted
}

// stepNotConnected implements the NotConnected branch of spec.md §4.3:
// resolve, connect, and on failure sleep(between_tries) and continue,
// except a cancelled backoff sleep fails outward with the sleep's error.
func (sm *SetupStateMachine) stepNotConnected(ctx context.Context, diag *session.Diagnostics) (done bool, err error) {
	e := sm.entry

	endpoints, rerr := e.session.Resolve(ctx, e.pool.cfg.Hostname, e.pool.cfg.Port)
	if rerr != nil {
		slog.Warn("pool: dns resolve failed, retrying", "host", e.pool.cfg.Hostname, "err", rerr)
		if serr := sm.sleepBetweenTries(ctx); serr != nil {
			return false, serr
		}
		return false, nil
	}

	cerr := e.session.Connect(ctx, endpoints[0], e.pool.cfg.Handshake, e.pool.cfg.TLS, diag)
	if cerr != nil {
		slog.Warn("pool: connect failed, retrying", "host", e.pool.cfg.Hostname, "port", e.pool.cfg.Port, "err", cerr)
		if serr := sm.sleepBetweenTries(ctx); serr != nil {
			return false, serr
		}
		return false, nil
	}

	slog.Info("pool: entry connected", "host", e.pool.cfg.Hostname, "port", e.pool.cfg.Port)
	e.state = StateInUse
	diag.Clear()
	return true, nil
}

// stepIddle implements the Iddle branch of spec.md §4.3: ping; on failure,
// close (ignoring the result), replace the session with a fresh one bound
// to the same resolver/TLS context, move to NotConnected, and sleep. A
// backoff-wait error here fails outward, as it does in stepNotConnected;
// the only such error is cancellation (see sleepBetweenTries), so both
// branches treat a backoff failure the same way.
func (sm *SetupStateMachine) stepIddle(ctx context.Context, diag *session.Diagnostics) (done bool, err error) {
	e := sm.entry

	if perr := e.session.Ping(ctx); perr != nil {
		slog.Warn("pool: idle session failed ping, reconnecting", "host", e.pool.cfg.Hostname, "err", perr)
		e.session.Close() // best-effort, result ignored (spec.md §4.1)

		e.session = e.newSession()
		e.state = StateNotConnected

		if serr := sm.sleepBetweenTries(ctx); serr != nil {
			return false, serr
		}
		return false, nil
	}

	e.state = StateInUse
	diag.Clear()
	return true, nil
}

// sleepBetweenTries waits betweenTries or returns ctx.Err() if the wait is
// cancelled first — the Go mapping of spec.md's "timer.wait()" suspension
// point, whose only failure mode under context-based timers is
// cancellation.
func (sm *SetupStateMachine) sleepBetweenTries(ctx context.Context) error {
	timer := time.NewTimer(sm.betweenTries)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		slog.Debug("setup backoff cancelled", "tenant_state", sm.entry.state)
		return ctx.Err()
	}
}
