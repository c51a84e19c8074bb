package pool

import (
	"crypto/tls"
	"time"

	"github.com/mysqlasync/pool/internal/session"
)

// Default values for the §9/Q4 tunables, matching spec.md §4.3's literals.
const (
	DefaultMaxNumTries  = 10
	DefaultBetweenTries = 1000 * time.Millisecond
	DefaultWaitTimeout  = 10 * time.Second
	DefaultCapacity     = 1
)

// PoolConfig holds the connection parameters and capacity for a Pool
// (spec.md §3 Pool attributes), plus the §9/Q4 constants exposed as
// configuration instead of hardcoded literals.
type PoolConfig struct {
	// Hostname and Port identify the single backend endpoint this pool
	// connects to (spec.md §1 non-goal: one endpoint per pool).
	Hostname string
	Port     string
	Handshake session.HandshakeParams
	TLS       *tls.Config

	// Capacity is the fixed number of entries the pool holds for its
	// entire lifetime (spec.md §3 invariant I5).
	Capacity int

	// MaxNumTries, BetweenTries and WaitTimeout default to spec.md's
	// literal values (10, 1s, 10s) when left zero.
	MaxNumTries  int
	BetweenTries time.Duration
	WaitTimeout  time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxNumTries == 0 {
		c.MaxNumTries = DefaultMaxNumTries
	}
	if c.BetweenTries == 0 {
		c.BetweenTries = DefaultBetweenTries
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.Capacity <= 0 {
		c.Capacity = 1
	}
	return c
}
