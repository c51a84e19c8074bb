package session

import "errors"

// Sentinel errors surfaced by Session primitives (spec.md §6/§7).
var (
	// ErrResolve is returned by Resolve when DNS lookup fails.
	ErrResolve = errors.New("session: resolve failed")
	// ErrConnect is returned by Connect on transport or handshake failure.
	ErrConnect = errors.New("session: connect failed")
	// ErrPing is returned by Ping when the server does not reply OK.
	ErrPing = errors.New("session: ping failed")
)

// Diagnostics carries server-originated error detail populated only by
// Connect on server-reported errors (spec.md §6 glossary: "Diagnostics").
type Diagnostics struct {
	Code     uint16
	SQLState string
	Message  string
}

// Clear resets the diagnostics to their zero value.
func (d *Diagnostics) Clear() {
	if d == nil {
		return
	}
	*d = Diagnostics{}
}
