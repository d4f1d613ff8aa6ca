package session

import (
	"errors"
	"sync"
)

// ErrResponsePending rejects a new turn while a prior response is still
// outstanding. Raised locally, before anything touches the wire.
var ErrResponsePending = errors.New("a response is already pending")

// responseGuard enforces the single-outstanding-response invariant.
// Outstanding is tracked by correlating response-started with its matching
// completed/interrupted signal: by identifier when one is present,
// otherwise by the single flag alone.
type responseGuard struct {
	mu         sync.Mutex
	pending    bool
	responseID string
}

// begin claims the outstanding slot for a new turn.
func (g *responseGuard) begin() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending {
		return ErrResponsePending
	}
	g.pending = true
	g.responseID = ""
	return nil
}

// started records the identifier of the response now in flight.
func (g *responseGuard) started(id string) {
	g.mu.Lock()
	g.pending = true
	g.responseID = id
	g.mu.Unlock()
}

// finish clears the guard when id matches the outstanding response (or
// when either side carries no identifier). Returns whether it cleared.
func (g *responseGuard) finish(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.pending {
		return false
	}
	if id != "" && g.responseID != "" && id != g.responseID {
		return false
	}
	g.pending = false
	g.responseID = ""
	return true
}

// reset unconditionally clears the guard (interruption, teardown,
// explicit host reset).
func (g *responseGuard) reset() {
	g.mu.Lock()
	g.pending = false
	g.responseID = ""
	g.mu.Unlock()
}

func (g *responseGuard) outstanding() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending, g.responseID
}
