package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Governor enforces write spacing and keeps freshness tokens for one adapter
// instance. It is safe for concurrent use.
type Governor struct {
	minWriteInterval time.Duration
	writes           *rate.Limiter

	tokensMu sync.Mutex
	tokens   map[Location]string

	granted     atomic.Int64
	notModified atomic.Int64
	fetches     atomic.Int64
}

// GovernorStats is a snapshot of governor counters.
type GovernorStats struct {
	Writes      int64 `json:"writes"`
	Fetches     int64 `json:"fetches"`
	NotModified int64 `json:"notModified"`
}

// NewGovernor creates a Governor that spaces writes at least minWriteInterval apart.
func NewGovernor(minWriteInterval time.Duration) *Governor {
	if minWriteInterval < 0 {
		minWriteInterval = 0
	}
	// A burst of one grants a single slot per interval.
	return &Governor{
		minWriteInterval: minWriteInterval,
		writes:           rate.NewLimiter(rate.Every(minWriteInterval), 1),
		tokens:           make(map[Location]string),
	}
}

// MinWriteInterval returns the configured write spacing.
func (g *Governor) MinWriteInterval() time.Duration { return g.minWriteInterval }

// WaitWrite blocks until a write is allowed and reserves the slot. A caller
// whose ctx ends first gives its slot back to later writers.
func (g *Governor) WaitWrite(ctx context.Context) error {
	r := g.writes.Reserve()
	if delay := r.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.Cancel()
			return ctx.Err()
		case <-timer.C:
		}
	}
	g.granted.Add(1)
	return nil
}

// Token returns the freshness token last stored for loc.
func (g *Governor) Token(loc Location) (string, bool) {
	g.tokensMu.Lock()
	defer g.tokensMu.Unlock()
	tok, ok := g.tokens[loc]
	return tok, ok
}

// SetToken stores the freshness token observed for loc.
func (g *Governor) SetToken(loc Location, token string) {
	g.tokensMu.Lock()
	defer g.tokensMu.Unlock()
	if token == "" {
		delete(g.tokens, loc)
		return
	}
	g.tokens[loc] = token
}

// ForgetToken drops the token for loc, e.g. after the object was deleted.
func (g *Governor) ForgetToken(loc Location) {
	g.tokensMu.Lock()
	defer g.tokensMu.Unlock()
	delete(g.tokens, loc)
}

// Fresh records a fetch and reports whether token matches the stored one.
// A match counts as a not-modified hit and leaves the stored token unchanged.
func (g *Governor) Fresh(loc Location, token string) bool {
	g.fetches.Add(1)
	if token == "" {
		return false
	}
	stored, ok := g.Token(loc)
	if ok && stored == token {
		g.notModified.Add(1)
		return true
	}
	return false
}

// MarkNotModified counts a not-modified answer signalled by the remote itself.
func (g *Governor) MarkNotModified() {
	g.fetches.Add(1)
	g.notModified.Add(1)
}

// MarkFetch counts a fetch that transferred content.
func (g *Governor) MarkFetch() {
	g.fetches.Add(1)
}

// Stats returns a snapshot of the counters.
func (g *Governor) Stats() GovernorStats {
	return GovernorStats{
		Writes:      g.granted.Load(),
		Fetches:     g.fetches.Load(),
		NotModified: g.notModified.Load(),
	}
}

// StatsReporter is implemented by adapters that expose governor counters.
type StatsReporter interface {
	GovernorStats() GovernorStats
}
