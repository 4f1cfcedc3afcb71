package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ──────────────────────────────────────────────────────────────────────
// Per-Client Sliding-Window Rate Limiter
//
// Uses stdlib only — no external dependency.
//
// Each client carries two independent windows: one counting all API
// requests, one counting update submissions. Check is the sole mutator;
// a denied check records nothing. Empty windows are pruned eagerly so the
// per-client maps do not grow with idle clients.
// ──────────────────────────────────────────────────────────────────────

// Kind selects which window a check counts against.
type Kind string

const (
	KindRequest Kind = "request"
	KindUpdate  Kind = "update"
)

// Limit is one window configuration: at most Max events per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// ParseLimit parses the "N/duration" config form, e.g. "5/60s" or "120/1m".
func ParseLimit(s string) (Limit, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Limit{}, fmt.Errorf("invalid rate limit %q, want N/duration", s)
	}
	max, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || max <= 0 {
		return Limit{}, fmt.Errorf("invalid rate limit count in %q", s)
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil || window <= 0 {
		return Limit{}, fmt.Errorf("invalid rate limit window in %q", s)
	}
	return Limit{Max: max, Window: window}, nil
}

// Limiter holds the per-client windows. Not self-locking: all calls go
// through the coordinator's serialized region.
type Limiter struct {
	requests Limit
	updates  Limit

	requestTimes map[string][]time.Time
	updateTimes  map[string][]time.Time

	now func() time.Time // injectable for tests
}

func NewLimiter(requests, updates Limit) *Limiter {
	return &Limiter{
		requests:     requests,
		updates:      updates,
		requestTimes: make(map[string][]time.Time),
		updateTimes:  make(map[string][]time.Time),
		now:          time.Now,
	}
}

// Check records one event of the given kind for the client and reports
// whether it fit in the window. Denials are not recorded.
func (l *Limiter) Check(clientID string, kind Kind) bool {
	limit, times := l.windowFor(kind)
	now := l.now()
	cutoff := now.Add(-limit.Window)

	recent := prune(times[clientID], cutoff)
	if len(recent) == 0 {
		// Eager prune: drop the map entry rather than keep an empty slice.
		delete(times, clientID)
	}

	if len(recent) >= limit.Max {
		if len(recent) > 0 {
			times[clientID] = recent
		}
		return false
	}

	times[clientID] = append(recent, now)
	return true
}

// Stats reports the current window occupancy for a client.
func (l *Limiter) Stats(clientID string) map[string]int {
	now := l.now()
	return map[string]int{
		"requests_in_window": countAfter(l.requestTimes[clientID], now.Add(-l.requests.Window)),
		"updates_in_window":  countAfter(l.updateTimes[clientID], now.Add(-l.updates.Window)),
	}
}

func countAfter(ts []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range ts {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func (l *Limiter) windowFor(kind Kind) (Limit, map[string][]time.Time) {
	if kind == KindUpdate {
		return l.updates, l.updateTimes
	}
	return l.requests, l.requestTimes
}

// prune returns the timestamps newer than cutoff, reusing the backing array.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	keep := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	return keep
}
