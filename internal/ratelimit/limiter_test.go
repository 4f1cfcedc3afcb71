package ratelimit

import (
	"testing"
	"time"
)

// fixedClock lets tests march the limiter's notion of time forward.
type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(requests, updates Limit) (*Limiter, *fixedClock) {
	clock := &fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(requests, updates)
	l.now = clock.now
	return l, clock
}

func TestCheck_WindowEnforced(t *testing.T) {
	l, _ := newTestLimiter(Limit{Max: 3, Window: time.Minute}, Limit{Max: 1, Window: time.Minute})

	for i := 0; i < 3; i++ {
		if !l.Check("client-a", KindRequest) {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}
	if l.Check("client-a", KindRequest) {
		t.Error("Expected the 4th request in the window to be denied")
	}

	// Another client has its own window
	if !l.Check("client-b", KindRequest) {
		t.Error("Expected a different client to be unaffected")
	}
}

func TestCheck_KindsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Limit{Max: 1, Window: time.Minute}, Limit{Max: 1, Window: time.Minute})

	if !l.Check("client-a", KindRequest) {
		t.Fatal("Expected the first request to be allowed")
	}
	// Exhausting the request window must not consume the update window
	if !l.Check("client-a", KindUpdate) {
		t.Error("Expected the update window to be independent of the request window")
	}
}

func TestCheck_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(Limit{Max: 2, Window: time.Minute}, Limit{Max: 2, Window: time.Minute})

	l.Check("client-a", KindUpdate)
	l.Check("client-a", KindUpdate)
	if l.Check("client-a", KindUpdate) {
		t.Fatal("Expected the 3rd update to be denied")
	}

	clock.advance(61 * time.Second)
	if !l.Check("client-a", KindUpdate) {
		t.Error("Expected the window to free up after it slides past old events")
	}
}

func TestCheck_DenialsNotRecorded(t *testing.T) {
	l, clock := newTestLimiter(Limit{Max: 2, Window: time.Minute}, Limit{Max: 2, Window: time.Minute})

	l.Check("client-a", KindUpdate)
	l.Check("client-a", KindUpdate)

	// Hammering denied checks must not extend the lockout
	for i := 0; i < 10; i++ {
		l.Check("client-a", KindUpdate)
	}
	clock.advance(61 * time.Second)
	if !l.Check("client-a", KindUpdate) {
		t.Error("Expected denied checks to leave the window untouched")
	}
}

func TestStats(t *testing.T) {
	l, _ := newTestLimiter(Limit{Max: 10, Window: time.Minute}, Limit{Max: 10, Window: time.Minute})

	l.Check("client-a", KindRequest)
	l.Check("client-a", KindRequest)
	l.Check("client-a", KindUpdate)

	stats := l.Stats("client-a")
	if stats["requests_in_window"] != 2 {
		t.Errorf("Expected 2 requests in window. Got: %d", stats["requests_in_window"])
	}
	if stats["updates_in_window"] != 1 {
		t.Errorf("Expected 1 update in window. Got: %d", stats["updates_in_window"])
	}

	// Stats must not mutate the windows
	if !l.Check("client-a", KindRequest) {
		t.Error("Expected Stats to be read-only")
	}
}

func TestParseLimit(t *testing.T) {
	limit, err := ParseLimit("5/60s")
	if err != nil {
		t.Fatalf("ParseLimit failed: %v", err)
	}
	if limit.Max != 5 || limit.Window != time.Minute {
		t.Errorf("Expected 5 per 1m. Got: %d per %s", limit.Max, limit.Window)
	}

	for _, bad := range []string{"", "5", "/60s", "0/60s", "-1/60s", "5/0s", "five/60s"} {
		if _, err := ParseLimit(bad); err == nil {
			t.Errorf("Expected ParseLimit(%q) to fail", bad)
		}
	}
}
