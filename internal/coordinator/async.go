package coordinator

import (
	"context"
	"log"
	"time"

	"github.com/fedlearn/coordinator-engine/pkg/models"
)

// RunAsyncController drives time/quorum-based round finalization. It wakes
// on a fixed interval and, early, whenever an accepted update may have
// completed the quorum. A round fires when it holds at least min_updates,
// or when it has aged past max_duration with at least one update buffered
// (nothing to aggregate means the timer keeps waiting).
//
// Blocks until ctx is cancelled; callers run it on its own goroutine.
func (c *Coordinator) RunAsyncController(ctx context.Context) {
	if !c.cfg.AsyncEnabled {
		return
	}
	interval := c.cfg.AsyncCheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	log.Printf("[AsyncRounds] Controller started (min_updates=%d max_duration=%s)",
		c.cfg.AsyncMinUpdates, c.cfg.AsyncMaxDuration)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[AsyncRounds] Controller stopping")
			return
		case <-c.asyncKick:
		case <-ticker.C:
		}
		c.fireIfReady()
	}
}

// fireIfReady aggregates the current round when the completion policy says
// so. The readiness check runs under the lock; the aggregation re-enters
// on its own.
func (c *Coordinator) fireIfReady() {
	c.mu.Lock()
	r := c.current
	ready := r != nil && c.roundReadyLocked(r)
	var roundID int
	if ready {
		roundID = r.ID
	}
	c.mu.Unlock()

	if !ready {
		return
	}

	log.Printf("[AsyncRounds] Round %d ready, triggering aggregation", roundID)
	if _, err := c.Aggregate(roundID); err != nil {
		// not_ready means a competing trigger won the race; anything else
		// was already booked as a failed round.
		if models.CodeOf(err) != models.CodeNotReady {
			log.Printf("[AsyncRounds] Round %d aggregation error: %v", roundID, err)
		}
	}
}
