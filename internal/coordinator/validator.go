package coordinator

import (
	"log"
	"time"

	"github.com/fedlearn/coordinator-engine/internal/ratelimit"
	"github.com/fedlearn/coordinator-engine/pkg/models"
)

// SubmitUpdate runs the intake pipeline over one submission. Stages are
// short-circuited on the first failure:
//
//	token → registration → assignment/state → rate limit → duplicate
//	→ format → values
//
// Rejections before the token proves the caller's identity (unauthorized,
// unknown_client) leave every ledger untouched; later rejections count as
// a submitted+rejected update in reputation and under their reason code
// in metrics. A duplicate replay never re-credits incentives or the
// round's received set.
func (c *Coordinator) SubmitUpdate(req *models.UpdateRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Stages 1–2: token and registration. The auth registry owns the
	// client records, so both checks resolve here.
	if code := c.authenticate(req.ClientID, req.Token); code != models.CodeOK {
		return models.NewErr(code)
	}

	// Stage 3: assignment and round state.
	r, ok := c.rounds[req.RoundID]
	if !ok {
		return c.rejectLocked(req, models.CodeUnknownRound)
	}
	if _, assigned := r.Assigned[req.ClientID]; !assigned {
		return c.rejectLocked(req, models.CodeNoAssignment)
	}
	if r.State != models.RoundCollecting {
		return c.rejectLocked(req, models.CodeRoundNotCollect)
	}

	// Stage 4: rate limits. A submission spends the shared per-client
	// request window as well as the tighter update window.
	if !c.limiter.Check(req.ClientID, ratelimit.KindRequest) {
		return c.rejectLocked(req, models.CodeRateLimited)
	}
	if !c.limiter.Check(req.ClientID, ratelimit.KindUpdate) {
		return c.rejectLocked(req, models.CodeRateLimited)
	}

	// Stage 5: duplicate replay.
	if _, submitted := r.Received[req.ClientID]; submitted {
		return c.rejectLocked(req, models.CodeDuplicateUpdate)
	}

	// Stage 6: format. The delta must parse as nested numeric arrays with
	// the advertised model's layer count; per-element shape agreement
	// across the batch is enforced at aggregation time.
	delta, err := models.ParseWeightDelta(req.WeightDelta)
	if err != nil {
		return c.rejectLocked(req, models.CodeMalformedDelta)
	}
	if len(delta) != len(r.InputShape) {
		return c.rejectLocked(req, models.CodeMalformedDelta)
	}

	// Stage 7: value guard.
	if err := c.guard.Inspect(delta); err != nil {
		return c.rejectLocked(req, models.CodeInvalidValues)
	}

	// Accept.
	now := time.Now()
	latency := now.Sub(r.CreatedAt)
	r.Received[req.ClientID] = &bufferedUpdate{
		ClientID:    req.ClientID,
		Delta:       delta,
		FinalLoss:   req.FinalLoss,
		SubmittedAt: now,
	}

	c.reputation.RecordAccepted(req.ClientID, latency)
	tokens := c.incentives.AwardAccepted(req.ClientID, r.ID, latency)
	c.metrics.UpdateAccepted(r.ID)

	log.Printf("[Coordinator] Update accepted: client=%s round=%d latency=%.2fs reward=%.1f",
		req.ClientID, r.ID, latency.Seconds(), tokens)
	c.publish("update_accepted", map[string]any{
		"round_id":  r.ID,
		"client_id": req.ClientID,
		"received":  len(r.Received),
		"assigned":  len(r.Assigned),
	})

	if c.cfg.AsyncEnabled && len(r.Received) >= c.cfg.AsyncMinUpdates {
		c.kickAsync()
	}
	return nil
}

// rejectLocked books a post-authentication rejection into the ledgers and
// returns the taxonomy error. Callers hold the lock.
func (c *Coordinator) rejectLocked(req *models.UpdateRequest, code models.Code) error {
	c.reputation.RecordRejected(req.ClientID)
	c.metrics.UpdateRejected(req.RoundID, string(code))
	log.Printf("[Coordinator] Update rejected: client=%s round=%d reason=%s",
		req.ClientID, req.RoundID, code)
	return models.NewErr(code)
}
