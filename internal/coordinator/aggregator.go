package coordinator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/fedlearn/coordinator-engine/internal/store"
	"github.com/fedlearn/coordinator-engine/pkg/models"
)

// Aggregate federated-averages the buffered deltas of a COLLECTING round
// and publishes the successor model version. The compute and the model
// write run outside the serialized region on a snapshot; the lock is
// re-taken only to close the round and open its successor.
//
// Deltas are summed in ascending client_id order, so identical inputs
// produce identical aggregates up to floating-point accumulation order.
func (c *Coordinator) Aggregate(roundID int) (*models.AggregateResult, error) {
	c.mu.Lock()
	r, ok := c.rounds[roundID]
	if !ok {
		c.mu.Unlock()
		return nil, models.NewErr(models.CodeUnknownRound)
	}
	if r.State != models.RoundCollecting || len(r.Received) == 0 {
		c.mu.Unlock()
		return nil, models.NewErr(models.CodeNotReady)
	}

	r.State = models.RoundAggregating
	baseVersion := r.InputVersion
	updates := make([]*bufferedUpdate, 0, len(r.Received))
	for _, u := range r.Received {
		updates = append(updates, u)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].ClientID < updates[j].ClientID })
	c.mu.Unlock()

	started := time.Now()
	newModel, err := c.computeWithTimeout(roundID, baseVersion, updates)
	duration := time.Since(started)

	if err == nil {
		// Disk I/O stays outside the lock.
		err = c.store.Put(newModel.Version, newModel)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		log.Printf("[Aggregator] Round %d aggregation failed: %v", roundID, err)
		c.closeRoundLocked(r, closeReasonFailed, duration, baseVersion, r.InputShape)
		c.publish("aggregation_failed", map[string]any{
			"round_id":      roundID,
			"model_version": baseVersion,
		})
		return nil, models.NewErr(models.CodeAggregationFailed)
	}

	c.closeRoundLocked(r, closeReasonAggregated, duration, newModel.Version, newModel.Shape())
	log.Printf("[Aggregator] Round %d aggregated %d updates: %s -> %s (%.3fs)",
		roundID, len(updates), baseVersion, newModel.Version, duration.Seconds())
	c.publish("round_aggregated", map[string]any{
		"round_id":          roundID,
		"new_model_version": newModel.Version,
		"num_updates":       len(updates),
	})

	return &models.AggregateResult{
		RoundID:         roundID,
		NewModelVersion: newModel.Version,
		NumUpdates:      len(updates),
		Status:          "aggregated",
	}, nil
}

// computeWithTimeout bounds the CPU-bound averaging with the configured
// soft timeout; on expiry the round is abandoned as failed and the
// goroutine's eventual result is discarded.
func (c *Coordinator) computeWithTimeout(roundID int, baseVersion string, updates []*bufferedUpdate) (*store.Model, error) {
	type outcome struct {
		model *store.Model
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		m, err := c.computeAggregate(roundID, baseVersion, updates)
		done <- outcome{m, err}
	}()

	timeout := c.cfg.AggregationTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().AggregationTimeout
	}
	select {
	case out := <-done:
		return out.model, out.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("aggregation for round %d exceeded %s", roundID, timeout)
	}
}

// computeAggregate loads the base payload and applies the element-wise
// mean of the deltas, accumulating in float64.
func (c *Coordinator) computeAggregate(roundID int, baseVersion string, updates []*bufferedUpdate) (*store.Model, error) {
	base, err := c.store.Get(baseVersion)
	if err != nil {
		return nil, fmt.Errorf("load base model %s: %w", baseVersion, err)
	}
	baseShape := base.Shape()

	// Per-element shape agreement across the whole batch is fatal for the
	// round; intake only pinned the layer count.
	for _, u := range updates {
		if !u.Delta.ShapeMatches(baseShape) {
			return nil, fmt.Errorf("client %s delta shape %v does not match model shape %v",
				u.ClientID, u.Delta.Shape(), baseShape)
		}
	}

	n := float64(len(updates))
	weights := make([][]float64, len(base.Weights))
	for i, layer := range base.Weights {
		weights[i] = make([]float64, len(layer))
		for j, v := range layer {
			sum := 0.0
			for _, u := range updates {
				sum += u.Delta[i][j]
			}
			weights[i][j] = v + sum/n
		}
	}

	version, err := store.NextVersion(baseVersion)
	if err != nil {
		return nil, err
	}
	return &store.Model{
		Version:     version,
		BaseVersion: baseVersion,
		RoundID:     roundID,
		NumUpdates:  len(updates),
		Weights:     weights,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// closeRoundLocked finishes a round: straggler and completion accounting,
// metrics snapshot, payload discard, archive handoff, successor round.
// Callers hold the lock.
func (c *Coordinator) closeRoundLocked(r *round, reason string, aggDuration time.Duration, nextVersion string, nextShape []int) {
	r.State = models.RoundClosed
	r.ClosedAt = time.Now()
	r.CloseReason = reason

	stragglers := r.stragglers()
	for _, clientID := range stragglers {
		c.reputation.RecordDropout(clientID)
		c.incentives.RecordDropout(clientID)
		c.publish("straggler", map[string]any{
			"round_id":  r.ID,
			"client_id": clientID,
		})
	}
	if len(stragglers) > 0 {
		c.metrics.RecordStragglers(r.ID, stragglers)
		log.Printf("[Coordinator] Round %d closed with %d straggler(s): %v", r.ID, len(stragglers), stragglers)
	}

	if reason == closeReasonAggregated {
		for _, clientID := range r.receivedClientIDs() {
			c.reputation.RecordCompleted(clientID)
		}
	}

	c.metrics.CloseRound(r.ID, reason, aggDuration)
	r.discardPayloads()

	if c.archive != nil {
		if snap := c.metrics.Get(r.ID); snap != nil {
			go func() {
				if err := c.archive.ArchiveRound(context.Background(), snap); err != nil {
					log.Printf("[Coordinator] Warning: round %d archive failed: %v", snap.RoundID, err)
				}
			}()
		}
	}

	c.openRound(nextVersion, nextShape)
}
