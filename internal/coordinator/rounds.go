package coordinator

import (
	"sort"
	"time"

	"github.com/fedlearn/coordinator-engine/pkg/models"
)

// Close reasons recorded on a round.
const (
	closeReasonAggregated = "aggregated"
	closeReasonFailed     = "aggregation_failed"
)

// bufferedUpdate is one accepted submission waiting for aggregation.
// Payloads are discarded once the round closes; only the ids survive.
type bufferedUpdate struct {
	ClientID    string
	Delta       models.WeightDelta
	FinalLoss   *float64
	SubmittedAt time.Time
}

// round is the coordinator's mutable record of one training round.
// Invariants: received ⊆ assigned; state transitions are monotonic
// OPEN → COLLECTING → AGGREGATING → CLOSED; exactly one round is in
// OPEN or COLLECTING at any time (the current round).
type round struct {
	ID           int
	State        models.RoundState
	InputVersion string
	// InputShape is the layer layout of the input model; authoritative
	// for delta compatibility.
	InputShape []int

	Assigned map[string]struct{}
	Received map[string]*bufferedUpdate
	// receivedIDs keeps the submitter set after payloads are discarded.
	receivedIDs []string

	CreatedAt   time.Time
	ClosedAt    time.Time
	CloseReason string
}

func newRound(id int, inputVersion string, inputShape []int) *round {
	return &round{
		ID:           id,
		State:        models.RoundOpen,
		InputVersion: inputVersion,
		InputShape:   inputShape,
		Assigned:     make(map[string]struct{}),
		Received:     make(map[string]*bufferedUpdate),
		CreatedAt:    time.Now(),
	}
}

func (r *round) assignedIDs() []string {
	ids := make([]string, 0, len(r.Assigned))
	for id := range r.Assigned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *round) receivedClientIDs() []string {
	if r.receivedIDs != nil {
		return append([]string(nil), r.receivedIDs...)
	}
	ids := make([]string, 0, len(r.Received))
	for id := range r.Received {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// stragglers are the assigned clients whose update never arrived.
func (r *round) stragglers() []string {
	received := make(map[string]struct{}, len(r.Received))
	for id := range r.Received {
		received[id] = struct{}{}
	}
	for _, id := range r.receivedIDs {
		received[id] = struct{}{}
	}
	var out []string
	for id := range r.Assigned {
		if _, ok := received[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// discardPayloads drops the buffered deltas of a closed round, keeping
// only the submitter ids for status and metrics views.
func (r *round) discardPayloads() {
	r.receivedIDs = r.receivedClientIDs()
	r.Received = make(map[string]*bufferedUpdate)
}

func (r *round) status() *models.RoundStatus {
	st := &models.RoundStatus{
		RoundID:      r.ID,
		State:        r.State,
		ModelVersion: r.InputVersion,
		Assigned:     r.assignedIDs(),
		Received:     r.receivedClientIDs(),
		CreatedAt:    r.CreatedAt,
		CloseReason:  r.CloseReason,
	}
	st.TotalClients = len(st.Assigned)
	st.TotalUpdates = len(st.Received)
	if !r.ClosedAt.IsZero() {
		t := r.ClosedAt
		st.ClosedAt = &t
	}
	return st
}
