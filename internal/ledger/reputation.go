package ledger

import (
	"sort"
	"time"
)

// ──────────────────────────────────────────────────────────────────
// Client Reputation Ledger
//
// Observes validator/aggregator/controller events and maintains the
// per-client participation counters behind the reputation score:
//
//   score = 0.4·completion_rate + 0.3·acceptance_rate
//         + 0.2·(1 − dropout_rate) + 0.1·latency_score
//
// with latency_score = clamp(1 − mean_latency/LatencyCeil, 0, 1).
// ──────────────────────────────────────────────────────────────────

// DefaultLatencyCeil normalizes mean submission latency for the score.
const DefaultLatencyCeil = 60 * time.Second

// Reputation is the per-client record. After every accepted request,
// UpdatesAccepted + UpdatesRejected == UpdatesSubmitted.
type Reputation struct {
	ClientID string `json:"client_id"`

	RoundsParticipated int `json:"rounds_participated"`
	RoundsCompleted    int `json:"rounds_completed"`
	RoundsDropped      int `json:"rounds_dropped"`

	UpdatesSubmitted int `json:"updates_submitted"`
	UpdatesAccepted  int `json:"updates_accepted"`
	UpdatesRejected  int `json:"updates_rejected"`

	TotalLatencySeconds float64 `json:"-"`
	LatencySamples      int     `json:"-"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// MeanLatencySeconds is the average submission latency observed so far.
func (r *Reputation) MeanLatencySeconds() float64 {
	if r.LatencySamples == 0 {
		return 0
	}
	return r.TotalLatencySeconds / float64(r.LatencySamples)
}

// Score computes the weighted reputation in [0, 1].
func (r *Reputation) Score(latencyCeil time.Duration) float64 {
	participated := float64(max1(r.RoundsParticipated))
	submitted := float64(max1(r.UpdatesSubmitted))

	completion := float64(r.RoundsCompleted) / participated
	acceptance := float64(r.UpdatesAccepted) / submitted
	dropout := float64(r.RoundsDropped) / participated

	latency := 1.0 - r.MeanLatencySeconds()/latencyCeil.Seconds()
	latency = clamp01(latency)

	score := 0.4*completion + 0.3*acceptance + 0.2*(1.0-dropout) + 0.1*latency
	return clamp01(score)
}

// ReputationView is the wire snapshot for one client.
type ReputationView struct {
	Reputation
	ReputationScore    float64 `json:"reputation_score"`
	MeanLatencySeconds float64 `json:"mean_latency_seconds"`
}

// ReputationLedger holds every client record. Not self-locking: the
// coordinator serializes all access.
type ReputationLedger struct {
	LatencyCeil time.Duration
	records     map[string]*Reputation
}

func NewReputationLedger() *ReputationLedger {
	return &ReputationLedger{
		LatencyCeil: DefaultLatencyCeil,
		records:     make(map[string]*Reputation),
	}
}

func (l *ReputationLedger) record(clientID string) *Reputation {
	r, ok := l.records[clientID]
	if !ok {
		r = &Reputation{ClientID: clientID, FirstSeen: time.Now()}
		l.records[clientID] = r
	}
	r.LastSeen = time.Now()
	return r
}

// RecordRegistration seeds a record for a newly registered client.
func (l *ReputationLedger) RecordRegistration(clientID string) {
	l.record(clientID)
}

// RecordParticipation counts one round assignment.
func (l *ReputationLedger) RecordParticipation(clientID string) {
	l.record(clientID).RoundsParticipated++
}

// RecordAccepted counts one accepted update with its submission latency.
func (l *ReputationLedger) RecordAccepted(clientID string, latency time.Duration) {
	r := l.record(clientID)
	r.UpdatesSubmitted++
	r.UpdatesAccepted++
	r.TotalLatencySeconds += latency.Seconds()
	r.LatencySamples++
}

// RecordRejected counts one rejected update.
func (l *ReputationLedger) RecordRejected(clientID string) {
	r := l.record(clientID)
	r.UpdatesSubmitted++
	r.UpdatesRejected++
}

// RecordCompleted counts one completed round (update made it into the
// aggregate).
func (l *ReputationLedger) RecordCompleted(clientID string) {
	l.record(clientID).RoundsCompleted++
}

// RecordDropout counts one round the client was assigned to but did not
// complete before it closed.
func (l *ReputationLedger) RecordDropout(clientID string) {
	l.record(clientID).RoundsDropped++
}

// Get returns the snapshot for one client, or nil if unknown.
func (l *ReputationLedger) Get(clientID string) *ReputationView {
	r, ok := l.records[clientID]
	if !ok {
		return nil
	}
	return l.view(r)
}

// All returns every client snapshot sorted by descending score.
func (l *ReputationLedger) All() []*ReputationView {
	views := make([]*ReputationView, 0, len(l.records))
	for _, r := range l.records {
		views = append(views, l.view(r))
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].ReputationScore != views[j].ReputationScore {
			return views[i].ReputationScore > views[j].ReputationScore
		}
		return views[i].ClientID < views[j].ClientID
	})
	return views
}

func (l *ReputationLedger) view(r *Reputation) *ReputationView {
	return &ReputationView{
		Reputation:         *r,
		ReputationScore:    r.Score(l.LatencyCeil),
		MeanLatencySeconds: r.MeanLatencySeconds(),
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
