package ledger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ──────────────────────────────────────────────────────────────────
// Metrics Ledger
//
// Per-round snapshots plus global counters, all in memory. When a round
// closes, the completed snapshot is also written to
// <metricsDir>/round_<N>.json and a human-readable summary is appended
// to <logsDir>/rounds.log. Both writes are best-effort and run off the
// hot path so they can never block aggregation.
// ──────────────────────────────────────────────────────────────────

// RoundSnapshot collects everything observed about one round.
type RoundSnapshot struct {
	RoundID                 int            `json:"round_id"`
	ModelVersion            string         `json:"model_version"`
	ClientsAssigned         int            `json:"clients_assigned"`
	UpdatesReceived         int            `json:"updates_received"`
	UpdatesAccepted         int            `json:"updates_accepted"`
	UpdatesRejectedByReason map[string]int `json:"updates_rejected_by_reason"`
	Stragglers              []string       `json:"stragglers"`

	RoundStartedAt time.Time  `json:"round_started_at"`
	RoundClosedAt  *time.Time `json:"round_closed_at,omitempty"`

	AggregationDurationSeconds float64 `json:"aggregation_duration_seconds"`
	CloseReason                string  `json:"close_reason,omitempty"`
}

func (s *RoundSnapshot) totalRejected() int {
	n := 0
	for _, c := range s.UpdatesRejectedByReason {
		n += c
	}
	return n
}

// GlobalCounters aggregates across all rounds.
type GlobalCounters struct {
	TotalRounds          int `json:"total_rounds"`
	TotalClientsSeen     int `json:"total_clients_seen"`
	TotalUpdatesAccepted int `json:"total_updates_accepted"`
	TotalUpdatesRejected int `json:"total_updates_rejected"`
	TotalStragglers      int `json:"total_stragglers"`
}

// MetricsLedger holds the snapshots. Not self-locking: the coordinator
// serializes all mutation; the disk writes copy data out first.
type MetricsLedger struct {
	metricsDir string
	logsDir    string

	rounds      map[int]*RoundSnapshot
	clientsSeen map[string]struct{}
	global      GlobalCounters
}

func NewMetricsLedger(metricsDir, logsDir string) *MetricsLedger {
	for _, dir := range []string{metricsDir, logsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("[Metrics] Warning: could not create %s: %v", dir, err)
		}
	}
	return &MetricsLedger{
		metricsDir:  metricsDir,
		logsDir:     logsDir,
		rounds:      make(map[int]*RoundSnapshot),
		clientsSeen: make(map[string]struct{}),
	}
}

// StartRound opens a snapshot for a new round.
func (l *MetricsLedger) StartRound(roundID int, modelVersion string, startedAt time.Time) {
	l.rounds[roundID] = &RoundSnapshot{
		RoundID:                 roundID,
		ModelVersion:            modelVersion,
		UpdatesRejectedByReason: make(map[string]int),
		Stragglers:              []string{},
		RoundStartedAt:          startedAt,
	}
	l.global.TotalRounds++
}

// ClientAssigned counts an assignment into a round.
func (l *MetricsLedger) ClientAssigned(roundID int, clientID string) {
	if s, ok := l.rounds[roundID]; ok {
		s.ClientsAssigned++
	}
	l.clientsSeen[clientID] = struct{}{}
	l.global.TotalClientsSeen = len(l.clientsSeen)
}

// UpdateAccepted counts an accepted submission.
func (l *MetricsLedger) UpdateAccepted(roundID int) {
	if s, ok := l.rounds[roundID]; ok {
		s.UpdatesReceived++
		s.UpdatesAccepted++
	}
	l.global.TotalUpdatesAccepted++
}

// UpdateRejected counts a rejected submission under its reason code.
func (l *MetricsLedger) UpdateRejected(roundID int, reason string) {
	if s, ok := l.rounds[roundID]; ok {
		s.UpdatesRejectedByReason[reason]++
	}
	l.global.TotalUpdatesRejected++
}

// RecordStragglers marks the clients whose updates never arrived.
func (l *MetricsLedger) RecordStragglers(roundID int, clientIDs []string) {
	s, ok := l.rounds[roundID]
	if !ok {
		return
	}
	s.Stragglers = append(s.Stragglers, clientIDs...)
	sort.Strings(s.Stragglers)
	l.global.TotalStragglers += len(clientIDs)
}

// CloseRound stamps the snapshot, then persists it off the hot path.
func (l *MetricsLedger) CloseRound(roundID int, reason string, aggregationDuration time.Duration) {
	s, ok := l.rounds[roundID]
	if !ok {
		return
	}
	now := time.Now()
	s.RoundClosedAt = &now
	s.CloseReason = reason
	s.AggregationDurationSeconds = aggregationDuration.Seconds()

	// Copy out before handing to the writer goroutine; the live snapshot
	// stays owned by the serialized region.
	go l.persist(copySnapshot(s))
}

// copySnapshot deep-copies a snapshot, map and slice included, so no reader
// ever aliases the live record. Late rejections can still mutate a closed
// round's reason map, so a shallow copy is not safe to marshal outside the
// serialized region.
func copySnapshot(s *RoundSnapshot) *RoundSnapshot {
	cp := *s
	cp.UpdatesRejectedByReason = make(map[string]int, len(s.UpdatesRejectedByReason))
	for k, v := range s.UpdatesRejectedByReason {
		cp.UpdatesRejectedByReason[k] = v
	}
	cp.Stragglers = append([]string(nil), s.Stragglers...)
	return &cp
}

// persist writes round_<N>.json and appends the rounds.log summary.
// Failures are logged and otherwise ignored.
func (l *MetricsLedger) persist(s *RoundSnapshot) {
	if l.metricsDir != "" {
		data, err := json.MarshalIndent(s, "", "  ")
		if err == nil {
			path := filepath.Join(l.metricsDir, fmt.Sprintf("round_%d.json", s.RoundID))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				log.Printf("[Metrics] Warning: failed to persist snapshot for round %d: %v", s.RoundID, err)
			}
		}
	}

	if l.logsDir != "" {
		l.appendSummary(s)
	}
}

func (l *MetricsLedger) appendSummary(s *RoundSnapshot) {
	path := filepath.Join(l.logsDir, "rounds.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[Metrics] Warning: failed to open rounds.log: %v", err)
		return
	}
	defer f.Close()

	closed := ""
	if s.RoundClosedAt != nil {
		closed = s.RoundClosedAt.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(f, "[%s] Round %d (model %s) %s\n", closed, s.RoundID, s.ModelVersion, s.CloseReason)
	fmt.Fprintf(f, "  Clients assigned: %d\n", s.ClientsAssigned)
	fmt.Fprintf(f, "  Updates received: %d\n", s.UpdatesReceived)
	fmt.Fprintf(f, "  Updates rejected: %d\n", s.totalRejected())
	if len(s.Stragglers) > 0 {
		fmt.Fprintf(f, "  Stragglers: %v\n", s.Stragglers)
	}
	if s.RoundClosedAt != nil {
		fmt.Fprintf(f, "  Round duration: %.2fs\n", s.RoundClosedAt.Sub(s.RoundStartedAt).Seconds())
	}
	if s.AggregationDurationSeconds > 0 {
		fmt.Fprintf(f, "  Aggregation time: %.3fs\n", s.AggregationDurationSeconds)
	}
	fmt.Fprintln(f)
}

// Get returns a deep copy of the snapshot for one round, or nil.
func (l *MetricsLedger) Get(roundID int) *RoundSnapshot {
	s, ok := l.rounds[roundID]
	if !ok {
		return nil
	}
	return copySnapshot(s)
}

// Latest returns the snapshot with the highest round id, or nil.
func (l *MetricsLedger) Latest() *RoundSnapshot {
	best := 0
	for id := range l.rounds {
		if id > best {
			best = id
		}
	}
	if best == 0 {
		return nil
	}
	return l.Get(best)
}

// All returns the global counters plus every round snapshot keyed by id.
func (l *MetricsLedger) All() (GlobalCounters, map[int]*RoundSnapshot) {
	rounds := make(map[int]*RoundSnapshot, len(l.rounds))
	for id := range l.rounds {
		rounds[id] = l.Get(id)
	}
	return l.global, rounds
}
