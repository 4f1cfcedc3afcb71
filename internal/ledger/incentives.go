package ledger

import (
	"sort"
	"time"
)

// ──────────────────────────────────────────────────────────────────
// Incentive Ledger
//
// Token accounting per client (simulation credit, not currency). Each
// accepted update earns the base reward, a speed bonus when the update
// arrived fast, and a consistency bonus once the client's streak of
// accepted rounds is long enough. Dropouts reset the streak and claw
// back tokens, floored at zero.
// ──────────────────────────────────────────────────────────────────

// IncentiveConfig holds the reward schedule.
type IncentiveConfig struct {
	BaseReward           float64
	SpeedThreshold       time.Duration
	SpeedBonus           float64
	ConsistencyThreshold int
	ConsistencyBonus     float64
	DropoutPenalty       float64
}

func DefaultIncentiveConfig() IncentiveConfig {
	return IncentiveConfig{
		BaseReward:           10.0,
		SpeedThreshold:       30 * time.Second,
		SpeedBonus:           5.0,
		ConsistencyThreshold: 5,
		ConsistencyBonus:     3.0,
		DropoutPenalty:       2.0,
	}
}

// Incentive is the per-client record. TokenBalance never goes negative.
type Incentive struct {
	ClientID                  string  `json:"client_id"`
	TokenBalance              float64 `json:"token_balance"`
	ConsecutiveAcceptedRounds int     `json:"consecutive_accepted_rounds"`
	LastRewardRound           int     `json:"last_reward_round"`
	SpeedBonuses              int     `json:"speed_bonuses"`
	ConsistencyBonuses        int     `json:"consistency_bonuses"`
	TotalEarned               float64 `json:"total_earned"`
}

// IncentiveLedger holds every client record. Not self-locking: the
// coordinator serializes all access.
type IncentiveLedger struct {
	cfg     IncentiveConfig
	records map[string]*Incentive
}

func NewIncentiveLedger(cfg IncentiveConfig) *IncentiveLedger {
	return &IncentiveLedger{cfg: cfg, records: make(map[string]*Incentive)}
}

func (l *IncentiveLedger) record(clientID string) *Incentive {
	r, ok := l.records[clientID]
	if !ok {
		r = &Incentive{ClientID: clientID}
		l.records[clientID] = r
	}
	return r
}

// AwardAccepted credits one accepted update and returns the total tokens
// granted (base plus bonuses).
func (l *IncentiveLedger) AwardAccepted(clientID string, roundID int, latency time.Duration) float64 {
	r := l.record(clientID)

	tokens := l.cfg.BaseReward
	if latency < l.cfg.SpeedThreshold {
		tokens += l.cfg.SpeedBonus
		r.SpeedBonuses++
	}

	r.ConsecutiveAcceptedRounds++
	if r.ConsecutiveAcceptedRounds >= l.cfg.ConsistencyThreshold {
		tokens += l.cfg.ConsistencyBonus
		r.ConsistencyBonuses++
	}

	r.TokenBalance += tokens
	r.TotalEarned += tokens
	r.LastRewardRound = roundID
	return tokens
}

// RecordDropout resets the client's streak and applies the penalty,
// flooring the balance at zero.
func (l *IncentiveLedger) RecordDropout(clientID string) {
	r := l.record(clientID)
	r.ConsecutiveAcceptedRounds = 0
	r.TokenBalance -= l.cfg.DropoutPenalty
	if r.TokenBalance < 0 {
		r.TokenBalance = 0
	}
}

// Get returns the record for one client, or nil if unknown.
func (l *IncentiveLedger) Get(clientID string) *Incentive {
	r, ok := l.records[clientID]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// All returns every record sorted by descending balance.
func (l *IncentiveLedger) All() []*Incentive {
	out := make([]*Incentive, 0, len(l.records))
	for _, r := range l.records {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TokenBalance != out[j].TokenBalance {
			return out[i].TokenBalance > out[j].TokenBalance
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}
