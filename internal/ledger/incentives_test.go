package ledger

import (
	"math"
	"testing"
	"time"
)

func TestAwardAccepted_BaseAndSpeed(t *testing.T) {
	l := NewIncentiveLedger(DefaultIncentiveConfig())

	// Fast submission: base 10 + speed 5
	tokens := l.AwardAccepted("hospital-a", 1, 10*time.Second)
	if tokens != 15.0 {
		t.Errorf("Expected 15 tokens for a fast update. Got: %.1f", tokens)
	}

	// Slow submission: base only
	tokens = l.AwardAccepted("hospital-a", 2, 45*time.Second)
	if tokens != 10.0 {
		t.Errorf("Expected 10 tokens for a slow update. Got: %.1f", tokens)
	}

	r := l.Get("hospital-a")
	if r.TokenBalance != 25.0 {
		t.Errorf("Expected balance 25. Got: %.1f", r.TokenBalance)
	}
	if r.SpeedBonuses != 1 {
		t.Errorf("Expected 1 speed bonus. Got: %d", r.SpeedBonuses)
	}
}

func TestAwardAccepted_ConsistencyStreak(t *testing.T) {
	l := NewIncentiveLedger(DefaultIncentiveConfig())

	// Rounds 1–4: no consistency bonus yet
	for round := 1; round <= 4; round++ {
		tokens := l.AwardAccepted("hospital-a", round, 45*time.Second)
		if tokens != 10.0 {
			t.Errorf("Round %d: expected 10 tokens before the streak threshold. Got: %.1f", round, tokens)
		}
	}

	// Round 5 reaches the streak threshold
	tokens := l.AwardAccepted("hospital-a", 5, 45*time.Second)
	if tokens != 13.0 {
		t.Errorf("Expected 13 tokens at streak 5. Got: %.1f", tokens)
	}

	// The streak keeps paying while unbroken
	tokens = l.AwardAccepted("hospital-a", 6, 45*time.Second)
	if tokens != 13.0 {
		t.Errorf("Expected 13 tokens at streak 6. Got: %.1f", tokens)
	}

	r := l.Get("hospital-a")
	if r.ConsecutiveAcceptedRounds != 6 {
		t.Errorf("Expected streak 6. Got: %d", r.ConsecutiveAcceptedRounds)
	}
	if r.ConsistencyBonuses != 2 {
		t.Errorf("Expected 2 consistency bonuses. Got: %d", r.ConsistencyBonuses)
	}
}

func TestRecordDropout_ResetsStreakAndFloorsBalance(t *testing.T) {
	l := NewIncentiveLedger(DefaultIncentiveConfig())

	l.AwardAccepted("hospital-a", 1, 45*time.Second)
	l.RecordDropout("hospital-a")

	r := l.Get("hospital-a")
	if r.ConsecutiveAcceptedRounds != 0 {
		t.Errorf("Expected dropout to reset the streak. Got: %d", r.ConsecutiveAcceptedRounds)
	}
	if r.TokenBalance != 8.0 {
		t.Errorf("Expected balance 8 after penalty. Got: %.1f", r.TokenBalance)
	}

	// Repeated dropouts floor at zero, never negative
	for i := 0; i < 10; i++ {
		l.RecordDropout("hospital-a")
	}
	r = l.Get("hospital-a")
	if r.TokenBalance != 0 {
		t.Errorf("Expected balance floored at 0. Got: %.1f", r.TokenBalance)
	}
	if math.Abs(r.TotalEarned-10.0) > 1e-9 {
		t.Errorf("Expected total earned to be unaffected by penalties. Got: %.1f", r.TotalEarned)
	}
}

func TestAll_SortedByBalance(t *testing.T) {
	l := NewIncentiveLedger(DefaultIncentiveConfig())

	l.AwardAccepted("poor", 1, 45*time.Second)
	l.AwardAccepted("rich", 1, 10*time.Second)
	l.AwardAccepted("rich", 2, 10*time.Second)

	all := l.All()
	if len(all) != 2 || all[0].ClientID != "rich" {
		t.Errorf("Expected the richest client first. Got: %+v", all)
	}
}
