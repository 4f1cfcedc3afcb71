package privacy

import (
	"math"
	"testing"

	"github.com/fedlearn/coordinator-engine/pkg/models"
)

func TestInspect_AcceptsFiniteValues(t *testing.T) {
	g := NewGuard(DefaultMaxMagnitude)

	delta := models.WeightDelta{{0.1, -0.2, 0.3}, {1e5, -1e5}}
	if err := g.Inspect(delta); err != nil {
		t.Errorf("Expected finite in-bound delta to pass. Got: %v", err)
	}
}

func TestInspect_RejectsNonFinite(t *testing.T) {
	g := NewGuard(DefaultMaxMagnitude)

	cases := []models.WeightDelta{
		{{0.1, math.NaN(), 0.3}},
		{{math.Inf(1)}},
		{{0.1}, {math.Inf(-1), 0.2}},
	}
	for i, delta := range cases {
		if err := g.Inspect(delta); err == nil {
			t.Errorf("Case %d: expected non-finite delta to be rejected", i)
		}
	}
}

func TestInspect_RejectsOutOfBound(t *testing.T) {
	g := NewGuard(100)

	if err := g.Inspect(models.WeightDelta{{99.9, -100.0}}); err != nil {
		t.Errorf("Expected values at the bound to pass. Got: %v", err)
	}
	if err := g.Inspect(models.WeightDelta{{0.1, 100.1}}); err == nil {
		t.Error("Expected a value above the bound to be rejected")
	}
	if err := g.Inspect(models.WeightDelta{{-100.1}}); err == nil {
		t.Error("Expected a large negative value to be rejected")
	}
}

func TestNewGuard_DefaultsBadBound(t *testing.T) {
	g := NewGuard(0)
	if g.MaxMagnitude != DefaultMaxMagnitude {
		t.Errorf("Expected non-positive bound to fall back to default. Got: %g", g.MaxMagnitude)
	}
}
