package privacy

import (
	"fmt"
	"math"

	"github.com/fedlearn/coordinator-engine/pkg/models"
)

// Guard rejects weight deltas carrying non-finite or implausibly large
// values before they can poison an aggregate. Rejection is all-or-nothing:
// one bad element fails the whole submission.
type Guard struct {
	// MaxMagnitude bounds |x| for every delta element.
	MaxMagnitude float64
}

const DefaultMaxMagnitude = 1e6

func NewGuard(maxMagnitude float64) *Guard {
	if maxMagnitude <= 0 {
		maxMagnitude = DefaultMaxMagnitude
	}
	return &Guard{MaxMagnitude: maxMagnitude}
}

// Inspect scans every element of the delta. It returns nil when all values
// are finite and within the magnitude bound.
func (g *Guard) Inspect(delta models.WeightDelta) error {
	for i, layer := range delta {
		for j, v := range layer {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("non-finite value at layer %d element %d", i, j)
			}
			if math.Abs(v) > g.MaxMagnitude {
				return fmt.Errorf("value at layer %d element %d exceeds magnitude bound %g", i, j, g.MaxMagnitude)
			}
		}
	}
	return nil
}
