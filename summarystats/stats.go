// Package summarystats reduces raw simulator output to fixed-length summary
// statistic vectors, the inputs the density network conditions on.
package summarystats

import (
	"fmt"

	"github.com/dshills/delfi-go/simulator"
)

// Stats computes summary statistics from the repetitions of one forward run.
type Stats interface {
	// Calc reduces the repetitions of a single parameter's forward runs to
	// one summary vector of length NumSummary.
	Calc(reps []simulator.Sample) ([]float64, error)

	// NumSummary returns the length of the summary vector.
	NumSummary() int
}

// Identity passes the raw data of the first repetition through unchanged.
// It is the right choice when the simulator already emits low-dimensional
// data, as the toy models do.
type Identity struct {
	// N is the expected data length; Calc errors on anything else so that
	// shape bugs surface at generation time instead of during training.
	N int
}

// NewIdentity creates an Identity summary of length n.
func NewIdentity(n int) (*Identity, error) {
	if n <= 0 {
		return nil, fmt.Errorf("summarystats: summary length must be positive, got %d", n)
	}
	return &Identity{N: n}, nil
}

// NumSummary implements Stats.
func (id *Identity) NumSummary() int { return id.N }

// Calc implements Stats.
func (id *Identity) Calc(reps []simulator.Sample) ([]float64, error) {
	if len(reps) == 0 {
		return nil, fmt.Errorf("summarystats: no repetitions")
	}
	data := reps[0].Data
	if len(data) != id.N {
		return nil, fmt.Errorf("summarystats: data has length %d, want %d", len(data), id.N)
	}
	return append([]float64(nil), data...), nil
}
