package summarystats

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/dshills/delfi-go/simulator"
)

// Moments summarizes a forward run by per-dimension sample moments of its
// data, treating the data vector as nObs consecutive observations of Dim
// values each. For each dimension it emits the mean and, when Order >= 2,
// the variance.
//
// This compresses long raw traces (Gauss with many observations, time
// series) into a summary whose length is independent of the trace length.
type Moments struct {
	// Dim is the number of values per observation.
	Dim int

	// Order is the highest moment to include, 1 or 2.
	Order int
}

// NewMoments creates a Moments summary.
func NewMoments(dim, order int) (*Moments, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("summarystats: dim must be positive, got %d", dim)
	}
	if order != 1 && order != 2 {
		return nil, fmt.Errorf("summarystats: order must be 1 or 2, got %d", order)
	}
	return &Moments{Dim: dim, Order: order}, nil
}

// NumSummary implements Stats.
func (m *Moments) NumSummary() int { return m.Dim * m.Order }

// Calc implements Stats. Repetitions are pooled before computing moments.
func (m *Moments) Calc(reps []simulator.Sample) ([]float64, error) {
	if len(reps) == 0 {
		return nil, fmt.Errorf("summarystats: no repetitions")
	}

	// Gather per-dimension observations across all repetitions.
	cols := make([][]float64, m.Dim)
	for _, rep := range reps {
		if len(rep.Data)%m.Dim != 0 {
			return nil, fmt.Errorf("summarystats: data length %d is not a multiple of dim %d",
				len(rep.Data), m.Dim)
		}
		for i, v := range rep.Data {
			d := i % m.Dim
			cols[d] = append(cols[d], v)
		}
	}

	out := make([]float64, 0, m.NumSummary())
	for _, col := range cols {
		out = append(out, stat.Mean(col, nil))
	}
	if m.Order >= 2 {
		for _, col := range cols {
			if len(col) < 2 {
				out = append(out, 0)
				continue
			}
			out = append(out, stat.Variance(col, nil))
		}
	}
	return out, nil
}
