package distribution

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Uniform is a box-bounded uniform distribution, the usual prior for
// simulator parameters with known plausible ranges.
type Uniform struct {
	lower []float64
	upper []float64
}

// NewUniform creates a Uniform over the box [lower, upper]. The bounds are
// copied. Returns an error if the dimensions disagree or any lower bound is
// not strictly below its upper bound.
func NewUniform(lower, upper []float64) (*Uniform, error) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return nil, fmt.Errorf("distribution: bounds have dims %d and %d", len(lower), len(upper))
	}
	for i := range lower {
		if !(lower[i] < upper[i]) {
			return nil, fmt.Errorf("distribution: bound %d is empty: [%g, %g]", i, lower[i], upper[i])
		}
	}
	return &Uniform{
		lower: append([]float64(nil), lower...),
		upper: append([]float64(nil), upper...),
	}, nil
}

// Dim returns the dimensionality.
func (u *Uniform) Dim() int { return len(u.lower) }

// Bounds returns copies of the lower and upper bounds.
func (u *Uniform) Bounds() (lower, upper []float64) {
	return append([]float64(nil), u.lower...), append([]float64(nil), u.upper...)
}

// Support reports whether x lies inside the box.
func (u *Uniform) Support(x []float64) bool {
	if len(x) != u.Dim() {
		return false
	}
	for i := range x {
		if x[i] < u.lower[i] || x[i] > u.upper[i] {
			return false
		}
	}
	return true
}

// LogPdf evaluates the log density at x. Outside the box it is -Inf.
func (u *Uniform) LogPdf(x []float64) float64 {
	if !u.Support(x) {
		return math.Inf(-1)
	}
	lp := 0.0
	for i := range u.lower {
		lp -= math.Log(u.upper[i] - u.lower[i])
	}
	return lp
}

// Mean returns the box center.
func (u *Uniform) Mean() []float64 {
	out := make([]float64, u.Dim())
	for i := range out {
		out[i] = 0.5 * (u.lower[i] + u.upper[i])
	}
	return out
}

// Std returns the marginal standard deviations, (upper-lower)/sqrt(12).
func (u *Uniform) Std() []float64 {
	out := make([]float64, u.Dim())
	for i := range out {
		out[i] = (u.upper[i] - u.lower[i]) / math.Sqrt(12)
	}
	return out
}

// Gen draws n samples, returned as an n x Dim matrix with one sample per row.
func (u *Uniform) Gen(rng *rand.Rand, n int) *mat.Dense {
	d := u.Dim()
	out := mat.NewDense(n, d, nil)
	for j := 0; j < d; j++ {
		dist := distuv.Uniform{Min: u.lower[j], Max: u.upper[j], Src: rng}
		for i := 0; i < n; i++ {
			out.Set(i, j, dist.Rand())
		}
	}
	return out
}
