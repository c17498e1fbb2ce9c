package distribution

import (
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MoG is a mixture of Gaussians. It is the distribution family a mixture
// density network outputs, and therefore the form every estimated posterior
// takes.
//
// A MoG supports the analytic operations the proposal correction needs:
// multiplication and division by a single Gaussian (with recomputed mixture
// weights) and moment-matched projection onto a single Gaussian.
type MoG struct {
	weights []float64
	comps   []*Gaussian
}

// NewMoG creates a mixture from weights and components. Weights must be
// positive; they are normalized to sum to one. All components must share one
// dimensionality.
func NewMoG(weights []float64, comps []*Gaussian) (*MoG, error) {
	if len(comps) == 0 {
		return nil, fmt.Errorf("distribution: mixture needs at least one component")
	}
	if len(weights) != len(comps) {
		return nil, fmt.Errorf("distribution: %d weights for %d components", len(weights), len(comps))
	}
	d := comps[0].Dim()
	total := 0.0
	for i, w := range weights {
		if w <= 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("distribution: weight %d is %g, must be positive", i, w)
		}
		if comps[i].Dim() != d {
			return nil, fmt.Errorf("distribution: component %d has dim %d, want %d", i, comps[i].Dim(), d)
		}
		total += w
	}

	norm := make([]float64, len(weights))
	for i, w := range weights {
		norm[i] = w / total
	}
	return &MoG{weights: norm, comps: comps}, nil
}

// Dim returns the dimensionality.
func (m *MoG) Dim() int { return m.comps[0].Dim() }

// NumComponents returns the number of mixture components.
func (m *MoG) NumComponents() int { return len(m.comps) }

// Weights returns a copy of the normalized mixture weights.
func (m *MoG) Weights() []float64 {
	return append([]float64(nil), m.weights...)
}

// Component returns the i-th component Gaussian.
func (m *MoG) Component(i int) *Gaussian { return m.comps[i] }

// Mean returns the mixture mean, the weighted sum of component means.
func (m *MoG) Mean() []float64 {
	d := m.Dim()
	out := make([]float64, d)
	for k, c := range m.comps {
		cm := c.Mean()
		for i := 0; i < d; i++ {
			out[i] += m.weights[k] * cm[i]
		}
	}
	return out
}

// Std returns the marginal standard deviations of the mixture.
func (m *MoG) Std() []float64 {
	mean := m.Mean()
	d := m.Dim()
	out := make([]float64, d)
	for k, c := range m.comps {
		cm := c.Mean()
		for i := 0; i < d; i++ {
			dm := cm[i] - mean[i]
			out[i] += m.weights[k] * (c.cov.At(i, i) + dm*dm)
		}
	}
	for i := range out {
		out[i] = math.Sqrt(out[i])
	}
	return out
}

// LogPdf evaluates the mixture log density at x via log-sum-exp over the
// components.
func (m *MoG) LogPdf(x []float64) float64 {
	terms := make([]float64, len(m.comps))
	for k, c := range m.comps {
		terms[k] = math.Log(m.weights[k]) + c.LogPdf(x)
	}
	return floats.LogSumExp(terms)
}

// Gen draws n samples, returned as an n x Dim matrix with one sample per row.
// Each draw first picks a component by weight, then samples from it.
func (m *MoG) Gen(rng *rand.Rand, n int) *mat.Dense {
	d := m.Dim()
	out := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		k := m.pick(rng)
		row := m.comps[k].Gen(rng, 1)
		for j := 0; j < d; j++ {
			out.Set(i, j, row.At(0, j))
		}
	}
	return out
}

func (m *MoG) pick(rng *rand.Rand) int {
	u := rng.Float64()
	acc := 0.0
	for k, w := range m.weights {
		acc += w
		if u < acc {
			return k
		}
	}
	return len(m.weights) - 1
}

// MulGaussian multiplies the mixture density by a Gaussian density and
// renormalizes. Each component is multiplied analytically and the mixture
// weights are rescaled by the per-component log partition ratios.
func (m *MoG) MulGaussian(g *Gaussian) (*MoG, error) {
	return m.combine(g, +1)
}

// DivGaussian divides the mixture density by a Gaussian density and
// renormalizes. Returns an error if any component quotient leaves the
// Gaussian family (non positive definite precision).
func (m *MoG) DivGaussian(g *Gaussian) (*MoG, error) {
	return m.combine(g, -1)
}

func (m *MoG) combine(g *Gaussian, sign float64) (*MoG, error) {
	comps := make([]*Gaussian, len(m.comps))
	logW := make([]float64, len(m.comps))
	for k, c := range m.comps {
		out, logScale, err := combineCanonical(c, g, sign)
		if err != nil {
			return nil, fmt.Errorf("distribution: component %d: %w", k, err)
		}
		comps[k] = out
		logW[k] = math.Log(m.weights[k]) + logScale
	}

	lse := floats.LogSumExp(logW)
	weights := make([]float64, len(logW))
	for k := range logW {
		weights[k] = math.Exp(logW[k] - lse)
	}
	return NewMoG(weights, comps)
}

// ProjectToGaussian moment-matches the mixture with a single Gaussian. The
// result has the mixture's mean and full covariance, including the spread of
// the component means.
func (m *MoG) ProjectToGaussian() (*Gaussian, error) {
	d := m.Dim()
	mean := m.Mean()

	cov := mat.NewSymDense(d, nil)
	for k, c := range m.comps {
		cm := c.Mean()
		w := m.weights[k]
		for i := 0; i < d; i++ {
			for j := i; j < d; j++ {
				v := cov.At(i, j)
				v += w * (c.cov.At(i, j) + (cm[i]-mean[i])*(cm[j]-mean[j]))
				cov.SetSym(i, j, v)
			}
		}
	}
	return NewGaussian(mean, cov)
}

// ZTransInv undoes a z-transform component by component; mixture weights are
// unchanged.
func (m *MoG) ZTransInv(mean, std []float64) (*MoG, error) {
	comps := make([]*Gaussian, len(m.comps))
	for k, c := range m.comps {
		out, err := c.ZTransInv(mean, std)
		if err != nil {
			return nil, fmt.Errorf("distribution: component %d: %w", k, err)
		}
		comps[k] = out
	}
	return NewMoG(m.Weights(), comps)
}

type mogJSON struct {
	Weights    []float64   `json:"weights"`
	Components []*Gaussian `json:"components"`
}

// MarshalJSON encodes the mixture as weights plus component Gaussians.
func (m *MoG) MarshalJSON() ([]byte, error) {
	return json.Marshal(mogJSON{Weights: m.weights, Components: m.comps})
}

// UnmarshalJSON decodes and revalidates a mixture.
func (m *MoG) UnmarshalJSON(data []byte) error {
	var raw mogJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	built, err := NewMoG(raw.Weights, raw.Components)
	if err != nil {
		return err
	}
	*m = *built
	return nil
}
