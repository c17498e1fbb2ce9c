package simulator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Gauss is the canonical toy forward model: observations are drawn from a
// normal distribution centered on the parameter vector with fixed, known
// noise. With a Gaussian or flat prior the true posterior is available in
// closed form, which makes this model the standard correctness benchmark for
// inference algorithms.
type Gauss struct {
	dim   int
	noise float64
	nObs  int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGauss creates a Gauss simulator for dim-dimensional parameters.
//
// noise is the observation standard deviation, nObs the number of
// observations per forward run (the output data vector has length
// dim * nObs). The seed fixes the simulator's private randomness.
func NewGauss(dim int, noise float64, nObs int, seed uint64) (*Gauss, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("simulator: dim must be positive, got %d", dim)
	}
	if noise <= 0 {
		return nil, fmt.Errorf("simulator: noise must be positive, got %g", noise)
	}
	if nObs <= 0 {
		nObs = 1
	}
	return &Gauss{
		dim:   dim,
		noise: noise,
		nObs:  nObs,
		rng:   rand.New(rand.NewSource(seed)),
	}, nil
}

// DimParam implements Simulator.
func (g *Gauss) DimParam() int { return g.dim }

// Simulate draws nObs observations from N(params, noise^2 I).
func (g *Gauss) Simulate(ctx context.Context, params []float64) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if len(params) != g.dim {
		return Sample{}, fmt.Errorf("simulator: got %d params, want %d", len(params), g.dim)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	norm := distuv.Normal{Mu: 0, Sigma: g.noise, Src: g.rng}
	data := make([]float64, 0, g.dim*g.nObs)
	for o := 0; o < g.nObs; o++ {
		for _, p := range params {
			data = append(data, p+norm.Rand())
		}
	}
	return Sample{Data: data}, nil
}
