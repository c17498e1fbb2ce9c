package simulator

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// TwoMoons is the two-moons benchmark model. The posterior over its
// two-dimensional parameter is bimodal and crescent shaped, which exercises
// multi-component posteriors in a way Gauss cannot.
//
// A forward run draws an angle a ~ U(-pi/2, pi/2) and a radius
// r ~ N(baseRadius, radiusNoise^2), forms the point
// (r cos a + 0.25, r sin a), and shifts it by
// (-|p0 + p1|, -p0 + p1) / sqrt(2).
type TwoMoons struct {
	baseRadius  float64
	radiusNoise float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTwoMoons creates the benchmark with the conventional radius 0.1 and
// radius noise 0.01.
func NewTwoMoons(seed uint64) *TwoMoons {
	return &TwoMoons{
		baseRadius:  0.1,
		radiusNoise: 0.01,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// DimParam implements Simulator; the model has two parameters.
func (t *TwoMoons) DimParam() int { return 2 }

// Simulate runs one forward draw, producing a two-dimensional data point.
func (t *TwoMoons) Simulate(ctx context.Context, params []float64) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if len(params) != 2 {
		return Sample{}, fmt.Errorf("simulator: got %d params, want 2", len(params))
	}

	t.mu.Lock()
	a := distuv.Uniform{Min: -math.Pi / 2, Max: math.Pi / 2, Src: t.rng}.Rand()
	r := distuv.Normal{Mu: t.baseRadius, Sigma: t.radiusNoise, Src: t.rng}.Rand()
	t.mu.Unlock()

	px := r*math.Cos(a) + 0.25
	py := r * math.Sin(a)

	sq := math.Sqrt2
	return Sample{Data: []float64{
		px - math.Abs(params[0]+params[1])/sq,
		py + (-params[0]+params[1])/sq,
	}}, nil
}
