package neuralnet

import "math"

// adam implements the Adam update rule with bias-corrected first and
// second moment estimates.
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64

	m []float64
	v []float64
	t int
}

func newAdam(n int, lr float64) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, n),
		v:     make([]float64, n),
	}
}

// step applies one in-place descent update to params using grad.
func (a *adam) step(params, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, g := range grad {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		mHat := a.m[i] / c1
		vHat := a.v[i] / c2
		params[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
}
