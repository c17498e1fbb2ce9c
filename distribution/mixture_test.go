package distribution

import (
	"encoding/json"
	"math"
	"testing"

	"golang.org/x/exp/rand"
)

func twoComponentMoG(t *testing.T) *MoG {
	t.Helper()
	a, err := NewDiagGaussian([]float64{-2}, []float64{1})
	if err != nil {
		t.Fatalf("component a: %v", err)
	}
	b, err := NewDiagGaussian([]float64{3}, []float64{0.5})
	if err != nil {
		t.Fatalf("component b: %v", err)
	}
	m, err := NewMoG([]float64{0.3, 0.7}, []*Gaussian{a, b})
	if err != nil {
		t.Fatalf("NewMoG: %v", err)
	}
	return m
}

func TestMoG_Construction(t *testing.T) {
	t.Run("weights are normalized", func(t *testing.T) {
		a, _ := NewDiagGaussian([]float64{0}, []float64{1})
		b, _ := NewDiagGaussian([]float64{1}, []float64{1})
		m, err := NewMoG([]float64{2, 6}, []*Gaussian{a, b})
		if err != nil {
			t.Fatalf("NewMoG failed: %v", err)
		}
		w := m.Weights()
		if !approxEq(w[0], 0.25, tol) || !approxEq(w[1], 0.75, tol) {
			t.Errorf("weights = %v, want [0.25 0.75]", w)
		}
	})

	t.Run("rejects nonpositive weight", func(t *testing.T) {
		a, _ := NewDiagGaussian([]float64{0}, []float64{1})
		if _, err := NewMoG([]float64{0}, []*Gaussian{a}); err == nil {
			t.Error("expected error for zero weight")
		}
	})

	t.Run("rejects mixed dimensions", func(t *testing.T) {
		a, _ := NewDiagGaussian([]float64{0}, []float64{1})
		b, _ := NewDiagGaussian([]float64{0, 0}, []float64{1, 1})
		if _, err := NewMoG([]float64{1, 1}, []*Gaussian{a, b}); err == nil {
			t.Error("expected error for mixed component dims")
		}
	})
}

func TestMoG_LogPdf(t *testing.T) {
	t.Run("single component equals gaussian", func(t *testing.T) {
		g, _ := NewDiagGaussian([]float64{1.5}, []float64{2})
		m, _ := NewMoG([]float64{1}, []*Gaussian{g})
		for _, x := range []float64{-1, 0, 1.5, 4} {
			if got, want := m.LogPdf([]float64{x}), g.LogPdf([]float64{x}); !approxEq(got, want, tol) {
				t.Errorf("LogPdf(%g) = %g, want %g", x, got, want)
			}
		}
	})

	t.Run("two components match direct sum", func(t *testing.T) {
		m := twoComponentMoG(t)
		x := []float64{0.5}
		want := math.Log(0.3*math.Exp(m.Component(0).LogPdf(x)) + 0.7*math.Exp(m.Component(1).LogPdf(x)))
		if got := m.LogPdf(x); !approxEq(got, want, 1e-10) {
			t.Errorf("LogPdf = %g, want %g", got, want)
		}
	})
}

func TestMoG_Moments(t *testing.T) {
	m := twoComponentMoG(t)

	wantMean := 0.3*(-2) + 0.7*3
	if got := m.Mean()[0]; !approxEq(got, wantMean, tol) {
		t.Errorf("Mean = %g, want %g", got, wantMean)
	}

	wantVar := 0.3*(1+math.Pow(-2-wantMean, 2)) + 0.7*(0.5+math.Pow(3-wantMean, 2))
	if got := m.Std()[0]; !approxEq(got, math.Sqrt(wantVar), tol) {
		t.Errorf("Std = %g, want %g", got, math.Sqrt(wantVar))
	}
}

func TestMoG_ProjectToGaussian(t *testing.T) {
	m := twoComponentMoG(t)
	g, err := m.ProjectToGaussian()
	if err != nil {
		t.Fatalf("ProjectToGaussian failed: %v", err)
	}

	if !approxEq(g.Mean()[0], m.Mean()[0], tol) {
		t.Errorf("projected mean = %g, want %g", g.Mean()[0], m.Mean()[0])
	}
	if !approxEq(g.Std()[0], m.Std()[0], tol) {
		t.Errorf("projected std = %g, want %g", g.Std()[0], m.Std()[0])
	}
}

func TestMoG_DivGaussian(t *testing.T) {
	t.Run("ratio of densities is constant in x", func(t *testing.T) {
		// m(x)/g(x) = c * result(x) for one constant c, which pins down both
		// the component updates and the reweighting.
		m := twoComponentMoG(t)
		g, _ := NewDiagGaussian([]float64{0}, []float64{20})

		out, err := m.DivGaussian(g)
		if err != nil {
			t.Fatalf("DivGaussian failed: %v", err)
		}

		var prev float64
		for i, x := range [][]float64{{-3}, {0.2}, {4.1}} {
			c := m.LogPdf(x) - g.LogPdf(x) - out.LogPdf(x)
			if i > 0 && !approxEq(c, prev, 1e-8) {
				t.Errorf("log scale at %v = %g, want %g", x, c, prev)
			}
			prev = c
		}
	})

	t.Run("mul then div restores mixture", func(t *testing.T) {
		m := twoComponentMoG(t)
		g, _ := NewDiagGaussian([]float64{1}, []float64{8})

		prod, err := m.MulGaussian(g)
		if err != nil {
			t.Fatalf("MulGaussian failed: %v", err)
		}
		back, err := prod.DivGaussian(g)
		if err != nil {
			t.Fatalf("DivGaussian failed: %v", err)
		}

		for _, x := range [][]float64{{-2.5}, {0}, {3.3}} {
			if got, want := back.LogPdf(x), m.LogPdf(x); !approxEq(got, want, 1e-7) {
				t.Errorf("LogPdf(%v) = %g, want %g", x, got, want)
			}
		}
	})

	t.Run("narrow divisor fails", func(t *testing.T) {
		m := twoComponentMoG(t)
		narrow, _ := NewDiagGaussian([]float64{0}, []float64{0.01})
		if _, err := m.DivGaussian(narrow); err == nil {
			t.Error("expected error for non positive definite quotient")
		}
	})
}

func TestMoG_Gen(t *testing.T) {
	m := twoComponentMoG(t)
	samples := m.Gen(rand.New(rand.NewSource(3)), 500)

	r, c := samples.Dims()
	if r != 500 || c != 1 {
		t.Fatalf("samples have shape %dx%d, want 500x1", r, c)
	}

	// Both modes should be visited.
	var low, high int
	for i := 0; i < r; i++ {
		if samples.At(i, 0) < 0.5 {
			low++
		} else {
			high++
		}
	}
	if low == 0 || high == 0 {
		t.Errorf("samples missed a mode: low=%d high=%d", low, high)
	}
}

func TestMoG_JSONRoundTrip(t *testing.T) {
	m := twoComponentMoG(t)

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var back MoG
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	x := []float64{0.77}
	if !approxEq(m.LogPdf(x), back.LogPdf(x), tol) {
		t.Errorf("LogPdf after round trip = %g, want %g", back.LogPdf(x), m.LogPdf(x))
	}
}
