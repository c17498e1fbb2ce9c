package distribution

import (
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Gaussian is a multivariate normal distribution in moment form.
//
// The covariance is factorized once at construction. All later operations
// (density evaluation, sampling, products, quotients) reuse the cached
// Cholesky factorization, so a Gaussian is immutable after construction.
type Gaussian struct {
	mean []float64
	cov  *mat.SymDense
	chol mat.Cholesky
}

// NewGaussian creates a Gaussian with the given mean and covariance.
//
// The inputs are copied. Returns an error if the dimensions disagree or the
// covariance is not symmetric positive definite.
func NewGaussian(mean []float64, cov *mat.SymDense) (*Gaussian, error) {
	d := len(mean)
	if d == 0 {
		return nil, fmt.Errorf("distribution: empty mean vector")
	}
	if cov.SymmetricDim() != d {
		return nil, fmt.Errorf("distribution: mean has dim %d but covariance is %dx%d",
			d, cov.SymmetricDim(), cov.SymmetricDim())
	}

	g := &Gaussian{
		mean: append([]float64(nil), mean...),
		cov:  mat.NewSymDense(d, nil),
	}
	g.cov.CopySym(cov)

	if ok := g.chol.Factorize(g.cov); !ok {
		return nil, fmt.Errorf("distribution: covariance is not positive definite")
	}
	return g, nil
}

// NewDiagGaussian creates a Gaussian with a diagonal covariance built from
// per-dimension variances.
func NewDiagGaussian(mean, variances []float64) (*Gaussian, error) {
	if len(mean) != len(variances) {
		return nil, fmt.Errorf("distribution: mean has dim %d but %d variances given",
			len(mean), len(variances))
	}
	cov := mat.NewSymDense(len(mean), nil)
	for i, v := range variances {
		cov.SetSym(i, i, v)
	}
	return NewGaussian(mean, cov)
}

// NewGaussianFromPrecisionU creates a Gaussian from its mean and the upper
// triangular factor U of the precision matrix P = U*Uᵀ. The diagonal of U
// must be positive.
func NewGaussianFromPrecisionU(mean []float64, u *mat.TriDense) (*Gaussian, error) {
	d := len(mean)
	if r, _ := u.Dims(); r != d {
		return nil, fmt.Errorf("distribution: mean has dim %d but U is %dx%d", d, r, r)
	}

	var prod mat.Dense
	prod.Mul(u, u.T())

	prec := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			prec.SetSym(i, j, prod.At(i, j))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(prec); !ok {
		return nil, fmt.Errorf("distribution: precision factor does not yield a positive definite matrix")
	}
	cov := mat.NewSymDense(d, nil)
	if err := chol.InverseTo(cov); err != nil {
		return nil, fmt.Errorf("distribution: inverting precision: %w", err)
	}
	return NewGaussian(mean, cov)
}

// Dim returns the dimensionality.
func (g *Gaussian) Dim() int { return len(g.mean) }

// Mean returns a copy of the mean vector.
func (g *Gaussian) Mean() []float64 {
	return append([]float64(nil), g.mean...)
}

// Std returns the marginal standard deviations (square roots of the
// covariance diagonal).
func (g *Gaussian) Std() []float64 {
	out := make([]float64, len(g.mean))
	for i := range out {
		out[i] = math.Sqrt(g.cov.At(i, i))
	}
	return out
}

// Cov returns a copy of the covariance matrix.
func (g *Gaussian) Cov() *mat.SymDense {
	c := mat.NewSymDense(g.Dim(), nil)
	c.CopySym(g.cov)
	return c
}

// LogPdf evaluates the log density at x.
func (g *Gaussian) LogPdf(x []float64) float64 {
	d := g.Dim()
	if len(x) != d {
		return math.Inf(-1)
	}

	diff := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		diff.SetVec(i, x[i]-g.mean[i])
	}

	// solve cov * v = diff, quad = diff' * v
	var v mat.VecDense
	if err := g.chol.SolveVecTo(&v, diff); err != nil {
		return math.Inf(-1)
	}
	quad := mat.Dot(diff, &v)

	return -0.5*quad - 0.5*g.chol.LogDet() - 0.5*float64(d)*log2Pi
}

// Gen draws n samples, returned as an n x Dim matrix with one sample per row.
func (g *Gaussian) Gen(rng *rand.Rand, n int) *mat.Dense {
	d := g.Dim()
	var l mat.TriDense
	g.chol.LTo(&l)

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}

	out := mat.NewDense(n, d, nil)
	z := mat.NewVecDense(d, nil)
	var lz mat.VecDense
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			z.SetVec(j, norm.Rand())
		}
		lz.MulVec(&l, z)
		for j := 0; j < d; j++ {
			out.Set(i, j, g.mean[j]+lz.AtVec(j))
		}
	}
	return out
}

// Mul returns the normalized product of two Gaussian densities, itself a
// Gaussian. In canonical form the precisions and precision-weighted means
// add.
func (g *Gaussian) Mul(o *Gaussian) (*Gaussian, error) {
	out, _, err := combineCanonical(g, o, +1)
	return out, err
}

// Div returns the normalized quotient of two Gaussian densities. The result
// is only a proper Gaussian when the quotient precision stays positive
// definite; otherwise an error is returned. This happens when the divisor is
// narrower than the numerator, which the inference package treats as a
// degenerate proposal correction.
func (g *Gaussian) Div(o *Gaussian) (*Gaussian, error) {
	out, _, err := combineCanonical(g, o, -1)
	return out, err
}

// ZTransInv undoes a z-transform: if y = (x - mean) / std was modeled by g,
// the returned Gaussian models x.
func (g *Gaussian) ZTransInv(mean, std []float64) (*Gaussian, error) {
	d := g.Dim()
	if len(mean) != d || len(std) != d {
		return nil, fmt.Errorf("distribution: z-transform parameters have wrong dim")
	}
	m := make([]float64, d)
	for i := range m {
		m[i] = mean[i] + std[i]*g.mean[i]
	}
	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			cov.SetSym(i, j, std[i]*std[j]*g.cov.At(i, j))
		}
	}
	return NewGaussian(m, cov)
}

// precisionAndShift computes the canonical parameters P = cov^-1 and
// h = P * mean.
func (g *Gaussian) precisionAndShift() (*mat.SymDense, *mat.VecDense, error) {
	d := g.Dim()
	prec := mat.NewSymDense(d, nil)
	if err := g.chol.InverseTo(prec); err != nil {
		return nil, nil, fmt.Errorf("distribution: inverting covariance: %w", err)
	}
	h := mat.NewVecDense(d, nil)
	h.MulVec(prec, mat.NewVecDense(d, g.mean))
	return prec, h, nil
}

// logPartition returns the log normalizer of the canonical form, so that
// pdf(x) = exp(h'x - x'Px/2 - A).
func logPartition(h *mat.VecDense, mean []float64, logDetPrec float64) float64 {
	d := len(mean)
	dot := 0.0
	for i := 0; i < d; i++ {
		dot += h.AtVec(i) * mean[i]
	}
	return 0.5*dot - 0.5*logDetPrec + 0.5*float64(d)*log2Pi
}

// combineCanonical forms the Gaussian whose canonical parameters are
// P = Pa + sign*Pb, h = ha + sign*hb, together with the log of the scalar c
// such that pdf_a * pdf_b^sign = c * pdf_result.
func combineCanonical(a, b *Gaussian, sign float64) (*Gaussian, float64, error) {
	if a.Dim() != b.Dim() {
		return nil, 0, fmt.Errorf("distribution: dimension mismatch %d vs %d", a.Dim(), b.Dim())
	}
	d := a.Dim()

	pa, ha, err := a.precisionAndShift()
	if err != nil {
		return nil, 0, err
	}
	pb, hb, err := b.precisionAndShift()
	if err != nil {
		return nil, 0, err
	}

	prec := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			prec.SetSym(i, j, pa.At(i, j)+sign*pb.At(i, j))
		}
	}
	h := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		h.SetVec(i, ha.AtVec(i)+sign*hb.AtVec(i))
	}

	var cholPrec mat.Cholesky
	if ok := cholPrec.Factorize(prec); !ok {
		return nil, 0, fmt.Errorf("distribution: combined precision is not positive definite")
	}

	var meanVec mat.VecDense
	if err := cholPrec.SolveVecTo(&meanVec, h); err != nil {
		return nil, 0, fmt.Errorf("distribution: solving for combined mean: %w", err)
	}
	mean := make([]float64, d)
	for i := 0; i < d; i++ {
		mean[i] = meanVec.AtVec(i)
	}

	cov := mat.NewSymDense(d, nil)
	if err := cholPrec.InverseTo(cov); err != nil {
		return nil, 0, fmt.Errorf("distribution: inverting combined precision: %w", err)
	}

	out, err := NewGaussian(mean, cov)
	if err != nil {
		return nil, 0, err
	}

	// log c = A_result - A_a - sign*A_b with A the canonical log normalizer.
	// logdet(P) for a and b is the negated logdet of their covariances.
	aOut := logPartition(h, mean, cholPrec.LogDet())
	aA := logPartition(ha, a.mean, -a.chol.LogDet())
	aB := logPartition(hb, b.mean, -b.chol.LogDet())
	logScale := aOut - aA - sign*aB

	return out, logScale, nil
}

type gaussianJSON struct {
	Mean []float64   `json:"mean"`
	Cov  [][]float64 `json:"cov"`
}

// MarshalJSON encodes the Gaussian as its mean and covariance.
func (g *Gaussian) MarshalJSON() ([]byte, error) {
	d := g.Dim()
	cov := make([][]float64, d)
	for i := 0; i < d; i++ {
		cov[i] = make([]float64, d)
		for j := 0; j < d; j++ {
			cov[i][j] = g.cov.At(i, j)
		}
	}
	return json.Marshal(gaussianJSON{Mean: g.Mean(), Cov: cov})
}

// UnmarshalJSON decodes a Gaussian and re-factorizes its covariance.
func (g *Gaussian) UnmarshalJSON(data []byte) error {
	var raw gaussianJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d := len(raw.Mean)
	if len(raw.Cov) != d {
		return fmt.Errorf("distribution: covariance rows %d do not match mean dim %d", len(raw.Cov), d)
	}
	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		if len(raw.Cov[i]) != d {
			return fmt.Errorf("distribution: covariance row %d has %d columns, want %d", i, len(raw.Cov[i]), d)
		}
		for j := i; j < d; j++ {
			cov.SetSym(i, j, raw.Cov[i][j])
		}
	}
	built, err := NewGaussian(raw.Mean, cov)
	if err != nil {
		return err
	}
	*g = *built
	return nil
}
