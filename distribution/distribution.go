// Package distribution provides the probability distributions used as
// priors, proposals, and posteriors in likelihood-free inference.
//
// Three families are implemented:
//   - Gaussian: multivariate normal in moment form
//   - Uniform: box-bounded uniform
//   - MoG: mixture of Gaussians, the output family of mixture density networks
//
// Gaussians support analytic products and quotients, which the inference
// package uses to correct posteriors that were estimated under a proposal
// distribution rather than the prior.
//
// Sampling takes an explicit random source so that callers control seeding.
package distribution

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Distribution is the interface shared by priors, proposals, and posteriors.
//
// Implementations must be safe for concurrent reads. Gen is the only method
// that consumes randomness, and the caller supplies the source.
type Distribution interface {
	// Dim returns the dimensionality of the distribution.
	Dim() int

	// Gen draws n samples and returns them as an n x Dim matrix, one sample
	// per row.
	Gen(rng *rand.Rand, n int) *mat.Dense

	// LogPdf evaluates the log density at x. It returns math.Inf(-1) outside
	// the support.
	LogPdf(x []float64) float64

	// Mean returns the mean vector.
	Mean() []float64

	// Std returns the marginal standard deviations.
	Std() []float64
}

const log2Pi = 1.8378770664093453
