// Package neuralnet implements the conditional density estimator used for
// posterior inference: a feed-forward network with tanh hidden layers whose
// output heads parameterize a mixture of Gaussians over model parameters.
//
// For an input vector of summary statistics x the network produces mixture
// logits, per-component means, and per-component upper triangular Cholesky
// factors U of the precision matrix (P = U*Uᵀ, diagonal entries stored in
// log space). Evaluating the heads at x yields a full conditional density
// p(theta | x) as a distribution.MoG.
//
// The package also provides the DataStream minibatch iterator and the
// Trainer, which fits the network by stochastic gradient descent on the
// negative log likelihood with an L2 penalty.
package neuralnet

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/dshills/delfi-go/distribution"
)

const log2Pi = 1.8378770664093453

// growJitter is the standard deviation of the noise added to duplicated
// component heads so that gradient descent can separate them.
const growJitter = 1e-2

// layer is a dense affine map. Hidden layers apply tanh to the output,
// head layers are linear. A layer with no outputs (the off-diagonal head
// of a one-dimensional model) has a nil weight matrix.
type layer struct {
	w *mat.Dense
	b []float64
}

func (l *layer) dims() (out, in int) {
	if l.w == nil {
		return 0, 0
	}
	r, c := l.w.Dims()
	return r, c
}

// apply computes w*x + b.
func (l *layer) apply(x []float64) []float64 {
	out, _ := l.dims()
	if out == 0 {
		return nil
	}
	y := make([]float64, out)
	for r := 0; r < out; r++ {
		row := l.w.RawRowView(r)
		y[r] = l.b[r] + floats.Dot(row, x)
	}
	return y
}

// NeuralNet is a mixture density network mapping summary statistics to a
// mixture of Gaussians over model parameters.
//
// The network is not safe for concurrent mutation; Forward and LogProb are
// read-only and may be called concurrently as long as no SetParams or
// GrowComponents call is in flight.
type NeuralNet struct {
	nIn      int
	dimParam int
	nComp    int
	hiddens  []int

	layers []layer // tanh hidden layers
	logits layer   // K rows
	means  layer   // K*D rows
	diags  layer   // K*D rows, log-diagonal of U
	offs   layer   // K*M rows, strict upper triangle of U

	rng *rand.Rand
}

// New creates a mixture density network for nIn summary statistics and
// dimParam model parameters.
//
// Parameters:
//   - nIn: dimensionality of the input summary statistics
//   - dimParam: dimensionality of the modeled parameter vector
//   - opts: optional configuration (hidden units, component count, seed)
//
// Returns an error if any dimension is not positive.
//
// Example:
//
//	net, err := neuralnet.New(3, 2,
//	    neuralnet.WithHiddenUnits(20, 20),
//	    neuralnet.WithComponents(1),
//	    neuralnet.WithSeed(42))
func New(nIn, dimParam int, opts ...Option) (*NeuralNet, error) {
	if nIn <= 0 {
		return nil, fmt.Errorf("neuralnet: input dim must be positive, got %d", nIn)
	}
	if dimParam <= 0 {
		return nil, fmt.Errorf("neuralnet: parameter dim must be positive, got %d", dimParam)
	}

	cfg := config{
		hiddens: []int{20, 20},
		comps:   1,
		seed:    1,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	n := &NeuralNet{
		nIn:      nIn,
		dimParam: dimParam,
		nComp:    cfg.comps,
		hiddens:  append([]int(nil), cfg.hiddens...),
		rng:      rand.New(rand.NewSource(cfg.seed)),
	}

	in := nIn
	for _, h := range cfg.hiddens {
		n.layers = append(n.layers, n.initLayer(h, in))
		in = h
	}

	d := dimParam
	m := d * (d - 1) / 2
	n.logits = n.initLayer(cfg.comps, in)
	n.means = n.initLayer(cfg.comps*d, in)
	n.diags = n.initLayer(cfg.comps*d, in)
	n.offs = n.initLayer(cfg.comps*m, in)
	return n, nil
}

// initLayer draws weights from N(0, 1/in) and zeroes the biases. A zero
// bias on the diagonal head makes the initial precision factors close to
// the identity.
func (n *NeuralNet) initLayer(out, in int) layer {
	if out == 0 {
		return layer{}
	}
	norm := distuv.Normal{Mu: 0, Sigma: 1 / math.Sqrt(float64(in)), Src: n.rng}
	w := mat.NewDense(out, in, nil)
	for r := 0; r < out; r++ {
		for c := 0; c < in; c++ {
			w.Set(r, c, norm.Rand())
		}
	}
	return layer{w: w, b: make([]float64, out)}
}

// DimInput returns the expected summary statistic dimensionality.
func (n *NeuralNet) DimInput() int { return n.nIn }

// DimParam returns the modeled parameter dimensionality.
func (n *NeuralNet) DimParam() int { return n.dimParam }

// NumComponents returns the number of mixture components.
func (n *NeuralNet) NumComponents() int { return n.nComp }

// HiddenUnits returns the hidden layer widths.
func (n *NeuralNet) HiddenUnits() []int {
	return append([]int(nil), n.hiddens...)
}

// blocks lists all parameter groups in their canonical flattening order.
func (n *NeuralNet) blocks() []*layer {
	bs := make([]*layer, 0, len(n.layers)+4)
	for i := range n.layers {
		bs = append(bs, &n.layers[i])
	}
	return append(bs, &n.logits, &n.means, &n.diags, &n.offs)
}

// NumParams returns the total number of trainable parameters.
func (n *NeuralNet) NumParams() int {
	total := 0
	for _, b := range n.blocks() {
		out, in := b.dims()
		total += out*in + out
	}
	return total
}

// Params returns a copy of all trainable parameters as a flat vector. The
// ordering is stable and matches SetParams and the gradients computed
// during training.
func (n *NeuralNet) Params() []float64 {
	out := make([]float64, 0, n.NumParams())
	for _, b := range n.blocks() {
		rows, _ := b.dims()
		for r := 0; r < rows; r++ {
			out = append(out, b.w.RawRowView(r)...)
		}
		out = append(out, b.b...)
	}
	return out
}

// SetParams overwrites all trainable parameters from a flat vector
// produced by Params. Returns an error if the length does not match the
// current architecture.
func (n *NeuralNet) SetParams(p []float64) error {
	if len(p) != n.NumParams() {
		return fmt.Errorf("neuralnet: got %d parameters, architecture has %d", len(p), n.NumParams())
	}
	pos := 0
	for _, b := range n.blocks() {
		rows, cols := b.dims()
		for r := 0; r < rows; r++ {
			copy(b.w.RawRowView(r), p[pos:pos+cols])
			pos += cols
		}
		copy(b.b, p[pos:pos+rows])
		pos += rows
	}
	return nil
}

// pass holds every intermediate value of a forward evaluation needed for
// density evaluation and backpropagation.
type pass struct {
	acts   [][]float64 // acts[0] is the input, acts[l+1] the tanh output of layer l
	logits []float64
	alphas []float64 // softmax of logits
	means  []float64 // K*D, row major per component
	diagsS []float64 // K*D, log-diagonal entries
	offsU  []float64 // K*M, strict upper triangle entries
}

func (n *NeuralNet) forward(x []float64) *pass {
	p := &pass{acts: make([][]float64, len(n.layers)+1)}
	p.acts[0] = x
	for i := range n.layers {
		a := n.layers[i].apply(p.acts[i])
		for j, v := range a {
			a[j] = math.Tanh(v)
		}
		p.acts[i+1] = a
	}
	h := p.acts[len(p.acts)-1]

	p.logits = n.logits.apply(h)
	p.alphas = softmax(p.logits)
	p.means = n.means.apply(h)
	p.diagsS = n.diags.apply(h)
	p.offsU = n.offs.apply(h)
	return p
}

func softmax(a []float64) []float64 {
	out := make([]float64, len(a))
	max := floats.Max(a)
	sum := 0.0
	for i, v := range a {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// triIndex maps the strict upper triangle position (i, j) with i < j of a
// d-dimensional matrix to its row-major storage slot.
func triIndex(i, j, d int) int {
	return i*d - i*(i+1)/2 + (j - i - 1)
}

// component evaluates component k of a forward pass at theta. It returns
// the component log density together with the innovation v = theta - mu
// and the whitened residual z = Uᵀv used by the gradient computation.
func (n *NeuralNet) component(p *pass, k int, theta []float64) (logN float64, v, z []float64) {
	d := n.dimParam
	m := d * (d - 1) / 2

	v = make([]float64, d)
	for i := 0; i < d; i++ {
		v[i] = theta[i] - p.means[k*d+i]
	}

	sumS := 0.0
	sumZ2 := 0.0
	z = make([]float64, d)
	for j := 0; j < d; j++ {
		s := p.diagsS[k*d+j]
		sumS += s
		zj := math.Exp(s) * v[j]
		for i := 0; i < j; i++ {
			zj += p.offsU[k*m+triIndex(i, j, d)] * v[i]
		}
		z[j] = zj
		sumZ2 += zj * zj
	}
	logN = sumS - 0.5*float64(d)*log2Pi - 0.5*sumZ2
	return logN, v, z
}

// Forward evaluates the network at the summary statistics x and returns
// the conditional density p(theta | x) as a mixture of Gaussians.
//
// Returns an error if x has the wrong dimensionality or a predicted
// precision factor is numerically singular.
func (n *NeuralNet) Forward(x []float64) (*distribution.MoG, error) {
	if len(x) != n.nIn {
		return nil, fmt.Errorf("neuralnet: input has dim %d, want %d", len(x), n.nIn)
	}
	p := n.forward(x)

	d := n.dimParam
	m := d * (d - 1) / 2
	comps := make([]*distribution.Gaussian, n.nComp)
	for k := 0; k < n.nComp; k++ {
		u := mat.NewTriDense(d, mat.Upper, nil)
		for j := 0; j < d; j++ {
			u.SetTri(j, j, math.Exp(p.diagsS[k*d+j]))
			for i := 0; i < j; i++ {
				u.SetTri(i, j, p.offsU[k*m+triIndex(i, j, d)])
			}
		}
		g, err := distribution.NewGaussianFromPrecisionU(p.means[k*d:(k+1)*d], u)
		if err != nil {
			return nil, fmt.Errorf("neuralnet: component %d: %w", k, err)
		}
		comps[k] = g
	}
	return distribution.NewMoG(p.alphas, comps)
}

// LogProb evaluates log p(theta | x) directly from the network heads
// without materializing the mixture.
func (n *NeuralNet) LogProb(x, theta []float64) (float64, error) {
	if len(x) != n.nIn {
		return 0, fmt.Errorf("neuralnet: input has dim %d, want %d", len(x), n.nIn)
	}
	if len(theta) != n.dimParam {
		return 0, fmt.Errorf("neuralnet: parameter has dim %d, want %d", len(theta), n.dimParam)
	}
	p := n.forward(x)
	return n.logProbPass(p, theta), nil
}

func (n *NeuralNet) logProbPass(p *pass, theta []float64) float64 {
	terms := make([]float64, n.nComp)
	logAlphaNorm := floats.LogSumExp(p.logits)
	for k := 0; k < n.nComp; k++ {
		logN, _, _ := n.component(p, k, theta)
		terms[k] = p.logits[k] - logAlphaNorm + logN
	}
	return floats.LogSumExp(terms)
}

// lossGrad computes the negative log likelihood of one (x, theta) pair and
// accumulates its parameter gradient into grad, which must have NumParams
// entries and uses the Params flattening order.
func (n *NeuralNet) lossGrad(x, theta, grad []float64) float64 {
	p := n.forward(x)
	d := n.dimParam
	m := d * (d - 1) / 2
	k := n.nComp

	// Responsibilities r_k = alpha_k N_k / sum_j alpha_j N_j.
	logAlphaNorm := floats.LogSumExp(p.logits)
	logNs := make([]float64, k)
	vs := make([][]float64, k)
	zs := make([][]float64, k)
	terms := make([]float64, k)
	for c := 0; c < k; c++ {
		logNs[c], vs[c], zs[c] = n.component(p, c, theta)
		terms[c] = p.logits[c] - logAlphaNorm + logNs[c]
	}
	logP := floats.LogSumExp(terms)
	resp := make([]float64, k)
	for c := 0; c < k; c++ {
		resp[c] = math.Exp(terms[c] - logP)
	}

	// Gradients of the negative log likelihood at the head outputs.
	gLogits := make([]float64, k)
	gMeans := make([]float64, k*d)
	gDiags := make([]float64, k*d)
	gOffs := make([]float64, k*m)
	for c := 0; c < k; c++ {
		gLogits[c] = p.alphas[c] - resp[c]
		v, z := vs[c], zs[c]
		for i := 0; i < d; i++ {
			// (U z)_i over the upper triangle row i.
			uz := math.Exp(p.diagsS[c*d+i]) * z[i]
			for j := i + 1; j < d; j++ {
				uz += p.offsU[c*m+triIndex(i, j, d)] * z[j]
			}
			gMeans[c*d+i] = -resp[c] * uz
		}
		for j := 0; j < d; j++ {
			gDiags[c*d+j] = resp[c] * (z[j]*v[j]*math.Exp(p.diagsS[c*d+j]) - 1)
			for i := 0; i < j; i++ {
				gOffs[c*m+triIndex(i, j, d)] = resp[c] * z[j] * v[i]
			}
		}
	}

	// Backpropagate the head gradients into the last hidden activation.
	h := p.acts[len(p.acts)-1]
	hGrad := make([]float64, len(h))
	backHead := func(l *layer, g []float64) {
		rows, cols := l.dims()
		for r := 0; r < rows; r++ {
			row := l.w.RawRowView(r)
			for c := 0; c < cols; c++ {
				hGrad[c] += row[c] * g[r]
			}
		}
	}
	backHead(&n.logits, gLogits)
	backHead(&n.means, gMeans)
	backHead(&n.diags, gDiags)
	backHead(&n.offs, gOffs)

	// Deltas for the tanh layers, last to first.
	deltas := make([][]float64, len(n.layers))
	upstream := hGrad
	for l := len(n.layers) - 1; l >= 0; l-- {
		act := p.acts[l+1]
		delta := make([]float64, len(act))
		for i, a := range act {
			delta[i] = upstream[i] * (1 - a*a)
		}
		deltas[l] = delta
		if l > 0 {
			rows, cols := n.layers[l].dims()
			down := make([]float64, cols)
			for r := 0; r < rows; r++ {
				row := n.layers[l].w.RawRowView(r)
				for c := 0; c < cols; c++ {
					down[c] += row[c] * delta[r]
				}
			}
			upstream = down
		}
	}

	// Accumulate block gradients in the canonical flattening order.
	pos := 0
	addBlock := func(l *layer, g, input []float64) {
		rows, cols := l.dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				grad[pos] += g[r] * input[c]
				pos++
			}
		}
		for r := 0; r < rows; r++ {
			grad[pos] += g[r]
			pos++
		}
	}
	for l := range n.layers {
		addBlock(&n.layers[l], deltas[l], p.acts[l])
	}
	addBlock(&n.logits, gLogits, h)
	addBlock(&n.means, gMeans, h)
	addBlock(&n.diags, gDiags, h)
	addBlock(&n.offs, gOffs, h)

	return -logP
}

// GrowComponents appends extra mixture components cloned from the first
// component. The duplicated head rows receive small Gaussian jitter so
// subsequent training can pull the copies apart. Existing components keep
// their parameters exactly.
func (n *NeuralNet) GrowComponents(extra int) error {
	if extra <= 0 {
		return fmt.Errorf("neuralnet: extra components must be positive, got %d", extra)
	}

	d := n.dimParam
	m := d * (d - 1) / 2
	n.logits = n.growHead(n.logits, 1, extra)
	n.means = n.growHead(n.means, d, extra)
	n.diags = n.growHead(n.diags, d, extra)
	n.offs = n.growHead(n.offs, m, extra)
	n.nComp += extra
	return nil
}

// growHead returns a head extended by extra copies of its first component
// block, where each component occupies rowsPer rows.
func (n *NeuralNet) growHead(l layer, rowsPer, extra int) layer {
	if rowsPer == 0 {
		return l
	}
	oldRows, cols := l.dims()
	newRows := oldRows + extra*rowsPer
	w := mat.NewDense(newRows, cols, nil)
	b := make([]float64, newRows)
	w.Slice(0, oldRows, 0, cols).(*mat.Dense).Copy(l.w)
	copy(b, l.b)

	jitter := distuv.Normal{Mu: 0, Sigma: growJitter, Src: n.rng}
	for e := 0; e < extra; e++ {
		for r := 0; r < rowsPer; r++ {
			dst := oldRows + e*rowsPer + r
			for c := 0; c < cols; c++ {
				w.Set(dst, c, l.w.At(r, c)+jitter.Rand())
			}
			b[dst] = l.b[r] + jitter.Rand()
		}
	}
	return layer{w: w, b: b}
}
