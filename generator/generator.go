// Package generator draws parameters from the prior (or an inference
// proposal), runs the forward model, and reduces the results to summary
// statistics: the training data pipeline of likelihood-free inference.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/dshills/delfi-go/distribution"
	"github.com/dshills/delfi-go/emit"
	"github.com/dshills/delfi-go/simulator"
	"github.com/dshills/delfi-go/summarystats"
)

// ErrTooManyResamples is returned when parameter draws keep being rejected
// and the resample budget runs out. It usually means the proposal places
// almost all of its mass outside the prior support.
var ErrTooManyResamples = errors.New("generator: resample budget exhausted")

// Response is the outcome of a feedback check on a proposed parameter, a
// simulation result, or a summary vector.
type Response int

const (
	// Accept keeps the item.
	Accept Response = iota

	// Resample rejects a parameter draw without consuming a slot; a fresh
	// parameter is drawn. Only meaningful for parameter checks.
	Resample

	// Discard drops the sample (parameter and data together). The returned
	// dataset shrinks; discarded slots are not refilled.
	Discard
)

// ParamFilter inspects a proposed parameter vector before simulation.
// Returning Resample draws again; Accept proceeds.
type ParamFilter func(params []float64) Response

// DataFilter inspects raw simulation output. Returning Discard drops the
// sample.
type DataFilter func(reps []simulator.Sample) Response

// StatsFilter inspects the computed summary vector. Returning Discard drops
// the sample.
type StatsFilter func(stats []float64) Response

// Dataset is a matched pair of parameter and summary-statistic matrices,
// one sample per row.
type Dataset struct {
	// Params is n x dimParam.
	Params *mat.Dense

	// Stats is n x numSummary.
	Stats *mat.Dense
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	if d == nil || d.Params == nil {
		return 0
	}
	r, _ := d.Params.Dims()
	return r
}

// Generator binds a forward model, a prior, and a summary statistic.
//
// When a proposal distribution is set (by sequential inference rounds),
// parameters are drawn from it instead of the prior; draws falling outside
// the prior support are resampled so the analytic proposal correction stays
// valid.
//
// Gen is not safe for concurrent use; the simulation fan-out inside it is.
type Generator struct {
	sim   simulator.Simulator
	prior distribution.Distribution
	stats summarystats.Stats

	proposal distribution.Distribution

	paramFilter ParamFilter
	dataFilter  DataFilter
	statsFilter StatsFilter

	workers      int
	reps         int
	maxResamples int
	rng          *rand.Rand
	emitter      emit.Emitter
	metrics      Metrics
}

// Metrics is the subset of metrics.PrometheusMetrics the generator feeds.
// A nil Metrics disables recording.
type Metrics interface {
	RecordSimulation(runID, status string)
	RecordResample(runID string)
	SimulationStarted()
	SimulationFinished()
}

// New creates a Generator. The simulator, prior, and summary statistic are
// required; everything else comes from options.
func New(sim simulator.Simulator, prior distribution.Distribution, stats summarystats.Stats, opts ...Option) (*Generator, error) {
	if sim == nil {
		return nil, fmt.Errorf("generator: simulator is required")
	}
	if prior == nil {
		return nil, fmt.Errorf("generator: prior is required")
	}
	if stats == nil {
		return nil, fmt.Errorf("generator: summary statistic is required")
	}
	if prior.Dim() != sim.DimParam() {
		return nil, fmt.Errorf("generator: prior has dim %d but simulator expects %d",
			prior.Dim(), sim.DimParam())
	}

	g := &Generator{
		sim:     sim,
		prior:   prior,
		stats:   stats,
		workers: 1,
		reps:    1,
		rng:     rand.New(rand.NewSource(0)),
		emitter: emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// DimParam returns the parameter dimensionality.
func (g *Generator) DimParam() int { return g.sim.DimParam() }

// NumSummary returns the summary statistic dimensionality.
func (g *Generator) NumSummary() int { return g.stats.NumSummary() }

// Prior returns the prior distribution.
func (g *Generator) Prior() distribution.Distribution { return g.prior }

// Proposal returns the active proposal distribution, or nil when sampling
// from the prior.
func (g *Generator) Proposal() distribution.Distribution { return g.proposal }

// SetProposal installs (or, with nil, clears) the proposal distribution.
// Sequential inference calls this after each round.
func (g *Generator) SetProposal(p distribution.Distribution) error {
	if p != nil && p.Dim() != g.prior.Dim() {
		return fmt.Errorf("generator: proposal has dim %d, want %d", p.Dim(), g.prior.Dim())
	}
	g.proposal = p
	return nil
}

// Gen draws n parameter vectors, simulates them, and returns the surviving
// (params, stats) pairs.
//
// The pipeline per the sampling loop:
//  1. draw from the proposal when set, else the prior; rejected draws
//     (outside the prior support, or refused by the parameter filter) are
//     resampled without consuming a slot
//  2. run the forward model for all accepted parameters, reps times each,
//     across the configured worker pool
//  3. drop samples the data filter discards
//  4. compute summary statistics; drop samples the stats filter discards
//
// Discarded samples shrink the dataset; Gen does not loop to refill them.
func (g *Generator) Gen(ctx context.Context, runID string, n int) (*Dataset, error) {
	if n <= 0 {
		return nil, fmt.Errorf("generator: n must be positive, got %d", n)
	}

	params, resampled, err := g.drawParams(ctx, runID, n)
	if err != nil {
		return nil, err
	}

	sim := g.sim
	if g.metrics != nil {
		sim = &meteredSimulator{inner: g.sim, metrics: g.metrics}
	}
	results, err := simulator.RunBatch(ctx, sim, params, g.reps, g.workers)
	if err != nil {
		g.emitter.Emit(emit.Event{
			RunID: runID, Stage: "generate", Msg: "generation_failed",
			Meta: map[string]interface{}{"error": err.Error()},
		})
		return nil, err
	}

	var (
		keptParams [][]float64
		keptStats  [][]float64
		discarded  int
	)
	for i, reps := range results {
		if g.dataFilter != nil && g.dataFilter(reps) == Discard {
			discarded++
			g.recordSimulation(runID, "discard")
			continue
		}

		summary, err := g.stats.Calc(reps)
		if err != nil {
			return nil, fmt.Errorf("generator: summary stats for sample %d: %w", i, err)
		}
		if g.statsFilter != nil && g.statsFilter(summary) == Discard {
			discarded++
			g.recordSimulation(runID, "discard")
			continue
		}

		keptParams = append(keptParams, params[i])
		keptStats = append(keptStats, summary)
		g.recordSimulation(runID, "accept")
	}

	g.emitter.Emit(emit.Event{
		RunID: runID, Stage: "generate", Msg: "generation_done",
		Meta: map[string]interface{}{
			"n_samples": len(keptParams),
			"discarded": discarded,
			"resampled": resampled,
		},
	})

	if len(keptParams) == 0 {
		return nil, fmt.Errorf("generator: all %d samples were discarded", n)
	}
	return newDataset(keptParams, keptStats), nil
}

// drawParams collects n accepted parameter vectors, resampling rejected
// draws. The resample budget defaults to 100 extra draws per requested
// sample.
func (g *Generator) drawParams(ctx context.Context, runID string, n int) ([][]float64, int, error) {
	source := g.proposal
	if source == nil {
		source = g.prior
	}

	budget := g.maxResamples
	if budget <= 0 {
		budget = 100 * n
	}

	params := make([][]float64, 0, n)
	resampled := 0
	for len(params) < n {
		if err := ctx.Err(); err != nil {
			return nil, resampled, err
		}

		draw := source.Gen(g.rng, 1)
		p := make([]float64, draw.RawMatrix().Cols)
		mat.Row(p, 0, draw)

		if !g.acceptParam(p) {
			resampled++
			if g.metrics != nil {
				g.metrics.RecordResample(runID)
			}
			if resampled > budget {
				return nil, resampled, fmt.Errorf("%w after %d draws", ErrTooManyResamples, resampled)
			}
			continue
		}
		params = append(params, p)
	}
	return params, resampled, nil
}

func (g *Generator) acceptParam(p []float64) bool {
	// A proposal can wander outside the prior; such draws carry zero prior
	// mass and must not enter the training set.
	if g.proposal != nil && !supported(g.prior, p) {
		return false
	}
	if g.paramFilter != nil && g.paramFilter(p) == Resample {
		return false
	}
	return true
}

func (g *Generator) recordSimulation(runID, status string) {
	if g.metrics != nil {
		g.metrics.RecordSimulation(runID, status)
	}
}

type supporter interface {
	Support(x []float64) bool
}

func supported(d distribution.Distribution, x []float64) bool {
	if s, ok := d.(supporter); ok {
		return s.Support(x)
	}
	// Densities without hard support bounds accept anything with nonzero
	// mass.
	lp := d.LogPdf(x)
	return !math.IsInf(lp, -1) && !math.IsNaN(lp)
}

type meteredSimulator struct {
	inner   simulator.Simulator
	metrics Metrics
}

func (m *meteredSimulator) DimParam() int { return m.inner.DimParam() }

func (m *meteredSimulator) Simulate(ctx context.Context, params []float64) (simulator.Sample, error) {
	m.metrics.SimulationStarted()
	defer m.metrics.SimulationFinished()
	return m.inner.Simulate(ctx, params)
}

func newDataset(params, stats [][]float64) *Dataset {
	n := len(params)
	dp, ds := len(params[0]), len(stats[0])

	pm := mat.NewDense(n, dp, nil)
	sm := mat.NewDense(n, ds, nil)
	for i := 0; i < n; i++ {
		pm.SetRow(i, params[i])
		sm.SetRow(i, stats[i])
	}
	return &Dataset{Params: pm, Stats: sm}
}
