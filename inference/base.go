package inference

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/dshills/delfi-go/distribution"
	"github.com/dshills/delfi-go/emit"
	"github.com/dshills/delfi-go/generator"
	"github.com/dshills/delfi-go/neuralnet"
	"github.com/dshills/delfi-go/store"
)

// Metrics receives inference instrumentation. metrics.PrometheusMetrics
// satisfies this interface.
type Metrics interface {
	neuralnet.Metrics
	RecordRoundCompleted(runID string)
}

// Base holds the machinery shared by all sequential posterior estimation
// algorithms: a simulation generator, the density network, the observed
// summary statistics, and the standardization applied to both parameters
// and statistics before they reach the network.
//
// Parameters are standardized with the prior mean and standard deviation.
// Summary statistics are standardized with moments estimated on a pilot
// run of prior simulations, performed lazily before the first round.
type Base struct {
	gen *generator.Generator
	net *neuralnet.NeuralNet
	obs []float64

	runID string
	round int
	rng   *rand.Rand

	priorNorm bool
	paramMean []float64
	paramStd  []float64

	pilotSamples int
	piloted      bool
	statsMean    []float64
	statsStd     []float64
	obsZ         []float64

	lr        float64
	batchSize int
	reg       float64
	logEvery  int
	monitor   func(neuralnet.EpochLog)

	emitter emit.Emitter
	metrics Metrics
	store   store.Store[*Snapshot]
}

func newBase(gen *generator.Generator, obs []float64, cfg *config) (*Base, error) {
	if gen == nil {
		return nil, fmt.Errorf("inference: generator is required")
	}
	if len(obs) != gen.NumSummary() {
		return nil, fmt.Errorf("inference: observation has dim %d, generator produces %d summaries",
			len(obs), gen.NumSummary())
	}

	// The first round always samples from the prior.
	if err := gen.SetProposal(nil); err != nil {
		return nil, err
	}

	b := &Base{
		gen:          gen,
		obs:          append([]float64(nil), obs...),
		runID:        cfg.runID,
		rng:          rand.New(rand.NewSource(cfg.seed)),
		priorNorm:    cfg.priorNorm,
		pilotSamples: cfg.pilotSamples,
		lr:           cfg.lr,
		batchSize:    cfg.batchSize,
		reg:          cfg.reg,
		logEvery:     cfg.logEvery,
		monitor:      cfg.monitor,
		emitter:      cfg.emitter,
		metrics:      cfg.metrics,
		store:        cfg.store,
	}

	net, err := neuralnet.New(gen.NumSummary(), gen.DimParam(),
		neuralnet.WithHiddenUnits(cfg.hiddens...),
		neuralnet.WithComponents(1),
		neuralnet.WithSeed(b.rng.Uint64()),
	)
	if err != nil {
		return nil, err
	}
	b.net = net

	d := gen.DimParam()
	b.paramMean = make([]float64, d)
	b.paramStd = ones(d)
	if cfg.priorNorm {
		copy(b.paramMean, gen.Prior().Mean())
		for i, s := range gen.Prior().Std() {
			if s > 0 {
				b.paramStd[i] = s
			}
		}
	}

	if cfg.pilotSamples <= 0 {
		b.statsMean = make([]float64, gen.NumSummary())
		b.statsStd = ones(gen.NumSummary())
		b.obsZ = append([]float64(nil), obs...)
		b.piloted = true
	}
	return b, nil
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// Network returns the density network being fitted.
func (b *Base) Network() *neuralnet.NeuralNet { return b.net }

// Generator returns the simulation generator.
func (b *Base) Generator() *generator.Generator { return b.gen }

// Observation returns the observed summary statistics in their original
// scale.
func (b *Base) Observation() []float64 {
	return append([]float64(nil), b.obs...)
}

// Round returns the last round that ran, 0 before the first round.
func (b *Base) Round() int { return b.round }

// pilot estimates per-statistic standardization moments from prior
// simulations and z-scores the observation with them. It runs once.
func (b *Base) pilot(ctx context.Context) error {
	if b.piloted {
		return nil
	}

	ds, err := b.gen.Gen(ctx, b.runID, b.pilotSamples)
	if err != nil {
		return &Error{Code: ErrCodePilot, Message: "pilot run failed", Cause: err}
	}

	nStats := b.gen.NumSummary()
	b.statsMean = make([]float64, nStats)
	b.statsStd = ones(nStats)
	col := make([]float64, ds.Len())
	for j := 0; j < nStats; j++ {
		mat.Col(col, j, ds.Stats)
		b.statsMean[j] = stat.Mean(col, nil)
		if sd := stat.StdDev(col, nil); sd > 1e-7 {
			b.statsStd[j] = sd
		}
	}

	b.obsZ = make([]float64, nStats)
	for j, v := range b.obs {
		b.obsZ[j] = (v - b.statsMean[j]) / b.statsStd[j]
	}
	b.piloted = true

	b.emitter.Emit(emit.Event{
		RunID: b.runID, Stage: "generate", Msg: "pilot_done",
		Meta: map[string]interface{}{"n_samples": ds.Len()},
	})
	return nil
}

// genTrainData generates n accepted simulations and standardizes both the
// parameters and the summary statistics for network consumption.
func (b *Base) genTrainData(ctx context.Context, n int) (*generator.Dataset, error) {
	if err := b.pilot(ctx); err != nil {
		return nil, err
	}

	ds, err := b.gen.Gen(ctx, b.runID, n)
	if err != nil {
		return nil, &Error{Code: ErrCodeGeneration, Round: b.round, Message: "simulation phase failed", Cause: err}
	}

	rows := ds.Len()
	d := b.gen.DimParam()
	nStats := b.gen.NumSummary()
	params := mat.NewDense(rows, d, nil)
	stats := mat.NewDense(rows, nStats, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < d; j++ {
			params.Set(i, j, (ds.Params.At(i, j)-b.paramMean[j])/b.paramStd[j])
		}
		for j := 0; j < nStats; j++ {
			stats.Set(i, j, (ds.Stats.At(i, j)-b.statsMean[j])/b.statsStd[j])
		}
	}
	return &generator.Dataset{Params: params, Stats: stats}, nil
}

// train fits the network on a standardized dataset and returns the
// per-epoch logs.
func (b *Base) train(ctx context.Context, ds *generator.Dataset, epochs int) ([]neuralnet.EpochLog, error) {
	opts := []neuralnet.TrainerOption{
		neuralnet.WithLearningRate(b.lr),
		neuralnet.WithBatchSize(b.batchSize),
		neuralnet.WithRegLambda(b.reg),
		neuralnet.WithShuffleSeed(b.rng.Uint64()),
		neuralnet.WithRun(b.runID, b.round),
		neuralnet.WithEmitter(b.emitter),
		neuralnet.WithLogEvery(b.logEvery),
	}
	if b.metrics != nil {
		opts = append(opts, neuralnet.WithMetrics(b.metrics))
	}
	if b.monitor != nil {
		opts = append(opts, neuralnet.WithMonitor(b.monitor))
	}

	tr, err := neuralnet.NewTrainer(b.net, ds.Params, ds.Stats, opts...)
	if err != nil {
		return nil, &Error{Code: ErrCodeTraining, Round: b.round, Message: "trainer construction failed", Cause: err}
	}
	logs, err := tr.Train(ctx, epochs)
	if err != nil {
		return logs, &Error{Code: ErrCodeTraining, Round: b.round, Message: "training failed", Cause: err}
	}
	return logs, nil
}

// predict evaluates the network at the standardized observation and maps
// the resulting mixture back to the original parameter space. The result
// is the raw network posterior, before any proposal correction.
func (b *Base) predict() (*distribution.MoG, error) {
	if !b.piloted {
		return nil, fmt.Errorf("inference: predict before the pilot run")
	}
	mogZ, err := b.net.Forward(b.obsZ)
	if err != nil {
		return nil, err
	}
	return mogZ.ZTransInv(b.paramMean, b.paramStd)
}

// saveSnapshot persists a round snapshot when a store is configured.
func (b *Base) saveSnapshot(ctx context.Context, snap *Snapshot) error {
	if b.store == nil {
		return nil
	}
	return b.store.Save(ctx, b.runID, snap.Round, snap)
}

func (b *Base) newSnapshot(posterior *distribution.MoG, proposal *distribution.Gaussian, logs []neuralnet.EpochLog, nSamples int) *Snapshot {
	losses := make([]float64, len(logs))
	for i, l := range logs {
		losses[i] = l.Loss
	}
	return &Snapshot{
		RunID:      b.runID,
		Round:      b.round,
		Posterior:  posterior,
		Proposal:   proposal,
		NetParams:  b.net.Params(),
		Components: b.net.NumComponents(),
		StatsMean:  append([]float64(nil), b.statsMean...),
		StatsStd:   append([]float64(nil), b.statsStd...),
		TrainLoss:  losses,
		NSamples:   nSamples,
		CreatedAt:  time.Now().UTC(),
	}
}
