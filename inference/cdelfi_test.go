package inference

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/dshills/delfi-go/distribution"
	"github.com/dshills/delfi-go/emit"
	"github.com/dshills/delfi-go/generator"
	"github.com/dshills/delfi-go/simulator"
	"github.com/dshills/delfi-go/store"
	"github.com/dshills/delfi-go/summarystats"
)

// noisySim observes the parameter directly with additive Gaussian noise,
// so the true posterior concentrates around the observation.
func noisySim(noise float64, seed uint64) simulator.Func {
	var mu sync.Mutex
	norm := distuv.Normal{Mu: 0, Sigma: noise, Src: rand.New(rand.NewSource(seed))}
	return simulator.Func{
		Dim: 1,
		Fn: func(_ context.Context, params []float64) (simulator.Sample, error) {
			mu.Lock()
			eps := norm.Rand()
			mu.Unlock()
			return simulator.Sample{Data: []float64{params[0] + eps}}, nil
		},
	}
}

func newTestGen(t *testing.T, prior distribution.Distribution, seed uint64) *generator.Generator {
	t.Helper()
	stats, err := summarystats.NewIdentity(1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	g, err := generator.New(noisySim(0.1, seed), prior, stats, generator.WithSeed(seed))
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	return g
}

func uniformPrior(t *testing.T) *distribution.Uniform {
	t.Helper()
	p, err := distribution.NewUniform([]float64{-1}, []float64{1})
	if err != nil {
		t.Fatalf("prior: %v", err)
	}
	return p
}

func TestNewCDELFI_Validation(t *testing.T) {
	t.Run("observation dim mismatch", func(t *testing.T) {
		gen := newTestGen(t, uniformPrior(t), 1)
		if _, err := NewCDELFI(gen, []float64{0, 0}); err == nil {
			t.Error("expected error for observation dim mismatch")
		}
	})

	t.Run("unsupported prior", func(t *testing.T) {
		// A mixture prior has no analytic proposal correction.
		g1, _ := distribution.NewDiagGaussian([]float64{-0.5}, []float64{0.1})
		g2, _ := distribution.NewDiagGaussian([]float64{0.5}, []float64{0.1})
		mixPrior, err := distribution.NewMoG([]float64{0.5, 0.5}, []*distribution.Gaussian{g1, g2})
		if err != nil {
			t.Fatalf("mixture prior: %v", err)
		}
		gen := newTestGen(t, mixPrior, 1)

		_, err = NewCDELFI(gen, []float64{0})
		var infErr *Error
		if !errors.As(err, &infErr) || infErr.Code != ErrCodeUnsupportedPrior {
			t.Errorf("error = %v, want Error with code %s", err, ErrCodeUnsupportedPrior)
		}
	})

	t.Run("bad option", func(t *testing.T) {
		gen := newTestGen(t, uniformPrior(t), 1)
		if _, err := NewCDELFI(gen, []float64{0}, WithComponents(-1)); err == nil {
			t.Error("expected error for negative component count")
		}
	})
}

func TestCDELFI_SingleRound(t *testing.T) {
	gen := newTestGen(t, uniformPrior(t), 2)
	buf := emit.NewBufferedEmitter()
	mem := store.NewMemoryStore[*Snapshot]()

	alg, err := NewCDELFI(gen, []float64{0.2},
		WithRunID("single"),
		WithSeed(3),
		WithHiddenUnits(10),
		WithPilotSamples(50),
		WithLearningRate(0.01),
		WithBatchSize(50),
		WithEmitter(buf),
		WithStore(mem),
	)
	if err != nil {
		t.Fatalf("NewCDELFI: %v", err)
	}

	snaps, err := alg.Run(context.Background(), 1, 200, 15)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}

	snap := snaps[0]
	if snap.Round != 1 || snap.RunID != "single" {
		t.Errorf("snapshot tagged (%s, %d), want (single, 1)", snap.RunID, snap.Round)
	}
	if snap.Posterior == nil || snap.Posterior.NumComponents() != 1 {
		t.Error("expected a single-component posterior after round 1")
	}
	if snap.Proposal != nil {
		t.Error("final round snapshot should not carry a proposal")
	}
	if len(snap.TrainLoss) != 15 {
		t.Errorf("got %d epoch losses, want 15", len(snap.TrainLoss))
	}
	if len(snap.NetParams) != alg.Base().Network().NumParams() {
		t.Error("snapshot net params do not match the network")
	}

	// The first round samples from the prior, so no correction applies
	// and the generator still has no proposal.
	if gen.Proposal() != nil {
		t.Error("single-round run should not install a proposal")
	}

	if _, round, err := mem.LoadLatest(context.Background(), "single"); err != nil || round != 1 {
		t.Errorf("store has latest round %d (err %v), want 1", round, err)
	}

	if events := buf.GetHistoryWithFilter("single", emit.HistoryFilter{Msg: "round_done"}); len(events) != 1 {
		t.Errorf("got %d round_done events, want 1", len(events))
	}
	if events := buf.GetHistoryWithFilter("single", emit.HistoryFilter{Msg: "pilot_done"}); len(events) != 1 {
		t.Errorf("got %d pilot_done events, want 1", len(events))
	}
}

func TestCDELFI_MultiRoundSharpensPosterior(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-round training is slow")
	}

	obs := []float64{0.3}
	gen := newTestGen(t, uniformPrior(t), 5)
	mem := store.NewMemoryStore[*Snapshot]()

	alg, err := NewCDELFI(gen, obs,
		WithRunID("multi"),
		WithSeed(7),
		WithHiddenUnits(16),
		WithComponents(2),
		WithPilotSamples(100),
		WithLearningRate(0.01),
		WithBatchSize(50),
		WithStore(mem),
	)
	if err != nil {
		t.Fatalf("NewCDELFI: %v", err)
	}

	snaps, err := alg.Run(context.Background(), 2, 400, 75)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}

	if snaps[0].Proposal == nil {
		t.Error("round 1 snapshot should carry the proposal for round 2")
	}
	if snaps[0].Components != 1 {
		t.Errorf("round 1 used %d components, want 1", snaps[0].Components)
	}
	if snaps[1].Components != 2 {
		t.Errorf("final round used %d components, want 2", snaps[1].Components)
	}

	final := snaps[1].Posterior
	if final.NumComponents() != 2 {
		t.Fatalf("final posterior has %d components, want 2", final.NumComponents())
	}

	// The simulator observes the parameter with sd 0.1, so the posterior
	// should land near the observation and be much tighter than the
	// prior (sd 0.577).
	mean := final.Mean()[0]
	std := final.Std()[0]
	if math.Abs(mean-obs[0]) > 0.15 {
		t.Errorf("posterior mean %g, want within 0.15 of %g", mean, obs[0])
	}
	if std > 0.35 {
		t.Errorf("posterior std %g, want sharper than 0.35", std)
	}

	rounds, err := mem.Rounds(context.Background(), "multi")
	if err != nil {
		t.Fatalf("Rounds: %v", err)
	}
	if len(rounds) != 2 || rounds[0] != 1 || rounds[1] != 2 {
		t.Errorf("store has rounds %v, want [1 2]", rounds)
	}
}

func TestCDELFI_InvalidRounds(t *testing.T) {
	gen := newTestGen(t, uniformPrior(t), 1)
	alg, err := NewCDELFI(gen, []float64{0})
	if err != nil {
		t.Fatalf("NewCDELFI: %v", err)
	}
	if _, err := alg.Run(context.Background(), 0, 10, 5); err == nil {
		t.Error("expected error for zero rounds")
	}
}

func TestCDELFI_CancelledContext(t *testing.T) {
	gen := newTestGen(t, uniformPrior(t), 1)
	alg, err := NewCDELFI(gen, []float64{0})
	if err != nil {
		t.Fatalf("NewCDELFI: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snaps, err := alg.Run(ctx, 2, 50, 5)
	if err == nil {
		t.Error("expected error from cancelled context")
	}
	if len(snaps) != 0 {
		t.Errorf("got %d snapshots from a cancelled run, want 0", len(snaps))
	}
}

func TestCDELFI_Resume(t *testing.T) {
	t.Run("requires a store", func(t *testing.T) {
		gen := newTestGen(t, uniformPrior(t), 1)
		alg, err := NewCDELFI(gen, []float64{0})
		if err != nil {
			t.Fatalf("NewCDELFI: %v", err)
		}
		if _, err := alg.Resume(context.Background()); err == nil {
			t.Error("expected error when no store is configured")
		}
	})

	t.Run("empty store starts fresh", func(t *testing.T) {
		gen := newTestGen(t, uniformPrior(t), 1)
		alg, err := NewCDELFI(gen, []float64{0},
			WithStore(store.NewMemoryStore[*Snapshot]()))
		if err != nil {
			t.Fatalf("NewCDELFI: %v", err)
		}
		snap, err := alg.Resume(context.Background())
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if snap != nil || alg.Base().Round() != 0 {
			t.Error("resume from an empty store should leave the run untouched")
		}
	})

	t.Run("continues after a completed round", func(t *testing.T) {
		mem := store.NewMemoryStore[*Snapshot]()
		obs := []float64{0.2}
		opts := []Option{
			WithRunID("resume"),
			WithSeed(19),
			WithHiddenUnits(10),
			WithComponents(2),
			WithPilotSamples(50),
			WithBatchSize(50),
			WithStore(mem),
		}

		first, err := NewCDELFI(newTestGen(t, uniformPrior(t), 21), obs, opts...)
		if err != nil {
			t.Fatalf("NewCDELFI: %v", err)
		}
		if _, err := first.Run(context.Background(), 1, 100, 10); err != nil {
			t.Fatalf("Run: %v", err)
		}

		second, err := NewCDELFI(newTestGen(t, uniformPrior(t), 23), obs, opts...)
		if err != nil {
			t.Fatalf("NewCDELFI: %v", err)
		}
		snap, err := second.Resume(context.Background())
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if snap == nil || snap.Round != 1 {
			t.Fatalf("resumed snapshot = %+v, want round 1", snap)
		}
		if second.Base().Round() != 1 {
			t.Errorf("Round() = %d after resume, want 1", second.Base().Round())
		}
		got := second.Base().Network().Params()
		for i, p := range snap.NetParams {
			if got[i] != p {
				t.Fatal("resumed network params do not match the snapshot")
			}
		}

		// Round 1 was the final round of the first run, so its snapshot
		// already carries the grown mixture; the resumed network must
		// match it. The loop then picks up at round 2.
		if second.Base().Network().NumComponents() != 2 {
			t.Errorf("resumed network has %d components, want 2", second.Base().Network().NumComponents())
		}
		snaps, err := second.Run(context.Background(), 2, 100, 10)
		if err != nil {
			t.Fatalf("Run after resume: %v", err)
		}
		if len(snaps) != 1 || snaps[0].Round != 2 {
			t.Fatalf("resumed run produced %d snapshots, want one for round 2", len(snaps))
		}
		if snaps[0].Components != 2 {
			t.Errorf("final round used %d components, want 2", snaps[0].Components)
		}

		// All requested rounds are already done.
		snaps, err = second.Run(context.Background(), 2, 100, 10)
		if err != nil {
			t.Fatalf("Run on a finished run: %v", err)
		}
		if len(snaps) != 0 {
			t.Errorf("finished run produced %d snapshots, want 0", len(snaps))
		}
	})

	t.Run("restores proposal and standardization", func(t *testing.T) {
		mem := store.NewMemoryStore[*Snapshot]()
		gen := newTestGen(t, uniformPrior(t), 31)
		alg, err := NewCDELFI(gen, []float64{0.6},
			WithRunID("restore"),
			WithStore(mem),
		)
		if err != nil {
			t.Fatalf("NewCDELFI: %v", err)
		}

		prop, _ := distribution.NewDiagGaussian([]float64{0.4}, []float64{0.3})
		saved := &Snapshot{
			RunID:      "restore",
			Round:      1,
			Proposal:   prop,
			NetParams:  alg.Base().Network().Params(),
			Components: 1,
			StatsMean:  []float64{0.5},
			StatsStd:   []float64{2},
		}
		if err := mem.Save(context.Background(), "restore", 1, saved); err != nil {
			t.Fatalf("Save: %v", err)
		}

		if _, err := alg.Resume(context.Background()); err != nil {
			t.Fatalf("Resume: %v", err)
		}

		b := alg.Base()
		if want := (0.6 - 0.5) / 2; math.Abs(b.obsZ[0]-want) > 1e-12 {
			t.Errorf("standardized observation = %g, want %g", b.obsZ[0], want)
		}
		restored, ok := gen.Proposal().(*distribution.Gaussian)
		if !ok || math.Abs(restored.Mean()[0]-0.4) > 1e-12 {
			t.Errorf("generator proposal = %v, want the saved Gaussian", gen.Proposal())
		}
	})
}

func TestPosterior_CorrectionMatchesManualAlgebra(t *testing.T) {
	t.Run("uniform prior divides out the proposal", func(t *testing.T) {
		gen := newTestGen(t, uniformPrior(t), 9)
		alg, err := NewCDELFI(gen, []float64{0.1},
			WithSeed(11),
			WithPilotSamples(0),
		)
		if err != nil {
			t.Fatalf("NewCDELFI: %v", err)
		}

		// A wide proposal keeps the quotient positive definite even for
		// an untrained network.
		wide, _ := distribution.NewDiagGaussian([]float64{0}, []float64{100})
		if err := gen.SetProposal(wide); err != nil {
			t.Fatalf("SetProposal: %v", err)
		}

		raw, err := alg.Base().predict()
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		want, err := raw.DivGaussian(wide)
		if err != nil {
			t.Fatalf("DivGaussian: %v", err)
		}

		got, err := alg.Posterior()
		if err != nil {
			t.Fatalf("Posterior: %v", err)
		}
		for _, x := range []float64{-0.5, 0, 0.4} {
			if diff := math.Abs(got.LogPdf([]float64{x}) - want.LogPdf([]float64{x})); diff > 1e-9 {
				t.Errorf("at %g: corrected logpdf differs from manual algebra by %g", x, diff)
			}
		}
	})

	t.Run("gaussian prior multiplies in the prior first", func(t *testing.T) {
		prior, _ := distribution.NewDiagGaussian([]float64{0}, []float64{1})
		gen := newTestGen(t, prior, 13)
		alg, err := NewCDELFI(gen, []float64{0.1},
			WithSeed(17),
			WithPilotSamples(0),
		)
		if err != nil {
			t.Fatalf("NewCDELFI: %v", err)
		}

		wide, _ := distribution.NewDiagGaussian([]float64{0}, []float64{100})
		if err := gen.SetProposal(wide); err != nil {
			t.Fatalf("SetProposal: %v", err)
		}

		raw, err := alg.Base().predict()
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		tilted, err := raw.MulGaussian(prior)
		if err != nil {
			t.Fatalf("MulGaussian: %v", err)
		}
		want, err := tilted.DivGaussian(wide)
		if err != nil {
			t.Fatalf("DivGaussian: %v", err)
		}

		got, err := alg.Posterior()
		if err != nil {
			t.Fatalf("Posterior: %v", err)
		}
		for _, x := range []float64{-0.5, 0, 0.4} {
			if diff := math.Abs(got.LogPdf([]float64{x}) - want.LogPdf([]float64{x})); diff > 1e-9 {
				t.Errorf("at %g: corrected logpdf differs from manual algebra by %g", x, diff)
			}
		}
	})
}

func TestBase_Accessors(t *testing.T) {
	gen := newTestGen(t, uniformPrior(t), 1)
	alg, err := NewCDELFI(gen, []float64{0.25}, WithRunID("acc"))
	if err != nil {
		t.Fatalf("NewCDELFI: %v", err)
	}
	b := alg.Base()

	obs := b.Observation()
	if len(obs) != 1 || obs[0] != 0.25 {
		t.Errorf("Observation() = %v, want [0.25]", obs)
	}
	obs[0] = 99
	if b.Observation()[0] != 0.25 {
		t.Error("Observation returned a live view instead of a copy")
	}

	if b.Round() != 0 {
		t.Errorf("Round() = %d before any round, want 0", b.Round())
	}
	if b.Network().DimInput() != gen.NumSummary() || b.Network().DimParam() != gen.DimParam() {
		t.Error("network dimensions do not match the generator")
	}
	if b.Generator() != gen {
		t.Error("Generator() returned a different generator")
	}
}
