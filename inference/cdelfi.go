package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/delfi-go/distribution"
	"github.com/dshills/delfi-go/emit"
	"github.com/dshills/delfi-go/generator"
	"github.com/dshills/delfi-go/store"
)

// CDELFI performs sequential neural posterior estimation with an analytic
// proposal correction.
//
// Each round draws parameters from the current proposal (the prior in the
// first round), simulates them, fits the density network on the resulting
// pairs, and moment-matches the corrected posterior into the Gaussian
// proposal of the next round. Because training data is drawn from the
// proposal rather than the prior, the fitted mixture targets the wrong
// density; Posterior undoes this analytically, which restricts the prior
// to the uniform and Gaussian families.
//
// Before the final round the network grows from one mixture component to
// the configured count, so intermediate proposals stay unimodal while the
// final posterior can be multimodal.
type CDELFI struct {
	base  *Base
	comps int
}

// NewCDELFI creates a CDELFI run for the given generator and observed
// summary statistics.
//
// Parameters:
//   - gen: simulation generator carrying the prior, simulator, and
//     summary statistics
//   - obs: observed summary statistics the posterior conditions on
//   - opts: optional configuration
//
// Returns an error when the observation does not match the generator
// dimensions or the prior family has no analytic correction.
//
// Example:
//
//	alg, err := inference.NewCDELFI(gen, obs,
//	    inference.WithRunID("gauss-demo"),
//	    inference.WithComponents(2),
//	    inference.WithSeed(42))
//	snaps, err := alg.Run(ctx, 3, 500, 100)
func NewCDELFI(gen *generator.Generator, obs []float64, opts ...Option) (*CDELFI, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	base, err := newBase(gen, obs, cfg)
	if err != nil {
		return nil, err
	}

	switch base.gen.Prior().(type) {
	case *distribution.Uniform, *distribution.Gaussian:
	default:
		return nil, &Error{
			Code:    ErrCodeUnsupportedPrior,
			Message: fmt.Sprintf("no analytic proposal correction for prior type %T", base.gen.Prior()),
		}
	}
	return &CDELFI{base: base, comps: cfg.components}, nil
}

// Base exposes the shared inference state, mainly for inspection.
func (c *CDELFI) Base() *Base { return c.base }

// Run executes the full round loop and returns one snapshot per round.
// The final snapshot's Posterior is the posterior estimate of the run.
//
// Parameters:
//   - ctx: cancels the run between simulations and epochs
//   - rounds: number of generate-train-correct rounds
//   - nSamples: accepted simulations per round
//   - epochs: training epochs per round
//
// When a store is configured each snapshot is persisted as its round
// completes, so a cancelled run keeps all finished rounds. After a Resume
// the loop continues from the first unfinished round; a run whose rounds
// are all complete returns no snapshots.
func (c *CDELFI) Run(ctx context.Context, rounds, nSamples, epochs int) ([]*Snapshot, error) {
	if rounds <= 0 {
		return nil, fmt.Errorf("inference: rounds must be positive, got %d", rounds)
	}

	b := c.base
	snaps := make([]*Snapshot, 0, rounds)
	for r := b.round + 1; r <= rounds; r++ {
		b.round = r

		if r == rounds && c.comps > b.net.NumComponents() {
			if err := b.net.GrowComponents(c.comps - b.net.NumComponents()); err != nil {
				return snaps, err
			}
		}

		ds, err := b.genTrainData(ctx, nSamples)
		if err != nil {
			return snaps, err
		}
		logs, err := b.train(ctx, ds, epochs)
		if err != nil {
			return snaps, err
		}

		posterior, err := c.Posterior()
		if err != nil {
			return snaps, err
		}

		var proposal *distribution.Gaussian
		if r < rounds {
			proposal, err = posterior.ProjectToGaussian()
			if err != nil {
				return snaps, &Error{Code: ErrCodeCorrection, Round: r,
					Message: "projecting the posterior to a proposal failed", Cause: err}
			}
			if err := b.gen.SetProposal(proposal); err != nil {
				return snaps, err
			}
		}

		snap := b.newSnapshot(posterior, proposal, logs, ds.Len())
		if err := b.saveSnapshot(ctx, snap); err != nil {
			return snaps, err
		}
		snaps = append(snaps, snap)

		b.emitter.Emit(emit.Event{
			RunID: b.runID, Round: r, Stage: "run", Msg: "round_done",
			Meta: map[string]interface{}{
				"n_samples":  ds.Len(),
				"final_loss": logs[len(logs)-1].Loss,
				"components": b.net.NumComponents(),
			},
		})
		if b.metrics != nil {
			b.metrics.RecordRoundCompleted(b.runID)
		}
	}
	return snaps, nil
}

// Resume restores the run from the latest snapshot in the configured
// store, so a subsequent Run continues with the rounds that never
// finished. It returns the restored snapshot, or nil when the store
// holds no snapshots for this run and the run starts fresh.
func (c *CDELFI) Resume(ctx context.Context) (*Snapshot, error) {
	b := c.base
	if b.store == nil {
		return nil, fmt.Errorf("inference: resume requires a store")
	}

	snap, round, err := b.store.LoadLatest(ctx, b.runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if extra := snap.Components - b.net.NumComponents(); extra > 0 {
		if err := b.net.GrowComponents(extra); err != nil {
			return nil, err
		}
	}
	if err := b.net.SetParams(snap.NetParams); err != nil {
		return nil, err
	}

	b.round = round
	b.statsMean = append([]float64(nil), snap.StatsMean...)
	b.statsStd = append([]float64(nil), snap.StatsStd...)
	b.obsZ = make([]float64, len(b.obs))
	for j, v := range b.obs {
		b.obsZ[j] = (v - b.statsMean[j]) / b.statsStd[j]
	}
	b.piloted = true

	if snap.Proposal != nil {
		if err := b.gen.SetProposal(snap.Proposal); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// Posterior returns the current posterior estimate in the original
// parameter space, with the proposal influence divided out.
//
// When no proposal is active (before or during the first round) the raw
// network mixture is returned. With a uniform prior the correction is
// mixture/proposal; with a Gaussian prior it is mixture*prior/proposal.
func (c *CDELFI) Posterior() (*distribution.MoG, error) {
	b := c.base
	mog, err := b.predict()
	if err != nil {
		return nil, err
	}

	prop := b.gen.Proposal()
	if prop == nil {
		return mog, nil
	}
	propG, ok := prop.(*distribution.Gaussian)
	if !ok {
		return nil, &Error{Code: ErrCodeCorrection, Round: b.round,
			Message: fmt.Sprintf("proposal has non-Gaussian type %T", prop)}
	}

	switch prior := b.gen.Prior().(type) {
	case *distribution.Uniform:
		corrected, err := mog.DivGaussian(propG)
		if err != nil {
			return nil, &Error{Code: ErrCodeCorrection, Round: b.round,
				Message: "dividing out the proposal failed", Cause: err}
		}
		return corrected, nil
	case *distribution.Gaussian:
		tilted, err := mog.MulGaussian(prior)
		if err != nil {
			return nil, &Error{Code: ErrCodeCorrection, Round: b.round,
				Message: "multiplying in the prior failed", Cause: err}
		}
		corrected, err := tilted.DivGaussian(propG)
		if err != nil {
			return nil, &Error{Code: ErrCodeCorrection, Round: b.round,
				Message: "dividing out the proposal failed", Cause: err}
		}
		return corrected, nil
	default:
		return nil, &Error{Code: ErrCodeUnsupportedPrior, Round: b.round,
			Message: fmt.Sprintf("no analytic proposal correction for prior type %T", prior)}
	}
}
