package generator

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/dshills/delfi-go/distribution"
	"github.com/dshills/delfi-go/emit"
)

// Option is a functional option for configuring a Generator.
//
// Example:
//
//	gen, err := generator.New(sim, prior, stats,
//	    generator.WithWorkers(8),
//	    generator.WithSeed(42),
//	    generator.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
type Option func(*Generator) error

// WithWorkers sets the number of concurrent simulation workers.
//
// Default: 1 (sequential). CPU-bound simulators benefit from
// runtime.NumCPU(); simulators shelling out to external processes can go
// higher.
func WithWorkers(n int) Option {
	return func(g *Generator) error {
		if n <= 0 {
			return fmt.Errorf("generator: workers must be positive, got %d", n)
		}
		g.workers = n
		return nil
	}
}

// WithReps sets the number of forward runs per parameter vector. The
// summary statistic sees all repetitions together, which lets it average
// out simulator noise. Default: 1.
func WithReps(n int) Option {
	return func(g *Generator) error {
		if n <= 0 {
			return fmt.Errorf("generator: reps must be positive, got %d", n)
		}
		g.reps = n
		return nil
	}
}

// WithSeed seeds the parameter-draw randomness. Two generators with equal
// seeds and deterministic simulators produce identical datasets.
// Default: 0.
func WithSeed(seed uint64) Option {
	return func(g *Generator) error {
		g.rng = rand.New(rand.NewSource(seed))
		return nil
	}
}

// WithProposal installs an initial proposal distribution. Usually left
// unset; sequential inference installs proposals via SetProposal.
func WithProposal(p distribution.Distribution) Option {
	return func(g *Generator) error {
		return g.SetProposal(p)
	}
}

// WithParamFilter installs a feedback check on proposed parameters.
// Returning Resample rejects the draw without consuming a slot.
func WithParamFilter(f ParamFilter) Option {
	return func(g *Generator) error {
		g.paramFilter = f
		return nil
	}
}

// WithDataFilter installs a feedback check on raw simulation output.
// Returning Discard drops the sample.
func WithDataFilter(f DataFilter) Option {
	return func(g *Generator) error {
		g.dataFilter = f
		return nil
	}
}

// WithStatsFilter installs a feedback check on summary vectors. Returning
// Discard drops the sample.
func WithStatsFilter(f StatsFilter) Option {
	return func(g *Generator) error {
		g.statsFilter = f
		return nil
	}
}

// WithMaxResamples caps the total number of rejected parameter draws per
// Gen call. Default: 100 per requested sample.
func WithMaxResamples(n int) Option {
	return func(g *Generator) error {
		if n <= 0 {
			return fmt.Errorf("generator: max resamples must be positive, got %d", n)
		}
		g.maxResamples = n
		return nil
	}
}

// WithEmitter routes generation events to the given emitter.
// Default: events are discarded.
func WithEmitter(e emit.Emitter) Option {
	return func(g *Generator) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		g.emitter = e
		return nil
	}
}

// WithMetrics records simulation counts and resamples to the given
// collector. Default: no recording.
func WithMetrics(m Metrics) Option {
	return func(g *Generator) error {
		g.metrics = m
		return nil
	}
}
