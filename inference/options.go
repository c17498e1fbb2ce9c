package inference

import (
	"fmt"

	"github.com/dshills/delfi-go/emit"
	"github.com/dshills/delfi-go/neuralnet"
	"github.com/dshills/delfi-go/store"
)

type config struct {
	runID        string
	seed         uint64
	hiddens      []int
	components   int
	priorNorm    bool
	pilotSamples int
	lr           float64
	batchSize    int
	reg          float64
	logEvery     int
	monitor      func(neuralnet.EpochLog)
	emitter      emit.Emitter
	metrics      Metrics
	store        store.Store[*Snapshot]
}

func defaultConfig() *config {
	return &config{
		runID:        "run",
		seed:         1,
		hiddens:      []int{20, 20},
		components:   1,
		priorNorm:    true,
		pilotSamples: 100,
		lr:           1e-3,
		batchSize:    100,
		reg:          0.01,
		logEvery:     10,
		emitter:      emit.NewNullEmitter(),
	}
}

// Option configures an inference algorithm during construction.
type Option func(*config) error

// WithRunID tags all events, metrics, and snapshots of this run. The
// default is "run".
func WithRunID(id string) Option {
	return func(c *config) error {
		if id == "" {
			return fmt.Errorf("inference: run id must not be empty")
		}
		c.runID = id
		return nil
	}
}

// WithSeed seeds the run. Network initialization, minibatch shuffling,
// and component growth all derive their seeds from it.
func WithSeed(seed uint64) Option {
	return func(c *config) error {
		c.seed = seed
		return nil
	}
}

// WithHiddenUnits sets the density network hidden layer widths. The
// default is two layers of 20 units.
func WithHiddenUnits(units ...int) Option {
	return func(c *config) error {
		if len(units) == 0 {
			return fmt.Errorf("inference: at least one hidden layer is required")
		}
		c.hiddens = append([]int(nil), units...)
		return nil
	}
}

// WithComponents sets the number of mixture components of the final
// posterior. Earlier rounds train a single component; the network grows
// to this count before the last round. The default is 1.
func WithComponents(k int) Option {
	return func(c *config) error {
		if k <= 0 {
			return fmt.Errorf("inference: component count must be positive, got %d", k)
		}
		c.components = k
		return nil
	}
}

// WithPriorNorm controls whether parameters are standardized with the
// prior mean and standard deviation before training. Enabled by default.
func WithPriorNorm(enabled bool) Option {
	return func(c *config) error {
		c.priorNorm = enabled
		return nil
	}
}

// WithPilotSamples sets the number of prior simulations used to estimate
// the summary statistic standardization. Zero disables the pilot run and
// feeds raw statistics to the network. The default is 100.
func WithPilotSamples(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("inference: pilot samples must be non-negative, got %d", n)
		}
		c.pilotSamples = n
		return nil
	}
}

// WithLearningRate sets the Adam learning rate used each round. The
// default is 1e-3.
func WithLearningRate(lr float64) Option {
	return func(c *config) error {
		if lr <= 0 {
			return fmt.Errorf("inference: learning rate must be positive, got %g", lr)
		}
		c.lr = lr
		return nil
	}
}

// WithBatchSize sets the training minibatch size. The default is 100.
func WithBatchSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("inference: batch size must be positive, got %d", n)
		}
		c.batchSize = n
		return nil
	}
}

// WithRegLambda sets the L2 penalty used during training. The default is
// 0.01.
func WithRegLambda(lambda float64) Option {
	return func(c *config) error {
		if lambda < 0 {
			return fmt.Errorf("inference: penalty must be non-negative, got %g", lambda)
		}
		c.reg = lambda
		return nil
	}
}

// WithLogEvery sets how often epoch events are emitted during training.
// The default is every 10 epochs.
func WithLogEvery(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("inference: log interval must be positive, got %d", n)
		}
		c.logEvery = n
		return nil
	}
}

// WithMonitor registers a callback invoked after every training epoch.
func WithMonitor(fn func(neuralnet.EpochLog)) Option {
	return func(c *config) error {
		c.monitor = fn
		return nil
	}
}

// WithEmitter sets the emitter receiving run, round, and epoch events.
// The default discards them.
func WithEmitter(e emit.Emitter) Option {
	return func(c *config) error {
		if e == nil {
			return fmt.Errorf("inference: emitter must not be nil")
		}
		c.emitter = e
		return nil
	}
}

// WithMetrics sets the metrics sink for training and round metrics.
func WithMetrics(m Metrics) Option {
	return func(c *config) error {
		c.metrics = m
		return nil
	}
}

// WithStore persists a snapshot after every completed round.
func WithStore(s store.Store[*Snapshot]) Option {
	return func(c *config) error {
		c.store = s
		return nil
	}
}
