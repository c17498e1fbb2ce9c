package neuralnet

import (
	"fmt"

	"github.com/dshills/delfi-go/emit"
)

// trainerConfig collects construction-time settings that are consumed by
// the DataStream and optimizer rather than stored on the Trainer.
type trainerConfig struct {
	lr        float64
	batchSize int
	seed      uint64
}

// TrainerOption configures a Trainer during construction.
type TrainerOption func(*Trainer, *trainerConfig) error

// WithLearningRate sets the Adam learning rate. The default is 1e-3.
func WithLearningRate(lr float64) TrainerOption {
	return func(_ *Trainer, c *trainerConfig) error {
		if lr <= 0 {
			return fmt.Errorf("neuralnet: learning rate must be positive, got %g", lr)
		}
		c.lr = lr
		return nil
	}
}

// WithBatchSize sets the minibatch size. The default is 100; batches are
// clamped to the dataset size.
func WithBatchSize(n int) TrainerOption {
	return func(_ *Trainer, c *trainerConfig) error {
		if n <= 0 {
			return fmt.Errorf("neuralnet: batch size must be positive, got %d", n)
		}
		c.batchSize = n
		return nil
	}
}

// WithRegLambda sets the L2 penalty strength. The penalty is scaled by
// the dataset size, so the same lambda behaves consistently across
// dataset sizes. The default is 0.01; zero disables the penalty.
func WithRegLambda(lambda float64) TrainerOption {
	return func(t *Trainer, _ *trainerConfig) error {
		if lambda < 0 {
			return fmt.Errorf("neuralnet: penalty must be non-negative, got %g", lambda)
		}
		t.reg = lambda
		return nil
	}
}

// WithShuffleSeed sets the seed for the minibatch shuffle order.
func WithShuffleSeed(seed uint64) TrainerOption {
	return func(_ *Trainer, c *trainerConfig) error {
		c.seed = seed
		return nil
	}
}

// WithRun tags training instrumentation with a run identifier and the
// inference round it belongs to.
func WithRun(runID string, round int) TrainerOption {
	return func(t *Trainer, _ *trainerConfig) error {
		t.runID = runID
		t.round = round
		return nil
	}
}

// WithEmitter sets the emitter that receives epoch events. The default
// discards them.
func WithEmitter(e emit.Emitter) TrainerOption {
	return func(t *Trainer, _ *trainerConfig) error {
		if e == nil {
			return fmt.Errorf("neuralnet: emitter must not be nil")
		}
		t.emitter = e
		return nil
	}
}

// WithMetrics sets the metrics sink for per-epoch loss and duration.
func WithMetrics(m Metrics) TrainerOption {
	return func(t *Trainer, _ *trainerConfig) error {
		t.metrics = m
		return nil
	}
}

// WithMonitor registers a callback invoked after every epoch.
func WithMonitor(fn func(EpochLog)) TrainerOption {
	return func(t *Trainer, _ *trainerConfig) error {
		t.monitor = fn
		return nil
	}
}

// WithLogEvery emits an epoch event only every n epochs (the final epoch
// is always emitted). The default is 10.
func WithLogEvery(n int) TrainerOption {
	return func(t *Trainer, _ *trainerConfig) error {
		if n <= 0 {
			return fmt.Errorf("neuralnet: log interval must be positive, got %d", n)
		}
		t.logEvery = n
		return nil
	}
}
