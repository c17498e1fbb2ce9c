package neuralnet

import "fmt"

type config struct {
	hiddens []int
	comps   int
	seed    uint64
}

// Option configures a NeuralNet during construction.
type Option func(*config) error

// WithHiddenUnits sets the width of each tanh hidden layer. The default
// is two layers of 20 units.
func WithHiddenUnits(units ...int) Option {
	return func(c *config) error {
		if len(units) == 0 {
			return fmt.Errorf("neuralnet: at least one hidden layer is required")
		}
		for _, u := range units {
			if u <= 0 {
				return fmt.Errorf("neuralnet: hidden units must be positive, got %d", u)
			}
		}
		c.hiddens = append([]int(nil), units...)
		return nil
	}
}

// WithComponents sets the initial number of mixture components. The
// default is 1.
func WithComponents(k int) Option {
	return func(c *config) error {
		if k <= 0 {
			return fmt.Errorf("neuralnet: component count must be positive, got %d", k)
		}
		c.comps = k
		return nil
	}
}

// WithSeed sets the random seed used for weight initialization and
// component growth.
func WithSeed(seed uint64) Option {
	return func(c *config) error {
		c.seed = seed
		return nil
	}
}
