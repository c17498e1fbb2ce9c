// Package simulator defines forward models for likelihood-free inference.
//
// A simulator maps a parameter vector to synthetic data. It is the only
// place the data-generating process appears; inference never evaluates a
// likelihood, it only runs simulations.
package simulator

import (
	"context"
	"fmt"
	"sync"
)

// Sample is the result of one forward run.
type Sample struct {
	// Data is the raw simulator output.
	Data []float64

	// Meta carries optional simulator-specific extras (latent states,
	// diagnostics). Summary statistics may use it; most ignore it.
	Meta map[string]interface{}
}

// Simulator is a forward model.
//
// Implementations must be safe for concurrent Simulate calls; RunBatch fans
// simulations out across workers.
type Simulator interface {
	// Simulate runs the forward model for a single parameter vector.
	Simulate(ctx context.Context, params []float64) (Sample, error)

	// DimParam returns the length of the parameter vector the model expects.
	DimParam() int
}

// Func adapts a plain function into a Simulator.
//
// Example:
//
//	sim := simulator.Func{
//	    Dim: 1,
//	    Fn: func(ctx context.Context, params []float64) (simulator.Sample, error) {
//	        return simulator.Sample{Data: []float64{params[0] * 2}}, nil
//	    },
//	}
type Func struct {
	Dim int
	Fn  func(ctx context.Context, params []float64) (Sample, error)
}

// Simulate implements Simulator by calling Fn.
func (f Func) Simulate(ctx context.Context, params []float64) (Sample, error) {
	return f.Fn(ctx, params)
}

// DimParam implements Simulator.
func (f Func) DimParam() int { return f.Dim }

// RunBatch runs the simulator for every parameter vector in paramsList,
// reps times each, spreading the work over a bounded pool of goroutines.
//
// The result preserves input order: result[i][r] is repetition r of
// paramsList[i]. The first simulation error cancels the remaining work and
// is returned. workers <= 0 means one worker.
func RunBatch(ctx context.Context, sim Simulator, paramsList [][]float64, reps, workers int) ([][]Sample, error) {
	if reps <= 0 {
		reps = 1
	}
	if workers <= 0 {
		workers = 1
	}

	type job struct {
		idx int
		rep int
	}

	out := make([][]Sample, len(paramsList))
	for i := range out {
		out[i] = make([]Sample, reps)
	}

	jobs := make(chan job)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				sample, err := sim.Simulate(ctx, paramsList[j.idx])
				if err != nil {
					errOnce.Do(func() {
						firstErr = fmt.Errorf("simulator: params %d rep %d: %w", j.idx, j.rep, err)
						cancel()
					})
					return
				}
				out[j.idx][j.rep] = sample
			}
		}()
	}

feed:
	for i := range paramsList {
		for r := 0; r < reps; r++ {
			select {
			case jobs <- job{idx: i, rep: r}:
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
