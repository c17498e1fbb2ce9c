package neuralnet

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Batch is one minibatch of aligned parameter and summary statistic rows.
type Batch struct {
	Params *mat.Dense
	Stats  *mat.Dense
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int {
	r, _ := b.Params.Dims()
	return r
}

// DataStream yields shuffled minibatches from a training set. Each Reset
// reshuffles the row order, so iterating Reset-to-exhaustion once per
// epoch visits every sample exactly once per epoch in a fresh order.
//
// A DataStream is not safe for concurrent use.
type DataStream struct {
	params *mat.Dense
	stats  *mat.Dense
	batch  int
	order  []int
	pos    int
	rng    *rand.Rand
}

// NewDataStream creates a minibatch iterator over aligned parameter and
// summary statistic matrices.
//
// Parameters:
//   - params: n x dimParam matrix of parameter vectors
//   - stats: n x nStats matrix of matching summary statistics
//   - batchSize: rows per minibatch; the final batch of an epoch may be
//     smaller
//   - seed: seed for the shuffle order
//
// Returns an error if the row counts disagree, the matrices are empty, or
// batchSize is not positive.
func NewDataStream(params, stats *mat.Dense, batchSize int, seed uint64) (*DataStream, error) {
	if params == nil || stats == nil {
		return nil, fmt.Errorf("neuralnet: data stream requires params and stats")
	}
	np, _ := params.Dims()
	ns, _ := stats.Dims()
	if np != ns {
		return nil, fmt.Errorf("neuralnet: params has %d rows but stats has %d", np, ns)
	}
	if np == 0 {
		return nil, fmt.Errorf("neuralnet: data stream requires at least one sample")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("neuralnet: batch size must be positive, got %d", batchSize)
	}
	if batchSize > np {
		batchSize = np
	}

	s := &DataStream{
		params: params,
		stats:  stats,
		batch:  batchSize,
		order:  make([]int, np),
		rng:    rand.New(rand.NewSource(seed)),
	}
	for i := range s.order {
		s.order[i] = i
	}
	s.Reset()
	return s, nil
}

// Len returns the total number of samples.
func (s *DataStream) Len() int { return len(s.order) }

// BatchSize returns the configured minibatch size.
func (s *DataStream) BatchSize() int { return s.batch }

// Batches returns the number of minibatches per epoch.
func (s *DataStream) Batches() int {
	return (len(s.order) + s.batch - 1) / s.batch
}

// Reset reshuffles the sample order and rewinds to the first batch.
func (s *DataStream) Reset() {
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
	s.pos = 0
}

// Next returns the next minibatch. The second return value is false once
// the epoch is exhausted; call Reset to start a new epoch.
func (s *DataStream) Next() (Batch, bool) {
	if s.pos >= len(s.order) {
		return Batch{}, false
	}
	end := s.pos + s.batch
	if end > len(s.order) {
		end = len(s.order)
	}

	_, dp := s.params.Dims()
	_, ds := s.stats.Dims()
	rows := end - s.pos
	bp := mat.NewDense(rows, dp, nil)
	bs := mat.NewDense(rows, ds, nil)
	for r, idx := range s.order[s.pos:end] {
		bp.SetRow(r, s.params.RawRowView(idx))
		bs.SetRow(r, s.stats.RawRowView(idx))
	}
	s.pos = end
	return Batch{Params: bp, Stats: bs}, true
}
