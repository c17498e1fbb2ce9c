package neuralnet

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/dshills/delfi-go/emit"
)

// Metrics receives training instrumentation. metrics.PrometheusMetrics
// satisfies this interface.
type Metrics interface {
	RecordTrainLoss(runID string, round string, loss float64)
	RecordEpochDuration(runID string, d time.Duration)
}

// EpochLog records the outcome of one training epoch. Loss is the full
// regularized objective; Reg is the penalty share of it, and WeightNorm
// the parameter vector norm, both useful for monitoring whether the
// penalty or the likelihood dominates training.
type EpochLog struct {
	Epoch      int
	Loss       float64
	Reg        float64
	WeightNorm float64
	Duration   time.Duration
}

// Trainer fits a NeuralNet to a dataset of (parameter, summary statistic)
// pairs by minimizing the negative log likelihood with an L2 penalty,
// using Adam on shuffled minibatches.
type Trainer struct {
	net    *NeuralNet
	stream *DataStream
	opt    *adam

	reg      float64
	runID    string
	round    int
	logEvery int
	emitter  emit.Emitter
	metrics  Metrics
	monitor  func(EpochLog)
}

// NewTrainer creates a Trainer for net over the given training matrices.
//
// Parameters:
//   - net: the network to fit
//   - params: n x DimParam matrix of parameter vectors
//   - stats: n x DimInput matrix of matching summary statistics
//   - opts: optional configuration (learning rate, batch size, penalty,
//     instrumentation)
//
// Returns an error if the matrix shapes do not match the network.
func NewTrainer(net *NeuralNet, params, stats *mat.Dense, opts ...TrainerOption) (*Trainer, error) {
	if net == nil {
		return nil, fmt.Errorf("neuralnet: trainer requires a network")
	}
	if params == nil || stats == nil {
		return nil, fmt.Errorf("neuralnet: trainer requires params and stats")
	}
	if _, c := params.Dims(); c != net.DimParam() {
		return nil, fmt.Errorf("neuralnet: params has %d columns, network models %d parameters", c, net.DimParam())
	}
	if _, c := stats.Dims(); c != net.DimInput() {
		return nil, fmt.Errorf("neuralnet: stats has %d columns, network expects %d", c, net.DimInput())
	}

	t := &Trainer{
		net:      net,
		reg:      0.01,
		logEvery: 10,
		emitter:  emit.NewNullEmitter(),
	}
	cfg := trainerConfig{lr: 1e-3, batchSize: 100, seed: 1}
	for _, opt := range opts {
		if err := opt(t, &cfg); err != nil {
			return nil, err
		}
	}

	stream, err := NewDataStream(params, stats, cfg.batchSize, cfg.seed)
	if err != nil {
		return nil, err
	}
	t.stream = stream
	t.opt = newAdam(net.NumParams(), cfg.lr)
	return t, nil
}

// Train runs the given number of epochs and returns one EpochLog per
// epoch. The reported loss is the average regularized negative log
// likelihood over the epoch's minibatches.
//
// Training stops early with ctx.Err when the context is cancelled; logs
// for completed epochs are still returned.
func (t *Trainer) Train(ctx context.Context, epochs int) ([]EpochLog, error) {
	if epochs <= 0 {
		return nil, fmt.Errorf("neuralnet: epochs must be positive, got %d", epochs)
	}

	nTotal := float64(t.stream.Len())
	pv := t.net.Params()
	grad := make([]float64, len(pv))

	logs := make([]EpochLog, 0, epochs)
	for epoch := 1; epoch <= epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return logs, err
		}
		start := time.Now()

		t.stream.Reset()
		epochLoss := 0.0
		epochReg := 0.0
		epochRows := 0
		for {
			batch, ok := t.stream.Next()
			if !ok {
				break
			}
			rows := batch.Len()

			for i := range grad {
				grad[i] = 0
			}
			nll := 0.0
			for r := 0; r < rows; r++ {
				nll += t.net.lossGrad(batch.Stats.RawRowView(r), batch.Params.RawRowView(r), grad)
			}

			// Average the likelihood term and fold in the L2 penalty,
			// scaled by the full dataset size so the penalty does not
			// depend on the batch split.
			inv := 1 / float64(rows)
			for i := range grad {
				grad[i] = grad[i]*inv + t.reg/nTotal*pv[i]
			}
			reg := t.reg / (2 * nTotal) * floats.Dot(pv, pv)
			loss := nll*inv + reg

			t.opt.step(pv, grad)
			if err := t.net.SetParams(pv); err != nil {
				return logs, err
			}

			epochLoss += loss * float64(rows)
			epochReg += reg * float64(rows)
			epochRows += rows
		}

		log := EpochLog{
			Epoch:      epoch,
			Loss:       epochLoss / float64(epochRows),
			Reg:        epochReg / float64(epochRows),
			WeightNorm: math.Sqrt(floats.Dot(pv, pv)),
			Duration:   time.Since(start),
		}
		logs = append(logs, log)
		t.observe(log, epochs)
	}
	return logs, nil
}

func (t *Trainer) observe(log EpochLog, epochs int) {
	if t.monitor != nil {
		t.monitor(log)
	}
	if t.metrics != nil {
		t.metrics.RecordTrainLoss(t.runID, strconv.Itoa(t.round), log.Loss)
		t.metrics.RecordEpochDuration(t.runID, log.Duration)
	}
	if log.Epoch%t.logEvery == 0 || log.Epoch == epochs {
		t.emitter.Emit(emit.Event{
			RunID: t.runID,
			Round: t.round,
			Epoch: log.Epoch,
			Stage: "train",
			Msg:   "epoch_done",
			Meta: map[string]interface{}{
				"loss":        log.Loss,
				"duration_ms": log.Duration.Milliseconds(),
			},
		})
	}
}
