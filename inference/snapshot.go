package inference

import (
	"time"

	"github.com/dshills/delfi-go/distribution"
)

// Snapshot captures the state of an inference run after one completed
// round. Snapshots serialize to JSON and are what a store.Store persists,
// so an interrupted run can be inspected or its posterior recovered.
type Snapshot struct {
	// RunID identifies the inference run this snapshot belongs to.
	RunID string `json:"run_id"`

	// Round is the 1-based round that produced this snapshot.
	Round int `json:"round"`

	// Posterior is the proposal-corrected posterior estimate after this
	// round, in the original parameter space.
	Posterior *distribution.MoG `json:"posterior"`

	// Proposal is the Gaussian the NEXT round will sample parameters
	// from, or nil after the final round.
	Proposal *distribution.Gaussian `json:"proposal,omitempty"`

	// NetParams is the flat parameter vector of the density network.
	NetParams []float64 `json:"net_params"`

	// Components is the mixture component count of the network at the
	// time of the snapshot, needed to rebuild the architecture.
	Components int `json:"components"`

	// StatsMean and StatsStd are the summary statistic standardization
	// moments estimated by the pilot run. A resumed run reuses them
	// instead of repeating the pilot.
	StatsMean []float64 `json:"stats_mean"`
	StatsStd  []float64 `json:"stats_std"`

	// TrainLoss holds the per-epoch training loss of this round.
	TrainLoss []float64 `json:"train_loss"`

	// NSamples is the number of training samples the round kept after
	// filtering.
	NSamples int `json:"n_samples"`

	// CreatedAt is the snapshot creation time.
	CreatedAt time.Time `json:"created_at"`
}
