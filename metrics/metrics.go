// Package metrics provides Prometheus metrics for inference runs.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects the operational signals of a likelihood-free
// inference run.
//
// Metrics exposed (all namespaced "delfi"):
//
//  1. simulations_total (counter): forward model runs, labeled by run_id and
//     status (accept, discard). Use: simulation budget accounting and
//     rejection-rate monitoring.
//
//  2. params_resampled_total (counter): parameter draws rejected before
//     simulation, labeled by run_id. High values mean the proposal mass sits
//     outside the prior support.
//
//  3. train_loss (gauge): latest training loss, labeled by run_id and round.
//
//  4. epoch_duration_seconds (histogram): training epoch wall time, labeled
//     by run_id. Buckets span 1ms to 10s.
//
//  5. rounds_completed_total (counter): finished inference rounds, labeled
//     by run_id.
//
//  6. inflight_simulations (gauge): simulator calls currently executing.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	m := metrics.NewPrometheusMetrics(registry)
//	gen, _ := generator.New(sim, prior, stats, generator.WithMetrics(m))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe; all update methods may be called from simulation workers.
type PrometheusMetrics struct {
	simulations     *prometheus.CounterVec
	paramsResampled *prometheus.CounterVec
	trainLoss       *prometheus.GaugeVec
	epochDuration   *prometheus.HistogramVec
	roundsCompleted *prometheus.CounterVec
	inflightSims    prometheus.Gauge

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all inference metrics with the
// provided registry (prometheus.DefaultRegisterer when nil).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.simulations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "delfi",
		Name:      "simulations_total",
		Help:      "Forward model runs by outcome of the generator feedback checks",
	}, []string{"run_id", "status"}) // status: accept, discard

	pm.paramsResampled = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "delfi",
		Name:      "params_resampled_total",
		Help:      "Parameter draws rejected before simulation and drawn again",
	}, []string{"run_id"})

	pm.trainLoss = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "delfi",
		Name:      "train_loss",
		Help:      "Latest training loss of the density network",
	}, []string{"run_id", "round"})

	pm.epochDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "delfi",
		Name:      "epoch_duration_seconds",
		Help:      "Wall time per training epoch",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"run_id"})

	pm.roundsCompleted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "delfi",
		Name:      "rounds_completed_total",
		Help:      "Finished inference rounds",
	}, []string{"run_id"})

	pm.inflightSims = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "delfi",
		Name:      "inflight_simulations",
		Help:      "Simulator calls currently executing",
	})

	return pm
}

// RecordSimulation counts one forward run with its feedback outcome
// ("accept" or "discard").
func (pm *PrometheusMetrics) RecordSimulation(runID, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.simulations.WithLabelValues(runID, status).Inc()
}

// RecordResample counts one rejected parameter draw.
func (pm *PrometheusMetrics) RecordResample(runID string) {
	if !pm.isEnabled() {
		return
	}
	pm.paramsResampled.WithLabelValues(runID).Inc()
}

// RecordTrainLoss publishes the loss of the most recent epoch.
func (pm *PrometheusMetrics) RecordTrainLoss(runID string, round string, loss float64) {
	if !pm.isEnabled() {
		return
	}
	pm.trainLoss.WithLabelValues(runID, round).Set(loss)
}

// RecordEpochDuration observes the wall time of one training epoch.
func (pm *PrometheusMetrics) RecordEpochDuration(runID string, d time.Duration) {
	if !pm.isEnabled() {
		return
	}
	pm.epochDuration.WithLabelValues(runID).Observe(d.Seconds())
}

// RecordRoundCompleted counts one finished inference round.
func (pm *PrometheusMetrics) RecordRoundCompleted(runID string) {
	if !pm.isEnabled() {
		return
	}
	pm.roundsCompleted.WithLabelValues(runID).Inc()
}

// SimulationStarted and SimulationFinished bracket a simulator call for the
// inflight gauge.
func (pm *PrometheusMetrics) SimulationStarted() {
	if !pm.isEnabled() {
		return
	}
	pm.inflightSims.Inc()
}

// SimulationFinished decrements the inflight gauge.
func (pm *PrometheusMetrics) SimulationFinished() {
	if !pm.isEnabled() {
		return
	}
	pm.inflightSims.Dec()
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}
