// Package telemetry provides the metrics and tracing hooks shared by the
// dispatcher, the sync client, the aggregator and the runner.
package telemetry

// Metric names emitted by the engine.
const (
	PredictTotal       = "dispatch.predict.total"
	PredictDurationMs  = "dispatch.predict.duration_ms"
	PredictInFlight    = "dispatch.predict.in_flight"
	ResultsTotal       = "dispatch.results.total"
	SyncAttemptsTotal  = "dashboard.sync.attempts.total"
	SyncTotal          = "dashboard.sync.total"
	SyncDurationMs     = "dashboard.sync.duration_ms"
	SnapshotsTotal     = "aggregation.snapshots.total"
	ScoreAccuracy      = "aggregation.score.accuracy"
	RunProcessedItems  = "evaluation.run.processed"
	RunDurationSeconds = "evaluation.run.duration_seconds"
	RunsTotal          = "evaluation.runs.total"
)

// Metrics provides an interface for collecting observability data. It
// supports counters, histograms, and gauges with tag-based dimensionality.
type Metrics interface {
	// IncrementCounter increases a counter metric by a given value.
	IncrementCounter(name string, tags map[string]string, value float64)
	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, tags map[string]string, value float64)
	// SetGauge sets a gauge metric to a specific value.
	SetGauge(name string, tags map[string]string, value float64)
}

// NoOpMetrics discards all data.
type NoOpMetrics struct{}

// NewNoOpMetrics returns a new no-op metrics collector.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) IncrementCounter(_ string, _ map[string]string, _ float64) {}

func (n *NoOpMetrics) RecordHistogram(_ string, _ map[string]string, _ float64) {}

func (n *NoOpMetrics) SetGauge(_ string, _ map[string]string, _ float64) {}

// OrNoOp returns m, or a no-op collector when m is nil.
func OrNoOp(m Metrics) Metrics {
	if m == nil {
		return NewNoOpMetrics()
	}
	return m
}
