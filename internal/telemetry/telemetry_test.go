package telemetry

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricName(t *testing.T) {
	tests := map[string]string{
		"dispatch.predict.total": "dispatch_predict_total",
		"score-id":               "score_id",
		"9lives":                 "_9lives",
		"ok_name":                "ok_name",
	}
	for in, want := range tests {
		assert.Equal(t, want, MetricName(in), in)
	}
}

func TestPrometheusMetrics_Counter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.IncrementCounter(PredictTotal, map[string]string{"score": "a", "outcome": "ok"}, 1)
	m.IncrementCounter(PredictTotal, map[string]string{"score": "a", "outcome": "ok"}, 2)
	m.IncrementCounter(PredictTotal, map[string]string{"score": "b"}, 1)
	m.IncrementCounter(PredictTotal, map[string]string{"score": "b"}, -5)

	vec := m.counters[PredictTotal]
	require.NotNil(t, vec)
	assert.InDelta(t, 3.0, testutil.ToFloat64(vec.WithLabelValues("ok", "a")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(vec.WithLabelValues("", "b")), 1e-9)

	expected := `
# HELP scoreeval_dispatch_predict_total Counter dispatch.predict.total
# TYPE scoreeval_dispatch_predict_total counter
scoreeval_dispatch_predict_total{outcome="",score="b"} 1
scoreeval_dispatch_predict_total{outcome="ok",score="a"} 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "scoreeval_dispatch_predict_total"))
}

func TestPrometheusMetrics_GaugeAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.SetGauge(PredictInFlight, nil, 4)
	m.SetGauge(PredictInFlight, nil, 2)
	m.RecordHistogram(PredictDurationMs, map[string]string{"score": "a"}, 12)

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.gauges[PredictInFlight]), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.histograms[PredictDurationMs]))
}

func TestPrometheusMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPrometheusMetrics(reg)
	b := NewPrometheusMetrics(reg)

	a.IncrementCounter(RunsTotal, map[string]string{"status": "COMPLETED"}, 1)
	b.IncrementCounter(RunsTotal, map[string]string{"status": "COMPLETED"}, 1)

	assert.InDelta(t, 2.0, testutil.ToFloat64(a.counters[RunsTotal].WithLabelValues("COMPLETED")), 1e-9)
}

func TestPrometheusMetrics_Concurrent(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.IncrementCounter(ResultsTotal, map[string]string{"outcome": "ok"}, 1)
				m.SetGauge(PredictInFlight, nil, 1)
			}
		}()
	}
	wg.Wait()
	assert.InDelta(t, 1600.0, testutil.ToFloat64(m.counters[ResultsTotal]), 1e-9)
}

func TestNoOpAndTracer(t *testing.T) {
	var m Metrics = OrNoOp(nil)
	m.IncrementCounter("x", nil, 1)
	m.RecordHistogram("x", nil, 1)
	m.SetGauge("x", nil, 1)

	_, span := Tracer().Start(context.Background(), SpanRun)
	span.End()
}
