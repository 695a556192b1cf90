package telemetry

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every Prometheus metric.
const Namespace = "scoreeval"

// PrometheusMetrics implements Metrics on client_golang. Collectors are
// created on first use; the label set of a metric is fixed by the tags of
// its first observation, and later observations fill missing labels with ""
// and drop unknown ones.
type PrometheusMetrics struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	labels     map[string][]string
}

// NewPrometheusMetrics registers collectors on reg, or on the default
// registerer when reg is nil.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		labels:     make(map[string][]string),
	}
}

// IncrementCounter implements Metrics.
func (p *PrometheusMetrics) IncrementCounter(name string, tags map[string]string, value float64) {
	if value < 0 {
		return
	}
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      MetricName(name),
			Help:      "Counter " + name,
		}, p.labelNames(name, tags))
		vec = register(p.reg, vec)
		p.counters[name] = vec
	}
	values := p.labelValues(name, tags)
	p.mu.Unlock()
	vec.WithLabelValues(values...).Add(value)
}

// RecordHistogram implements Metrics.
func (p *PrometheusMetrics) RecordHistogram(name string, tags map[string]string, value float64) {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      MetricName(name),
			Help:      "Histogram " + name,
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, p.labelNames(name, tags))
		vec = register(p.reg, vec)
		p.histograms[name] = vec
	}
	values := p.labelValues(name, tags)
	p.mu.Unlock()
	vec.WithLabelValues(values...).Observe(value)
}

// SetGauge implements Metrics.
func (p *PrometheusMetrics) SetGauge(name string, tags map[string]string, value float64) {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      MetricName(name),
			Help:      "Gauge " + name,
		}, p.labelNames(name, tags))
		vec = register(p.reg, vec)
		p.gauges[name] = vec
	}
	values := p.labelValues(name, tags)
	p.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

// labelNames fixes the label set of a metric. Callers hold p.mu.
func (p *PrometheusMetrics) labelNames(name string, tags map[string]string) []string {
	if names, ok := p.labels[name]; ok {
		return names
	}
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, MetricName(k))
	}
	sort.Strings(names)
	p.labels[name] = names
	return names
}

// labelValues orders tag values by the metric's label set. Callers hold p.mu.
func (p *PrometheusMetrics) labelValues(name string, tags map[string]string) []string {
	names := p.labels[name]
	normalized := make(map[string]string, len(tags))
	for k, v := range tags {
		normalized[MetricName(k)] = v
	}
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = normalized[n]
	}
	return values
}

// register adds c to reg, reusing an identical collector already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		// Conflicting descriptor; keep the collector unregistered so
		// observations still succeed.
	}
	return c
}

// MetricName converts a dotted metric or tag name into a Prometheus name.
func MetricName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
