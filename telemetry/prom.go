package telemetry

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics is a Metrics backend that registers counters, histograms and
// gauges with a prometheus.Registerer on first use, for services that want
// to serve /metrics directly rather than export via OTEL.
type PromMetrics struct {
	reg      prometheus.Registerer
	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	timers   map[string]*prometheus.HistogramVec
	gauges   map[string]*prometheus.GaugeVec
}

// NewPromMetrics builds a Metrics backend registered against reg. Pass
// prometheus.DefaultRegisterer to expose it via promhttp.Handler().
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	return &PromMetrics{
		reg:      reg,
		counters: make(map[string]*prometheus.CounterVec),
		timers:   make(map[string]*prometheus.HistogramVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

func sanitize(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", ":", "_").Replace(name)
}

func tagKeys(tags []string) []string {
	keys := make([]string, 0, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		keys = append(keys, tags[i])
	}
	return keys
}

func tagLabels(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		labels[tags[i]] = v
	}
	return labels
}

func (m *PromMetrics) IncCounter(name string, value float64, tags ...string) {
	name = sanitize(name)
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, tagKeys(tags))
		m.reg.MustRegister(c)
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.With(tagLabels(tags)).Add(value)
}

func (m *PromMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	name = sanitize(name)
	m.mu.Lock()
	h, ok := m.timers[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Buckets: prometheus.DefBuckets}, tagKeys(tags))
		m.reg.MustRegister(h)
		m.timers[name] = h
	}
	m.mu.Unlock()
	h.With(tagLabels(tags)).Observe(duration.Seconds())
}

func (m *PromMetrics) RecordGauge(name string, value float64, tags ...string) {
	name = sanitize(name)
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, tagKeys(tags))
		m.reg.MustRegister(g)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.With(tagLabels(tags)).Set(value)
}
