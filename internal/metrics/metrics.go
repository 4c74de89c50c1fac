// Package metrics exposes a prometheus registry fed through a
// hashicorp/go-metrics sink, grounded on the teacher's own
// pkg/metrics/metrics.go PrometheusSink — lazily registering a
// counter/gauge/histogram per distinct metric name the agent emits
// (ring drops, rule fires, fan-out lossy subscribers, and so on)
// rather than pre-declaring every metric up front.
package metrics

import (
	"fmt"
	"sync"

	gometrics "github.com/hashicorp/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry bundles a prometheus registry with a go-metrics sink that
// feeds it, so callers anywhere in the agent can go-metrics style
// (metrics.IncrCounter, etc.) and still end up Prometheus-scrapeable.
type Registry struct {
	prom *prometheus.Registry
	sink *PrometheusSink
	inst *gometrics.Metrics
}

// NewRegistry builds an empty registry with the standard Go/process
// collectors attached.
func NewRegistry() *Registry {
	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector())
	prom.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sink := newPrometheusSink(prom)

	cfg := gometrics.DefaultConfig("")
	cfg.EnableRuntimeMetrics = true
	cfg.EnableHostname = false

	inst, _ := gometrics.New(cfg, sink)
	return &Registry{prom: prom, sink: sink, inst: inst}
}

// Prometheus returns the underlying registry, for a scrape handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// IncrCounter increments the named counter by val, creating it (with
// no labels) on first use.
func (r *Registry) IncrCounter(key string, val float32) {
	if r.inst != nil {
		r.inst.IncrCounter([]string{key}, val)
	}
}

// SetGauge sets the named gauge to val, creating it on first use.
func (r *Registry) SetGauge(key string, val float32) {
	if r.inst != nil {
		r.inst.SetGauge([]string{key}, val)
	}
}

// AddSample records val into the named histogram, creating it on
// first use.
func (r *Registry) AddSample(key string, val float32) {
	if r.inst != nil {
		r.inst.AddSample([]string{key}, val)
	}
}

// PrometheusSink implements gometrics.MetricSink by lazily registering
// one Prometheus collector per distinct metric name.
type PrometheusSink struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

func newPrometheusSink(registry *prometheus.Registry) *PrometheusSink {
	return &PrometheusSink{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (s *PrometheusSink) SetGauge(key []string, val float32) { s.SetGaugeWithLabels(key, val, nil) }

func (s *PrometheusSink) SetGaugeWithLabels(key []string, val float32, labels []gometrics.Label) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := sanitize(key)
	g, ok := s.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: "sentryd gauge " + name}, labelNames(labels))
		s.registry.MustRegister(g)
		s.gauges[name] = g
	}
	g.With(toLabels(labels)).Set(float64(val))
}

func (s *PrometheusSink) EmitKey(key []string, val float32) { s.SetGauge(key, val) }

func (s *PrometheusSink) IncrCounter(key []string, val float32) {
	s.IncrCounterWithLabels(key, val, nil)
}

func (s *PrometheusSink) IncrCounterWithLabels(key []string, val float32, labels []gometrics.Label) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := sanitize(key)
	c, ok := s.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: "sentryd counter " + name}, labelNames(labels))
		s.registry.MustRegister(c)
		s.counters[name] = c
	}
	c.With(toLabels(labels)).Add(float64(val))
}

func (s *PrometheusSink) AddSample(key []string, val float32) { s.AddSampleWithLabels(key, val, nil) }

func (s *PrometheusSink) AddSampleWithLabels(key []string, val float32, labels []gometrics.Label) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := sanitize(key)
	h, ok := s.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    "sentryd histogram " + name,
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, labelNames(labels))
		s.registry.MustRegister(h)
		s.histograms[name] = h
	}
	h.With(toLabels(labels)).Observe(float64(val))
}

func sanitize(key []string) string {
	if len(key) == 0 {
		return "unknown"
	}
	name := key[0]
	for _, k := range key[1:] {
		name = fmt.Sprintf("%s_%s", name, k)
	}
	return prometheus.BuildFQName("sentryd", "", name)
}

func labelNames(labels []gometrics.Label) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names
}

func toLabels(labels []gometrics.Label) prometheus.Labels {
	if len(labels) == 0 {
		return nil
	}
	out := make(prometheus.Labels, len(labels))
	for _, l := range labels {
		out[l.Name] = l.Value
	}
	return out
}
