// Package metrics is a small dependency-free metrics registry that exposes
// counters, gauges, and histograms in Prometheus text format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// MetricType identifies the Prometheus metric family type.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric is implemented by every metric family in a registry.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Collect() []Sample
}

// Sample is one exported time series value.
type Sample struct {
	Suffix string
	Labels map[string]string
	Value  float64
}

// DefaultBuckets are latency buckets in seconds.
var DefaultBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

type atomicFloat64 struct {
	bits atomic.Uint64
}

func (a *atomicFloat64) Load() float64 { return math.Float64frombits(a.bits.Load()) }

func (a *atomicFloat64) Add(delta float64) {
	for {
		old := a.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if a.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (a *atomicFloat64) Store(v float64) { a.bits.Store(math.Float64bits(v)) }

// Counter is a monotonically increasing metric family with optional labels.
type Counter struct {
	name       string
	help       string
	labelNames []string

	mu     sync.Mutex
	series map[string]*counterSeries
}

type counterSeries struct {
	labels map[string]string
	value  atomicFloat64
}

// Inc increments the unlabeled series.
func (c *Counter) Inc() { c.With().Add(1) }

// With returns the series for the given label values, creating it on first
// use. The value count must match the family's label names.
func (c *Counter) With(values ...string) *CounterSeries {
	return &CounterSeries{s: c.lookup(values)}
}

func (c *Counter) lookup(values []string) *counterSeries {
	key := strings.Join(values, "\x00")
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[key]; ok {
		return s
	}
	s := &counterSeries{labels: labelMap(c.labelNames, values)}
	c.series[key] = s
	return s
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return MetricTypeCounter }

func (c *Counter) Collect() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, 0, len(c.series))
	for _, s := range c.series {
		out = append(out, Sample{Labels: s.labels, Value: s.value.Load()})
	}
	sort.Slice(out, func(i, j int) bool { return labelKey(out[i].Labels) < labelKey(out[j].Labels) })
	return out
}

// CounterSeries is one labeled series of a counter family.
type CounterSeries struct {
	s *counterSeries
}

func (c *CounterSeries) Inc()              { c.s.value.Add(1) }
func (c *CounterSeries) Add(delta float64) { c.s.value.Add(delta) }

// Gauge is a metric that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomicFloat64
}

func (g *Gauge) Set(v float64)     { g.value.Store(v) }
func (g *Gauge) Inc()              { g.value.Add(1) }
func (g *Gauge) Dec()              { g.value.Add(-1) }
func (g *Gauge) Name() string      { return g.name }
func (g *Gauge) Help() string      { return g.help }
func (g *Gauge) Type() MetricType  { return MetricTypeGauge }
func (g *Gauge) Collect() []Sample { return []Sample{{Value: g.value.Load()}} }

// Histogram accumulates observations into cumulative buckets.
type Histogram struct {
	name    string
	help    string
	buckets []float64

	mu     sync.Mutex
	counts []uint64
	sum    float64
	total  uint64
}

// Observe records one observation.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
	h.sum += v
	h.total++
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return MetricTypeHistogram }

func (h *Histogram) Collect() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Sample, 0, len(h.buckets)+3)
	for i, bound := range h.buckets {
		out = append(out, Sample{
			Suffix: "_bucket",
			Labels: map[string]string{"le": formatFloat(bound)},
			Value:  float64(h.counts[i]),
		})
	}
	out = append(out,
		Sample{Suffix: "_bucket", Labels: map[string]string{"le": "+Inf"}, Value: float64(h.total)},
		Sample{Suffix: "_sum", Value: h.sum},
		Sample{Suffix: "_count", Value: float64(h.total)},
	)
	return out
}

// Registry holds metric families and serves them in Prometheus text format.
type Registry struct {
	mu      sync.Mutex
	metrics []Metric
	byName  map[string]Metric
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Metric)}
}

// NewCounter registers a counter family. Registering the same name again
// returns the existing family.
func (r *Registry) NewCounter(name, help string, labels ...string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byName[name].(*Counter); ok {
		return c
	}
	c := &Counter{name: name, help: help, labelNames: labels, series: make(map[string]*counterSeries)}
	r.metrics = append(r.metrics, c)
	r.byName[name] = c
	return c
}

// NewGauge registers a gauge.
func (r *Registry) NewGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.byName[name].(*Gauge); ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	r.metrics = append(r.metrics, g)
	r.byName[name] = g
	return g
}

// NewHistogram registers a histogram. Nil buckets use DefaultBuckets.
func (r *Registry) NewHistogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.byName[name].(*Histogram); ok {
		return h
	}
	if buckets == nil {
		buckets = DefaultBuckets
	}
	h := &Histogram{name: name, help: help, buckets: buckets, counts: make([]uint64, len(buckets))}
	r.metrics = append(r.metrics, h)
	r.byName[name] = h
	return h
}

// Handler serves the registry in Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.mu.Lock()
		metrics := make([]Metric, len(r.metrics))
		copy(metrics, r.metrics)
		r.mu.Unlock()

		var b strings.Builder
		for _, m := range metrics {
			writeMetric(&b, m)
		}
		_, _ = w.Write([]byte(b.String()))
	})
}

func writeMetric(b *strings.Builder, m Metric) {
	fmt.Fprintf(b, "# HELP %s %s\n", m.Name(), m.Help())
	fmt.Fprintf(b, "# TYPE %s %s\n", m.Name(), m.Type())
	for _, s := range m.Collect() {
		b.WriteString(m.Name())
		b.WriteString(s.Suffix)
		writeLabels(b, s.Labels)
		b.WriteByte(' ')
		b.WriteString(formatFloat(s.Value))
		b.WriteByte('\n')
	}
}

func writeLabels(b *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
}

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(';')
	}
	return b.String()
}

func labelMap(names, values []string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]string, len(names))
	for i, name := range names {
		if i < len(values) {
			out[name] = values[i]
		}
	}
	return out
}

func formatFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
