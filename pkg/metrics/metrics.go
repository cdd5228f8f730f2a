// Metrics collection for gcode-import
//
// Counters, gauges and histograms keyed by label sets, rendered in the
// Prometheus text exposition format. Series are written in sorted label
// order so the output is stable.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Labels represents metric labels as key-value pairs
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key returns a canonical identity for the label set.
func (l Labels) Key() string {
	var sb strings.Builder
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String returns the labels in exposition format, e.g. {a="1",b="2"}.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=\"%s\"", k, labelEscaper.Replace(l[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func (l Labels) clone() Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	return out
}

// with returns a copy of l with one extra label.
func (l Labels) with(key, value string) Labels {
	out := l.clone()
	out[key] = value
	return out
}

// Metric is implemented by every metric type.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	WriteTo(w io.Writer) (int64, error)
}

// series holds one value per label set.
type series[V any] struct {
	mu     sync.Mutex
	labels map[string]Labels
	values map[string]*V
}

// get returns the value for labels, creating it with init when missing.
// The caller must hold s.mu.
func (s *series[V]) get(labels Labels, init func() *V) *V {
	key := labels.Key()
	if v, ok := s.values[key]; ok {
		return v
	}
	if s.values == nil {
		s.values = make(map[string]*V)
		s.labels = make(map[string]Labels)
	}
	v := init()
	s.values[key] = v
	s.labels[key] = labels.clone()
	return v
}

// each visits the series in key order. The caller must hold s.mu.
func (s *series[V]) each(fn func(Labels, *V)) {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(s.labels[k], s.values[k])
	}
}

func newFloat() *float64 { return new(float64) }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeHeader(sb *strings.Builder, m Metric) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", m.Name(), m.Help(), m.Name(), m.Type())
}

func flush(w io.Writer, sb *strings.Builder) (int64, error) {
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Counter is a monotonically increasing value.
type Counter struct {
	name, help string
	s          series[float64]
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return TypeCounter }

func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add increases the counter. Negative deltas are ignored.
func (c *Counter) Add(labels Labels, delta float64) {
	if delta < 0 {
		return
	}
	c.s.mu.Lock()
	*c.s.get(labels, newFloat) += delta
	c.s.mu.Unlock()
}

// Get returns the value for labels, or 0 if never set.
func (c *Counter) Get(labels Labels) float64 {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if v, ok := c.s.values[labels.Key()]; ok {
		return *v
	}
	return 0
}

func (c *Counter) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	writeHeader(&sb, c)
	c.s.mu.Lock()
	c.s.each(func(l Labels, v *float64) {
		fmt.Fprintf(&sb, "%s%s %s\n", c.name, l, formatFloat(*v))
	})
	c.s.mu.Unlock()
	return flush(w, &sb)
}

// Gauge is a value that can go up and down.
type Gauge struct {
	name, help string
	s          series[float64]
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Help() string     { return g.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

func (g *Gauge) Set(labels Labels, value float64) {
	g.s.mu.Lock()
	*g.s.get(labels, newFloat) = value
	g.s.mu.Unlock()
}

func (g *Gauge) Add(labels Labels, delta float64) {
	g.s.mu.Lock()
	*g.s.get(labels, newFloat) += delta
	g.s.mu.Unlock()
}

func (g *Gauge) Inc(labels Labels) { g.Add(labels, 1) }
func (g *Gauge) Dec(labels Labels) { g.Add(labels, -1) }

func (g *Gauge) Get(labels Labels) float64 {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if v, ok := g.s.values[labels.Key()]; ok {
		return *v
	}
	return 0
}

func (g *Gauge) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	writeHeader(&sb, g)
	g.s.mu.Lock()
	g.s.each(func(l Labels, v *float64) {
		fmt.Fprintf(&sb, "%s%s %s\n", g.name, l, formatFloat(*v))
	})
	g.s.mu.Unlock()
	return flush(w, &sb)
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	name, help string
	bounds     []float64
	s          series[histogramValue]
}

type histogramValue struct {
	counts []uint64 // per bucket, not cumulative
	count  uint64
	sum    float64
}

// HistogramSnapshot is a point-in-time copy of one histogram series.
// Buckets are cumulative and keyed by upper bound.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// NewHistogram creates a histogram. Bucket bounds are sorted; +Inf is
// implicit.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	return &Histogram{name: name, help: help, bounds: bounds}
}

// DefaultBuckets suits latencies in seconds.
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

// ExponentialBuckets returns count bounds starting at start, each factor
// times the previous.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = start
		start *= factor
	}
	return out
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

func (h *Histogram) newValue() *histogramValue {
	return &histogramValue{counts: make([]uint64, len(h.bounds))}
}

// Observe records one value.
func (h *Histogram) Observe(labels Labels, value float64) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	v := h.s.get(labels, h.newValue)
	v.count++
	v.sum += value
	if i := sort.SearchFloat64s(h.bounds, value); i < len(h.bounds) {
		v.counts[i]++
	}
}

// Since observes the seconds elapsed since start.
func (h *Histogram) Since(labels Labels, start time.Time) {
	h.Observe(labels, time.Since(start).Seconds())
}

// Snapshot returns the series for labels.
func (h *Histogram) Snapshot(labels Labels) HistogramSnapshot {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.bounds))}
	v, ok := h.s.values[labels.Key()]
	if !ok {
		return snap
	}
	snap.Count, snap.Sum = v.count, v.sum
	var cum uint64
	for i, b := range h.bounds {
		cum += v.counts[i]
		snap.Buckets[b] = cum
	}
	return snap
}

func (h *Histogram) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	writeHeader(&sb, h)
	h.s.mu.Lock()
	h.s.each(func(l Labels, v *histogramValue) {
		var cum uint64
		for i, b := range h.bounds {
			cum += v.counts[i]
			fmt.Fprintf(&sb, "%s_bucket%s %d\n", h.name, l.with("le", formatFloat(b)), cum)
		}
		fmt.Fprintf(&sb, "%s_bucket%s %d\n", h.name, l.with("le", "+Inf"), v.count)
		fmt.Fprintf(&sb, "%s_sum%s %s\n", h.name, l, formatFloat(v.sum))
		fmt.Fprintf(&sb, "%s_count%s %d\n", h.name, l, v.count)
	})
	h.s.mu.Unlock()
	return flush(w, &sb)
}

// Registry holds metrics in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	names   map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds a metric. Names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[m.Name()] {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.names[m.Name()] = true
	r.metrics = append(r.metrics, m)
	return nil
}

// MustRegister adds metrics and panics on a duplicate name.
func (r *Registry) MustRegister(ms ...Metric) {
	for _, m := range ms {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// WriteTo writes every metric in exposition format.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, m := range r.metrics {
		n, err := m.WriteTo(w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Gather returns every metric in exposition format.
func (r *Registry) Gather() string {
	var sb strings.Builder
	r.WriteTo(&sb)
	return sb.String()
}
