// Package metrics keeps process-local counters, gauges and histograms for the
// ingestion and streaming paths and renders them in Prometheus text format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewRegistry()

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups every label set of one metric name.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]any // rendered labels -> *Counter | *Gauge | *Histogram
}

// Registry owns metric families. Lookups are idempotent: asking twice for the
// same name and labels returns the same series.
type Registry struct {
	mu        sync.Mutex
	families  map[string]*family
	startTime time.Time
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family), startTime: time.Now()}
}

// Uptime returns how long the registry has existed.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Label renders one label pair, escaping the value.
func Label(key, value string) string {
	return key + "=" + strconv.Quote(value)
}

type Counter struct{ value atomic.Int64 }

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

type Gauge struct{ value atomic.Int64 }

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64 // len(bounds)+1, last is +Inf
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	i := sort.SearchFloat64s(h.bounds, v)
	h.counts[i]++
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (r *Registry) series(name, help string, k kind, labels string, create func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]any)}
		r.families[name] = f
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	s, ok := f.series[labels]
	if !ok {
		s = create()
		f.series[labels] = s
	}
	return s
}

// Counter returns the counter for name and labels, creating it on first use.
func (r *Registry) Counter(name, help, labels string) *Counter {
	return r.series(name, help, kindCounter, labels, func() any { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	return r.series(name, help, kindGauge, labels, func() any { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram for name and labels. Bounds are only used
// when the series is created.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	return r.series(name, help, kindHistogram, labels, func() any {
		b := append([]float64(nil), bounds...)
		sort.Float64s(b)
		return &Histogram{bounds: b, counts: make([]int64, len(b)+1)}
	}).(*Histogram)
}

// Handler renders every family in Prometheus text format, sorted by name.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, r.render())
	}
}

func (r *Registry) render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP slackstream_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE slackstream_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "slackstream_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	r.mu.Lock()
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)
	fams := make([]*family, len(names))
	for i, name := range names {
		fams[i] = r.families[name]
	}
	r.mu.Unlock()

	for _, f := range fams {
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		r.mu.Lock()
		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		series := make([]any, len(keys))
		for i, k := range keys {
			series[i] = f.series[k]
		}
		r.mu.Unlock()

		for i, s := range series {
			writeSeries(&sb, f.name, keys[i], s)
		}
	}
	return sb.String()
}

func writeSeries(sb *strings.Builder, name, labels string, s any) {
	switch m := s.(type) {
	case *Counter:
		fmt.Fprintf(sb, "%s %d\n", withLabels(name, labels), m.Value())
	case *Gauge:
		fmt.Fprintf(sb, "%s %d\n", withLabels(name, labels), m.Value())
	case *Histogram:
		m.mu.Lock()
		defer m.mu.Unlock()
		var cum int64
		for i, le := range m.bounds {
			cum += m.counts[i]
			fmt.Fprintf(sb, "%s %d\n", withLabels(name+"_bucket", joinLabels(labels, Label("le", strconv.FormatFloat(le, 'g', -1, 64)))), cum)
		}
		fmt.Fprintf(sb, "%s %d\n", withLabels(name+"_bucket", joinLabels(labels, `le="+Inf"`)), m.count)
		fmt.Fprintf(sb, "%s %g\n", withLabels(name+"_sum", labels), m.sum)
		fmt.Fprintf(sb, "%s %d\n", withLabels(name+"_count", labels), m.count)
	}
}

func withLabels(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func joinLabels(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

// --- Metrics used across the application ---

var (
	HandshakesTotal    = Collector.Counter("slackstream_handshakes_total", "URL verification challenges answered", "")
	EnqueuedTotal      = Collector.Counter("slackstream_enqueued_total", "Envelopes handed to the durable queue", "")
	EnqueueErrors      = Collector.Counter("slackstream_enqueue_errors_total", "Failed enqueue attempts", "")
	InlineTotal        = Collector.Counter("slackstream_inline_total", "Envelopes processed synchronously without a queue", "")
	BatchRecordsTotal  = Collector.Counter("slackstream_batch_records_total", "Queued records processed", "")
	BatchFailuresTotal = Collector.Counter("slackstream_batch_failures_total", "Queued records left for redelivery", "")
	DuplicateEvents    = Collector.Counter("slackstream_duplicate_events_total", "Platform events skipped as already processed", "")
	SignatureFailures  = Collector.Counter("slackstream_signature_failures_total", "Requests rejected by signature verification", "")
	ModelStreamsTotal  = Collector.Counter("slackstream_model_streams_total", "Model streams opened", "")
	ModelStreamErrors  = Collector.Counter("slackstream_model_stream_errors_total", "Model streams aborted by an error", "")
	InputTokensTotal   = Collector.Counter("slackstream_tokens_input_total", "Input tokens reported by the model", "")
	OutputTokensTotal  = Collector.Counter("slackstream_tokens_output_total", "Output tokens reported by the model", "")
	ActiveStreams      = Collector.Gauge("slackstream_active_streams", "Live reply streams currently open", "")

	StreamLatency = Collector.Histogram("slackstream_stream_latency_seconds", "Time from stream open to close in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)

// EnvelopesByKind counts classified inbound deliveries.
func EnvelopesByKind(k string) *Counter {
	return Collector.Counter("slackstream_envelopes_total", "Inbound deliveries by transport shape", Label("kind", k))
}

// StopReasons counts model stream stop reasons.
func StopReasons(reason string) *Counter {
	if reason == "" {
		reason = "none"
	}
	return Collector.Counter("slackstream_stream_stop_total", "Model stream stop reasons", Label("reason", reason))
}

// EventsByType counts dispatched platform events.
func EventsByType(eventType string) *Counter {
	return Collector.Counter("slackstream_events_total", "Platform events dispatched by type", Label("type", eventType))
}
