// Package metrics is a small registry of counters, gauges and histograms
// rendered in the Prometheus text exposition format. A run is a batch job
// with no listener to scrape, so the registry is exported as a
// node_exporter textfile when the run ends.
package metrics

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/WessleyAI/reddit-monitor/pkg/fileutil"
)

type kind string

const (
	counterKind   kind = "counter"
	gaugeKind     kind = "gauge"
	histogramKind kind = "histogram"
)

// stageBuckets fit run stages, which take from milliseconds (dedup) to
// minutes (a throttled search over many queries).
var stageBuckets = []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// Counter only goes up.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Inc()        { c.n.Add(1) }
func (c *Counter) Add(n int64) { c.n.Add(n) }

// Gauge holds the last value set.
type Gauge struct{ n atomic.Int64 }

func (g *Gauge) Set(n int64) { g.n.Store(n) }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64 // cumulative: counts[i] is observations <= bounds[i]
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b))}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.bounds {
		if v <= b {
			h.counts[i]++
		}
	}
}

// family is every series sharing one metric name.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]any // keyed by label set, "" when unlabelled
}

// Registry holds metric families in registration order.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []*family
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// Counter returns the counter for name, which may carry labels built with
// WithLabels. The same name always returns the same counter.
func (r *Registry) Counter(name, help string) *Counter {
	return r.series(name, help, counterKind, func() any { return new(Counter) }).(*Counter)
}

// Gauge returns the gauge for name.
func (r *Registry) Gauge(name, help string) *Gauge {
	return r.series(name, help, gaugeKind, func() any { return new(Gauge) }).(*Gauge)
}

// Histogram returns the histogram for name. Nil bounds use stage-duration
// buckets in seconds. Bounds only apply when the series is first created.
func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	if bounds == nil {
		bounds = stageBuckets
	}
	return r.series(name, help, histogramKind, func() any { return newHistogram(bounds) }).(*Histogram)
}

// series panics when name is reused with another kind; that is a bug in the
// caller, not a runtime condition.
func (r *Registry) series(name, help string, k kind, create func() any) any {
	base, labels := splitName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[base]
	if !ok {
		f = &family{name: base, help: help, kind: k, series: make(map[string]any)}
		r.families[base] = f
		r.order = append(r.order, f)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s is a %s, not a %s", base, f.kind, k))
	}
	m, ok := f.series[labels]
	if !ok {
		m = create()
		f.series[labels] = m
	}
	return m
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// WithLabels appends label pairs to name:
// WithLabels("runs_total", "state", "done") is `runs_total{state="done"}`.
// An odd number of kvs leaves name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		pairs = append(pairs, kvs[i]+`="`+labelEscaper.Replace(kvs[i+1])+`"`)
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func splitName(name string) (base, labels string) {
	base, rest, ok := strings.Cut(name, "{")
	if !ok {
		return name, ""
	}
	return base, strings.TrimSuffix(rest, "}")
}

// braced renders a label set, adding extra (e.g. le="1") after labels.
func braced(labels, extra string) string {
	switch {
	case labels == "" && extra == "":
		return ""
	case labels == "":
		return "{" + extra + "}"
	case extra == "":
		return "{" + labels + "}"
	}
	return "{" + labels + "," + extra + "}"
}

func (r *Registry) render() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b bytes.Buffer
	for _, f := range r.order {
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", f.name, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", f.name, f.kind)
		for _, labels := range slices.Sorted(maps.Keys(f.series)) {
			switch m := f.series[labels].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", f.name, braced(labels, ""), m.n.Load())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %d\n", f.name, braced(labels, ""), m.n.Load())
			case *Histogram:
				m.render(&b, f.name, labels)
			}
		}
	}
	return b.Bytes()
}

func (h *Histogram) render(b *bytes.Buffer, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, bound := range h.bounds {
		le := `le="` + strconv.FormatFloat(bound, 'g', -1, 64) + `"`
		fmt.Fprintf(b, "%s_bucket%s %d\n", name, braced(labels, le), h.counts[i])
	}
	fmt.Fprintf(b, "%s_bucket%s %d\n", name, braced(labels, `le="+Inf"`), h.count)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, braced(labels, ""), h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, braced(labels, ""), h.count)
}

// WriteTextfile replaces path with the current registry contents, for
// node_exporter's textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	if err := fileutil.WriteAtomic(path, r.render()); err != nil {
		return fmt.Errorf("metrics textfile: %w", err)
	}
	return nil
}
