// Package metrics keeps process-local counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry is a set of labelled counters and gauges.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
}

type family struct {
	name   string
	help   string
	kind   string
	labels []string
	series map[string]*series
}

type series struct {
	values []string
	value  atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// Default is the registry the worker and server expose on /metrics.
var Default = NewRegistry()

// Counter is a monotonically increasing labelled counter.
type Counter struct {
	r *Registry
	f *family
}

// Gauge is a labelled value that can go up and down.
type Gauge struct {
	r *Registry
	f *family
}

func (r *Registry) register(name, help, kind string, labels []string) *family {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.families[name]; ok {
		return f
	}
	f := &family{name: name, help: help, kind: kind, labels: labels, series: make(map[string]*series)}
	r.families[name] = f
	return f
}

func (r *Registry) NewCounter(name, help string, labels ...string) *Counter {
	return &Counter{r: r, f: r.register(name, help, "counter", labels)}
}

func (r *Registry) NewGauge(name, help string, labels ...string) *Gauge {
	return &Gauge{r: r, f: r.register(name, help, "gauge", labels)}
}

func (r *Registry) get(f *family, values []string) *series {
	if len(values) != len(f.labels) {
		panic(fmt.Sprintf("metric %s: want %d label values, got %d", f.name, len(f.labels), len(values)))
	}
	key := strings.Join(values, "\xff")
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := f.series[key]
	if !ok {
		s = &series{values: append([]string(nil), values...)}
		f.series[key] = s
	}
	return s
}

func (c *Counter) Inc(values ...string) {
	c.r.get(c.f, values).value.Add(1)
}

// Value returns the current count, for tests.
func (c *Counter) Value(values ...string) int64 {
	return c.r.get(c.f, values).value.Load()
}

func (g *Gauge) Add(delta int64, values ...string) {
	g.r.get(g.f, values).value.Add(delta)
}

func (g *Gauge) Set(v int64, values ...string) {
	g.r.get(g.f, values).value.Store(v)
}

func (g *Gauge) Value(values ...string) int64 {
	return g.r.get(g.f, values).value.Load()
}

// Render writes every family in name order.
func (r *Registry) Render() string {
	r.mu.Lock()
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		f := r.families[name]
		fmt.Fprintf(&b, "# HELP %s %s\n", f.name, f.help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", f.name, f.kind)
		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s := f.series[k]
			fmt.Fprintf(&b, "%s%s %d\n", f.name, formatLabels(f.labels, s.values), s.value.Load())
		}
	}
	r.mu.Unlock()
	return b.String()
}

func formatLabels(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	parts := make([]string, len(names))
	for i, n := range names {
		v := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(values[i])
		parts[i] = fmt.Sprintf(`%s="%s"`, n, v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Handler serves the registry as Prometheus text.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(r.Render()))
	})
}

// Counters shared across packages.
var (
	JobsTotal = Default.NewCounter("vivacampo_jobs_total",
		"Jobs finished by the dispatcher by type and outcome.", "job_type", "outcome")
	JobsInFlight = Default.NewGauge("vivacampo_jobs_in_flight",
		"Jobs currently being handled by this process.")
	MessagesDropped = Default.NewCounter("vivacampo_messages_dropped_total",
		"Queue messages dead-lettered before reaching a handler.", "reason")
	MessagesRequeued = Default.NewCounter("vivacampo_messages_requeued_total",
		"Deliveries handed back to the queue after a job store error.")
	BreakerRejections = Default.NewCounter("vivacampo_breaker_rejections_total",
		"Calls short-circuited by an open circuit.", "provider")
	FallbackOutcomes = Default.NewCounter("vivacampo_fallback_outcomes_total",
		"Fallback chain results by data kind and outcome.", "kind", "outcome")
	TilesWarmed = Default.NewCounter("vivacampo_tiles_warmed_total",
		"Tiles requested by cache warming by result.", "result")
)
