// Package metrics is a small Prometheus-compatible collector. It renders the
// text exposition format directly, so the bot server can expose /metrics
// without pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry used by the predefined metrics below.
var Collector = NewRegistry()

// Registry aggregates counters, gauges and histograms keyed by name and labels.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks a distribution with cumulative buckets.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func key(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns the counter for name and labels, creating it on first use.
// labels is the literal Prometheus label body, e.g. `tool="list_contacts"`.
func (r *Registry) Counter(name, help, labels string) *Counter {
	k := key(name, labels)
	r.mu.RLock()
	c, ok := r.counters[k]
	r.mu.RUnlock()
	if ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[k]; ok {
		return c
	}
	c = &Counter{name: name, help: help, labels: labels}
	r.counters[k] = c
	return c
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	k := key(name, labels)
	r.mu.RLock()
	g, ok := r.gauges[k]
	r.mu.RUnlock()
	if ok {
		return g
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[k]; ok {
		return g
	}
	g = &Gauge{name: name, help: help, labels: labels}
	r.gauges[k] = g
	return g
}

func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	k := key(name, labels)
	r.mu.RLock()
	h, ok := r.histograms[k]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[k]; ok {
		return h
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	h = &Histogram{name: name, help: help, labels: labels, buckets: hb}
	r.histograms[k] = h
	return h
}

// Handler renders every registered metric in Prometheus text format.
// Series are sorted so scrapes are stable.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, r.render())
	}
}

func (r *Registry) render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP officeagent_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE officeagent_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "officeagent_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	r.mu.RLock()
	defer r.mu.RUnlock()

	helpWritten := make(map[string]bool)
	for _, k := range sortedKeys(r.counters) {
		c := r.counters[k]
		writeHeader(&sb, helpWritten, c.name, c.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(c.name, c.labels), c.Value())
	}
	for _, k := range sortedKeys(r.gauges) {
		g := r.gauges[k]
		writeHeader(&sb, helpWritten, g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}
	for _, k := range sortedKeys(r.histograms) {
		h := r.histograms[k]
		writeHeader(&sb, helpWritten, h.name, h.help, "histogram")
		h.mu.Lock()
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", joinLabels(h.labels, `le="`+le+`"`)), b.count)
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", joinLabels(h.labels, `le="+Inf"`)), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		h.mu.Unlock()
	}
	return sb.String()
}

func writeHeader(sb *strings.Builder, written map[string]bool, name, help, typ string) {
	if written[name] {
		return
	}
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, typ)
	written[name] = true
}

func series(name, labels string) string {
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

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Metrics used across officeagent ---

var latencyBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	ActivitiesTotal = Collector.Counter("officeagent_activities_total",
		"Inbound Bot Framework activities accepted by the server", "")
	TenantRejections = Collector.Counter("officeagent_tenant_rejections_total",
		"Activities rejected because the tenant is not authorized", "")
	AuthFailures = Collector.Counter("officeagent_auth_failures_total",
		"Activities rejected by token validation", "")
	AttachmentsTotal = Collector.Counter("officeagent_attachments_total",
		"File attachments downloaded and stored", "")
	HandlerFailures = Collector.Counter("officeagent_handler_failures_total",
		"Activities that ended in an internal error", "")
	RunsInFlight = Collector.Gauge("officeagent_runs_in_flight",
		"Runner invocations currently executing", "")
	RunLatency = Collector.Histogram("officeagent_run_latency_seconds",
		"Runner invocation latency in seconds", "", latencyBuckets)

	LLMRequestsTotal = Collector.Counter("officeagent_llm_requests_total",
		"Requests sent to the reasoning provider", "")
	LLMErrorsTotal = Collector.Counter("officeagent_llm_errors_total",
		"Reasoning provider requests that failed", "")
	LLMLatency = Collector.Histogram("officeagent_llm_latency_seconds",
		"Reasoning provider latency in seconds", "", latencyBuckets)
)

// ToolExecutions returns the per-tool execution counter.
func ToolExecutions(tool string) *Counter {
	return Collector.Counter("officeagent_tool_executions_total",
		"Tool executions by tool name", fmt.Sprintf("tool=%q", tool))
}
