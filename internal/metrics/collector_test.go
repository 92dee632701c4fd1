package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CounterIsShared(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("x_total", "x", "")
	b := r.Counter("x_total", "x", "")
	a.Inc()
	b.Add(2)
	assert.Same(t, a, b)
	assert.EqualValues(t, 3, a.Value())

	labelled := r.Counter("x_total", "x", `tool="a"`)
	assert.NotSame(t, a, labelled)
}

func TestGauge(t *testing.T) {
	g := NewRegistry().Gauge("g", "g", "")
	g.Inc()
	g.Inc()
	g.Dec()
	assert.EqualValues(t, 1, g.Value())
	g.Set(7)
	assert.EqualValues(t, 7, g.Value())
}

func TestHistogram_Buckets(t *testing.T) {
	h := NewRegistry().Histogram("h_seconds", "h", "", []float64{5, 1})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(10)

	assert.EqualValues(t, 3, h.Count())
	assert.Equal(t, 1.0, h.buckets[0].le)
	assert.EqualValues(t, 1, h.buckets[0].count)
	assert.EqualValues(t, 2, h.buckets[1].count)
}

func TestHandler_Exposition(t *testing.T) {
	r := NewRegistry()
	r.Counter("req_total", "requests", "").Add(4)
	r.Counter("tool_total", "tools", `tool="b"`).Inc()
	r.Counter("tool_total", "tools", `tool="a"`).Inc()
	r.Gauge("in_flight", "in flight", "").Set(2)
	r.Histogram("lat_seconds", "latency", "", []float64{1}).Observe(0.5)

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, out, "officeagent_uptime_seconds")
	assert.Contains(t, out, "# TYPE req_total counter\nreq_total 4\n")
	assert.Contains(t, out, "in_flight 2\n")
	assert.Contains(t, out, `lat_seconds_bucket{le="1"} 1`)
	assert.Contains(t, out, `lat_seconds_bucket{le="+Inf"} 1`)
	assert.Contains(t, out, "lat_seconds_count 1\n")
	assert.Equal(t, 1, strings.Count(out, "# HELP tool_total"))
	assert.Less(t, strings.Index(out, `tool_total{tool="a"}`), strings.Index(out, `tool_total{tool="b"}`))
}
