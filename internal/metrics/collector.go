// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the relay. It outputs text/plain in Prometheus exposition
// format without requiring the heavy prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates the relay's counters and gauges.
type MetricsCollector struct {
	counters  sync.Map // name -> *Counter
	gauges    sync.Map // name -> *Gauge
	startTime time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

// Set sets the gauge value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Counter returns (creating if needed) the named counter.
func (c *MetricsCollector) Counter(name, help string) *Counter {
	if v, ok := c.counters.Load(name); ok {
		return v.(*Counter)
	}
	counter := &Counter{name: name, help: help}
	actual, _ := c.counters.LoadOrStore(name, counter)
	return actual.(*Counter)
}

// Gauge returns (creating if needed) the named gauge.
func (c *MetricsCollector) Gauge(name, help string) *Gauge {
	if v, ok := c.gauges.Load(name); ok {
		return v.(*Gauge)
	}
	gauge := &Gauge{name: name, help: help}
	actual, _ := c.gauges.LoadOrStore(name, gauge)
	return actual.(*Gauge)
}

// Export renders all metrics in Prometheus exposition format.
func (c *MetricsCollector) Export() string {
	var b strings.Builder

	var counters []*Counter
	c.counters.Range(func(_, v any) bool {
		counters = append(counters, v.(*Counter))
		return true
	})
	sort.Slice(counters, func(i, j int) bool { return counters[i].name < counters[j].name })
	for _, counter := range counters {
		fmt.Fprintf(&b, "# HELP %s %s\n", counter.name, counter.help)
		fmt.Fprintf(&b, "# TYPE %s counter\n", counter.name)
		fmt.Fprintf(&b, "%s %d\n", counter.name, counter.Value())
	}

	var gauges []*Gauge
	c.gauges.Range(func(_, v any) bool {
		gauges = append(gauges, v.(*Gauge))
		return true
	})
	sort.Slice(gauges, func(i, j int) bool { return gauges[i].name < gauges[j].name })
	for _, gauge := range gauges {
		fmt.Fprintf(&b, "# HELP %s %s\n", gauge.name, gauge.help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", gauge.name)
		fmt.Fprintf(&b, "%s %d\n", gauge.name, gauge.Value())
	}

	fmt.Fprintf(&b, "# HELP relay_uptime_seconds Time since the relay started\n")
	fmt.Fprintf(&b, "# TYPE relay_uptime_seconds gauge\n")
	fmt.Fprintf(&b, "relay_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	return b.String()
}

// Handler serves the exposition endpoint.
func (c *MetricsCollector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, c.Export())
	})
}
