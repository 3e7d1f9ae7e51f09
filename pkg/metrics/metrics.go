// Package metrics wraps github.com/prometheus/client_golang so call sites
// register named counters/gauges/histograms once and get back typed handles,
// without reaching for the raw client library's verbose constructors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets are the default histogram buckets (in seconds).
var DefaultBuckets = prometheus.DefBuckets

// Registry owns a prometheus.Registerer and the metrics registered to it.
type Registry struct {
	reg *prometheus.Registry
}

// New creates a Registry with its own prometheus.Registry, so repeated test
// runs don't collide on the global default registerer.
func New() *Registry {
	return &Registry{reg: prometheus.NewRegistry()}
}

// Counter registers (or looks up) a monotonic counter, optionally
// partitioned by label names.
func (r *Registry) Counter(name, help string, labelNames ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labelNames)
	if err := r.reg.Register(c); err != nil {
		if existing, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return existing.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return c
}

// Gauge registers (or looks up) a gauge, optionally partitioned by label names.
func (r *Registry) Gauge(name, help string, labelNames ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labelNames)
	if err := r.reg.Register(g); err != nil {
		if existing, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return existing.ExistingCollector.(*prometheus.GaugeVec)
		}
	}
	return g
}

// Histogram registers (or looks up) a histogram, optionally partitioned by
// label names. A nil buckets slice uses DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labelNames)
	if err := r.reg.Register(h); err != nil {
		if existing, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return existing.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	return h
}

// ObserveSince is a convenience for recording the duration since t against a
// histogram observer, in seconds.
func ObserveSince(h prometheus.Observer, t time.Time) {
	h.Observe(time.Since(t).Seconds())
}

// Handler returns the HTTP handler serving this registry's /metrics output.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
