// Package metrics exposes the Prometheus collectors for rule loading,
// suggestion selection and dispatch. A nil *Metrics is valid and records
// nothing, so components can run without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip reasons reported by the selector.
const (
	SkipNotApplicable = "not_applicable"
	SkipEvalError     = "eval_error"
	SkipRenderError   = "render_error"
	SkipDuplicate     = "duplicate"
	SkipCapped        = "capped"
)

type Metrics struct {
	registry         *prometheus.Registry
	offered          *prometheus.CounterVec
	skipped          *prometheus.CounterVec
	dispatched       *prometheus.CounterVec
	reloads          *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
}

// New registers the plotline collectors on a fresh registry along with the
// Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		offered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plotline_suggestions_offered_total",
			Help: "Suggestion instances offered, by topic.",
		}, []string{"topic"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plotline_rules_skipped_total",
			Help: "Rules skipped during selection, by reason.",
		}, []string{"reason"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plotline_dispatch_total",
			Help: "Confirmed suggestions by final outcome.",
		}, []string{"outcome"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plotline_rule_reloads_total",
			Help: "Rule set loads by result.",
		}, []string{"result"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plotline_dispatch_duration_seconds",
			Help:    "Time spent executing confirmed operations.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
	reg.MustRegister(
		m.offered, m.skipped, m.dispatched, m.reloads, m.dispatchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Offered(topic string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.offered.WithLabelValues(topic).Add(float64(n))
}

func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Dispatched(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(outcome).Inc()
	m.dispatchDuration.Observe(took.Seconds())
}

func (m *Metrics) Reloaded(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
}

// Registry returns the underlying registry, or nil for a nil *Metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
