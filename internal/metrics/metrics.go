// Package metrics exposes Prometheus collectors for requisition workflow activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry prometheus.Gatherer

	transitions     *prometheus.CounterVec
	stepActions     *prometheus.CounterVec
	skippedSteps    *prometheus.CounterVec
	rejectedActions *prometheus.CounterVec
	staleCommits    prometheus.Counter
	quotations      *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
}

// NewCollector registers the collectors on registry. A nil registry uses a
// fresh one so tests never collide on the default registerer.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	f := promauto.With(registry)

	return &Collector{
		registry: registry,
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requisition_status_transitions_total",
				Help: "Total number of requisition status transitions",
			},
			[]string{"category", "from", "to"},
		),
		stepActions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requisition_step_actions_total",
				Help: "Total number of recorded step actions",
			},
			[]string{"category", "role", "action"},
		),
		skippedSteps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requisition_conditional_steps_skipped_total",
				Help: "Total number of conditional steps skipped by amount",
			},
			[]string{"category"},
		),
		rejectedActions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requisition_actions_refused_total",
				Help: "Total number of actions refused by the workflow engine",
			},
			[]string{"operation", "code"},
		),
		staleCommits: f.NewCounter(
			prometheus.CounterOpts{
				Name: "requisition_stale_commits_total",
				Help: "Total number of commits lost to a concurrent update",
			},
		),
		quotations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requisition_quotations_total",
				Help: "Total number of quotation operations",
			},
			[]string{"category", "operation"},
		),
		opDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "requisition_operation_duration_seconds",
				Help:    "Duration of requisition service operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requisition_http_requests_total",
				Help: "Total number of HTTP requests by route and status class",
			},
			[]string{"method", "route", "status"},
		),
	}
}

func (c *Collector) RecordTransition(category, from, to string) {
	c.transitions.WithLabelValues(category, from, to).Inc()
}

func (c *Collector) RecordStepAction(category, role, action string) {
	c.stepActions.WithLabelValues(category, role, action).Inc()
}

func (c *Collector) RecordSkipped(category string, n int) {
	if n > 0 {
		c.skippedSteps.WithLabelValues(category).Add(float64(n))
	}
}

func (c *Collector) RecordRefused(operation, code string) {
	c.rejectedActions.WithLabelValues(operation, code).Inc()
}

func (c *Collector) RecordStaleCommit() {
	c.staleCommits.Inc()
}

func (c *Collector) RecordQuotation(category, operation string) {
	c.quotations.WithLabelValues(category, operation).Inc()
}

func (c *Collector) ObserveOperation(operation string, d time.Duration) {
	c.opDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (c *Collector) RecordHTTPRequest(method, route, status string) {
	c.httpRequests.WithLabelValues(method, route, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
