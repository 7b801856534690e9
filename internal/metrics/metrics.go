// Package metrics exposes the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	ReportTransitionsTotal *prometheus.CounterVec
	RefreshRotationsTotal  *prometheus.CounterVec
	EventPublishFailures   prometheus.Counter
	ExpiredTokensSwept     prometheus.Counter
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedesk_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "servicedesk_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ReportTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedesk_report_transitions_total",
				Help: "Report lifecycle operations applied, by action",
			},
			[]string{"action"},
		),
		RefreshRotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedesk_refresh_rotations_total",
				Help: "Refresh token rotations, by result",
			},
			[]string{"result"},
		),
		EventPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicedesk_event_publish_failures_total",
			Help: "Report events that could not be published",
		}),
		ExpiredTokensSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicedesk_expired_refresh_tokens_swept_total",
			Help: "Expired refresh tokens removed by the sweep job",
		}),
	}
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ReportTransitionsTotal,
		m.RefreshRotationsTotal,
		m.EventPublishFailures,
		m.ExpiredTokensSwept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Transition counts one applied lifecycle action.  Safe on a nil receiver.
func (m *Metrics) Transition(action string) {
	if m == nil {
		return
	}
	m.ReportTransitionsTotal.WithLabelValues(action).Inc()
}

// Rotation counts a refresh attempt with result "ok" or "rejected".
func (m *Metrics) Rotation(result string) {
	if m == nil {
		return
	}
	m.RefreshRotationsTotal.WithLabelValues(result).Inc()
}

// PublishFailed counts an event that was dropped.
func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.EventPublishFailures.Inc()
}

// Swept adds n removed refresh tokens.
func (m *Metrics) Swept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpiredTokensSwept.Add(float64(n))
}
