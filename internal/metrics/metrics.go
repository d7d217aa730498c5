package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the billing engine
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Quota metrics
	QuotaDecisionsTotal *prometheus.CounterVec
	ConflictRetries     *prometheus.CounterVec
	RolloversTotal      prometheus.Counter

	// Invoice numbering metrics
	InvoiceNumbersTotal      *prometheus.CounterVec
	InvoiceNumberingDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Sweep metrics
	SweepRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskflow_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deskflow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		QuotaDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskflow_quota_decisions_total",
				Help: "Total number of ticket quota decisions by outcome",
			},
			[]string{"plan_tier", "outcome"},
		),
		ConflictRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskflow_conflict_retries_total",
				Help: "Total number of optimistic write retries after a version conflict",
			},
			[]string{"operation"},
		),
		RolloversTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deskflow_billing_cycle_rollovers_total",
				Help: "Total number of billing cycle rollovers persisted",
			},
		),

		InvoiceNumbersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskflow_invoice_numbers_total",
				Help: "Total number of invoice number allocations by outcome",
			},
			[]string{"backend", "outcome"},
		),
		InvoiceNumberingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deskflow_invoice_numbering_duration_seconds",
				Help:    "Invoice number allocation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"backend"},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskflow_notifications_total",
				Help: "Total number of notification events handed to delivery",
			},
			[]string{"event", "outcome"},
		),

		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskflow_sweep_runs_total",
				Help: "Total number of scheduled sweeps by job and outcome",
			},
			[]string{"job", "outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.QuotaDecisionsTotal,
		m.ConflictRetries,
		m.RolloversTotal,
		m.InvoiceNumbersTotal,
		m.InvoiceNumberingDuration,
		m.NotificationsTotal,
		m.SweepRunsTotal,
	)

	return m
}

// NewTestMetrics registers the collectors on a private registry
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome labels
const (
	OutcomeAllowed       = "allowed"
	OutcomeLimitReached  = "limit_reached"
	OutcomeNotSubscribed = "not_subscribed"
	OutcomeError         = "error"
	OutcomeSuccess       = "success"
	OutcomeSkipped       = "skipped"
)

func (m *Metrics) ObserveQuotaDecision(planTier, outcome string) {
	if m == nil {
		return
	}
	m.QuotaDecisionsTotal.WithLabelValues(planTier, outcome).Inc()
}

func (m *Metrics) ObserveConflictRetry(operation string) {
	if m == nil {
		return
	}
	m.ConflictRetries.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveRollover() {
	if m == nil {
		return
	}
	m.RolloversTotal.Inc()
}

func (m *Metrics) ObserveInvoiceNumber(backend, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.InvoiceNumbersTotal.WithLabelValues(backend, outcome).Inc()
	m.InvoiceNumberingDuration.WithLabelValues(backend).Observe(seconds)
}

func (m *Metrics) ObserveNotification(event, outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveSweep(job, outcome string) {
	if m == nil {
		return
	}
	m.SweepRunsTotal.WithLabelValues(job, outcome).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}
