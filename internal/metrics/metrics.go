package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics groups the Prometheus collectors exported by the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Sweep metrics
	SweepRunsTotal      *prometheus.CounterVec
	SweepDuration       prometheus.Histogram
	SweepLastSuccess    prometheus.Gauge
	SweepDeactivations  prometheus.Counter
	SweepErrorsTotal    prometheus.Counter
	NotificationsTotal  *prometheus.CounterVec
	RenewalsRateLimited prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests in flight",
			},
		),
		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_sweep_runs_total",
				Help: "Sweep runs by result (completed, failed, skipped)",
			},
			[]string{"result"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "subscription_sweep_duration_seconds",
				Help:    "Duration of sweep runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
		),
		SweepLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subscription_sweep_last_success_timestamp_seconds",
				Help: "Unix time of the last sweep that committed its deactivations",
			},
		),
		SweepDeactivations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subscription_deactivations_total",
				Help: "Subscriptions deactivated by the sweep",
			},
		),
		SweepErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subscription_sweep_record_errors_total",
				Help: "Per-record persistence failures skipped by the sweep",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_notifications_total",
				Help: "Notifications attempted by kind (warning, expiry) and result (sent, failed)",
			},
			[]string{"kind", "result"},
		),
		RenewalsRateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subscription_renewals_rate_limited_total",
				Help: "Renew requests rejected by the rate limiter",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SweepRunsTotal,
		m.SweepDuration,
		m.SweepLastSuccess,
		m.SweepDeactivations,
		m.SweepErrorsTotal,
		m.NotificationsTotal,
		m.RenewalsRateLimited,
	)
	return m
}

// NewDefault registers the service collectors plus the Go and process
// collectors with a fresh registry and returns both.
func NewDefault() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg), reg
}
