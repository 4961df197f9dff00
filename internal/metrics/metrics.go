// Package metrics defines the Prometheus instrumentation for sessiongate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcome label values.
const (
	OutcomeOK              = "ok"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeTransportError  = "transport_error"
)

// Renewal result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds all Prometheus metrics for sessiongate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	InFlightRequests prometheus.Gauge
	RenewalsTotal    *prometheus.CounterVec
	ForcedLogouts    prometheus.Counter
	IdleTimeouts     prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessiongate",
				Name:      "requests_total",
				Help:      "Total number of dispatched API requests",
			},
			[]string{"outcome"}, // outcome=ok/unauthenticated/transport_error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sessiongate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds, including renewal and retry",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		InFlightRequests: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sessiongate",
				Name:      "in_flight_requests",
				Help:      "Number of API requests currently in flight",
			},
		),
		RenewalsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessiongate",
				Name:      "renewals_total",
				Help:      "Total access token renewal attempts",
			},
			[]string{"result"}, // result=ok/error
		),
		ForcedLogouts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "sessiongate",
				Name:      "forced_logouts_total",
				Help:      "Total sessions force-ended by the gateway",
			},
		),
		IdleTimeouts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "sessiongate",
				Name:      "idle_timeouts_total",
				Help:      "Total sessions ended by the inactivity timeout",
			},
		),
	}
}
