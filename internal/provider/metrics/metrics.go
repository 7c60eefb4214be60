// Package metrics provides observability for the provider module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks provider registrations and authentication outcomes.
type Metrics struct {
	ProviderRegistered   prometheus.Counter
	AuthFailures         prometheus.Counter
	AuthenticateDuration prometheus.Histogram
}

// New registers the provider module metrics.
func New() *Metrics {
	return &Metrics{
		ProviderRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authed_providers_registered_total",
			Help: "Total number of providers registered",
		}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authed_provider_auth_failures_total",
			Help: "Total number of failed provider secret authentications",
		}),
		AuthenticateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "authed_provider_authenticate_duration_seconds",
			Help:    "Duration of provider secret authentication (request hot path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementRegistered records a successful provider registration.
func (m *Metrics) IncrementRegistered() {
	m.ProviderRegistered.Inc()
}

// IncrementAuthFailure records a failed provider authentication.
func (m *Metrics) IncrementAuthFailure() {
	m.AuthFailures.Inc()
}

// ObserveAuthenticate records the duration of an authentication attempt.
// Call with time.Now() captured at the start of the operation.
func (m *Metrics) ObserveAuthenticate(start time.Time) {
	m.AuthenticateDuration.Observe(time.Since(start).Seconds())
}
