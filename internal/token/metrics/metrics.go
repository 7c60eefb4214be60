// Package metrics provides observability for the token module.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks interaction token issuance and verification outcomes.
type Metrics struct {
	TokensIssued   prometheus.Counter
	TokensVerified prometheus.Counter
	TokensDenied   prometheus.Counter
	TokensRevoked  prometheus.Counter
	IssueDuration  prometheus.Histogram
}

// New registers the token module metrics.
func New() *Metrics {
	return &Metrics{
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authed_tokens_issued_total",
			Help: "Total number of interaction tokens issued",
		}),
		TokensVerified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authed_tokens_verified_total",
			Help: "Total number of interaction tokens successfully verified",
		}),
		TokensDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authed_tokens_denied_total",
			Help: "Total number of token issuance or verification denials",
		}),
		TokensRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authed_tokens_revoked_total",
			Help: "Total number of interaction tokens revoked",
		}),
		IssueDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "authed_token_issue_duration_seconds",
			Help:    "Time taken to issue an interaction token",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
