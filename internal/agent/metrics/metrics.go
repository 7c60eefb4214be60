// Package metrics provides observability for the agent module.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks agent lifecycle and authentication outcomes.
type Metrics struct {
	AgentRegistered    prometheus.Counter
	AuthFailures       prometheus.Counter
	PermissionsUpdated prometheus.Counter
}

// New registers the agent module metrics.
func New() *Metrics {
	return &Metrics{
		AgentRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authed_agents_registered_total",
			Help: "Total number of agents registered",
		}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authed_agent_auth_failures_total",
			Help: "Total number of failed agent credential authentications",
		}),
		PermissionsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authed_agent_permission_updates_total",
			Help: "Total number of agent permission list replacements",
		}),
	}
}
