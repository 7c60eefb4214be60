// Package audit defines the registry's security event model. Domain services
// emit events through a Publisher; stores and sinks fan them out to Postgres
// and Kafka for SIEM consumption.
package audit

import (
	"time"
)

// EventCategory classifies audit events for routing and retention.
type EventCategory string

const (
	// CategorySecurity covers authentication failures, replay detection and
	// credential changes. These feed alerting pipelines.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine registry activity such as token
	// issuance. Short retention, may be sampled downstream.
	CategoryOperations EventCategory = "operations"

	// CategoryCompliance covers identity lifecycle changes that need long
	// retention: registrations, claims, deletions.
	CategoryCompliance EventCategory = "compliance"
)

// Severity levels for SIEM routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Action names a discrete auditable operation.
type Action string

const (
	// Provider lifecycle
	ActionProviderRegistered Action = "provider_registered"
	ActionProviderUpdated    Action = "provider_updated"
	ActionProviderClaimed    Action = "provider_claimed"

	// Agent lifecycle
	ActionAgentRegistered    Action = "agent_registered"
	ActionAgentUpdated       Action = "agent_updated"
	ActionAgentDeactivated   Action = "agent_deactivated"
	ActionAgentReactivated   Action = "agent_reactivated"
	ActionPermissionsUpdated Action = "permissions_updated"

	// Token operations
	ActionTokenIssued   Action = "token_issued"
	ActionTokenVerified Action = "token_verified"
	ActionTokenDenied   Action = "token_denied"
	ActionTokenRevoked  Action = "token_revoked"

	// Security signals
	ActionAuthFailed        Action = "auth_failed"
	ActionDPoPReplay        Action = "dpop_replay_detected"
	ActionRateLimitExceeded Action = "rate_limit_exceeded"
)

var actionCategories = map[Action]EventCategory{
	ActionProviderRegistered: CategoryCompliance,
	ActionProviderClaimed:    CategoryCompliance,
	ActionAgentRegistered:    CategoryCompliance,
	ActionAgentDeactivated:   CategoryCompliance,

	ActionProviderUpdated:    CategoryOperations,
	ActionAgentUpdated:       CategoryOperations,
	ActionAgentReactivated:   CategoryOperations,
	ActionTokenIssued:        CategoryOperations,
	ActionTokenVerified:      CategoryOperations,

	ActionPermissionsUpdated: CategorySecurity,
	ActionTokenDenied:        CategorySecurity,
	ActionTokenRevoked:       CategorySecurity,
	ActionAuthFailed:         CategorySecurity,
	ActionDPoPReplay:         CategorySecurity,
	ActionRateLimitExceeded:  CategorySecurity,
}

// Category returns the routing category for the action. Unknown actions
// default to operations.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// DefaultSeverity maps an action onto its baseline severity. Emitters can
// raise it per event (e.g. repeated auth failures).
func (a Action) DefaultSeverity() Severity {
	switch a {
	case ActionAuthFailed, ActionTokenDenied, ActionRateLimitExceeded:
		return SeverityWarning
	case ActionDPoPReplay:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Event captures a single auditable action. ActorID and TargetID are string
// identifiers rather than typed IDs so events can reference providers,
// agents, or external principals uniformly.
type Event struct {
	Action    Action         `json:"action"`
	Category  EventCategory  `json:"category"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actor_id,omitempty"`
	TargetID  string         `json:"target_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	IP        string         `json:"ip,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Normalize fills derived fields an emitter may leave zero.
func (e *Event) Normalize(now time.Time) {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.Category == "" {
		e.Category = e.Action.Category()
	}
	if e.Severity == "" {
		e.Severity = e.Action.DefaultSeverity()
	}
}
