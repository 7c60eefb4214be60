package models

import (
	"time"

	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/audit"
)

// Provider is an organization that operates agents.
//
// Invariants:
//   - Name, when set, is at most 128 characters
//   - SecretFingerprint is set once at registration and never rotates
//   - Claimed flips to true exactly once, when a dashboard user takes
//     ownership; unclaimed providers may register at most a capped number
//     of agents (enforced at the agent service)
type Provider struct {
	ID               id.ProviderID `json:"id"`
	Name             string        `json:"name,omitempty"`
	ContactEmail     string        `json:"contact_email,omitempty"`
	RegisteredUserID string        `json:"registered_user_id,omitempty"`
	Claimed          bool          `json:"claimed"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`

	// SecretFingerprint is the SHA-256 of the provider secret, used for
	// lookup during authentication. Never serialized.
	SecretFingerprint string `json:"-"`
}

// NewProvider constructs a provider. A non-empty registeredUserID marks the
// provider claimed from the start (dashboard signup); CLI registrations
// start unclaimed.
func NewProvider(providerID id.ProviderID, name, contactEmail, registeredUserID, secretFingerprint string, now time.Time) (*Provider, error) {
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "provider name must be 128 characters or less")
	}
	if secretFingerprint == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "provider secret fingerprint is required")
	}
	return &Provider{
		ID:                providerID,
		Name:              name,
		ContactEmail:      contactEmail,
		RegisteredUserID:  registeredUserID,
		Claimed:           registeredUserID != "",
		SecretFingerprint: secretFingerprint,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// RegisteredProvider is the registration response: the provider plus the
// one-time plaintext secret.
type RegisteredProvider struct {
	Provider
	ProviderSecret string `json:"provider_secret"`
}

// ProviderWithStats decorates a provider with its agent count for the admin
// listing.
type ProviderWithStats struct {
	Provider
	Stats struct {
		AgentCount int `json:"agent_count"`
	} `json:"stats"`
}

// Stats is the provider dashboard summary.
type Stats struct {
	TotalAgents       int           `json:"total_agents"`
	TotalInteractions int           `json:"total_interactions"`
	RecentEvents      []audit.Event `json:"recent_events"`
}

// ListFilter narrows the admin provider listing.
type ListFilter struct {
	Name     string
	FromDate *time.Time
	ToDate   *time.Time
	Skip     int
	Limit    int
}

// Normalize clamps pagination to sane bounds.
func (f *ListFilter) Normalize() {
	if f.Skip < 0 {
		f.Skip = 0
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
}
