package models

import (
	"time"

	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
)

// PermissionType selects what a permission target refers to.
type PermissionType string

const (
	// PermissionAllowAgent grants a single agent access.
	PermissionAllowAgent PermissionType = "allow_agent"
	// PermissionAllowProvider grants every agent of a provider access.
	PermissionAllowProvider PermissionType = "allow_provider"
)

func (t PermissionType) Valid() bool {
	return t == PermissionAllowAgent || t == PermissionAllowProvider
}

// Permission is a single grant on an agent's allow list.
type Permission struct {
	Type     PermissionType `json:"type"`
	TargetID string         `json:"target_id"`
}

// Agent is an autonomous workload registered under a provider.
//
// Invariants:
//   - DPoPPublicKey is a parseable RSA public key PEM; it is field-encrypted
//     at rest and only handled decrypted in memory
//   - Permissions are deduplicated; replacing them is a single atomic update
//   - Inactive agents cannot authenticate or be token targets
type Agent struct {
	ID            id.AgentID   `json:"id"`
	ProviderID    id.ProviderID `json:"provider_id"`
	Name          string       `json:"name"`
	DPoPPublicKey string       `json:"dpop_public_key"`
	Permissions   []Permission `json:"permissions"`
	Active        bool         `json:"active"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`

	// SecretHash is the bcrypt hash of the agent secret. Never serialized.
	SecretHash string `json:"-"`
}

// NewAgent constructs an active agent with no permissions.
func NewAgent(agentID id.AgentID, providerID id.ProviderID, name, dpopPublicKey, secretHash string, now time.Time) (*Agent, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "agent name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "agent name must be 128 characters or less")
	}
	if dpopPublicKey == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "agent dpop public key is required")
	}
	if secretHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "agent secret hash is required")
	}
	return &Agent{
		ID:            agentID,
		ProviderID:    providerID,
		Name:          name,
		DPoPPublicKey: dpopPublicKey,
		SecretHash:    secretHash,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Allows reports whether this agent's permission list admits the peer.
func (a *Agent) Allows(peerID id.AgentID, peerProviderID id.ProviderID) bool {
	for _, p := range a.Permissions {
		switch p.Type {
		case PermissionAllowAgent:
			if p.TargetID == peerID.String() {
				return true
			}
		case PermissionAllowProvider:
			if p.TargetID == peerProviderID.String() {
				return true
			}
		}
	}
	return false
}

// RegisteredAgent is the registration response: the agent plus the one-time
// plaintext secret.
type RegisteredAgent struct {
	Agent
	AgentSecret string `json:"agent_secret"`
}
