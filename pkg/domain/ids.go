// Package domain defines typed identifiers shared across the registry.
// Distinct UUID wrapper types stop an agent ID from being passed where a
// provider ID is expected; the compiler enforces what code review would miss.
package domain

import (
	"github.com/google/uuid"

	dErrors "authed/pkg/domain-errors"
)

// ProviderID identifies a provider (an organization operating agents).
type ProviderID uuid.UUID

// AgentID identifies a registered agent.
type AgentID uuid.UUID

func (id ProviderID) String() string { return uuid.UUID(id).String() }
func (id ProviderID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id AgentID) String() string { return uuid.UUID(id).String() }
func (id AgentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// MarshalText implements encoding.TextMarshaler so IDs serialize as their
// canonical UUID string in JSON payloads.
func (id ProviderID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ProviderID) UnmarshalText(b []byte) error {
	parsed, err := ParseProviderID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id AgentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *AgentID) UnmarshalText(b []byte) error {
	parsed, err := ParseAgentID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseProviderID parses and validates a provider ID at a trust boundary.
// IDs must be valid, non-nil UUIDs.
func ParseProviderID(s string) (ProviderID, error) {
	u, err := parseUUID(s, "provider id")
	return ProviderID(u), err
}

// ParseAgentID parses and validates an agent ID at a trust boundary.
func ParseAgentID(s string) (AgentID, error) {
	u, err := parseUUID(s, "agent id")
	return AgentID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be the nil UUID")
	}
	return u, nil
}
