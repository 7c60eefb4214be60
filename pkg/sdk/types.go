package sdk

import "time"

// Provider is a registered organization operating agents.
type Provider struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ContactEmail string    `json:"contact_email"`
	Claimed      bool      `json:"claimed"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RegisteredProvider is the registration response; ProviderSecret is shown
// exactly once.
type RegisteredProvider struct {
	Provider
	ProviderSecret string `json:"provider_secret"`
}

// Permission is one entry on an agent's allow list.
type Permission struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

// Agent is a registered workload identity.
type Agent struct {
	ID            string       `json:"id"`
	ProviderID    string       `json:"provider_id"`
	Name          string       `json:"name"`
	DPoPPublicKey string       `json:"dpop_public_key"`
	Permissions   []Permission `json:"permissions"`
	Active        bool         `json:"active"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// RegisteredAgent is the registration response; AgentSecret is shown exactly
// once.
type RegisteredAgent struct {
	Agent
	AgentSecret string `json:"agent_secret"`
}

// InteractionToken is an issued token plus its expiry.
type InteractionToken struct {
	Token         string    `json:"token"`
	TargetAgentID string    `json:"target_agent_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// VerifiedToken echoes the validated claims of a verified token.
type VerifiedToken struct {
	Subject   string    `json:"sub"`
	Target    string    `json:"target"`
	JTI       string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}
