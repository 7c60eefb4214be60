package models

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
)

// Issuer is the iss claim the registry stamps on every interaction token.
const Issuer = "registry"

// TokenType is the typ claim distinguishing interaction tokens from other
// JWTs the registry might mint in the future.
const TokenType = "interaction_token"

// Claims is the interaction token payload. The requester's DPoP public key
// travels field-encrypted inside the token so verification can re-check
// proof-of-possession without a registry lookup.
type Claims struct {
	Target        string `json:"target"`
	DPoPHash      string `json:"dpop_hash"`
	DPoPPublicKey string `json:"dpop_public_key"`
	TokenType     string `json:"typ"`
	jwt.RegisteredClaims
}

// InteractionToken is the issuance response.
type InteractionToken struct {
	Token         string     `json:"token"`
	TargetAgentID id.AgentID `json:"target_agent_id"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// CreateTokenRequest asks for a token addressed to a target agent. The
// requesting agent comes from the authenticated context; the DPoP proof
// from the DPoP header.
type CreateTokenRequest struct {
	TargetAgentID string `json:"target_agent_id"`
}

func (r *CreateTokenRequest) Normalize() {
	r.TargetAgentID = strings.TrimSpace(r.TargetAgentID)
}

func (r *CreateTokenRequest) Validate() error {
	_, err := id.ParseAgentID(r.TargetAgentID)
	return err
}

// VerifyTokenRequest checks a presented token. ExpectedTarget lets the
// verifying agent assert the token was addressed to it.
type VerifyTokenRequest struct {
	Token          string `json:"token"`
	ExpectedTarget string `json:"expected_target,omitempty"`
}

func (r *VerifyTokenRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
	r.ExpectedTarget = strings.TrimSpace(r.ExpectedTarget)
}

func (r *VerifyTokenRequest) Validate() error {
	if r.Token == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "token is required")
	}
	if r.ExpectedTarget != "" {
		if _, err := id.ParseAgentID(r.ExpectedTarget); err != nil {
			return err
		}
	}
	return nil
}

// RevokeTokenRequest places a token on the revocation list.
type RevokeTokenRequest struct {
	Token string `json:"token"`
}

func (r *RevokeTokenRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
}

func (r *RevokeTokenRequest) Validate() error {
	if r.Token == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "token is required")
	}
	return nil
}

// VerifiedToken is the verification response: the validated claims.
type VerifiedToken struct {
	Subject   string    `json:"sub"`
	Target    string    `json:"target"`
	JTI       string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}
