// Package service issues and verifies interaction tokens: short-lived RS256
// JWTs that let one agent call another after a mutual permission check and a
// DPoP proof of key possession. Verification repeats the permission check, so
// revoking a grant invalidates outstanding tokens immediately.
package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	agentmodels "authed/internal/agent/models"
	"authed/internal/dpop"
	"authed/internal/platform/crypto"
	"authed/internal/token/metrics"
	"authed/internal/token/models"
	"authed/internal/token/revocation"
	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/audit"
	"authed/pkg/requestcontext"
)

// AgentDirectory resolves agents with their DPoP keys decrypted. Implemented
// by the agent service.
type AgentDirectory interface {
	Get(ctx context.Context, agentID id.AgentID) (*agentmodels.Agent, error)
}

// ProofVerifier validates DPoP proofs. Implemented by dpop.Verifier.
type ProofVerifier interface {
	VerifyProof(ctx context.Context, proof, publicKeyPEM, method, requestURL string) error
}

// AuditTrail receives token lifecycle events.
type AuditTrail interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service mints, verifies and revokes interaction tokens.
type Service struct {
	agents      AgentDirectory
	proofs      ProofVerifier
	revocations revocation.Store
	cipher      *crypto.FieldCipher
	signingKey  *rsa.PrivateKey
	verifyKey   *rsa.PublicKey
	ttl         time.Duration
	logger      *slog.Logger
	auditor     AuditTrail
	metrics     *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditTrail(auditor AuditTrail) Option {
	return func(s *Service) { s.auditor = auditor }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs a Service. ttl bounds interaction token lifetime.
func New(
	agents AgentDirectory,
	proofs ProofVerifier,
	revocations revocation.Store,
	cipher *crypto.FieldCipher,
	signingKey *rsa.PrivateKey,
	ttl time.Duration,
	opts ...Option,
) *Service {
	s := &Service{
		agents:      agents,
		proofs:      proofs,
		revocations: revocations,
		cipher:      cipher,
		signingKey:  signingKey,
		verifyKey:   &signingKey.PublicKey,
		ttl:         ttl,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints an interaction token for the authenticated agent to call the
// target. The caller's DPoP proof must verify against its registered key, and
// both agents must grant each other access.
func (s *Service) Issue(ctx context.Context, targetID id.AgentID, proof, method, requestURL string) (*models.InteractionToken, error) {
	start := time.Now()

	requesterID := requestcontext.AgentID(ctx)
	if requesterID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token issuance requires agent credentials")
	}

	requester, err := s.agents.Get(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if !requester.Active {
		return nil, s.deny(ctx, requesterID, targetID, "requesting agent is inactive")
	}

	target, err := s.agents.Get(ctx, targetID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, s.deny(ctx, requesterID, targetID, "target agent not found")
		}
		return nil, err
	}
	if !target.Active {
		return nil, s.deny(ctx, requesterID, targetID, "target agent is inactive")
	}

	if !s.mutuallyAllowed(requester, target) {
		return nil, s.deny(ctx, requesterID, targetID, "agents do not permit each other")
	}

	if err := s.proofs.VerifyProof(ctx, proof, requester.DPoPPublicKey, method, requestURL); err != nil {
		s.emit(ctx, audit.Event{
			Action:   audit.ActionTokenDenied,
			ActorID:  requesterID.String(),
			TargetID: targetID.String(),
			Reason:   "dpop proof rejected",
			IsError:  true,
		})
		if s.metrics != nil {
			s.metrics.TokensDenied.Inc()
		}
		return nil, err
	}

	encryptedKey, err := s.cipher.EncryptField(requester.DPoPPublicKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to protect token key")
	}

	now := requestcontext.Now(ctx)
	expiresAt := now.Add(s.ttl)
	claims := models.Claims{
		Target:        targetID.String(),
		DPoPHash:      dpop.HashProof(proof),
		DPoPPublicKey: encryptedKey,
		TokenType:     models.TokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   requesterID.String(),
			Issuer:    models.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.signingKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}

	s.emit(ctx, audit.Event{
		Action:   audit.ActionTokenIssued,
		ActorID:  requesterID.String(),
		TargetID: targetID.String(),
		Details:  map[string]any{"jti": claims.ID},
	})
	if s.metrics != nil {
		s.metrics.TokensIssued.Inc()
		s.metrics.IssueDuration.Observe(time.Since(start).Seconds())
	}
	s.logger.InfoContext(ctx, "interaction token issued",
		"agent_id", requesterID,
		"target_agent_id", targetID,
		"jti", claims.ID,
		"request_id", requestcontext.RequestID(ctx),
	)

	return &models.InteractionToken{
		Token:         signed,
		TargetAgentID: targetID,
		ExpiresAt:     expiresAt,
	}, nil
}

// Verify validates a presented interaction token: registry signature,
// expiry, optional expected-target binding, the presenting agent's DPoP
// proof, a fresh mutual permission check, and the revocation list.
func (s *Service) Verify(ctx context.Context, req *models.VerifyTokenRequest, proof, method, requestURL string) (*models.VerifiedToken, error) {
	claims, err := s.parse(req.Token)
	if err != nil {
		if s.metrics != nil {
			s.metrics.TokensDenied.Inc()
		}
		return nil, err
	}

	requesterID, err := id.ParseAgentID(claims.Subject)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token subject is not a valid agent id")
	}
	targetID, err := id.ParseAgentID(claims.Target)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token target is not a valid agent id")
	}

	if req.ExpectedTarget != "" && req.ExpectedTarget != claims.Target {
		return nil, s.deny(ctx, requesterID, targetID, "token was issued for a different target")
	}

	if proof != "" {
		if err := s.verifyPresenterProof(ctx, claims, proof, method, requestURL); err != nil {
			s.emit(ctx, audit.Event{
				Action:   audit.ActionTokenDenied,
				ActorID:  requesterID.String(),
				TargetID: targetID.String(),
				Reason:   "dpop proof rejected",
				IsError:  true,
			})
			if s.metrics != nil {
				s.metrics.TokensDenied.Inc()
			}
			return nil, err
		}
	}

	requester, err := s.agents.Get(ctx, requesterID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, s.deny(ctx, requesterID, targetID, "token subject no longer exists")
		}
		return nil, err
	}
	target, err := s.agents.Get(ctx, targetID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, s.deny(ctx, requesterID, targetID, "token target no longer exists")
		}
		return nil, err
	}
	if !requester.Active || !target.Active {
		return nil, s.deny(ctx, requesterID, targetID, "agent has been deactivated")
	}

	// Permissions are re-checked on every verification so a revoked grant
	// kills tokens that were minted while it was still in place.
	if !s.mutuallyAllowed(requester, target) {
		return nil, s.deny(ctx, requesterID, targetID, "permission has been revoked")
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "revocation list unavailable")
	}
	if revoked {
		return nil, s.deny(ctx, requesterID, targetID, "token has been revoked")
	}

	s.emit(ctx, audit.Event{
		Action:   audit.ActionTokenVerified,
		ActorID:  requesterID.String(),
		TargetID: targetID.String(),
		Details:  map[string]any{"jti": claims.ID},
	})
	if s.metrics != nil {
		s.metrics.TokensVerified.Inc()
	}

	return &models.VerifiedToken{
		Subject:   claims.Subject,
		Target:    claims.Target,
		JTI:       claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke adds a token's jti to the revocation list until the token would
// have expired anyway. Only the token's subject, its target, or an internal
// caller may revoke it.
func (s *Service) Revoke(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}

	if !requestcontext.Internal(ctx) {
		caller := requestcontext.AgentID(ctx)
		if caller.IsNil() {
			return dErrors.New(dErrors.CodeUnauthorized, "token revocation requires agent credentials")
		}
		if caller.String() != claims.Subject && caller.String() != claims.Target {
			return dErrors.New(dErrors.CodeForbidden, "only the token's participants may revoke it")
		}
	}

	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke token")
	}

	s.emit(ctx, audit.Event{
		Action:   audit.ActionTokenRevoked,
		ActorID:  claims.Subject,
		TargetID: claims.Target,
		Details:  map[string]any{"jti": claims.ID},
	})
	if s.metrics != nil {
		s.metrics.TokensRevoked.Inc()
	}
	return nil
}

// parse decodes an interaction token and validates signature, issuer,
// lifetime and type.
func (s *Service) parse(token string) (*models.Claims, error) {
	var claims models.Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.verifyKey, nil
	}, jwt.WithIssuer(models.Issuer), jwt.WithExpirationRequired(), jwt.WithIssuedAt())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token is invalid")
	}
	if !parsed.Valid || claims.TokenType != models.TokenType {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token is invalid")
	}
	if claims.ID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token is missing its jti")
	}
	return &claims, nil
}

// verifyPresenterProof checks the verifying caller's DPoP proof against the
// key sealed into the token, falling back to the proof's own jwk header when
// the sealed key cannot be recovered (tokens minted under a rotated cipher
// key).
func (s *Service) verifyPresenterProof(ctx context.Context, claims *models.Claims, proof, method, requestURL string) error {
	keyPEM, err := s.cipher.DecryptField(claims.DPoPPublicKey)
	if err != nil {
		keyPEM, err = dpop.KeyPEMFromProof(proof)
		if err != nil {
			return dErrors.New(dErrors.CodeUnauthorized, "could not recover token key")
		}
	}
	return s.proofs.VerifyProof(ctx, proof, keyPEM, method, requestURL)
}

func (s *Service) mutuallyAllowed(requester, target *agentmodels.Agent) bool {
	return requester.Allows(target.ID, target.ProviderID) &&
		target.Allows(requester.ID, requester.ProviderID)
}

// deny records a denial in the audit trail and metrics, returning the
// forbidden error handed to the caller.
func (s *Service) deny(ctx context.Context, requesterID, targetID id.AgentID, reason string) error {
	s.emit(ctx, audit.Event{
		Action:   audit.ActionTokenDenied,
		ActorID:  requesterID.String(),
		TargetID: targetID.String(),
		Reason:   reason,
		IsError:  true,
	})
	if s.metrics != nil {
		s.metrics.TokensDenied.Inc()
	}
	return dErrors.New(dErrors.CodeForbidden, reason)
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}
