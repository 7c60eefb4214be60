// Package service orchestrates agent registration, permissions and
// credential authentication. DPoP public keys are encrypted before they
// reach a store and decrypted on the way out, so key material is never at
// rest in the clear.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"authed/internal/agent/metrics"
	"authed/internal/agent/models"
	"authed/internal/keys"
	"authed/internal/platform/crypto"
	providermodels "authed/internal/provider/models"
	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/audit"
	"authed/pkg/platform/sentinel"
	"authed/pkg/requestcontext"
	"authed/pkg/secrets"
)

// Store persists agents.
type Store interface {
	Create(ctx context.Context, agent *models.Agent) error
	Update(ctx context.Context, agent *models.Agent) error
	FindByID(ctx context.Context, agentID id.AgentID) (*models.Agent, error)
	ListByProvider(ctx context.Context, providerID id.ProviderID, includeInactive bool, skip, limit int) ([]*models.Agent, int, error)
	CountByProvider(ctx context.Context, providerID id.ProviderID) (int, error)
	ReplacePermissions(ctx context.Context, agentID id.AgentID, permissions []models.Permission) error
}

// ProviderDirectory resolves providers during registration. Implemented by
// the provider service.
type ProviderDirectory interface {
	Get(ctx context.Context, providerID id.ProviderID) (*providermodels.Provider, error)
}

// AuditTrail receives agent lifecycle events.
type AuditTrail interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates agent management.
type Service struct {
	agents       Store
	providers    ProviderDirectory
	cipher       *crypto.FieldCipher
	unclaimedCap int
	logger       *slog.Logger
	auditor      AuditTrail
	metrics      *metrics.Metrics
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

// New constructs a Service. unclaimedCap bounds how many agents an
// unclaimed provider may register.
func New(agents Store, providers ProviderDirectory, cipher *crypto.FieldCipher, unclaimedCap int, opts ...Option) *Service {
	s := &Service{
		agents:       agents,
		providers:    providers,
		cipher:       cipher,
		unclaimedCap: unclaimedCap,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an agent under a provider and returns it with the
// one-time agent secret.
func (s *Service) Register(ctx context.Context, req *models.RegisterAgentRequest) (*models.RegisteredAgent, error) {
	providerID, err := id.ParseProviderID(req.ProviderID)
	if err != nil {
		return nil, err
	}

	provider, err := s.providers.Get(ctx, providerID)
	if err != nil {
		return nil, err
	}

	if !provider.Claimed {
		count, err := s.agents.CountByProvider(ctx, providerID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count agents")
		}
		if count >= s.unclaimedCap {
			return nil, dErrors.New(dErrors.CodeForbidden, "unclaimed providers are limited in how many agents they can register; claim the provider to continue")
		}
	}

	if err := keys.ValidatePublicKeyPEM(req.DPoPPublicKey); err != nil {
		return nil, err
	}

	secret, err := secrets.Generate()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate agent secret")
	}
	secretHash, err := secrets.Hash(secret)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash agent secret")
	}

	encryptedKey, err := s.cipher.EncryptField(req.DPoPPublicKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to protect agent key")
	}

	agent, err := models.NewAgent(
		id.AgentID(uuid.New()),
		providerID,
		req.Name,
		encryptedKey,
		secretHash,
		requestcontext.Now(ctx),
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, err.Error())
		}
		return nil, err
	}

	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create agent")
	}

	s.emit(ctx, audit.Event{
		Action:   audit.ActionAgentRegistered,
		ActorID:  providerID.String(),
		TargetID: agent.ID.String(),
	})
	if s.metrics != nil {
		s.metrics.AgentRegistered.Inc()
	}
	s.logger.InfoContext(ctx, "agent registered",
		"agent_id", agent.ID,
		"provider_id", providerID,
		"request_id", requestcontext.RequestID(ctx),
	)

	out := *agent
	out.DPoPPublicKey = req.DPoPPublicKey
	return &models.RegisteredAgent{Agent: out, AgentSecret: secret}, nil
}

// Get returns an agent with its DPoP key decrypted.
func (s *Service) Get(ctx context.Context, agentID id.AgentID) (*models.Agent, error) {
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "agent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load agent")
	}
	if err := s.decryptKey(agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// Update patches an agent's name or active flag. Ownership is enforced here:
// a provider may only update its own agents, internal callers may update any.
func (s *Service) Update(ctx context.Context, agentID id.AgentID, req *models.UpdateAgentRequest) (*models.Agent, error) {
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "agent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load agent")
	}
	if err := s.authorizeOwner(ctx, agent); err != nil {
		return nil, err
	}

	action := audit.ActionAgentUpdated
	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Active != nil && *req.Active != agent.Active {
		agent.Active = *req.Active
		if agent.Active {
			action = audit.ActionAgentReactivated
		} else {
			action = audit.ActionAgentDeactivated
		}
	}
	agent.UpdatedAt = requestcontext.Now(ctx)

	if err := s.agents.Update(ctx, agent); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update agent")
	}

	s.emit(ctx, audit.Event{
		Action:   action,
		ActorID:  agent.ProviderID.String(),
		TargetID: agent.ID.String(),
	})

	if err := s.decryptKey(agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// UpdatePermissions atomically replaces an agent's allow list. Revoking a
// permission immediately invalidates outstanding tokens that relied on it,
// since token verification re-checks permissions.
func (s *Service) UpdatePermissions(ctx context.Context, agentID id.AgentID, permissions []models.Permission) (*models.Agent, error) {
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "agent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load agent")
	}
	if err := s.authorizeOwner(ctx, agent); err != nil {
		return nil, err
	}

	if err := s.agents.ReplacePermissions(ctx, agentID, permissions); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update permissions")
	}
	agent.Permissions = permissions

	s.emit(ctx, audit.Event{
		Action:   audit.ActionPermissionsUpdated,
		ActorID:  agent.ProviderID.String(),
		TargetID: agent.ID.String(),
		Details:  map[string]any{"permission_count": len(permissions)},
	})
	if s.metrics != nil {
		s.metrics.PermissionsUpdated.Inc()
	}

	if err := s.decryptKey(agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// AuthenticateAgent verifies an agent credential pair. Satisfies the
// middleware's AgentAuthenticator.
func (s *Service) AuthenticateAgent(ctx context.Context, agentID id.AgentID, secret string) error {
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.recordAuthFailure(ctx, agentID, "unknown agent")
			return dErrors.New(dErrors.CodeUnauthorized, "invalid agent credentials")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to authenticate agent")
	}
	if !agent.Active {
		s.recordAuthFailure(ctx, agentID, "agent inactive")
		return dErrors.New(dErrors.CodeUnauthorized, "agent is inactive")
	}
	if err := secrets.Verify(secret, agent.SecretHash); err != nil {
		s.recordAuthFailure(ctx, agentID, "secret mismatch")
		return dErrors.New(dErrors.CodeUnauthorized, "invalid agent credentials")
	}
	return nil
}

// ListByProvider implements the provider service's AgentDirectory with
// decrypted keys.
func (s *Service) ListByProvider(ctx context.Context, providerID id.ProviderID, includeInactive bool, skip, limit int) ([]*models.Agent, int, error) {
	agents, total, err := s.agents.ListByProvider(ctx, providerID, includeInactive, skip, limit)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list agents")
	}
	for _, agent := range agents {
		if err := s.decryptKey(agent); err != nil {
			return nil, 0, err
		}
	}
	return agents, total, nil
}

// CountByProvider implements the provider service's AgentDirectory.
func (s *Service) CountByProvider(ctx context.Context, providerID id.ProviderID) (int, error) {
	return s.agents.CountByProvider(ctx, providerID)
}

// authorizeOwner rejects a provider-authenticated caller touching an agent
// it does not own. Internal callers pass.
func (s *Service) authorizeOwner(ctx context.Context, agent *models.Agent) error {
	if requestcontext.Internal(ctx) {
		return nil
	}
	if callerProvider := requestcontext.ProviderID(ctx); !callerProvider.IsNil() {
		if callerProvider != agent.ProviderID {
			return dErrors.New(dErrors.CodeForbidden, "providers can only manage their own agents")
		}
		return nil
	}
	if callerAgent := requestcontext.AgentID(ctx); !callerAgent.IsNil() {
		if callerAgent != agent.ID {
			return dErrors.New(dErrors.CodeForbidden, "agents can only manage themselves")
		}
		return nil
	}
	return dErrors.New(dErrors.CodeUnauthorized, "missing credentials")
}

func (s *Service) decryptKey(agent *models.Agent) error {
	plaintext, err := s.cipher.DecryptField(agent.DPoPPublicKey)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to recover agent key")
	}
	agent.DPoPPublicKey = plaintext
	return nil
}

func (s *Service) recordAuthFailure(ctx context.Context, agentID id.AgentID, reason string) {
	if s.metrics != nil {
		s.metrics.AuthFailures.Inc()
	}
	s.emit(ctx, audit.Event{
		Action:   audit.ActionAuthFailed,
		ActorID:  agentID.String(),
		Reason:   reason,
		IsError:  true,
		Severity: audit.SeverityWarning,
	})
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
