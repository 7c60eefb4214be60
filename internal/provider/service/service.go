// Package service orchestrates provider registration, updates and
// secret-based authentication.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	agentmodels "authed/internal/agent/models"
	"authed/internal/provider/metrics"
	"authed/internal/provider/models"
	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/audit"
	"authed/pkg/platform/sentinel"
	"authed/pkg/requestcontext"
	"authed/pkg/secrets"
)

// Store persists providers.
type Store interface {
	Create(ctx context.Context, provider *models.Provider) error
	Update(ctx context.Context, provider *models.Provider) error
	FindByID(ctx context.Context, providerID id.ProviderID) (*models.Provider, error)
	FindBySecretFingerprint(ctx context.Context, fingerprint string) (*models.Provider, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.Provider, int, error)
	Count(ctx context.Context) (int, error)
}

// AgentDirectory exposes the agent queries the provider endpoints need.
// Implemented by the agent service.
type AgentDirectory interface {
	ListByProvider(ctx context.Context, providerID id.ProviderID, includeInactive bool, skip, limit int) ([]*agentmodels.Agent, int, error)
	CountByProvider(ctx context.Context, providerID id.ProviderID) (int, error)
}

// AuditTrail receives provider lifecycle events and serves the stats
// endpoint's recent activity listing.
type AuditTrail interface {
	Emit(ctx context.Context, event audit.Event) error
	List(ctx context.Context, actorID string) ([]audit.Event, error)
}

// Service orchestrates provider management.
type Service struct {
	providers Store
	agents    AgentDirectory
	logger    *slog.Logger
	auditor   AuditTrail
	metrics   *metrics.Metrics
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

// New constructs a Service. The agent directory is wired after construction
// because the agent service in turn depends on providers.
func New(providers Store, opts ...Option) *Service {
	s := &Service{providers: providers, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAgentDirectory wires the agent-side queries. Must be called before the
// server starts serving; kept separate to break the provider/agent
// construction cycle.
func (s *Service) SetAgentDirectory(agents AgentDirectory) {
	s.agents = agents
}

// Register creates a provider and returns it with the one-time secret.
// A registered_user_id marks a dashboard signup, which starts claimed.
func (s *Service) Register(ctx context.Context, req *models.RegisterProviderRequest) (*models.RegisteredProvider, error) {
	secret, err := secrets.Generate()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate provider secret")
	}

	provider, err := models.NewProvider(
		id.ProviderID(uuid.New()),
		req.Name,
		req.ContactEmail,
		req.RegisteredUserID,
		secrets.Fingerprint(secret),
		requestcontext.Now(ctx),
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, err.Error())
		}
		return nil, err
	}

	if err := s.providers.Create(ctx, provider); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create provider")
	}

	s.emit(ctx, audit.Event{
		Action:  audit.ActionProviderRegistered,
		ActorID: provider.ID.String(),
		Details: map[string]any{"claimed": provider.Claimed},
	})
	if s.metrics != nil {
		s.metrics.IncrementRegistered()
	}
	s.logger.InfoContext(ctx, "provider registered",
		"provider_id", provider.ID,
		"claimed", provider.Claimed,
		"request_id", requestcontext.RequestID(ctx),
	)

	return &models.RegisteredProvider{Provider: *provider, ProviderSecret: secret}, nil
}

// Update applies a partial update. Callers enforce ownership; the handler
// only routes here after the auth middleware admitted the request.
func (s *Service) Update(ctx context.Context, providerID id.ProviderID, req *models.UpdateProviderRequest) (*models.Provider, error) {
	provider, err := s.providers.FindByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "provider not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load provider")
	}

	if req.Name != nil {
		provider.Name = *req.Name
	}
	if req.ContactEmail != nil {
		provider.ContactEmail = *req.ContactEmail
	}
	claimedNow := false
	if req.Claimed != nil {
		if provider.Claimed && !*req.Claimed {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "a claimed provider cannot be unclaimed")
		}
		claimedNow = !provider.Claimed && *req.Claimed
		provider.Claimed = *req.Claimed
	}
	provider.UpdatedAt = requestcontext.Now(ctx)

	if err := s.providers.Update(ctx, provider); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "provider not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update provider")
	}

	action := audit.ActionProviderUpdated
	if claimedNow {
		action = audit.ActionProviderClaimed
	}
	s.emit(ctx, audit.Event{
		Action:    action,
		ActorID:   provider.ID.String(),
		RequestID: requestcontext.RequestID(ctx),
	})
	return provider, nil
}

// Get returns a provider by ID.
func (s *Service) Get(ctx context.Context, providerID id.ProviderID) (*models.Provider, error) {
	provider, err := s.providers.FindByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "provider not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load provider")
	}
	return provider, nil
}

// ListAgents returns the provider's agents with the total count.
func (s *Service) ListAgents(ctx context.Context, providerID id.ProviderID, includeInactive bool, skip, limit int) ([]*agentmodels.Agent, int, error) {
	if _, err := s.Get(ctx, providerID); err != nil {
		return nil, 0, err
	}
	agents, total, err := s.agents.ListByProvider(ctx, providerID, includeInactive, skip, limit)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list agents")
	}
	return agents, total, nil
}

// Stats returns the dashboard summary: agent count plus recent audit
// activity for the provider.
func (s *Service) Stats(ctx context.Context, providerID id.ProviderID) (*models.Stats, error) {
	if _, err := s.Get(ctx, providerID); err != nil {
		return nil, err
	}

	agentCount, err := s.agents.CountByProvider(ctx, providerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count agents")
	}

	stats := &models.Stats{TotalAgents: agentCount}
	if s.auditor != nil {
		events, err := s.auditor.List(ctx, providerID.String())
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load provider activity")
		}
		stats.TotalInteractions = len(events)
		stats.RecentEvents = lastN(events, 10)
	}
	return stats, nil
}

// List returns providers matching the filter, decorated with agent counts.
// Admin use only; the handler gates it behind the internal API key.
func (s *Service) List(ctx context.Context, filter models.ListFilter) ([]*models.ProviderWithStats, int, error) {
	filter.Normalize()

	providers, total, err := s.providers.List(ctx, filter)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list providers")
	}

	out := make([]*models.ProviderWithStats, 0, len(providers))
	for _, provider := range providers {
		entry := &models.ProviderWithStats{Provider: *provider}
		if s.agents != nil {
			count, err := s.agents.CountByProvider(ctx, provider.ID)
			if err != nil {
				return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count agents")
			}
			entry.Stats.AgentCount = count
		}
		out = append(out, entry)
	}
	return out, total, nil
}

// AuthenticateProvider resolves a provider from its secret. Satisfies the
// middleware's ProviderAuthenticator.
func (s *Service) AuthenticateProvider(ctx context.Context, secret string) (id.ProviderID, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveAuthenticate(start)
		}
	}()

	if secret == "" {
		return id.ProviderID{}, dErrors.New(dErrors.CodeUnauthorized, "provider secret is required")
	}

	provider, err := s.providers.FindBySecretFingerprint(ctx, secrets.Fingerprint(secret))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			if s.metrics != nil {
				s.metrics.IncrementAuthFailure()
			}
			s.emit(ctx, audit.Event{
				Action:    audit.ActionAuthFailed,
				Reason:    "unknown provider secret",
				IP:        requestcontext.ClientIP(ctx),
				RequestID: requestcontext.RequestID(ctx),
				IsError:   true,
			})
			return id.ProviderID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid provider credentials")
		}
		return id.ProviderID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to authenticate provider")
	}
	return provider.ID, nil
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

func lastN(events []audit.Event, n int) []audit.Event {
	if len(events) <= n {
		out := make([]audit.Event, len(events))
		copy(out, events)
		reverse(out)
		return out
	}
	out := make([]audit.Event, n)
	copy(out, events[len(events)-n:])
	reverse(out)
	return out
}

// reverse orders newest-first; stores return actor history oldest-first.
func reverse(events []audit.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
