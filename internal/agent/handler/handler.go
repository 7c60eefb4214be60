// Package handler exposes agent management over HTTP. Providers manage their
// own agents; agents may read and update themselves. Ownership checks beyond
// routing live in the agent service.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"authed/internal/agent/models"
	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/httputil"
	"authed/pkg/requestcontext"
)

// Service defines the agent operations the handler needs.
type Service interface {
	Register(ctx context.Context, req *models.RegisterAgentRequest) (*models.RegisteredAgent, error)
	Get(ctx context.Context, agentID id.AgentID) (*models.Agent, error)
	Update(ctx context.Context, agentID id.AgentID, req *models.UpdateAgentRequest) (*models.Agent, error)
	UpdatePermissions(ctx context.Context, agentID id.AgentID, permissions []models.Permission) (*models.Agent, error)
}

// Handler wires agent endpoints to the agent service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an agent handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts agent endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/agents/register", h.HandleRegister)
	r.Get("/agents/{agentID}", h.HandleGet)
	r.Put("/agents/{agentID}", h.HandleUpdate)
	r.Post("/agents/{agentID}/permissions", h.HandleUpdatePermissions)
}

// HandleRegister handles POST /agents/register. A provider-authenticated
// caller registers under itself; the provider_id field is for internal
// callers acting on a provider's behalf.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.RegisterAgentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if caller := requestcontext.ProviderID(ctx); !caller.IsNil() {
		if req.ProviderID != "" && req.ProviderID != caller.String() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "providers can only register their own agents"))
			return
		}
		req.ProviderID = caller.String()
	}

	registered, err := h.service.Register(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "agent registration failed",
			"request_id", requestID,
			"provider_id", req.ProviderID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, registered)
}

// HandleGet handles GET /agents/{agentID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	agentID, ok := h.pathAgentID(w, r)
	if !ok {
		return
	}

	agent, err := h.service.Get(ctx, agentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !h.authorizeRead(w, ctx, agent) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agent)
}

// HandleUpdate handles PUT /agents/{agentID}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	agentID, ok := h.pathAgentID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.UpdateAgentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	agent, err := h.service.Update(ctx, agentID, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "agent update failed",
			"request_id", requestID,
			"agent_id", agentID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agent)
}

// HandleUpdatePermissions handles POST /agents/{agentID}/permissions,
// replacing the agent's allow list atomically.
func (h *Handler) HandleUpdatePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	agentID, ok := h.pathAgentID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.UpdatePermissionsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	agent, err := h.service.UpdatePermissions(ctx, agentID, req.Permissions)
	if err != nil {
		h.logger.ErrorContext(ctx, "permission update failed",
			"request_id", requestID,
			"agent_id", agentID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agent)
}

// authorizeRead admits internal callers, the owning provider, and the agent
// itself.
func (h *Handler) authorizeRead(w http.ResponseWriter, ctx context.Context, agent *models.Agent) bool {
	if requestcontext.Internal(ctx) {
		return true
	}
	if caller := requestcontext.ProviderID(ctx); !caller.IsNil() {
		if caller != agent.ProviderID {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "providers can only access their own agents"))
			return false
		}
		return true
	}
	if caller := requestcontext.AgentID(ctx); !caller.IsNil() {
		if caller != agent.ID {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "agents can only access themselves"))
			return false
		}
		return true
	}
	httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing credentials"))
	return false
}

func (h *Handler) pathAgentID(w http.ResponseWriter, r *http.Request) (id.AgentID, bool) {
	agentID, err := id.ParseAgentID(chi.URLParam(r, "agentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.AgentID{}, false
	}
	return agentID, true
}
