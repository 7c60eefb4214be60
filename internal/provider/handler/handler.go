// Package handler exposes provider management over HTTP. Registration is
// open to internal callers; everything else requires the provider's own
// credentials or the internal API key.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	agentmodels "authed/internal/agent/models"
	"authed/internal/provider/models"
	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/httputil"
	"authed/pkg/requestcontext"
)

// Service defines the provider operations the handler needs.
type Service interface {
	Register(ctx context.Context, req *models.RegisterProviderRequest) (*models.RegisteredProvider, error)
	Update(ctx context.Context, providerID id.ProviderID, req *models.UpdateProviderRequest) (*models.Provider, error)
	Get(ctx context.Context, providerID id.ProviderID) (*models.Provider, error)
	ListAgents(ctx context.Context, providerID id.ProviderID, includeInactive bool, skip, limit int) ([]*agentmodels.Agent, int, error)
	Stats(ctx context.Context, providerID id.ProviderID) (*models.Stats, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.ProviderWithStats, int, error)
}

// Handler wires provider endpoints to the provider service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a provider handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts provider endpoints on the router. The router applies auth
// middleware; ownership of a specific provider is enforced here.
func (h *Handler) Register(r chi.Router) {
	r.Post("/providers/register", h.HandleRegister)
	r.Get("/providers/admin/list", h.HandleList)
	r.Get("/providers/{providerID}", h.HandleGet)
	r.Patch("/providers/{providerID}", h.HandleUpdate)
	r.Get("/providers/{providerID}/agents", h.HandleListAgents)
	r.Get("/providers/{providerID}/stats", h.HandleStats)
}

// HandleRegister handles POST /providers/register. The one-time provider
// secret appears only in this response.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.RegisterProviderRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	registered, err := h.service.Register(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "provider registration failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, registered)
}

// HandleGet handles GET /providers/{providerID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	providerID, ok := h.pathProviderID(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, ctx, providerID) {
		return
	}

	provider, err := h.service.Get(ctx, providerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, provider)
}

// HandleUpdate handles PATCH /providers/{providerID}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	providerID, ok := h.pathProviderID(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, ctx, providerID) {
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.UpdateProviderRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	provider, err := h.service.Update(ctx, providerID, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "provider update failed",
			"request_id", requestID,
			"provider_id", providerID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, provider)
}

// agentListResponse is the paginated agent listing envelope.
type agentListResponse struct {
	Agents []*agentmodels.Agent `json:"agents"`
	Total  int                  `json:"total"`
	Skip   int                  `json:"skip"`
	Limit  int                  `json:"limit"`
}

// HandleListAgents handles GET /providers/{providerID}/agents.
func (h *Handler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	providerID, ok := h.pathProviderID(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, ctx, providerID) {
		return
	}

	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	skip, limit := pagination(r)

	agents, total, err := h.service.ListAgents(ctx, providerID, includeInactive, skip, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agentListResponse{
		Agents: agents,
		Total:  total,
		Skip:   skip,
		Limit:  limit,
	})
}

// HandleStats handles GET /providers/{providerID}/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	providerID, ok := h.pathProviderID(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, ctx, providerID) {
		return
	}

	stats, err := h.service.Stats(ctx, providerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// providerListResponse is the paginated provider listing envelope.
type providerListResponse struct {
	Providers []*models.ProviderWithStats `json:"providers"`
	Total     int                         `json:"total"`
	Skip      int                         `json:"skip"`
	Limit     int                         `json:"limit"`
}

// HandleList handles GET /providers/admin/list. Internal callers only.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !requestcontext.Internal(ctx) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "provider listing is internal only"))
		return
	}

	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	providers, total, err := h.service.List(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, providerListResponse{
		Providers: providers,
		Total:     total,
		Skip:      filter.Skip,
		Limit:     filter.Limit,
	})
}

// authorize admits internal callers and the provider itself. Agent
// credentials authenticate but carry no provider authority.
func (h *Handler) authorize(w http.ResponseWriter, ctx context.Context, providerID id.ProviderID) bool {
	if requestcontext.Internal(ctx) {
		return true
	}
	if caller := requestcontext.ProviderID(ctx); !caller.IsNil() {
		if caller != providerID {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "providers can only access their own resources"))
			return false
		}
		return true
	}
	if !requestcontext.AgentID(ctx).IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "agent credentials cannot manage providers"))
		return false
	}
	httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing credentials"))
	return false
}

func (h *Handler) pathProviderID(w http.ResponseWriter, r *http.Request) (id.ProviderID, bool) {
	providerID, err := id.ParseProviderID(chi.URLParam(r, "providerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.ProviderID{}, false
	}
	return providerID, true
}

func parseListFilter(r *http.Request) (models.ListFilter, error) {
	q := r.URL.Query()
	filter := models.ListFilter{Name: q.Get("name")}
	filter.Skip, filter.Limit = pagination(r)

	for param, dst := range map[string]**time.Time{
		"from_date": &filter.FromDate,
		"to_date":   &filter.ToDate,
	} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return models.ListFilter{}, dErrors.New(dErrors.CodeInvalidInput, param+" must be RFC 3339")
		}
		*dst = &parsed
	}
	return filter, nil
}

// pagination reads skip/limit query parameters, ignoring malformed values.
// Services clamp the results.
func pagination(r *http.Request) (skip, limit int) {
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("skip")); err == nil && v > 0 {
		skip = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	return skip, limit
}
