// Package handler exposes interaction token issuance, verification and
// revocation over HTTP. All routes sit behind agent authentication; issuance
// additionally demands a DPoP proof bound to the request.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"authed/internal/token/models"
	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/httputil"
	"authed/pkg/requestcontext"
)

// headerDPoP carries the RFC 9449 proof JWT.
const headerDPoP = "DPoP"

// Service defines the token operations the handler needs.
type Service interface {
	Issue(ctx context.Context, targetID id.AgentID, proof, method, requestURL string) (*models.InteractionToken, error)
	Verify(ctx context.Context, req *models.VerifyTokenRequest, proof, method, requestURL string) (*models.VerifiedToken, error)
	Revoke(ctx context.Context, token string) error
}

// Handler wires token endpoints to the token service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a token handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts token endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/tokens/create", h.HandleCreate)
	r.Post("/tokens/verify", h.HandleVerify)
	r.Post("/tokens/revoke", h.HandleRevoke)
}

// HandleCreate handles POST /tokens/create.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	proof := r.Header.Get(headerDPoP)
	if proof == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing DPoP header"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.CreateTokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	targetID, err := id.ParseAgentID(req.TargetAgentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	token, err := h.service.Issue(ctx, targetID, proof, r.Method, requestURL(r))
	if err != nil {
		h.logger.WarnContext(ctx, "token issuance refused",
			"request_id", requestID,
			"agent_id", requestcontext.AgentID(ctx),
			"target_agent_id", targetID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, token)
}

// HandleVerify handles POST /tokens/verify. The DPoP header is optional:
// with it the presenter proves possession of the key the token was bound to.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.VerifyTokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	verified, err := h.service.Verify(ctx, req, r.Header.Get(headerDPoP), r.Method, requestURL(r))
	if err != nil {
		h.logger.WarnContext(ctx, "token verification refused",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verified)
}

// HandleRevoke handles POST /tokens/revoke.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.RevokeTokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.service.Revoke(ctx, req.Token); err != nil {
		h.logger.WarnContext(ctx, "token revocation refused",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requestURL reconstructs the absolute URL the client signed its DPoP proof
// over. Query and fragment are ignored by proof comparison, so the path is
// enough.
func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + r.URL.Path
}
