package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/httputil"
	"authed/pkg/requestcontext"
)

// Credential headers. Provider and agent credentials are long-lived secrets
// issued once at registration; the internal key belongs to trusted backoffice
// callers only.
const (
	headerInternalAPIKey = "x-api-key"
	headerProviderSecret = "provider-secret"
	headerAgentID        = "x-agent-id"
	headerAgentSecret    = "x-agent-secret"
)

// ProviderAuthenticator resolves a provider from its secret.
type ProviderAuthenticator interface {
	AuthenticateProvider(ctx context.Context, secret string) (id.ProviderID, error)
}

// AgentAuthenticator verifies an agent credential pair.
type AgentAuthenticator interface {
	AuthenticateAgent(ctx context.Context, agentID id.AgentID, secret string) error
}

// RequireAuthenticated admits any registered principal: the internal API
// key, a valid provider secret, or an agent credential pair, checked in that
// order. The authenticated principal lands in the request context; handlers
// and services enforce per-resource ownership, so an agent reaching a
// provider-scoped route authenticates here and is refused there.
func RequireAuthenticated(providers ProviderAuthenticator, agents AgentAuthenticator, internalAPIKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if key := r.Header.Get(headerInternalAPIKey); key != "" {
				if internalAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(internalAPIKey)) != 1 {
					writeUnauthorized(w, ctx, logger, "invalid internal API key")
					return
				}
				next.ServeHTTP(w, r.WithContext(requestcontext.WithInternal(ctx)))
				return
			}

			if secret := r.Header.Get(headerProviderSecret); secret != "" {
				providerID, err := providers.AuthenticateProvider(ctx, secret)
				if err != nil {
					writeUnauthorized(w, ctx, logger, "invalid provider credentials")
					return
				}
				next.ServeHTTP(w, r.WithContext(requestcontext.WithProviderID(ctx, providerID)))
				return
			}

			if rawAgentID := r.Header.Get(headerAgentID); rawAgentID != "" {
				agentID, err := id.ParseAgentID(rawAgentID)
				if err != nil {
					writeUnauthorized(w, ctx, logger, "invalid agent id")
					return
				}
				secret := r.Header.Get(headerAgentSecret)
				if secret == "" {
					writeUnauthorized(w, ctx, logger, "missing agent secret")
					return
				}
				if err := agents.AuthenticateAgent(ctx, agentID, secret); err != nil {
					writeUnauthorized(w, ctx, logger, "invalid agent credentials")
					return
				}
				next.ServeHTTP(w, r.WithContext(requestcontext.WithAgentID(ctx, agentID)))
				return
			}

			writeUnauthorized(w, ctx, logger, "missing credentials")
		})
	}
}

// RequireAgent authenticates the calling agent from its credential headers.
func RequireAgent(agents AgentAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			agentID, err := id.ParseAgentID(r.Header.Get(headerAgentID))
			if err != nil {
				writeUnauthorized(w, ctx, logger, "missing or invalid agent id")
				return
			}
			secret := r.Header.Get(headerAgentSecret)
			if secret == "" {
				writeUnauthorized(w, ctx, logger, "missing agent secret")
				return
			}
			if err := agents.AuthenticateAgent(ctx, agentID, secret); err != nil {
				writeUnauthorized(w, ctx, logger, "invalid agent credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithAgentID(ctx, agentID)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, ctx context.Context, logger *slog.Logger, reason string) {
	logger.WarnContext(ctx, "unauthorized request",
		"request_id", requestcontext.RequestID(ctx),
		"reason", reason,
	)
	httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, reason))
}
