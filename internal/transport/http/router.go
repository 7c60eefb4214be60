// Package http assembles the registry's HTTP surface: probe and metrics
// endpoints in the open, provider and agent management behind credential
// middleware, token operations behind agent authentication.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	agenthandler "authed/internal/agent/handler"
	"authed/internal/health"
	"authed/internal/platform/metrics"
	"authed/internal/platform/middleware"
	providerhandler "authed/internal/provider/handler"
	tokenhandler "authed/internal/token/handler"
)

// Deps carries everything the router mounts.
type Deps struct {
	Providers    providerhandler.Service
	ProviderAuth middleware.ProviderAuthenticator
	Agents       agenthandler.Service
	AgentAuth    middleware.AgentAuthenticator
	Tokens       tokenhandler.Service
	Health       *health.Handler
	HTTPMetrics  *metrics.Metrics
	RateLimiter  *middleware.RateLimiter
	InternalKey  string
	CORSOrigins  []string
	Logger       *slog.Logger
}

// New builds the registry router with the full middleware chain.
func New(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Tracing)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.CORS(deps.CORSOrigins))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware)
	}
	r.Use(middleware.RequestLogger(logger))
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Middleware(chiRoutePattern))
	}

	// Probes and metrics stay outside auth so the kubelet and Prometheus can
	// reach them.
	if deps.Health != nil {
		deps.Health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuthenticated(deps.ProviderAuth, deps.AgentAuth, deps.InternalKey, logger))
		providerhandler.New(deps.Providers, logger).Register(r)
		agenthandler.New(deps.Agents, logger).Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAgent(deps.AgentAuth, logger))
		tokenhandler.New(deps.Tokens, logger).Register(r)
	})

	return r
}

func chiRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
