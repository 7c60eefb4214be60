// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets these values; services read them without importing net/http.
// Tests inject them directly:
//
//	ctx = requestcontext.WithAgentID(ctx, agentID)
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "authed/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	agentIDKey     struct{}
	providerIDKey  struct{}
	internalKey    struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need raw context.WithValue.
var (
	ContextKeyAgentID     = agentIDKey{}
	ContextKeyProviderID  = providerIDKey{}
	ContextKeyInternal    = internalKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// AgentID retrieves the authenticated agent ID from the context.
// Returns the zero value if no agent is authenticated.
func AgentID(ctx context.Context) id.AgentID {
	if agentID, ok := ctx.Value(ContextKeyAgentID).(id.AgentID); ok {
		return agentID
	}
	return id.AgentID{}
}

// WithAgentID injects an authenticated agent ID into the context.
func WithAgentID(ctx context.Context, agentID id.AgentID) context.Context {
	return context.WithValue(ctx, ContextKeyAgentID, agentID)
}

// ProviderID retrieves the authenticated provider ID from the context.
func ProviderID(ctx context.Context) id.ProviderID {
	if providerID, ok := ctx.Value(ContextKeyProviderID).(id.ProviderID); ok {
		return providerID
	}
	return id.ProviderID{}
}

// WithProviderID injects an authenticated provider ID into the context.
func WithProviderID(ctx context.Context, providerID id.ProviderID) context.Context {
	return context.WithValue(ctx, ContextKeyProviderID, providerID)
}

// Internal reports whether the request authenticated with the internal API key.
func Internal(ctx context.Context) bool {
	v, ok := ctx.Value(ContextKeyInternal).(bool)
	return ok && v
}

// WithInternal marks the context as internally authenticated.
func WithInternal(ctx context.Context) context.Context {
	return context.WithValue(ctx, ContextKeyInternal, true)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a fixed time into a context, keeping a single notion of
// "now" across one request and making time-dependent logic testable.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
