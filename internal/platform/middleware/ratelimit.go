package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/audit"
	"authed/pkg/platform/httputil"
	"authed/pkg/requestcontext"
)

// AuditTrail records the security events the middleware layer raises.
type AuditTrail interface {
	Emit(ctx context.Context, event audit.Event) error
}

// limiterEntry pairs a token bucket with its last access time for eviction.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-client token bucket. Keys are client IPs (agents
// behind one provider NAT share a bucket; acceptable for the public surface).
// Buckets idle longer than idleTTL are evicted on the next sweep.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry

	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	logger  *slog.Logger
	auditor AuditTrail

	lastSweep time.Time
}

// RateLimiterOption configures optional limiter behavior.
type RateLimiterOption func(*RateLimiter)

// WithRateLimitAudit reports throttled clients to the audit trail.
func WithRateLimitAudit(trail AuditTrail) RateLimiterOption {
	return func(rl *RateLimiter) { rl.auditor = trail }
}

// NewRateLimiter builds a limiter allowing requests per window with a burst
// of the full window quota, matching the fixed-window semantics of the
// original RATE_LIMIT_REQUESTS / RATE_LIMIT_WINDOW_SECONDS settings.
func NewRateLimiter(requests int, window time.Duration, logger *slog.Logger, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		clients:   make(map[string]*limiterEntry),
		limit:     rate.Limit(float64(requests) / window.Seconds()),
		burst:     requests,
		idleTTL:   10 * window,
		logger:    logger,
		lastSweep: time.Now(),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware enforces the limit, answering 429 with a Retry-After hint when
// a bucket is exhausted.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := requestcontext.ClientIP(ctx)
		if key == "" {
			key = ClientIPFromRequest(r)
		}

		if !rl.allow(key) {
			rl.logger.WarnContext(ctx, "rate limit exceeded",
				"request_id", requestcontext.RequestID(ctx),
				"client_ip", key,
				"path", r.URL.Path,
			)
			rl.audit(ctx, key, r)
			w.Header().Set("Retry-After", "1")
			httputil.WriteError(w, dErrors.New(dErrors.CodeTooManyRequests, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) audit(ctx context.Context, key string, r *http.Request) {
	if rl.auditor == nil {
		return
	}
	event := audit.Event{
		Action:    audit.ActionRateLimitExceeded,
		ActorID:   key,
		Reason:    "request quota exhausted",
		IP:        key,
		RequestID: requestcontext.RequestID(ctx),
		IsError:   true,
		Details:   map[string]any{"method": r.Method, "path": r.URL.Path},
	}
	if err := rl.auditor.Emit(ctx, event); err != nil {
		rl.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, ok := rl.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = entry
	}
	entry.lastSeen = now

	if now.Sub(rl.lastSweep) > rl.idleTTL {
		rl.sweepLocked(now)
	}
	return entry.limiter.Allow()
}

// sweepLocked drops buckets no client has touched recently. Caller holds mu.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	for key, entry := range rl.clients {
		if now.Sub(entry.lastSeen) > rl.idleTTL {
			delete(rl.clients, key)
		}
	}
	rl.lastSweep = now
}
