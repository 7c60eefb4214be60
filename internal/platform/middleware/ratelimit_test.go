package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authed/pkg/platform/audit"
)

// recordingTrail captures emitted audit events.
type recordingTrail struct {
	events []audit.Event
}

func (r *recordingTrail) Emit(_ context.Context, event audit.Event) error {
	r.events = append(r.events, event)
	return nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_AllowsWithinQuota(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, slog.New(slog.DiscardHandler))
	handler := rl.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/tokens/create", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}
}

func TestRateLimiter_RejectsBeyondQuota(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, slog.New(slog.DiscardHandler))
	handler := rl.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/tokens/create", nil)
		r.RemoteAddr = "10.0.0.2:1234"
		handler.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, slog.New(slog.DiscardHandler))
	handler := rl.Middleware(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "10.0.0.3:1"
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, first)

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.RemoteAddr = "10.0.0.4:1"
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, second)

	assert.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestRateLimiter_AuditsThrottledClients(t *testing.T) {
	trail := &recordingTrail{}
	rl := NewRateLimiter(1, time.Minute, slog.New(slog.DiscardHandler), WithRateLimitAudit(trail))
	handler := rl.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/tokens/create", nil)
		r.RemoteAddr = "10.0.0.6:1234"
		handler.ServeHTTP(w, r)
	}

	require.Len(t, trail.events, 1)
	event := trail.events[0]
	assert.Equal(t, audit.ActionRateLimitExceeded, event.Action)
	assert.Equal(t, "10.0.0.6", event.ActorID)
	assert.Equal(t, "10.0.0.6", event.IP)
	assert.True(t, event.IsError)
	assert.Equal(t, "/tokens/create", event.Details["path"])
}

func TestRateLimiter_HonorsForwardedFor(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, slog.New(slog.DiscardHandler))
	handler := rl.Middleware(okHandler())

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.5:1"
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.5")
		handler.ServeHTTP(w, r)
		assert.Equal(t, want, w.Code, "request %d", i)
	}
}
