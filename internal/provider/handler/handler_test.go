package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authed/internal/platform/middleware"
	"authed/internal/provider/models"
	"authed/internal/provider/service"
	"authed/internal/provider/store"
	id "authed/pkg/domain"
)

const internalAPIKey = "internal-test-key"

// staticAgentAuth accepts any agent credential pair; provider routes must
// still refuse agent principals on their own.
type staticAgentAuth struct{}

func (staticAgentAuth) AuthenticateAgent(context.Context, id.AgentID, string) error { return nil }

type testEnv struct {
	router http.Handler
	svc    *service.Service
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	svc := service.New(store.NewInMemory())
	logger := slog.New(slog.DiscardHandler)

	h := New(svc, logger)
	r := chi.NewRouter()
	r.Use(middleware.RequireAuthenticated(svc, staticAgentAuth{}, internalAPIKey, logger))
	h.Register(r)
	return &testEnv{router: r, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func internalHeaders() map[string]string {
	return map[string]string{"x-api-key": internalAPIKey}
}

func registerProvider(t *testing.T, e *testEnv) *models.RegisteredProvider {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/providers/register", models.RegisterProviderRequest{Name: "acme"}, internalHeaders())
	require.Equal(t, http.StatusCreated, rec.Code)

	var registered models.RegisteredProvider
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&registered))
	require.NotEmpty(t, registered.ProviderSecret)
	return &registered
}

func TestHandleRegister(t *testing.T) {
	t.Run("returns the provider with its one-time secret", func(t *testing.T) {
		e := newEnv(t)
		registered := registerProvider(t, e)
		assert.Equal(t, "acme", registered.Name)
		assert.False(t, registered.Claimed)
	})

	t.Run("rejects unauthenticated requests", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodPost, "/providers/register", models.RegisterProviderRequest{}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleGet(t *testing.T) {
	t.Run("a provider can read itself with its secret", func(t *testing.T) {
		e := newEnv(t)
		registered := registerProvider(t, e)

		rec := e.do(t, http.MethodGet, "/providers/"+registered.ID.String(), nil,
			map[string]string{"provider-secret": registered.ProviderSecret})
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.Provider
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, registered.ID, got.ID)
	})

	t.Run("a provider cannot read another provider", func(t *testing.T) {
		e := newEnv(t)
		first := registerProvider(t, e)
		second := registerProvider(t, e)

		rec := e.do(t, http.MethodGet, "/providers/"+first.ID.String(), nil,
			map[string]string{"provider-secret": second.ProviderSecret})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("internal callers can read any provider", func(t *testing.T) {
		e := newEnv(t)
		registered := registerProvider(t, e)

		rec := e.do(t, http.MethodGet, "/providers/"+registered.ID.String(), nil, internalHeaders())
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("agent credentials cannot manage providers", func(t *testing.T) {
		e := newEnv(t)
		registered := registerProvider(t, e)

		rec := e.do(t, http.MethodGet, "/providers/"+registered.ID.String(), nil,
			map[string]string{"x-agent-id": uuid.NewString(), "x-agent-secret": "agent-secret"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects malformed ids", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodGet, "/providers/not-a-uuid", nil, internalHeaders())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleUpdate(t *testing.T) {
	t.Run("claims a provider", func(t *testing.T) {
		e := newEnv(t)
		registered := registerProvider(t, e)

		claimed := true
		rec := e.do(t, http.MethodPatch, "/providers/"+registered.ID.String(),
			models.UpdateProviderRequest{Claimed: &claimed},
			map[string]string{"provider-secret": registered.ProviderSecret})
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.Provider
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.True(t, got.Claimed)
	})

	t.Run("rejects an empty patch", func(t *testing.T) {
		e := newEnv(t)
		registered := registerProvider(t, e)

		rec := e.do(t, http.MethodPatch, "/providers/"+registered.ID.String(),
			map[string]any{},
			map[string]string{"provider-secret": registered.ProviderSecret})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleList(t *testing.T) {
	t.Run("lists providers for internal callers", func(t *testing.T) {
		e := newEnv(t)
		registerProvider(t, e)
		registerProvider(t, e)

		rec := e.do(t, http.MethodGet, "/providers/admin/list?limit=10", nil, internalHeaders())
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Providers []json.RawMessage `json:"providers"`
			Total     int               `json:"total"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, 2, resp.Total)
		assert.Len(t, resp.Providers, 2)
	})

	t.Run("is refused for provider credentials", func(t *testing.T) {
		e := newEnv(t)
		registered := registerProvider(t, e)

		rec := e.do(t, http.MethodGet, "/providers/admin/list", nil,
			map[string]string{"provider-secret": registered.ProviderSecret})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects malformed date filters", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodGet, "/providers/admin/list?from_date=yesterday", nil, internalHeaders())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleStats(t *testing.T) {
	t.Run("unknown provider returns 404", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodGet, "/providers/"+uuid.NewString()+"/stats", nil, internalHeaders())
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
