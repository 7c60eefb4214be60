package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"authed/pkg/requestcontext"
)

const chromeUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestClientMetadata(t *testing.T) {
	var gotIP, gotUA string
	handler := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		gotIP = requestcontext.ClientIP(ctx)
		gotUA = requestcontext.UserAgent(ctx)
	}))

	req := httptest.NewRequest(http.MethodGet, "/agents/self", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "authed-sdk/1.0")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.7", gotIP)
	assert.Equal(t, "authed-sdk/1.0", gotUA)
}

func TestClientLabel(t *testing.T) {
	t.Run("browser agents are condensed", func(t *testing.T) {
		label := ClientLabel(chromeUA)
		assert.Contains(t, label, "Chrome/120")
		assert.NotEqual(t, chromeUA, label)
	})

	t.Run("non-browser clients keep their identifier", func(t *testing.T) {
		assert.Equal(t, "authed-sdk/1.0", ClientLabel("authed-sdk/1.0"))
	})

	t.Run("a missing header reads as unknown", func(t *testing.T) {
		assert.Equal(t, "unknown", ClientLabel(""))
	})
}

func TestClientIPFromRequest(t *testing.T) {
	t.Run("prefers the first forwarded address", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", " 198.51.100.4 , 10.0.0.1")
		assert.Equal(t, "198.51.100.4", ClientIPFromRequest(req))
	})

	t.Run("falls back to X-Real-IP", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-IP", "198.51.100.9")
		assert.Equal(t, "198.51.100.9", ClientIPFromRequest(req))
	})

	t.Run("strips the port from RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.10:51334"
		assert.Equal(t, "192.0.2.10", ClientIPFromRequest(req))
	})
}
