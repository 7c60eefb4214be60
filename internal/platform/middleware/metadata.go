package middleware

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"authed/pkg/requestcontext"
)

// ClientMetadata extracts the client IP address and User-Agent from the
// request and adds them to the context. Apply early in the chain so the rate
// limiter and audit trail see them.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(),
			ClientIPFromRequest(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientLabel condenses a raw User-Agent header into a short label for access
// logs. Browser UAs become "name/version (os)"; SDKs, curl and other
// non-browser clients keep their raw identifier.
func ClientLabel(raw string) string {
	if raw == "" {
		return "unknown"
	}

	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return raw
	}

	label := name
	if version != "" {
		label += "/" + version
	}
	if os := ua.OS(); os != "" {
		label += " (" + os + ")"
	}
	if ua.Bot() {
		label += " bot"
	}
	return label
}

// ClientIPFromRequest extracts the real client IP, handling proxies and load
// balancers (the deployment fronts the service with an ALB).
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs; the first is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port" (or "[::1]:port" for IPv6); strip the port.
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
