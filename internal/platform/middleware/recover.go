package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/httputil"
	"authed/pkg/requestcontext"
)

// Recover converts handler panics into 500 responses so a single bad request
// cannot take down the process.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					ctx := r.Context()
					logger.ErrorContext(ctx, "panic recovered",
						"request_id", requestcontext.RequestID(ctx),
						"path", r.URL.Path,
						"panic", rec,
						"stack", string(debug.Stack()),
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
