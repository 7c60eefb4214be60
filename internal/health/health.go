// Package health serves the probe endpoints the deployment manifests point
// at: liveness is unconditional, readiness checks the backing stores.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"authed/pkg/platform/httputil"
)

// Probe checks one backing dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// Handler serves /health, /health/live and /health/ready.
type Handler struct {
	probes  map[string]Probe
	timeout time.Duration
}

// New constructs a health handler over named dependency probes.
func New(probes map[string]Probe) *Handler {
	return &Handler{probes: probes, timeout: 5 * time.Second}
}

// Register mounts the probe endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/health/live", h.HandleLive)
	r.Get("/health/ready", h.HandleReady)
}

type status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleHealth reports overall health including per-dependency results.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, true)
}

// HandleLive reports process liveness only. It never touches dependencies,
// so a database outage does not get the pod restarted.
func (h *Handler) HandleLive(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, status{Status: "alive"})
}

// HandleReady reports readiness to receive traffic.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, false)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request, detailed bool) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	healthy := true
	checks := make(map[string]string, len(h.probes))
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
		} else {
			checks[name] = "ok"
		}
	}

	resp := status{Status: "ready"}
	if detailed {
		resp.Status = "healthy"
		resp.Checks = checks
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
		resp.Status = "degraded"
		resp.Checks = checks
	}
	httputil.WriteJSON(w, code, resp)
}
