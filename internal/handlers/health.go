package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// HealthCheckFunc reports whether a dependency is reachable
type HealthCheckFunc func(ctx context.Context) error

// HealthHandler reports database and counter store reachability
type HealthHandler struct {
	checks  map[string]HealthCheckFunc
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler. checks is keyed by component name.
func NewHealthHandler(checks map[string]HealthCheckFunc, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Components: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Components[name] = "down"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "up"
	}

	pkghttp.WriteJSON(w, status, resp)
}
