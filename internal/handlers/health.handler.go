package handlers

import (
	"context"
	"time"

	xhttp "github.com/nimasrn/whatsapp-simulator/pkg/http"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
}

func RegisterHealthRoutes(e *xhttp.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{
		checks: checks,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	probeCtx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(probeCtx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		writeJSON(ctx, xhttp.StatusServiceUnavailable, successBody{
			Success:   false,
			Message:   "Service unhealthy",
			Data:      status,
			Timestamp: now(),
		})
		return
	}
	writeSuccess(ctx, xhttp.StatusOK, "Service healthy", status)
}
