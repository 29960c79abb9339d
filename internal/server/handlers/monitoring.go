package handlers

import (
	"context"
	"net/http"

	"git.home.luguber.info/inful/prefsd/internal/server/responses"
)

// Health status values.
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)

// HealthReporter runs the daemon health checks.
type HealthReporter interface {
	Health(ctx context.Context) responses.HealthResponse
}

type MonitoringHandlers struct {
	health HealthReporter
}

func NewMonitoringHandlers(health HealthReporter) *MonitoringHandlers {
	return &MonitoringHandlers{health: health}
}

// HandleHealth answers 200 unless the daemon is unhealthy.
func (h *MonitoringHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := h.health.Health(r.Context())
	status := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	_ = writeJSONPretty(w, r, status, resp)
}
