package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/service"
)

// HealthHandler handles the health check endpoint
type HealthHandler struct {
	svc *service.Service
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(svc *service.Service) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// Get reports the degraded signals of the writer, the cameras and the
// database. A degraded engine still answers 200; only an unreachable
// database fails the check.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	health := h.svc.Health(r.Context())
	status := http.StatusOK
	if health.Database != "ok" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}
