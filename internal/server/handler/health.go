package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	logger    *slog.Logger
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		logger:    logHandler(logger, "health"),
		startedAt: time.Now().UTC(),
	}
}

// HealthCheck reports liveness along with the process uptime.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "clearinghouse",
		"uptime":    now.Sub(h.startedAt).Round(time.Second).String(),
		"timestamp": now.Format(time.RFC3339),
	})
}
