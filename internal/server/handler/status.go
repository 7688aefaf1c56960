package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the backend status (mode, arena shape) for dashboards.
type StatusHandler struct {
	Mode         string
	LiveStrategy string
	Strategies   int
	StartedAt    time.Time
}

// NewStatusHandler creates a StatusHandler. liveStrategy may be empty when no
// namespace mirrors to the exchange.
func NewStatusHandler(mode, liveStrategy string, strategies int, startedAt time.Time) *StatusHandler {
	return &StatusHandler{
		Mode:         mode,
		LiveStrategy: liveStrategy,
		Strategies:   strategies,
		StartedAt:    startedAt,
	}
}

// GetStatus responds with the current backend mode and arena shape.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"live_strategy":  h.LiveStrategy,
		"strategies":     h.Strategies,
		"started_at":     h.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
