package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// probeTimeout bounds each backing-service ping from the health endpoint.
const probeTimeout = 2 * time.Second

// Pinger reports whether a backing service is reachable. Satisfied by the
// postgres and redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health endpoint, probing the database and cache so
// load balancers see a degraded process, not just a listening socket.
type HealthHandler struct {
	db     Pinger
	cache  Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Either pinger may be nil; its
// check is then skipped.
func NewHealthHandler(db, cache Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, logger: logger}
}

// HealthCheck reports overall health plus a per-dependency breakdown. Any
// failing probe turns the response into 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	probe := func(name string, p Pinger) {
		if p == nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "health probe failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			checks[name] = "fail"
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	probe("postgres", h.db)
	probe("redis", h.cache)

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
