package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dkrueger/edgebot/internal/arena"
	"github.com/dkrueger/edgebot/internal/domain"
)

// StrategySource is the slice of the arena the strategy handler requires.
type StrategySource interface {
	Roster() []domain.StrategyParams
	Leaderboard(ctx context.Context) ([]arena.Standing, error)
}

// StrategyHandler serves the arena's strategy roster and leaderboard.
type StrategyHandler struct {
	arena  StrategySource
	logger *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler backed by the given arena.
func NewStrategyHandler(arena StrategySource, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{
		arena:  arena,
		logger: logger,
	}
}

// listStrategiesResponse wraps the roster endpoint output.
type listStrategiesResponse struct {
	Strategies []domain.StrategyParams `json:"strategies"`
	Count      int                     `json:"count"`
}

// ListStrategies returns the competing parameter sets.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	roster := h.arena.Roster()
	writeJSON(w, http.StatusOK, listStrategiesResponse{
		Strategies: roster,
		Count:      len(roster),
	})
}

// GetLeaderboard returns every namespace ranked by bankroll, live mirror
// namespaces included.
// GET /api/strategies/leaderboard
func (h *StrategyHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	standings, err := h.arena.Leaderboard(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: leaderboard failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to build leaderboard")
		return
	}
	if standings == nil {
		standings = []arena.Standing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": standings})
}
