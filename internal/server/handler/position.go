package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dkrueger/edgebot/internal/domain"
)

// PositionReader is the slice of the position store the handler requires.
type PositionReader interface {
	GetByID(ctx context.Context, id string) (domain.Position, error)
	GetOpen(ctx context.Context, strategy string) ([]domain.Position, error)
	ListHistory(ctx context.Context, strategy string, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given store and logger.
func NewPositionHandler(positions PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Strategy  string            `json:"strategy"`
	Status    string            `json:"status"`
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions for a strategy namespace. status=open
// (default) lists the live book; status=closed pages through settled history.
// GET /api/positions?strategy=primary&status=open&limit=50&offset=0
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	strategy := r.URL.Query().Get("strategy")
	if strategy == "" {
		strategy = "primary"
	}
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "open"
	}

	var (
		positions []domain.Position
		err       error
	)
	switch status {
	case "open":
		positions, err = h.positions.GetOpen(r.Context(), strategy)
	case "closed":
		positions, err = h.positions.ListHistory(r.Context(), strategy, parseListOpts(r))
	default:
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("strategy", strategy),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{
		Strategy:  strategy,
		Status:    status,
		Positions: positions,
	})
}

// GetPosition returns a single position by its ID.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}
