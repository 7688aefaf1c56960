package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dkrueger/edgebot/internal/domain"
)

// AuditReader is the slice of the audit store the handler requires.
type AuditReader interface {
	ListSince(ctx context.Context, since time.Time, limit int) ([]domain.AuditEntry, error)
}

// AuditHandler serves the recent decision trail.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler with the given store and logger.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// listAuditResponse wraps the recent audit entries.
type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Since   string              `json:"since"`
}

// ListRecent returns audit entries from the trailing window, newest first.
// Defaults: the last hour, at most 100 entries (max 500).
// GET /api/audit/recent?minutes=60&limit=100
func (h *AuditHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	minutes := 60
	if v := q.Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "minutes must be a positive integer")
			return
		}
		minutes = n
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	since := time.Now().Add(-time.Duration(minutes) * time.Minute)
	entries, err := h.audit.ListSince(r.Context(), since, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	if entries == nil {
		entries = []domain.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, listAuditResponse{
		Entries: entries,
		Since:   since.UTC().Format(time.RFC3339),
	})
}
