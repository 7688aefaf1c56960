// Package handler implements the read-only REST endpoints. Each handler
// declares the narrow store or service slice it needs and renders plain JSON.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dkrueger/edgebot/internal/domain"
)

// Pagination bounds for list endpoints.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// writeJSON renders v with the given status. Marshalling happens before the
// header goes out so an encoding failure can still become a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

// writeError renders a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit/offset from the query string, clamping to sane
// bounds. Unparseable values fall back to the defaults.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := defaultListLimit
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, maxListLimit)
	}

	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// pathParam reads a named path segment from the mux pattern.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
