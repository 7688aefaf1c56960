package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dkrueger/edgebot/internal/domain"
)

// OrderReader is the slice of the order store the handler requires. Orders
// are placed by the live mirror, never through the API, so the surface is
// read-only.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (domain.Order, error)
	ListLive(ctx context.Context) ([]domain.Order, error)
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderReader
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given store and logger.
func NewOrderHandler(orders OrderReader, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrders returns in-flight exchange orders, or a market's order history
// when market_id is given.
// GET /api/orders?market_id=...&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	marketID := r.URL.Query().Get("market_id")

	var (
		orders []domain.Order
		err    error
	)
	if marketID != "" {
		orders, err = h.orders.ListByMarket(r.Context(), marketID, parseListOpts(r))
	} else {
		orders, err = h.orders.ListLive(r.Context())
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	if orders == nil {
		orders = []domain.Order{}
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// GetOrder returns a single mirrored order by its internal ID.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, order)
}
