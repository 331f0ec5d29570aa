package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/quickbuy/internal/checkout"
	"github.com/ariefcatur/quickbuy/internal/logger"
)

type OrderReader interface {
	Order(ctx context.Context, buyerID, orderID string) (*checkout.OrderView, error)
}

type OrderCache interface {
	Get(ctx context.Context, orderID string) (*checkout.OrderView, error)
	Put(ctx context.Context, v *checkout.OrderView) error
}

type OrdersHandler struct {
	Orders   OrderReader
	Cache    OrderCache // optional
	Sessions Sessions
	Log      *logger.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", h.getOrder)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	buyerID, err := h.Sessions.BuyerID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	ctx := h.Log.WithFields(r.Context(), map[string]any{"buyer_id": buyerID, "order_id": orderID})

	// 1) cache
	if h.Cache != nil {
		v, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			h.Log.Warn(h.Log.WithField(ctx, "error", err.Error()), "orders.cache.get_failed")
		}
		if v != nil {
			if v.Order.BuyerID != buyerID {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	// 2) database
	v, err := h.Orders.Order(ctx, buyerID, orderID)
	if err != nil {
		f := checkout.AsFailure(err)
		if f.Kind == checkout.KindNotFound {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		h.Log.Error(ctx, "orders.get_failed", err)
		writeError(w, http.StatusInternalServerError, f.Message)
		return
	}
	if h.Cache != nil && settled(v) {
		if err := h.Cache.Put(ctx, v); err != nil {
			h.Log.Warn(h.Log.WithField(ctx, "error", err.Error()), "orders.cache.put_failed")
		}
	}
	writeJSON(w, http.StatusOK, v)
}

// settled views no longer change; a Pending payment is still moved on by
// the confirmation pages, so it is always read fresh.
func settled(v *checkout.OrderView) bool {
	return v.Payment != nil && v.Payment.Status != checkout.PaymentPending
}
