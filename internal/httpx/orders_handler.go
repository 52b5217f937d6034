package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weirdTDD/orderflow/internal/inventory"
	"github.com/weirdTDD/orderflow/internal/orders"
)

// OrdersHandler serves checkout and order reads. Checkout is the one place
// that touches two components in a single request: it creates the order,
// reserves its stock, and only then announces order.created, so no consumer
// ever sees an order without holds behind it.
type OrdersHandler struct {
	Orders    *orders.Service
	Inventory *inventory.Service
	Log       *logrus.Entry
}

type createOrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderReq struct {
	UserID string            `json:"userId"`
	Items  []createOrderItem `json:"items"`
}

type shortfallResp struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Snapshot catalog prices into the order lines; the order keeps these
	// even if the catalog changes later.
	lines := make([]orders.Item, 0, len(req.Items))
	demands := make([]inventory.Demand, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			writeError(w, http.StatusBadRequest, "quantity must be positive")
			return
		}
		product, err := h.Inventory.Product(ctx, it.ProductID)
		if errors.Is(err, inventory.ErrProductNotFound) {
			writeError(w, http.StatusBadRequest, "unknown product: "+it.ProductID)
			return
		}
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "inventory unavailable")
			return
		}
		lines = append(lines, orders.Item{ProductID: product.ProductID, Quantity: it.Quantity, PriceCents: product.PriceCents})
		demands = append(demands, inventory.Demand{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	o, err := h.Orders.Create(ctx, req.UserID, lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.Inventory.ReserveForOrder(ctx, o.ID, demands); err != nil {
		var short *inventory.InsufficientStockError
		if errors.As(err, &short) {
			// The published shortfall event fails the order async; the
			// caller learns the details right away.
			items := make([]shortfallResp, 0, len(short.Shortfalls))
			for _, f := range short.Shortfalls {
				items = append(items, shortfallResp{ProductID: f.ProductID, Requested: f.Requested, Available: f.Available})
			}
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   "insufficient stock",
				"orderId": o.ID,
				"items":   items,
			})
			return
		}
		h.Log.WithError(err).WithField("order_id", o.ID).Error("reserve failed")
		writeError(w, http.StatusServiceUnavailable, "could not reserve stock")
		return
	}

	if err := h.Orders.AnnounceCreated(ctx, o); err != nil {
		// Holds exist but the announcement failed; the expiry sweep will
		// release them and cancel the order if the caller gives up.
		h.Log.WithError(err).WithField("order_id", o.ID).Error("publish order.created failed")
		writeError(w, http.StatusServiceUnavailable, "could not publish order")
		return
	}

	writeJSON(w, http.StatusAccepted, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, o)
}
