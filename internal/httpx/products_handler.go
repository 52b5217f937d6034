package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weirdTDD/orderflow/internal/inventory"
)

type ProductsHandler struct {
	Inventory *inventory.Service
	Log       *logrus.Entry
}

type createProductReq struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

type productResp struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

func toProductResp(it inventory.Item) productResp {
	return productResp{
		ProductID: it.ProductID,
		Name:      it.Name,
		Price:     it.PriceCents,
		Quantity:  it.Quantity,
		Reserved:  it.Reserved,
		Available: it.Available(),
	}
}

func (h *ProductsHandler) Register(r *chi.Mux) {
	r.Post("/products", h.createProduct)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" || req.Quantity < 0 || req.Price < 0 {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}
	if req.ProductID == "" {
		req.ProductID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	item := inventory.Item{
		ProductID:  req.ProductID,
		Name:       req.Name,
		PriceCents: req.Price,
		Quantity:   req.Quantity,
	}
	if err := h.Inventory.AddProduct(ctx, item); err != nil {
		if errors.Is(err, inventory.ErrProductExists) {
			writeError(w, http.StatusConflict, "product already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toProductResp(item))
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Inventory.Products(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]productResp, 0, len(items))
	for _, it := range items {
		out = append(out, toProductResp(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	it, err := h.Inventory.Product(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, inventory.ErrProductNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toProductResp(it))
}
