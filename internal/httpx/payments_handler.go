package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weirdTDD/orderflow/internal/payments"
)

// PaymentReader is the read slice of the payments store; both the store
// implementations and the processor satisfy it.
type PaymentReader interface {
	ByOrder(ctx context.Context, orderID string) ([]payments.Payment, error)
}

type PaymentsHandler struct {
	Payments PaymentReader
	Log      *logrus.Entry
}

func (h *PaymentsHandler) Register(r *chi.Mux) {
	r.Get("/payments/order/{orderID}", h.byOrder)
}

func (h *PaymentsHandler) byOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Payments.ByOrder(ctx, chi.URLParam(r, "orderID"))
	if errors.Is(err, payments.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no payments for order")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
