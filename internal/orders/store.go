package orders

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotFound      = errors.New("orders: order not found")
	ErrAlreadyExists = errors.New("orders: order already exists")
)

// Store persists orders. Transition is the only mutation after Create: it
// swaps the status conditionally and atomically, so two reactors racing the
// same order cannot both win.
type Store interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)

	// Transition moves id from `from` to `to` and reports whether it
	// applied. false with a nil error means the order was no longer in
	// `from`. A non-empty paymentID is recorded on the order as part of
	// the same write.
	Transition(ctx context.Context, id string, from, to Status, paymentID string) (bool, error)
}
