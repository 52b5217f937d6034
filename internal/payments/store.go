package payments

import (
	"context"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("payments: no payments for order")

type Store interface {
	Create(ctx context.Context, p Payment) error
	// ByOrder lists an order's attempts, oldest first.
	ByOrder(ctx context.Context, orderID string) ([]Payment, error)
	// Successful returns the order's successful payment when one exists.
	Successful(ctx context.Context, orderID string) (Payment, bool, error)
}
