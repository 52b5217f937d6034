package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrProductNotFound = errors.New("inventory: product not found")
	ErrProductExists   = errors.New("inventory: product already exists")
)

// Demand is one order line stripped to what the ledger needs.
type Demand struct {
	ProductID string
	Quantity  int
}

// Shortfall reports one product that could not cover its demand.
type Shortfall struct {
	ProductID string
	Requested int
	Available int
}

// InsufficientStockError lists every shortfall of a rejected reservation,
// not just the first, so the caller can report all of them at once.
type InsufficientStockError struct {
	OrderID    string
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s requested %d available %d", s.ProductID, s.Requested, s.Available))
	}
	return fmt.Sprintf("inventory: insufficient stock for order %s: %s", e.OrderID, strings.Join(parts, ", "))
}

// Ledger owns product stock and the reservations held against it.
//
// Reserve is all or nothing: either every demand is held and Reserved grows
// by the demanded amounts, or nothing changes and an InsufficientStockError
// reports every shortfall. A repeated Reserve for an order that already has
// reservations returns the existing ones unchanged.
//
// Confirm deducts confirmed holds from stock on hand; Release returns holds
// to the available pool. Both report how many reservations they moved and
// are no-ops on orders whose reservations are already terminal.
type Ledger interface {
	AddItem(ctx context.Context, item Item) error
	Item(ctx context.Context, productID string) (Item, error)
	Items(ctx context.Context) ([]Item, error)

	Reserve(ctx context.Context, orderID string, demands []Demand, ttl time.Duration) ([]Reservation, error)
	Confirm(ctx context.Context, orderID string) (int, error)
	Release(ctx context.Context, orderID string) (int, error)

	// SweepExpired releases every active reservation that expired at or
	// before the cutoff, one order at a time, and returns the ids of the
	// orders whose stock was returned.
	SweepExpired(ctx context.Context, cutoff time.Time) ([]string, error)
}

// normalizeDemands merges duplicate products and sorts lines by product id,
// which also fixes the lock order for stores that lock per row.
func normalizeDemands(demands []Demand) []Demand {
	merged := make(map[string]int, len(demands))
	for _, d := range demands {
		merged[d.ProductID] += d.Quantity
	}
	out := make([]Demand, 0, len(merged))
	for pid, q := range merged {
		out = append(out, Demand{ProductID: pid, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
