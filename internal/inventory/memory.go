package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MemoryLedger keeps the whole ledger behind one mutex, so every operation
// observes and changes stock atomically.
type MemoryLedger struct {
	mu           sync.Mutex
	items        map[string]*Item
	reservations map[string][]*Reservation // keyed by order id
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		items:        make(map[string]*Item),
		reservations: make(map[string][]*Reservation),
	}
}

func (l *MemoryLedger) AddItem(_ context.Context, item Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[item.ProductID]; ok {
		return ErrProductExists
	}
	cp := item
	l.items[item.ProductID] = &cp
	return nil
}

func (l *MemoryLedger) Item(_ context.Context, productID string) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[productID]
	if !ok {
		return Item{}, ErrProductNotFound
	}
	return *it, nil
}

func (l *MemoryLedger) Items(_ context.Context) ([]Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, 0, len(l.items))
	for _, it := range l.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (l *MemoryLedger) Reserve(_ context.Context, orderID string, demands []Demand, ttl time.Duration) ([]Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A redelivered reserve for a known order returns the existing holds
	// untouched.
	if existing := l.reservations[orderID]; len(existing) > 0 {
		return snapshotReservations(existing), nil
	}

	demands = normalizeDemands(demands)

	// Check every line before holding anything, so a rejection reports all
	// shortfalls and leaves the ledger unchanged.
	var shorts []Shortfall
	for _, d := range demands {
		it, ok := l.items[d.ProductID]
		if !ok {
			return nil, errors.Wrapf(ErrProductNotFound, "product %s", d.ProductID)
		}
		if it.Available() < d.Quantity {
			shorts = append(shorts, Shortfall{ProductID: d.ProductID, Requested: d.Quantity, Available: it.Available()})
		}
	}
	if len(shorts) > 0 {
		return nil, &InsufficientStockError{OrderID: orderID, Shortfalls: shorts}
	}

	now := time.Now().UTC()
	held := make([]*Reservation, 0, len(demands))
	for _, d := range demands {
		l.items[d.ProductID].Reserved += d.Quantity
		held = append(held, &Reservation{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			ProductID: d.ProductID,
			Quantity:  d.Quantity,
			Status:    StatusReserved,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		})
	}
	l.reservations[orderID] = held
	return snapshotReservations(held), nil
}

func (l *MemoryLedger) Confirm(_ context.Context, orderID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.reservations[orderID] {
		if r.Status != StatusReserved {
			continue
		}
		it := l.items[r.ProductID]
		it.Quantity -= r.Quantity
		it.Reserved -= r.Quantity
		r.Status = StatusConfirmed
		n++
	}
	return n, nil
}

func (l *MemoryLedger) Release(_ context.Context, orderID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.reservations[orderID] {
		if r.Status != StatusReserved {
			continue
		}
		l.items[r.ProductID].Reserved -= r.Quantity
		r.Status = StatusReleased
		n++
	}
	return n, nil
}

func (l *MemoryLedger) SweepExpired(_ context.Context, cutoff time.Time) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var released []string
	for orderID, rs := range l.reservations {
		n := 0
		for _, r := range rs {
			if r.Status != StatusReserved || r.ExpiresAt.After(cutoff) {
				continue
			}
			l.items[r.ProductID].Reserved -= r.Quantity
			r.Status = StatusReleased
			n++
		}
		if n > 0 {
			released = append(released, orderID)
		}
	}
	sort.Strings(released)
	return released, nil
}

func snapshotReservations(rs []*Reservation) []Reservation {
	out := make([]Reservation, 0, len(rs))
	for _, r := range rs {
		out = append(out, *r)
	}
	return out
}
