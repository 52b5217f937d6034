package orders

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*Order)}
}

func (s *MemoryStore) Create(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return ErrAlreadyExists
	}
	cp := o
	cp.Items = append([]Item(nil), o.Items...)
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	return cp, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to Status, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	if paymentID != "" {
		o.PaymentID = paymentID
	}
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}
