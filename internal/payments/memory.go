package payments

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	byOrder map[string][]Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOrder: make(map[string][]Payment)}
}

func (s *MemoryStore) Create(_ context.Context, p Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOrder[p.OrderID] = append(s.byOrder[p.OrderID], p)
	return nil
}

func (s *MemoryStore) ByOrder(_ context.Context, orderID string) ([]Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Payment(nil), ps...), nil
}

func (s *MemoryStore) Successful(_ context.Context, orderID string) (Payment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byOrder[orderID] {
		if p.Status == StatusSuccess {
			return p, true, nil
		}
	}
	return Payment{}, false, nil
}
