package inventory

import (
	"context"
	"sync"
)

// MemoryStore is an in-process CounterStore used by tests and local runs.
// The mutex only guards the map; the check-then-write race the ledger must
// survive is preserved because Get and CompareAndSwap are separate calls.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

var _ CounterStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore seeded with the given counters.
func NewMemoryStore(seed map[string]int64) *MemoryStore {
	counters := make(map[string]int64, len(seed))
	for k, v := range seed {
		counters[k] = v
	}
	return &MemoryStore{counters: counters}
}

// Get implements CounterStore.
func (s *MemoryStore) Get(_ context.Context, skuID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.counters[skuID]
	if !ok {
		return 0, ErrNotFound
	}
	return v, nil
}

// Delete removes a counter. Tests use it to simulate a SKU disappearing
// between operations.
func (s *MemoryStore) Delete(skuID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, skuID)
}

// CompareAndSwap implements CounterStore.
func (s *MemoryStore) CompareAndSwap(_ context.Context, skuID string, expected, next int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.counters[skuID]
	if !ok {
		return false, ErrNotFound
	}
	if v != expected {
		return false, nil
	}
	s.counters[skuID] = next
	return true, nil
}
