package product

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	products map[string]*Product
}

// NewMemoryStore creates an in-memory product store.
func NewMemoryStore(products ...*Product) *MemoryStore {
	m := &MemoryStore{products: make(map[string]*Product)}
	for _, p := range products {
		cp := *p
		m.products[cp.ID] = &cp
	}
	return m
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) IncrementSaleCount(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return false, nil
	}
	p.SaleCount++
	return true, nil
}

// SaleCount reports the current counter, for assertions in tests.
func (m *MemoryStore) SaleCount(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		return p.SaleCount
	}
	return 0
}

var _ Store = (*MemoryStore)(nil)
