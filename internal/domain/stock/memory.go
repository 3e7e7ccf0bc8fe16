package stock

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps stock counters in memory. Each product has its own lock
// so orders touching disjoint products proceed in parallel; only orders
// contending on the same product serialize.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

type memoryRecord struct {
	mu       sync.Mutex
	quantity int
	price    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

func (s *MemoryStore) lookup(productID string) (*memoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[productID]
	return rec, ok
}

func (s *MemoryStore) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	rec, ok := s.lookup(productID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.quantity < qty {
		return fmt.Errorf("%w: product %s (requested %d, available %d)",
			ErrInsufficientStock, productID, qty, rec.quantity)
	}
	rec.quantity -= qty
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	rec, ok := s.lookup(productID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	rec.mu.Lock()
	rec.quantity += qty
	rec.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, productID string) (Record, error) {
	rec, ok := s.lookup(productID)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return Record{ProductID: productID, Quantity: rec.quantity, Price: rec.price}, nil
}

func (s *MemoryStore) Put(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[r.ProductID]; ok {
		existing.mu.Lock()
		existing.quantity = r.Quantity
		existing.price = r.Price
		existing.mu.Unlock()
		return nil
	}
	s.records[r.ProductID] = &memoryRecord{quantity: r.Quantity, price: r.Price}
	return nil
}
