package order

import (
	"context"
	"sync"
	"time"
)

// Repository persists orders. The stored record is the single source of truth
// for an order's status: mutators re-check it via the version-guarded update
// instead of trusting an in-memory copy.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)

	// Delete removes an order that never became visible as committed.
	// Only used to compensate a failed creation.
	Delete(ctx context.Context, id string) error

	// UpdateStatus sets the status (and optionally the payment status) if and
	// only if the stored version still matches expectedVersion. Returns
	// ErrVersionConflict otherwise, so the caller can re-load and re-check.
	UpdateStatus(ctx context.Context, id string, status Status, paymentStatus PaymentStatus, expectedVersion int) error

	ListByBuyer(ctx context.Context, buyerID string) ([]*Order, error)
	ListByFarmer(ctx context.Context, farmerID string) ([]*Order, error)
}

// MemoryRepository is the in-memory Repository used by tests and
// standalone runs.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*Order)}
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	return &c
}

func (r *MemoryRepository) Create(ctx context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; exists {
		return ErrConflict
	}
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, id)
	return nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status Status, paymentStatus PaymentStatus, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Version != expectedVersion {
		return ErrVersionConflict
	}
	o.Status = status
	if paymentStatus != "" {
		o.PaymentStatus = paymentStatus
	}
	o.Version++
	o.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) ListByBuyer(ctx context.Context, buyerID string) ([]*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Order
	for _, o := range r.orders {
		if o.BuyerID == buyerID {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListByFarmer(ctx context.Context, farmerID string) ([]*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Order
	for _, o := range r.orders {
		if o.ContainsFarmer(farmerID) {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}
