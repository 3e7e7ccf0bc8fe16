package stock

import (
	"context"
	"errors"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Record holds the available quantity and unit price for one product.
// Quantity never goes below zero.
type Record struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int    `json:"price"`
}

// Store is the authoritative stock counter. Reserve must be a single atomic
// compare-and-decrement; a separate read-then-write is not an acceptable
// implementation because it loses updates under concurrent orders.
type Store interface {
	// Reserve decrements quantity by qty if at least qty is available.
	// Returns an error wrapping ErrInsufficientStock (naming the product)
	// when the check fails, leaving the counter untouched.
	Reserve(ctx context.Context, productID string, qty int) error

	// Release increments quantity by qty. Used for cancellation and for
	// compensating partially reserved orders.
	Release(ctx context.Context, productID string, qty int) error

	Get(ctx context.Context, productID string) (Record, error)
	Put(ctx context.Context, rec Record) error
}
