package order

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusPaid       Status = "paid"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

const (
	RoleBuyer  = "buyer"
	RoleFarmer = "farmer"
	RoleAdmin  = "admin"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyOrder        = errors.New("order must have at least one item")
	ErrValidation        = errors.New("order validation failed")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrOrderCancelled    = errors.New("order is already cancelled")
	ErrForbidden         = errors.New("actor may not act on this order")
	ErrConflict          = errors.New("order state conflict")
	ErrVersionConflict   = errors.New("order was modified concurrently")
)

// validTransitions defines the forward-only status graph. Cancellation is not
// listed here: it is its own operation, allowed only from pending. Paid is
// not a target either: it is entered only at creation, by the payment
// reconciler, on a verified gateway event. An order paid through the gateway
// can still move through fulfilment.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
	StatusPaid:       {StatusProcessing, StatusShipped, StatusDelivered},
	StatusDelivered:  {}, // terminal state
	StatusCancelled:  {}, // terminal state
}

// LineItem is one ordered line. Immutable once the order is created.
type LineItem struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unit_price"`
	FarmerID  string `json:"farmer_id"`
}

type Order struct {
	ID            string        `json:"id"`
	BuyerID       string        `json:"buyer_id"`
	Items         []LineItem    `json:"items"`
	Total         int           `json:"total"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Version       int           `json:"version"` // bumped on every status mutation
}

// Actor is the verified identity a request acts as.
type Actor struct {
	ID   string
	Role string
}

func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// transitionError returns an appropriate error for an invalid transition.
func (o *Order) transitionError(target Status) error {
	if o.Status == StatusCancelled {
		return ErrOrderCancelled
	}
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, o.Status, target)
}

// ContainsFarmer reports whether the farmer owns at least one line item.
func (o *Order) ContainsFarmer(farmerID string) bool {
	for _, it := range o.Items {
		if it.FarmerID == farmerID {
			return true
		}
	}
	return false
}

// IsParticipant reports whether the actor is the buyer, a line-item farmer,
// or an admin.
func (o *Order) IsParticipant(actor Actor) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleFarmer:
		return o.ContainsFarmer(actor.ID)
	default:
		return o.BuyerID == actor.ID
	}
}

// ComputeTotal sums quantity times unit price over the line items.
func ComputeTotal(items []LineItem) int {
	total := 0
	for _, it := range items {
		total += it.Quantity * it.UnitPrice
	}
	return total
}

// ValidateItems enforces the creation invariants: at least one line, positive
// quantities, positive resolved prices.
func ValidateItems(items []LineItem) error {
	if len(items) == 0 {
		return ErrEmptyOrder
	}
	for _, it := range items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: line item missing product id", ErrValidation)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: product %s quantity must be positive", ErrValidation, it.ProductID)
		}
		if it.UnitPrice <= 0 {
			return fmt.Errorf("%w: product %s unit price must be positive", ErrValidation, it.ProductID)
		}
	}
	if ComputeTotal(items) <= 0 {
		return fmt.Errorf("%w: order total must be positive", ErrValidation)
	}
	return nil
}
