package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TypeOrderCreated       = "OrderCreated"
	TypeOrderCancelled     = "OrderCancelled"
	TypeOrderStatusUpdated = "OrderStatusUpdated"
	TypePaymentSettled     = "PaymentSettled"
)

// Envelope wraps a settlement event for the notification topic.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	OrderID   string          `json:"order_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher delivers committed settlement events. Dispatch is fire-and-forget
// relative to the commit path: a publish failure is logged by the caller and
// never rolls back the committed order.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// New builds an envelope, marshalling the payload.
func New(eventType, orderID string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		OrderID:   orderID,
		Data:      raw,
		Timestamp: time.Now(),
	}, nil
}

// Item mirrors an order line for notification payloads.
type Item struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unit_price"`
	FarmerID  string `json:"farmer_id"`
}

type OrderCreated struct {
	OrderID   string    `json:"order_id"`
	BuyerID   string    `json:"buyer_id"`
	Items     []Item    `json:"items"`
	Total     int       `json:"total"`
	ChainHash string    `json:"chain_hash"`
	CreatedAt time.Time `json:"created_at"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	BuyerID     string    `json:"buyer_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type OrderStatusUpdated struct {
	OrderID   string    `json:"order_id"`
	BuyerID   string    `json:"buyer_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PaymentSettled struct {
	OrderID       string    `json:"order_id"`
	BuyerID       string    `json:"buyer_id"`
	SessionID     string    `json:"session_id"`
	Amount        int       `json:"amount"`
	TransactionID string    `json:"transaction_id"`
	Items         []Item    `json:"items"`
	SettledAt     time.Time `json:"settled_at"`
}
