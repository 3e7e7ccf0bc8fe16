package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/market-settlement/internal/domain/order"
	"github.com/example/market-settlement/internal/events"
	"github.com/example/market-settlement/internal/idempotency"
)

// WebhookEvent is the gateway's asynchronous payment notification. Delivery
// is at-least-once; the external session id is the idempotency key.
type WebhookEvent struct {
	SessionID     string        `json:"session_id"`
	BuyerID       string        `json:"buyer_id"`
	Items         []WebhookItem `json:"items"`
	Amount        int           `json:"amount"`
	TransactionID string        `json:"transaction_id"`
}

type WebhookItem struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unit_price"`
	FarmerID  string `json:"farmer_id"`
}

// maxRecordRetries bounds payment-record write retries once the order has
// already committed.
const maxRecordRetries = 3

// Reconciler consumes gateway payment events and drives the order lifecycle
// exactly once per external transaction.
type Reconciler struct {
	gateway        Gateway
	orders         *order.Service
	records        RecordStore
	guard          idempotency.Guard
	publisher      events.Publisher
	webhookSecret  string
	gatewayTimeout time.Duration
}

func NewReconciler(gw Gateway, orders *order.Service, records RecordStore, guard idempotency.Guard, pub events.Publisher, webhookSecret string, gatewayTimeout time.Duration) *Reconciler {
	if gatewayTimeout <= 0 {
		gatewayTimeout = 5 * time.Second
	}
	return &Reconciler{
		gateway:        gw,
		orders:         orders,
		records:        records,
		guard:          guard,
		publisher:      pub,
		webhookSecret:  webhookSecret,
		gatewayTimeout: gatewayTimeout,
	}
}

// HandleWebhook processes one delivery of a payment event. Duplicate
// deliveries of a processed session succeed without side effects; only a
// signature failure is an error the gateway should retry into.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (*order.Order, error) {
	if err := VerifySignature(payload, signature, r.webhookSecret); err != nil {
		return nil, err
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook payload", order.ErrValidation)
	}
	if event.SessionID == "" || event.BuyerID == "" {
		return nil, fmt.Errorf("%w: webhook event missing session or buyer id", order.ErrValidation)
	}

	items := toLineItems(event.Items)
	if err := order.ValidateItems(items); err != nil {
		return nil, err
	}
	if event.Amount != order.ComputeTotal(items) {
		return nil, fmt.Errorf("%w: amount %d does not match line items", order.ErrValidation, event.Amount)
	}

	// Reserve the session id before any side effect. A lost race or an
	// already-committed session is a safe no-op, not a double deduction.
	if err := r.guard.Begin(ctx, event.SessionID); err != nil {
		if errors.Is(err, idempotency.ErrDuplicate) {
			log.Printf("[Reconciler] Duplicate delivery for session %s, skipping", event.SessionID)
			return nil, nil
		}
		return nil, err
	}

	o, _, err := r.orders.CreateSettled(ctx, event.BuyerID, items)
	if err != nil {
		// Free the reservation so the gateway's redelivery can retry.
		if rerr := r.guard.Release(ctx, event.SessionID); rerr != nil {
			log.Printf("[Reconciler] Failed to release session %s: %v", event.SessionID, rerr)
		}
		return nil, err
	}

	rec := Record{
		OrderID:           o.ID,
		ExternalSessionID: event.SessionID,
		Amount:            event.Amount,
		Status:            "completed",
		TransactionID:     event.TransactionID,
		CreatedAt:         time.Now(),
	}
	if err := r.persistRecord(ctx, rec); err != nil {
		// The order is committed, so the guard must still commit: a
		// redelivery would settle the session a second time. The missing
		// record is logged for manual reconciliation.
		log.Printf("[Reconciler] Failed to persist payment record for session %s: %v", event.SessionID, err)
	}

	if err := r.guard.Commit(ctx, event.SessionID); err != nil {
		log.Printf("[Reconciler] Failed to commit session %s: %v", event.SessionID, err)
	}

	r.publishSettled(ctx, o, event)
	return o, nil
}

// persistRecord retries the record write before the guard commits, so a
// transient store failure does not leave a settled session without its
// PaymentRecord.
func (r *Reconciler) persistRecord(ctx context.Context, rec Record) error {
	var err error
	for attempt := 0; attempt < maxRecordRetries; attempt++ {
		if err = r.records.Create(ctx, rec); err == nil {
			return nil
		}
		log.Printf("[Reconciler] Payment record write for session %s failed (attempt %d): %v",
			rec.ExternalSessionID, attempt+1, err)
	}
	return err
}

// CreateSession asks the gateway for a checkout session covering the cart.
func (r *Reconciler) CreateSession(ctx context.Context, buyerID string, items []order.LineItem) (Session, error) {
	if err := order.ValidateItems(items); err != nil {
		return Session{}, err
	}
	gctx, cancel := context.WithTimeout(ctx, r.gatewayTimeout)
	defer cancel()
	return r.gateway.CreateSession(gctx, buyerID, items)
}

// VerifySession is a read-only query against the gateway; it has no side
// effects and is safe to call any number of times.
func (r *Reconciler) VerifySession(ctx context.Context, sessionID string) (Session, error) {
	gctx, cancel := context.WithTimeout(ctx, r.gatewayTimeout)
	defer cancel()
	return r.gateway.GetSession(gctx, sessionID)
}

func (r *Reconciler) publishSettled(ctx context.Context, o *order.Order, event WebhookEvent) {
	if r.publisher == nil {
		return
	}
	payload := events.PaymentSettled{
		OrderID:       o.ID,
		BuyerID:       o.BuyerID,
		SessionID:     event.SessionID,
		Amount:        event.Amount,
		TransactionID: event.TransactionID,
		Items:         toEventItems(o.Items),
		SettledAt:     time.Now(),
	}
	env, err := events.New(events.TypePaymentSettled, o.ID, payload)
	if err != nil {
		log.Printf("[Reconciler] Failed to encode settled event for order %s: %v", o.ID, err)
		return
	}
	if err := r.publisher.Publish(ctx, env); err != nil {
		log.Printf("[Reconciler] Failed to publish settled event for order %s: %v", o.ID, err)
	}
}

func toLineItems(items []WebhookItem) []order.LineItem {
	out := make([]order.LineItem, len(items))
	for i, it := range items {
		out[i] = order.LineItem{
			ProductID: it.ProductID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			FarmerID:  it.FarmerID,
		}
	}
	return out
}

func toEventItems(items []order.LineItem) []events.Item {
	out := make([]events.Item, len(items))
	for i, it := range items {
		out[i] = events.Item{
			ProductID: it.ProductID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			FarmerID:  it.FarmerID,
		}
	}
	return out
}
