package notification

import (
	"context"
	"testing"
	"time"

	"github.com/example/market-settlement/internal/email"
	"github.com/example/market-settlement/internal/events"
	"github.com/example/market-settlement/internal/userdir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	kind    string
	to      string
	orderID string
	amount  int
	status  string
	items   []email.OrderItem
}

type fakeSender struct {
	sent []sentMail
}

func (s *fakeSender) SendOrderConfirmation(to, orderID string, total int, items []email.OrderItem) error {
	s.sent = append(s.sent, sentMail{kind: "confirmation", to: to, orderID: orderID, amount: total, items: items})
	return nil
}

func (s *fakeSender) SendFarmerSale(to, orderID string, earnings int, items []email.OrderItem) error {
	s.sent = append(s.sent, sentMail{kind: "sale", to: to, orderID: orderID, amount: earnings, items: items})
	return nil
}

func (s *fakeSender) SendStatusUpdate(to, orderID, status string) error {
	s.sent = append(s.sent, sentMail{kind: "status", to: to, orderID: orderID, status: status})
	return nil
}

func (s *fakeSender) SendPaymentReceipt(to, orderID string, amount int) error {
	s.sent = append(s.sent, sentMail{kind: "receipt", to: to, orderID: orderID, amount: amount})
	return nil
}

func (s *fakeSender) SendOrderCancelled(to, orderID string) error {
	s.sent = append(s.sent, sentMail{kind: "cancelled", to: to, orderID: orderID})
	return nil
}

func (s *fakeSender) byKind(kind string) []sentMail {
	var out []sentMail
	for _, m := range s.sent {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func newTestHandler(t *testing.T) (*Handler, *fakeSender) {
	t.Helper()
	users := userdir.NewMemoryDirectory()
	ctx := context.Background()
	require.NoError(t, users.Create(ctx, userdir.Profile{ID: "buyer-1", Email: "buyer@example.com", Role: "buyer"}))
	require.NoError(t, users.Create(ctx, userdir.Profile{ID: "farmer-1", Email: "farmer1@example.com", Role: "farmer"}))
	require.NoError(t, users.Create(ctx, userdir.Profile{ID: "farmer-2", Email: "farmer2@example.com", Role: "farmer"}))

	sender := &fakeSender{}
	return NewHandler(sender, users), sender
}

func encodeEvent(t *testing.T, eventType, orderID string, data any) events.Envelope {
	t.Helper()
	env, err := events.New(eventType, orderID, data)
	require.NoError(t, err)
	return env
}

func TestHandleEvent_OrderCreated(t *testing.T) {
	handler, sender := newTestHandler(t)

	env := encodeEvent(t, events.TypeOrderCreated, "order-1", events.OrderCreated{
		OrderID: "order-1",
		BuyerID: "buyer-1",
		Items: []events.Item{
			{ProductID: "prod-1", Title: "Apples", Quantity: 2, UnitPrice: 500, FarmerID: "farmer-1"},
			{ProductID: "prod-2", Title: "Honey", Quantity: 1, UnitPrice: 1200, FarmerID: "farmer-2"},
			{ProductID: "prod-3", Title: "Pears", Quantity: 3, UnitPrice: 400, FarmerID: "farmer-1"},
		},
		Total:     3400,
		CreatedAt: time.Now(),
	})

	err := handler.HandleEvent(context.Background(), env)

	require.NoError(t, err)

	confirmations := sender.byKind("confirmation")
	require.Len(t, confirmations, 1)
	assert.Equal(t, "buyer@example.com", confirmations[0].to)
	assert.Equal(t, 3400, confirmations[0].amount)
	assert.Len(t, confirmations[0].items, 3)

	// One sale email per farmer, covering only that farmer's lines
	sales := sender.byKind("sale")
	require.Len(t, sales, 2)
	byTo := map[string]sentMail{}
	for _, m := range sales {
		byTo[m.to] = m
	}
	require.Contains(t, byTo, "farmer1@example.com")
	require.Contains(t, byTo, "farmer2@example.com")
	assert.Equal(t, 2*500+3*400, byTo["farmer1@example.com"].amount)
	assert.Len(t, byTo["farmer1@example.com"].items, 2)
	assert.Equal(t, 1200, byTo["farmer2@example.com"].amount)
	assert.Len(t, byTo["farmer2@example.com"].items, 1)
}

func TestHandleEvent_OrderCreated_UnknownBuyer(t *testing.T) {
	handler, sender := newTestHandler(t)

	env := encodeEvent(t, events.TypeOrderCreated, "order-1", events.OrderCreated{
		OrderID: "order-1",
		BuyerID: "ghost",
		Items:   []events.Item{{ProductID: "prod-1", Quantity: 1, UnitPrice: 500, FarmerID: "farmer-1"}},
		Total:   500,
	})

	// Missing users are skipped, not errors: redelivery would not help
	err := handler.HandleEvent(context.Background(), env)

	require.NoError(t, err)
	assert.Empty(t, sender.byKind("confirmation"))
	assert.Len(t, sender.byKind("sale"), 1)
}

func TestHandleEvent_OrderCancelled(t *testing.T) {
	handler, sender := newTestHandler(t)

	env := encodeEvent(t, events.TypeOrderCancelled, "order-1", events.OrderCancelled{
		OrderID:     "order-1",
		BuyerID:     "buyer-1",
		CancelledAt: time.Now(),
	})

	err := handler.HandleEvent(context.Background(), env)

	require.NoError(t, err)
	cancelled := sender.byKind("cancelled")
	require.Len(t, cancelled, 1)
	assert.Equal(t, "buyer@example.com", cancelled[0].to)
	assert.Equal(t, "order-1", cancelled[0].orderID)
}

func TestHandleEvent_StatusUpdated(t *testing.T) {
	handler, sender := newTestHandler(t)

	env := encodeEvent(t, events.TypeOrderStatusUpdated, "order-1", events.OrderStatusUpdated{
		OrderID:   "order-1",
		BuyerID:   "buyer-1",
		Status:    "shipped",
		UpdatedAt: time.Now(),
	})

	err := handler.HandleEvent(context.Background(), env)

	require.NoError(t, err)
	updates := sender.byKind("status")
	require.Len(t, updates, 1)
	assert.Equal(t, "buyer@example.com", updates[0].to)
	assert.Equal(t, "shipped", updates[0].status)
}

func TestHandleEvent_PaymentSettled(t *testing.T) {
	handler, sender := newTestHandler(t)

	env := encodeEvent(t, events.TypePaymentSettled, "order-1", events.PaymentSettled{
		OrderID:   "order-1",
		BuyerID:   "buyer-1",
		SessionID: "sess-1",
		Amount:    1700,
		SettledAt: time.Now(),
	})

	err := handler.HandleEvent(context.Background(), env)

	require.NoError(t, err)
	receipts := sender.byKind("receipt")
	require.Len(t, receipts, 1)
	assert.Equal(t, "buyer@example.com", receipts[0].to)
	assert.Equal(t, 1700, receipts[0].amount)
}

func TestHandleEvent_IgnoresUnknownTypes(t *testing.T) {
	handler, sender := newTestHandler(t)

	env := encodeEvent(t, "SomethingElse", "order-1", map[string]string{"order_id": "order-1"})

	err := handler.HandleEvent(context.Background(), env)

	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestHandleEvent_MalformedPayload(t *testing.T) {
	handler, sender := newTestHandler(t)

	env := events.Envelope{Type: events.TypeOrderCreated, OrderID: "order-1", Data: []byte("{not json")}

	err := handler.HandleEvent(context.Background(), env)

	assert.Error(t, err)
	assert.Empty(t, sender.sent)
}
