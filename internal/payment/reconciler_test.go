package payment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/market-settlement/internal/domain/ledger"
	"github.com/example/market-settlement/internal/domain/order"
	"github.com/example/market-settlement/internal/domain/stock"
	"github.com/example/market-settlement/internal/events"
	"github.com/example/market-settlement/internal/idempotency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "webhook-test-secret"

type fakeGateway struct {
	mu       sync.Mutex
	sessions map[string]Session
	getCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]Session)}
}

func (g *fakeGateway) CreateSession(ctx context.Context, buyerID string, items []order.LineItem) (Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Session{
		ID:     "cs_test_1",
		URL:    "https://gateway.example/pay/cs_test_1",
		Amount: order.ComputeTotal(items),
		Status: "open",
	}
	g.sessions[s.ID] = s
	return s, nil
}

func (g *fakeGateway) GetSession(ctx context.Context, sessionID string) (Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	s, ok := g.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

type capturePublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *capturePublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *capturePublisher) countByType(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.envs {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type reconcilerEnv struct {
	rec     *Reconciler
	orders  *order.MemoryRepository
	stock   *stock.MemoryStore
	ledger  *ledger.MemoryLedger
	records *MemoryRecordStore
	gateway *fakeGateway
	pub     *capturePublisher
}

func newReconcilerEnv(t *testing.T) *reconcilerEnv {
	t.Helper()
	env := &reconcilerEnv{
		orders:  order.NewMemoryRepository(),
		stock:   stock.NewMemoryStore(),
		ledger:  ledger.NewMemoryLedger(),
		records: NewMemoryRecordStore(),
		gateway: newFakeGateway(),
		pub:     &capturePublisher{},
	}
	ctx := context.Background()
	require.NoError(t, env.stock.Put(ctx, stock.Record{ProductID: "prod-1", Quantity: 10, Price: 500}))

	orderSvc := order.NewService(env.orders, env.stock, env.ledger, env.pub, time.Second)
	env.rec = NewReconciler(env.gateway, orderSvc, env.records, idempotency.NewMemoryGuard(), env.pub, testSecret, time.Second)
	return env
}

func testEvent() WebhookEvent {
	return WebhookEvent{
		SessionID:     "sess-abc",
		BuyerID:       "buyer-1",
		Items:         []WebhookItem{{ProductID: "prod-1", Title: "Apples", Quantity: 2, UnitPrice: 500, FarmerID: "farmer-1"}},
		Amount:        1000,
		TransactionID: "txn-42",
	}
}

func signedPayload(t *testing.T, event WebhookEvent) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return payload, Sign(payload, testSecret)
}

func (e *reconcilerEnv) quantity(t *testing.T, productID string) int {
	t.Helper()
	rec, err := e.stock.Get(context.Background(), productID)
	require.NoError(t, err)
	return rec.Quantity
}

// ============================================
// Webhook Tests
// ============================================

func TestHandleWebhook_Success(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	payload, sig := signedPayload(t, testEvent())

	o, err := env.rec.HandleWebhook(ctx, payload, sig)

	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Equal(t, order.PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, 1000, o.Total)

	// Stock deducted once
	assert.Equal(t, 8, env.quantity(t, "prod-1"))

	// Payment record keyed by the external session id
	rec, err := env.records.GetBySession(ctx, "sess-abc")
	require.NoError(t, err)
	assert.Equal(t, o.ID, rec.OrderID)
	assert.Equal(t, "txn-42", rec.TransactionID)

	// Ledger committed the transaction
	entries, _ := env.ledger.Entries(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, o.ID, entries[0].OrderID)

	assert.Equal(t, 1, env.pub.countByType(events.TypePaymentSettled))
}

func TestHandleWebhook_DuplicateDelivery(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	payload, sig := signedPayload(t, testEvent())

	first, err := env.rec.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := env.rec.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Nil(t, second)

	// Exactly one order, one record, one deduction
	orders, _ := env.orders.ListByBuyer(ctx, "buyer-1")
	assert.Len(t, orders, 1)
	records, _ := env.records.List(ctx)
	assert.Len(t, records, 1)
	assert.Equal(t, 8, env.quantity(t, "prod-1"))
	assert.Equal(t, 1, env.pub.countByType(events.TypePaymentSettled))
}

func TestHandleWebhook_ConcurrentDuplicates(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	payload, sig := signedPayload(t, testEvent())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.rec.HandleWebhook(ctx, payload, sig)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	orders, _ := env.orders.ListByBuyer(ctx, "buyer-1")
	assert.Len(t, orders, 1)
	assert.Equal(t, 8, env.quantity(t, "prod-1"))
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	env := newReconcilerEnv(t)
	payload, _ := signedPayload(t, testEvent())

	o, err := env.rec.HandleWebhook(context.Background(), payload, "0000")

	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Nil(t, o)

	// No side effects at all
	assert.Equal(t, 10, env.quantity(t, "prod-1"))
	records, _ := env.records.List(context.Background())
	assert.Empty(t, records)
}

func TestHandleWebhook_TamperedPayload(t *testing.T) {
	env := newReconcilerEnv(t)
	payload, sig := signedPayload(t, testEvent())
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] ^= 0xff

	_, err := env.rec.HandleWebhook(context.Background(), tampered, sig)

	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestHandleWebhook_MalformedPayload(t *testing.T) {
	env := newReconcilerEnv(t)
	payload := []byte("{not json")
	sig := Sign(payload, testSecret)

	_, err := env.rec.HandleWebhook(context.Background(), payload, sig)

	assert.ErrorIs(t, err, order.ErrValidation)
}

func TestHandleWebhook_AmountMismatch(t *testing.T) {
	env := newReconcilerEnv(t)
	event := testEvent()
	event.Amount = 999
	payload, sig := signedPayload(t, event)

	_, err := env.rec.HandleWebhook(context.Background(), payload, sig)

	assert.ErrorIs(t, err, order.ErrValidation)
	assert.Equal(t, 10, env.quantity(t, "prod-1"))
}

func TestHandleWebhook_InsufficientStockAllowsRetry(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	event := testEvent()
	event.Items[0].Quantity = 20
	event.Amount = 20 * 500
	payload, sig := signedPayload(t, event)

	_, err := env.rec.HandleWebhook(ctx, payload, sig)
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)

	// The guard reservation was released: after a restock, redelivery works.
	require.NoError(t, env.stock.Put(ctx, stock.Record{ProductID: "prod-1", Quantity: 25, Price: 500}))
	o, err := env.rec.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	require.NotNil(t, o)
}

type flakyRecordStore struct {
	*MemoryRecordStore
	failures int
}

func (s *flakyRecordStore) Create(ctx context.Context, rec Record) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("record store unavailable")
	}
	return s.MemoryRecordStore.Create(ctx, rec)
}

// A transient record-store failure must not lose the PaymentRecord of a
// settled session.
func TestHandleWebhook_RecordWriteRetried(t *testing.T) {
	env := newReconcilerEnv(t)
	flaky := &flakyRecordStore{MemoryRecordStore: env.records, failures: 2}
	orderSvc := order.NewService(env.orders, env.stock, env.ledger, env.pub, time.Second)
	rec := NewReconciler(env.gateway, orderSvc, flaky, idempotency.NewMemoryGuard(), env.pub, testSecret, time.Second)

	payload, sig := signedPayload(t, testEvent())
	o, err := rec.HandleWebhook(context.Background(), payload, sig)

	require.NoError(t, err)
	require.NotNil(t, o)

	stored, err := env.records.GetBySession(context.Background(), "sess-abc")
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.OrderID)
	assert.Equal(t, 8, env.quantity(t, "prod-1"))
}

// ============================================
// Session Tests
// ============================================

func TestCreateSession(t *testing.T) {
	env := newReconcilerEnv(t)
	items := []order.LineItem{{ProductID: "prod-1", Quantity: 2, UnitPrice: 500, FarmerID: "farmer-1"}}

	s, err := env.rec.CreateSession(context.Background(), "buyer-1", items)

	require.NoError(t, err)
	assert.Equal(t, 1000, s.Amount)
	assert.NotEmpty(t, s.URL)
}

func TestCreateSession_EmptyCart(t *testing.T) {
	env := newReconcilerEnv(t)

	_, err := env.rec.CreateSession(context.Background(), "buyer-1", nil)

	assert.ErrorIs(t, err, order.ErrEmptyOrder)
}

func TestVerifySession_ReadOnly(t *testing.T) {
	env := newReconcilerEnv(t)
	ctx := context.Background()
	created, err := env.rec.CreateSession(ctx, "buyer-1",
		[]order.LineItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: 500, FarmerID: "farmer-1"}})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s, err := env.rec.VerifySession(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.Amount, s.Amount)
	}
	assert.Equal(t, 3, env.gateway.getCalls)

	// Verification never touched stock
	assert.Equal(t, 10, env.quantity(t, "prod-1"))
}

func TestVerifySession_NotFound(t *testing.T) {
	env := newReconcilerEnv(t)

	_, err := env.rec.VerifySession(context.Background(), "ghost")

	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// ============================================
// Signature Tests
// ============================================

func TestSign_Deterministic(t *testing.T) {
	payload := []byte(`{"session_id":"sess-1"}`)

	assert.Equal(t, Sign(payload, testSecret), Sign(payload, testSecret))
	assert.NotEqual(t, Sign(payload, testSecret), Sign(payload, "other-secret"))
	assert.Len(t, Sign(payload, testSecret), 64)
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"session_id":"sess-1"}`)
	sig := Sign(payload, testSecret)

	assert.NoError(t, VerifySignature(payload, sig, testSecret))
	assert.ErrorIs(t, VerifySignature(payload, sig, "wrong"), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature([]byte("other"), sig, testSecret), ErrBadSignature)
}
