package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/market-settlement/internal/domain/ledger"
	"github.com/example/market-settlement/internal/domain/stock"
	"github.com/example/market-settlement/internal/events"
	"github.com/google/uuid"
)

// maxStatusRetries bounds the optimistic check-then-act retry loop on
// concurrent status mutations.
const maxStatusRetries = 3

// Service owns the order lifecycle. It is the sole writer to the stock store
// and the ledger for a given order: both buyer-initiated creation and
// gateway-initiated settlement funnel through it.
type Service struct {
	repo          Repository
	stock         stock.Store
	ledger        ledger.Ledger
	publisher     events.Publisher
	ledgerTimeout time.Duration
}

func NewService(repo Repository, st stock.Store, lg ledger.Ledger, pub events.Publisher, ledgerTimeout time.Duration) *Service {
	if ledgerTimeout <= 0 {
		ledgerTimeout = 3 * time.Second
	}
	return &Service{
		repo:          repo,
		stock:         st,
		ledger:        lg,
		publisher:     pub,
		ledgerTimeout: ledgerTimeout,
	}
}

// Create commits a buyer-initiated order: validate, reserve stock for every
// line (all-or-nothing), persist the pending order, append the ledger entry.
// Returns the order and the new chain hash. Any failure after reservation
// compensates fully; the client never observes a half-committed order.
func (s *Service) Create(ctx context.Context, buyerID string, items []LineItem) (*Order, string, error) {
	return s.commit(ctx, buyerID, items, StatusPending, PaymentPending)
}

// CreateSettled is the gateway entry transition: the payment already
// succeeded, so the order is born paid. Only the payment reconciler calls it.
func (s *Service) CreateSettled(ctx context.Context, buyerID string, items []LineItem) (*Order, string, error) {
	return s.commit(ctx, buyerID, items, StatusPaid, PaymentCompleted)
}

func (s *Service) commit(ctx context.Context, buyerID string, items []LineItem, status Status, paymentStatus PaymentStatus) (*Order, string, error) {
	if buyerID == "" {
		return nil, "", fmt.Errorf("%w: missing buyer id", ErrValidation)
	}

	resolved, err := s.resolveItems(ctx, items)
	if err != nil {
		return nil, "", err
	}
	if err := ValidateItems(resolved); err != nil {
		return nil, "", err
	}

	if err := s.reserveAll(ctx, resolved); err != nil {
		return nil, "", err
	}

	now := time.Now()
	o := &Order{
		ID:            uuid.New().String(),
		BuyerID:       buyerID,
		Items:         resolved,
		Total:         ComputeTotal(resolved),
		Status:        status,
		PaymentStatus: paymentStatus,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, o); err != nil {
		s.releaseAll(ctx, resolved)
		return nil, "", fmt.Errorf("persist order: %w", err)
	}

	entry, err := s.appendLedger(ctx, o)
	if err != nil {
		// The order must not stay visible without its chain entry.
		s.releaseAll(ctx, resolved)
		if derr := s.repo.Delete(ctx, o.ID); derr != nil {
			log.Printf("[Order] Failed to remove order %s after ledger failure: %v", o.ID, derr)
		}
		return nil, "", fmt.Errorf("ledger append: %w", err)
	}

	s.publish(ctx, events.TypeOrderCreated, o.ID, events.OrderCreated{
		OrderID:   o.ID,
		BuyerID:   o.BuyerID,
		Items:     toEventItems(o.Items),
		Total:     o.Total,
		ChainHash: entry.CurrentHash,
		CreatedAt: o.CreatedAt,
	})

	return o, entry.CurrentHash, nil
}

// resolveItems fills unit prices and titles from the stock store for lines
// that do not carry them, so clients cannot dictate their own prices.
func (s *Service) resolveItems(ctx context.Context, items []LineItem) ([]LineItem, error) {
	resolved := append([]LineItem(nil), items...)
	for i, it := range resolved {
		if it.UnitPrice > 0 {
			continue
		}
		rec, err := s.stock.Get(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		resolved[i].UnitPrice = rec.Price
	}
	return resolved, nil
}

// reserveAll reserves every line or none: on the first failure all lines
// already reserved are released before the error surfaces, naming the
// offending product.
func (s *Service) reserveAll(ctx context.Context, items []LineItem) error {
	for i, it := range items {
		if err := s.stock.Reserve(ctx, it.ProductID, it.Quantity); err != nil {
			s.releaseAll(ctx, items[:i])
			return err
		}
	}
	return nil
}

func (s *Service) releaseAll(ctx context.Context, items []LineItem) {
	for _, it := range items {
		if err := s.stock.Release(ctx, it.ProductID, it.Quantity); err != nil {
			log.Printf("[Order] Failed to release %d x %s: %v", it.Quantity, it.ProductID, err)
		}
	}
}

func (s *Service) appendLedger(ctx context.Context, o *Order) (ledger.Entry, error) {
	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()
	return s.ledger.Append(lctx, ledger.Transaction{
		OrderID:   o.ID,
		BuyerID:   o.BuyerID,
		Items:     toLedgerItems(o.Items),
		Total:     o.Total,
		Timestamp: o.CreatedAt,
	})
}

// UpdateStatus advances an order along the forward-only graph. A farmer actor
// must own at least one line item; admins may always act. The persisted record
// is re-checked on every attempt, retried on concurrent modification.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next Status, actor Actor) error {
	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		o, err := s.repo.Get(ctx, orderID)
		if err != nil {
			return err
		}

		switch actor.Role {
		case RoleAdmin:
		case RoleFarmer:
			if !o.ContainsFarmer(actor.ID) {
				return ErrForbidden
			}
		default:
			return ErrForbidden
		}

		if !o.CanTransitionTo(next) {
			return o.transitionError(next)
		}

		err = s.repo.UpdateStatus(ctx, orderID, next, "", o.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		s.publish(ctx, events.TypeOrderStatusUpdated, o.ID, events.OrderStatusUpdated{
			OrderID:   o.ID,
			BuyerID:   o.BuyerID,
			Status:    string(next),
			UpdatedAt: time.Now(),
		})
		return nil
	}
	return ErrVersionConflict
}

// Cancel cancels a pending order owned by the buyer and releases its stock.
// Cancelling an already-cancelled order is a no-op success so client retries
// stay safe. The status flips before stock is released, so a concurrent
// cancel can never release the same lines twice.
func (s *Service) Cancel(ctx context.Context, orderID, buyerID string) error {
	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		o, err := s.repo.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return ErrForbidden
		}
		if o.Status == StatusCancelled {
			return nil
		}
		if o.Status != StatusPending {
			return fmt.Errorf("%w: only pending orders can be cancelled (status %s)", ErrConflict, o.Status)
		}

		err = s.repo.UpdateStatus(ctx, orderID, StatusCancelled, "", o.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		s.releaseAll(ctx, o.Items)
		s.publish(ctx, events.TypeOrderCancelled, o.ID, events.OrderCancelled{
			OrderID:     o.ID,
			BuyerID:     o.BuyerID,
			CancelledAt: time.Now(),
		})
		return nil
	}
	return ErrVersionConflict
}

// Get fetches an order, restricted to participants and admins.
func (s *Service) Get(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.IsParticipant(actor) {
		return nil, ErrForbidden
	}
	return o, nil
}

// ListForActor lists a buyer's own orders, or the orders containing a
// farmer's products.
func (s *Service) ListForActor(ctx context.Context, actor Actor) ([]*Order, error) {
	if actor.Role == RoleFarmer {
		return s.repo.ListByFarmer(ctx, actor.ID)
	}
	return s.repo.ListByBuyer(ctx, actor.ID)
}

// FarmerStats aggregates earnings and counts over the farmer's line items in
// non-cancelled orders.
type FarmerStats struct {
	FarmerID   string `json:"farmer_id"`
	OrderCount int    `json:"order_count"`
	ItemsSold  int    `json:"items_sold"`
	Earnings   int    `json:"earnings"`
}

func (s *Service) Stats(ctx context.Context, farmerID string) (FarmerStats, error) {
	orders, err := s.repo.ListByFarmer(ctx, farmerID)
	if err != nil {
		return FarmerStats{}, err
	}

	stats := FarmerStats{FarmerID: farmerID}
	for _, o := range orders {
		if o.Status == StatusCancelled {
			continue
		}
		stats.OrderCount++
		for _, it := range o.Items {
			if it.FarmerID != farmerID {
				continue
			}
			stats.ItemsSold += it.Quantity
			stats.Earnings += it.Quantity * it.UnitPrice
		}
	}
	return stats, nil
}

// VerifyLedger walks the chain from genesis.
func (s *Service) VerifyLedger(ctx context.Context) error {
	return s.ledger.Verify(ctx)
}

// publish dispatches a settlement event. Failures are logged and dropped:
// notification delivery never blocks or reverses a committed order.
func (s *Service) publish(ctx context.Context, eventType, orderID string, data any) {
	if s.publisher == nil {
		return
	}
	env, err := events.New(eventType, orderID, data)
	if err != nil {
		log.Printf("[Order] Failed to encode %s event for order %s: %v", eventType, orderID, err)
		return
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		log.Printf("[Order] Failed to publish %s event for order %s: %v", eventType, orderID, err)
	}
}

func toEventItems(items []LineItem) []events.Item {
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

func toLedgerItems(items []LineItem) []ledger.Item {
	out := make([]ledger.Item, len(items))
	for i, it := range items {
		out[i] = ledger.Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return out
}
