package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/market-settlement/internal/email"
	"github.com/example/market-settlement/internal/events"
	"github.com/example/market-settlement/internal/userdir"
)

// Sender delivers the marketplace notification emails.
type Sender interface {
	SendOrderConfirmation(to, orderID string, total int, items []email.OrderItem) error
	SendFarmerSale(to, orderID string, earnings int, items []email.OrderItem) error
	SendStatusUpdate(to, orderID, status string) error
	SendPaymentReceipt(to, orderID string, amount int) error
	SendOrderCancelled(to, orderID string) error
}

// Handler processes settlement events for sending notifications
type Handler struct {
	sender Sender
	users  userdir.Directory
}

// NewHandler creates a new notification handler
func NewHandler(sender Sender, users userdir.Directory) *Handler {
	return &Handler{
		sender: sender,
		users:  users,
	}
}

// HandleEvent processes a decoded settlement event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, env events.Envelope) error {
	switch env.Type {
	case events.TypeOrderCreated:
		return h.handleOrderCreated(ctx, env)
	case events.TypeOrderStatusUpdated:
		return h.handleStatusUpdated(ctx, env)
	case events.TypePaymentSettled:
		return h.handlePaymentSettled(ctx, env)
	case events.TypeOrderCancelled:
		return h.handleOrderCancelled(ctx, env)
	}

	return nil
}

func (h *Handler) handleOrderCreated(ctx context.Context, env events.Envelope) error {
	var e events.OrderCreated
	if err := json.Unmarshal(env.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal OrderCreated event: %v", err)
		return err
	}

	log.Printf("[Notifier] Processing OrderCreated event for order %s, buyer %s", e.OrderID, e.BuyerID)

	if to, ok := h.lookupEmail(ctx, e.BuyerID); ok {
		if err := h.sender.SendOrderConfirmation(to, e.OrderID, e.Total, toEmailItems(e.Items)); err != nil {
			log.Printf("[Notifier] Failed to send confirmation to %s: %v", to, err)
			return err
		}
		log.Printf("[Notifier] Order confirmation sent to %s for order %s", to, e.OrderID)
	}

	// Each farmer gets one email covering only their own lines.
	for farmerID, items := range itemsByFarmer(e.Items) {
		to, ok := h.lookupEmail(ctx, farmerID)
		if !ok {
			continue
		}
		earnings := 0
		for _, it := range items {
			earnings += it.Quantity * it.Price
		}
		if err := h.sender.SendFarmerSale(to, e.OrderID, earnings, items); err != nil {
			log.Printf("[Notifier] Failed to send sale notice to %s: %v", to, err)
			return err
		}
		log.Printf("[Notifier] Sale notice sent to %s for order %s", to, e.OrderID)
	}

	return nil
}

func (h *Handler) handleStatusUpdated(ctx context.Context, env events.Envelope) error {
	var e events.OrderStatusUpdated
	if err := json.Unmarshal(env.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal OrderStatusUpdated event: %v", err)
		return err
	}

	to, ok := h.lookupEmail(ctx, e.BuyerID)
	if !ok {
		return nil
	}
	if err := h.sender.SendStatusUpdate(to, e.OrderID, e.Status); err != nil {
		log.Printf("[Notifier] Failed to send status update to %s: %v", to, err)
		return err
	}
	return nil
}

func (h *Handler) handlePaymentSettled(ctx context.Context, env events.Envelope) error {
	var e events.PaymentSettled
	if err := json.Unmarshal(env.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal PaymentSettled event: %v", err)
		return err
	}

	to, ok := h.lookupEmail(ctx, e.BuyerID)
	if !ok {
		return nil
	}
	if err := h.sender.SendPaymentReceipt(to, e.OrderID, e.Amount); err != nil {
		log.Printf("[Notifier] Failed to send receipt to %s: %v", to, err)
		return err
	}
	return nil
}

func (h *Handler) handleOrderCancelled(ctx context.Context, env events.Envelope) error {
	var e events.OrderCancelled
	if err := json.Unmarshal(env.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal OrderCancelled event: %v", err)
		return err
	}

	to, ok := h.lookupEmail(ctx, e.BuyerID)
	if !ok {
		return nil
	}
	if err := h.sender.SendOrderCancelled(to, e.OrderID); err != nil {
		log.Printf("[Notifier] Failed to send cancellation notice to %s: %v", to, err)
		return err
	}
	return nil
}

// lookupEmail resolves a user id. A missing user is logged and skipped, not
// retried: redelivering the event will not make the user appear.
func (h *Handler) lookupEmail(ctx context.Context, userID string) (string, bool) {
	profile, err := h.users.GetByID(ctx, userID)
	if err != nil {
		log.Printf("[Notifier] User not found: %s", userID)
		return "", false
	}
	return profile.Email, true
}

func itemsByFarmer(items []events.Item) map[string][]email.OrderItem {
	grouped := make(map[string][]email.OrderItem)
	for _, it := range items {
		if it.FarmerID == "" {
			continue
		}
		grouped[it.FarmerID] = append(grouped[it.FarmerID], toEmailItem(it))
	}
	return grouped
}

func toEmailItems(items []events.Item) []email.OrderItem {
	out := make([]email.OrderItem, len(items))
	for i, it := range items {
		out[i] = toEmailItem(it)
	}
	return out
}

func toEmailItem(it events.Item) email.OrderItem {
	return email.OrderItem{
		ProductID: it.ProductID,
		Name:      it.Title,
		Quantity:  it.Quantity,
		Price:     it.UnitPrice,
	}
}
