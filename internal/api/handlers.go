package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/example/market-settlement/internal/api/middleware"
	"github.com/example/market-settlement/internal/domain/order"
	"github.com/example/market-settlement/internal/domain/stock"
	"github.com/example/market-settlement/internal/payment"
)

// SignatureHeader carries the gateway's HMAC over the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

type Handlers struct {
	orders   *order.Service
	payments *payment.Reconciler
}

func NewHandlers(orders *order.Service, payments *payment.Reconciler) *Handlers {
	return &Handlers{
		orders:   orders,
		payments: payments,
	}
}

// Order Handlers

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Items []order.LineItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	o, chainHash, err := h.orders.Create(r.Context(), actor.ID, req.Items)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"order":      o,
		"chain_hash": chainHash,
	})
}

func (h *Handlers) GetMyOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orders, err := h.orders.ListForActor(r.Context(), actor)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := extractPathParam(r.URL.Path, "/orders/")
	o, err := h.orders.Get(r.Context(), id, actor)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/orders/")
	id := strings.TrimSuffix(path, "/status")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.orders.UpdateStatus(r.Context(), id, order.Status(req.Status), actor); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "order status updated"})
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/orders/")
	id := strings.TrimSuffix(path, "/cancel")

	if err := h.orders.Cancel(r.Context(), id, actor.ID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "order cancelled"})
}

func (h *Handlers) FarmerStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	stats, err := h.orders.Stats(r.Context(), actor.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Payment Handlers

func (h *Handlers) CreatePaymentSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Items []order.LineItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.payments.CreateSession(r.Context(), actor.ID, req.Items)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// PaymentWebhook settles a gateway payment. The body is read raw because the
// signature covers the exact bytes the gateway sent. Duplicate deliveries
// return 200 so the gateway stops retrying.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondJSONError(w, "unreadable body", http.StatusBadRequest)
		return
	}

	o, err := h.payments.HandleWebhook(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, payment.ErrBadSignature) {
			respondJSONError(w, "invalid signature", http.StatusBadRequest)
			return
		}
		respondDomainError(w, err)
		return
	}
	if o == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "settled", "order": o})
}

func (h *Handlers) VerifyPaymentSession(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/payments/verify-session/")
	session, err := h.payments.VerifySession(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// Health

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.VerifyLedger(r.Context()); err != nil {
		respondJSONError(w, "ledger verification failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}

// respondDomainError maps domain errors onto HTTP status codes.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, stock.ErrProductNotFound),
		errors.Is(err, payment.ErrSessionNotFound):
		respondJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, order.ErrForbidden):
		respondJSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, stock.ErrInvalidQuantity):
		respondJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrOrderCancelled),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, order.ErrVersionConflict),
		errors.Is(err, stock.ErrInsufficientStock):
		respondJSONError(w, err.Error(), http.StatusConflict)
	default:
		respondJSONError(w, "internal error", http.StatusInternalServerError)
	}
}
