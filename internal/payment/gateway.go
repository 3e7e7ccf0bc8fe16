package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/market-settlement/internal/domain/order"
)

var (
	ErrSessionNotFound    = errors.New("checkout session not found")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Session is a gateway checkout session.
type Session struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Amount        int    `json:"amount"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// Gateway is the payment provider the reconciler talks to. GetSession is
// read-only and safe to call any number of times.
type Gateway interface {
	CreateSession(ctx context.Context, buyerID string, items []order.LineItem) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

// HTTPGateway talks to the provider's REST API with a bounded timeout:
// a slow gateway fails the request, it never leaves a half-committed order.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) CreateSession(ctx context.Context, buyerID string, items []order.LineItem) (Session, error) {
	payload, err := json.Marshal(map[string]any{
		"buyer_id": buyerID,
		"items":    items,
		"amount":   order.ComputeTotal(items),
	})
	if err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/checkout/sessions", bytes.NewReader(payload))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Session{}, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (g *HTTPGateway) GetSession(ctx context.Context, sessionID string) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/checkout/sessions/"+sessionID, nil)
	if err != nil {
		return Session{}, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Session{}, ErrSessionNotFound
	default:
		return Session{}, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Session{}, err
	}
	return s, nil
}
