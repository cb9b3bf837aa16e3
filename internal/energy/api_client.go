package energy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRequest asks a provider to delegate energy to Receiver.
type PurchaseRequest struct {
	Receiver string        `json:"receiver"`
	Energy   int64         `json:"energy"`
	Duration time.Duration `json:"-"`
}

// PurchaseStatus is a provider's view of an order.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseDelivered PurchaseStatus = "delivered"
	PurchaseFailed    PurchaseStatus = "failed"
)

// Purchase is a provider order.
type Purchase struct {
	OrderID string          `json:"order_id"`
	Status  PurchaseStatus  `json:"status"`
	CostTRX decimal.Decimal `json:"cost_trx"`
	Message string          `json:"message,omitempty"`
}

// APIClient buys energy from a rental provider.
type APIClient interface {
	Purchase(ctx context.Context, req PurchaseRequest) (*Purchase, error)
	Status(ctx context.Context, orderID string) (*Purchase, error)
}

// HTTPAPIClient talks to a provider exposing POST /v1/orders and
// GET /v1/orders/{id}, authenticated with X-API-Key.
type HTTPAPIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPAPIClient creates a provider client.
func NewHTTPAPIClient(baseURL, apiKey string) *HTTPAPIClient {
	return &HTTPAPIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPAPIClient) Purchase(ctx context.Context, req PurchaseRequest) (*Purchase, error) {
	body, err := json.Marshal(map[string]any{
		"receiver":         req.Receiver,
		"energy":           req.Energy,
		"duration_seconds": int64(req.Duration / time.Second),
	})
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/v1/orders", body)
}

func (c *HTTPAPIClient) Status(ctx context.Context, orderID string) (*Purchase, error) {
	return c.do(ctx, http.MethodGet, "/v1/orders/"+orderID, nil)
}

func (c *HTTPAPIClient) do(ctx context.Context, method, path string, body []byte) (*Purchase, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("energy provider: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("energy provider: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := data
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, fmt.Errorf("energy provider: http %d: %s", resp.StatusCode, snippet)
	}

	var p Purchase
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("energy provider: parse response: %w", err)
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("energy provider: response missing order_id")
	}
	return &p, nil
}
