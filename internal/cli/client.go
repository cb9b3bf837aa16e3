package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbd888/payoutd/internal/auth"
	"github.com/mbd888/payoutd/internal/payout"
	"github.com/mbd888/payoutd/internal/retry"
	"github.com/mbd888/payoutd/internal/selector"
	"github.com/mbd888/payoutd/internal/wallets"
)

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("payoutd: HTTP %d", e.Status)
	}
	return fmt.Sprintf("payoutd: %s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Client calls the payoutd admin API.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	attempts   int
}

// NewClient creates an admin API client.
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		attempts:   3,
	}
}

// do sends one request and decodes the JSON body into out. Reads are
// retried on transport errors and 5xx; writes are sent once.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.attempts
	}
	return retry.Do(ctx, attempts, 200*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set(auth.HeaderAdminSecret, c.secret)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode}
			_ = json.Unmarshal(raw, apiErr)
			if resp.StatusCode >= 500 {
				return apiErr
			}
			return retry.Permanent(apiErr)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}

// ListWallets returns every registered wallet.
func (c *Client) ListWallets(ctx context.Context) ([]*wallets.Wallet, error) {
	var resp struct {
		Wallets []*wallets.Wallet `json:"wallets"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/admin/wallets", nil, &resp)
	return resp.Wallets, err
}

// RefreshWallet re-reads one wallet from the chain.
func (c *Client) RefreshWallet(ctx context.Context, id string) (*wallets.Wallet, error) {
	var resp struct {
		Wallet *wallets.Wallet `json:"wallet"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/admin/wallets/"+url.PathEscape(id)+"/refresh", nil, &resp)
	return resp.Wallet, err
}

// RefreshAll re-reads every wallet.
func (c *Client) RefreshAll(ctx context.Context) (wallets.RefreshSummary, error) {
	var resp struct {
		Summary wallets.RefreshSummary `json:"summary"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/admin/wallets/refresh", nil, &resp)
	return resp.Summary, err
}

// RecommendResult is the selector's ranking for a hypothetical payout.
type RecommendResult struct {
	Wallets  []payout.Recommendation `json:"wallets"`
	Excluded selector.Exclusions     `json:"excluded"`
}

// Recommend ranks wallets for a payout of amount in payType.
func (c *Client) Recommend(ctx context.Context, payType, amount string) (*RecommendResult, error) {
	q := url.Values{"payType": {payType}, "amount": {amount}}
	var resp RecommendResult
	if err := c.do(ctx, http.MethodGet, "/v1/admin/wallets/recommend?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OrderDetail is an order with its attempt log.
type OrderDetail struct {
	Order    *payout.Order     `json:"order"`
	Attempts []*payout.Attempt `json:"attempts"`
}

// GetOrder returns an order and its attempts.
func (c *Client) GetOrder(ctx context.Context, id string) (*OrderDetail, error) {
	var resp OrderDetail
	if err := c.do(ctx, http.MethodGet, "/v1/admin/orders/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListOrders returns one page of orders, newest first.
func (c *Client) ListOrders(ctx context.Context, transferStatus, cursor string, limit int) ([]*payout.Order, string, error) {
	q := url.Values{}
	if transferStatus != "" {
		q.Set("transferStatus", transferStatus)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp struct {
		Orders     []*payout.Order `json:"orders"`
		NextCursor string          `json:"nextCursor"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/admin/orders?"+q.Encode(), nil, &resp)
	return resp.Orders, resp.NextCursor, err
}

// RetryOrder runs a manual retry of a failed order.
func (c *Client) RetryOrder(ctx context.Context, id string) (*payout.Order, error) {
	var resp struct {
		Order *payout.Order `json:"order"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/admin/orders/"+url.PathEscape(id)+"/retry", nil, &resp)
	return resp.Order, err
}

// Dispatch runs one dispatch cycle now.
func (c *Client) Dispatch(ctx context.Context) (payout.CycleSummary, error) {
	var resp struct {
		Cycle payout.CycleSummary `json:"cycle"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/admin/dispatch", nil, &resp)
	return resp.Cycle, err
}
