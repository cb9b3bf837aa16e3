// Package tron implements the chain access port over the TRON full-node
// HTTP API, with failover across several node endpoints.
package tron

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/circuitbreaker"
)

const (
	maxResponseBytes = 4 << 20
	defaultFeeLimit  = 30_000_000 // 30 TRX in SUN
)

// Config configures the node pool.
type Config struct {
	Nodes        []string
	APIKey       string // sent as TRON-PRO-API-KEY
	USDTContract string // base58
	Timeout      time.Duration
	FeeLimitSun  int64
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker overrides the per-node circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// Client talks to a pool of TRON nodes. Each call goes to the first node
// whose breaker admits it; transport failures trip the breaker and move the
// call to the next node.
type Client struct {
	nodes      []string
	apiKey     string
	usdt       Address
	feeLimit   int64
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

var _ chain.Port = (*Client)(nil)

// New creates a node pool client.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if len(cfg.Nodes) == 0 {
		return nil, errors.New("tron: at least one node endpoint required")
	}
	usdt, err := ParseAddress(cfg.USDTContract)
	if err != nil {
		return nil, fmt.Errorf("tron: usdt contract: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.FeeLimitSun <= 0 {
		cfg.FeeLimitSun = defaultFeeLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	nodes := make([]string, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		nodes[i] = strings.TrimRight(n, "/")
	}

	c := &Client{
		nodes:    nodes,
		apiKey:   cfg.APIKey,
		usdt:     usdt,
		feeLimit: cfg.FeeLimitSun,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: circuitbreaker.New(3, 30*time.Second).WithLogger(logger),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Nodes returns the configured endpoints.
func (c *Client) Nodes() []string {
	out := make([]string, len(c.nodes))
	copy(out, c.nodes)
	return out
}

// Breaker exposes node breaker state for health checks.
func (c *Client) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

// Ping asks the pool for the latest block.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		BlockID string `json:"blockID"`
	}
	if err := c.post(ctx, "wallet/getnowblock", struct{}{}, &out); err != nil {
		return err
	}
	if out.BlockID == "" {
		return chain.Errorf(chain.KindNodeUnreachable, "getnowblock", "empty block")
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return chain.Wrap(chain.KindRejected, opName(path), err)
	}
	return c.call(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) call(ctx context.Context, method, path string, payload []byte, out any) error {
	op := opName(path)
	var lastErr error
	tried := 0

	for _, node := range c.nodes {
		if !c.breaker.Allow(node) {
			continue
		}
		tried++

		err := c.callOnce(ctx, method, node, path, payload, out)
		if err == nil {
			c.breaker.RecordSuccess(node)
			return nil
		}
		if ctx.Err() != nil {
			return chain.Wrap(chain.KindNodeUnreachable, op, ctx.Err())
		}

		c.breaker.RecordFailure(node)
		c.logger.Warn("tron node call failed, trying next", "endpoint", node, "op", op, "error", err)
		lastErr = err
	}

	if tried == 0 {
		return chain.Errorf(chain.KindNodeUnreachable, op, "all %d nodes circuit-open", len(c.nodes))
	}
	return chain.Wrap(chain.KindNodeUnreachable, op, lastErr)
}

func (c *Client) callOnce(ctx context.Context, method, node, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, node+"/"+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited (429), retry after: %s", resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusForbidden:
		return errors.New("forbidden (403)")
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, snippet)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func opName(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return strings.TrimPrefix(path, "wallet/")
}

// ABI argument lists for the two TRC-20 calls we make.
var (
	transferArgs abi.Arguments
	balanceArgs  abi.Arguments
)

func init() {
	addrT := mustType("address")
	uintT := mustType("uint256")
	transferArgs = abi.Arguments{{Type: addrT}, {Type: uintT}}
	balanceArgs = abi.Arguments{{Type: addrT}}
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

func packTransfer(to Address, sun *big.Int) ([]byte, error) {
	return transferArgs.Pack(to.EVM(), sun)
}

func packBalanceOf(owner Address) ([]byte, error) {
	return balanceArgs.Pack(owner.EVM())
}
