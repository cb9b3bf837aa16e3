package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payoutd/internal/auth"
)

const secret = "s3cret"

func fakeAPI(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(auth.HeaderAdminSecret) != secret {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"bad secret"}`))
			return
		}
		h, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not_found","message":"no route"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func jsonBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(body)) }
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--url", srv.URL, "--secret", secret, "--timeout", "2s"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWalletsList(t *testing.T) {
	srv := fakeAPI(t, map[string]http.HandlerFunc{
		"GET /v1/admin/wallets": jsonBody(`{"wallets":[{"id":"wlt_1","label":"hot-1","address":"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t","priority":1,"enabled":true,"health":"healthy","balance":{"coin":"120.5","token":"300"},"resources":{"energyAvailable":65000},"stats":{"totalTransactions":4,"successCount":3}}]}`),
	})

	out, err := run(t, srv, "wallets", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "LABEL")
	assert.Contains(t, out, "hot-1")
	assert.Contains(t, out, "120.500000")
	assert.Contains(t, out, "65000")
	assert.Contains(t, out, "3/4")
}

func TestWalletsRefresh(t *testing.T) {
	srv := fakeAPI(t, map[string]http.HandlerFunc{
		"POST /v1/admin/wallets/refresh":       jsonBody(`{"summary":{"total":3,"refreshed":2,"failed":1}}`),
		"POST /v1/admin/wallets/wlt_1/refresh": jsonBody(`{"wallet":{"id":"wlt_1","address":"TAddr","health":"warning","balance":{"coin":"1","token":"0"}}}`),
	})

	out, err := run(t, srv, "wallets", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "refreshed 2 of 3 wallets (1 failed)")

	out, err = run(t, srv, "wallets", "refresh", "wlt_1")
	require.NoError(t, err)
	assert.Contains(t, out, "wlt_1 TAddr")
	assert.Contains(t, out, "warning")
}

func TestWalletsRecommend(t *testing.T) {
	srv := fakeAPI(t, map[string]http.HandlerFunc{
		"GET /v1/admin/wallets/recommend": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("payType") == "TRX" {
				_, _ = w.Write([]byte(`{"wallets":[],"excluded":{"disabled":1,"unhealthy":0,"underfunded":2}}`))
				return
			}
			_, _ = w.Write([]byte(`{"wallets":[{"rank":1,"wallet":{"id":"wlt_2","address":"TB","priority":5},"busy":true}],"excluded":{}}`))
		},
	})

	out, err := run(t, srv, "wallets", "recommend", "--amount", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "wlt_2")
	assert.Contains(t, out, "true")

	out, err = run(t, srv, "wallets", "recommend", "--pay-type", "TRX", "--amount", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "no eligible wallet (disabled 1, unhealthy 0, underfunded 2)")

	_, err = run(t, srv, "wallets", "recommend")
	assert.Error(t, err, "amount is required")
}

func TestOrdersGetShowsAttempts(t *testing.T) {
	srv := fakeAPI(t, map[string]http.HandlerFunc{
		"GET /v1/admin/orders/po_1": jsonBody(`{"order":{"id":"po_1","reference":"ref-1","payType":"USDT","amount":"25","destination":"TDest","paymentStatus":"paid","transferStatus":"failed","retryCount":3,"lastFailure":"retries_exhausted","lastError":"energy unavailable","createdAt":"2026-01-02T03:04:05Z"},"attempts":[{"id":"pa_1","orderId":"po_1","walletId":"wlt_1","outcome":"retry","reason":"energy_unavailable","latencyMs":850,"createdAt":"2026-01-02T03:05:00Z"}]}`),
	})

	out, err := run(t, srv, "orders", "get", "po_1")
	require.NoError(t, err)
	assert.Contains(t, out, "25.000000 USDT -> TDest")
	assert.Contains(t, out, "failed (retries 3)")
	assert.Contains(t, out, "retries_exhausted: energy unavailable")
	assert.Contains(t, out, "energy_unavailable")
	assert.Contains(t, out, "850ms")
}

func TestOrdersListPassesFilters(t *testing.T) {
	var query atomic.Value
	srv := fakeAPI(t, map[string]http.HandlerFunc{
		"GET /v1/admin/orders": func(w http.ResponseWriter, r *http.Request) {
			query.Store(r.URL.RawQuery)
			_, _ = w.Write([]byte(`{"orders":[{"id":"po_9","reference":"r9","payType":"TRX","amount":"1","transferStatus":"failed","createdAt":"2026-01-02T03:04:05Z"}],"nextCursor":"abc"}`))
		},
	})

	out, err := run(t, srv, "orders", "list", "--status", "failed", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "po_9")
	assert.Contains(t, out, "--cursor abc")
	assert.Equal(t, "limit=5&transferStatus=failed", query.Load())
}

func TestOrdersRetryAndDispatch(t *testing.T) {
	srv := fakeAPI(t, map[string]http.HandlerFunc{
		"POST /v1/admin/orders/po_1/retry": jsonBody(`{"order":{"id":"po_1","payType":"TRX","amount":"5","destination":"TD","transferStatus":"completed","txReference":"deadbeef"}}`),
		"POST /v1/admin/dispatch":          jsonBody(`{"cycle":{"picked":4,"completed":2,"retried":1,"failed":0,"deferred":1,"skipped":0,"errors":0}}`),
	})

	out, err := run(t, srv, "orders", "retry", "po_1")
	require.NoError(t, err)
	assert.Contains(t, out, "deadbeef")

	out, err = run(t, srv, "dispatch")
	require.NoError(t, err)
	assert.Contains(t, out, "picked 4: completed 2, retried 1, failed 0, deferred 1")

	out, err = run(t, srv, "--json", "dispatch")
	require.NoError(t, err)
	assert.Contains(t, out, `"picked": 4`)
}

func TestAPIErrorsSurface(t *testing.T) {
	srv := fakeAPI(t, map[string]http.HandlerFunc{
		"POST /v1/admin/orders/po_1/retry": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"not_retryable","message":"only failed orders can be retried"}`))
		},
	})

	_, err := run(t, srv, "orders", "retry", "po_1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "not_retryable", apiErr.Code)
}

func TestMissingSecret(t *testing.T) {
	t.Setenv("ADMIN_SECRET", "")
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"wallets", "list"})
	assert.ErrorContains(t, root.Execute(), "admin secret required")
}

func TestClient_RetriesReadsOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := fakeAPI(t, map[string]http.HandlerFunc{
		"GET /v1/admin/wallets": func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"wallets":[]}`))
		},
		"POST /v1/admin/dispatch": func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
	c := NewClient(srv.URL, secret, time.Second)

	_, err := c.ListWallets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	_, err = c.Dispatch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "writes are not retried")
}

func TestClient_BadSecret(t *testing.T) {
	srv := fakeAPI(t, nil)
	c := NewClient(srv.URL, "wrong", time.Second)
	_, err := c.ListWallets(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
