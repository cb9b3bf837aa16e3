package payout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/chain/chaintest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(h *harness) *gin.Engine {
	r := gin.New()
	handler := NewHandler(h.svc, h.disp)
	handler.RegisterRoutes(r.Group("/v1"))
	handler.RegisterAdminRoutes(r.Group("/v1/admin"))
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestHandler_OrderLifecycle(t *testing.T) {
	h := newHarness(t, DispatcherConfig{})
	h.wallet(t, 1)
	r := newRouter(h)

	body := `{"reference":"web-42","payType":"TRX","amount":"12.5","destination":"` + destA + `"}`
	code, out := do(t, r, http.MethodPost, "/v1/orders", body)
	require.Equal(t, http.StatusCreated, code, out)
	assert.Equal(t, true, out["created"])

	code, out = do(t, r, http.MethodPost, "/v1/orders", body)
	assert.Equal(t, http.StatusOK, code, "same reference and parameters")
	assert.Equal(t, false, out["created"])

	code, out = do(t, r, http.MethodPost, "/v1/orders", strings.Replace(body, "12.5", "13", 1))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate_reference", out["error"])

	code, out = do(t, r, http.MethodPost, "/v1/orders/web-42/paid", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paid", out["paymentStatus"])
	assert.Equal(t, "pending", out["transferStatus"])

	code, out = do(t, r, http.MethodPost, "/v1/admin/dispatch", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), out["cycle"].(map[string]any)["completed"])

	code, out = do(t, r, http.MethodGet, "/v1/orders/web-42", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", out["transferStatus"])
	assert.NotEmpty(t, out["txReference"])
	assert.NotContains(t, out, "lastFailure", "payers never see the failure taxonomy")
}

func TestHandler_CreateValidation(t *testing.T) {
	h := newHarness(t, DispatcherConfig{})
	r := newRouter(h)

	code, out := do(t, r, http.MethodPost, "/v1/orders", `{"payType":"DOGE","amount":"1","destination":"`+destA+`"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_failed", out["error"])

	code, out = do(t, r, http.MethodPost, "/v1/orders", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", out["error"])

	code, _ = do(t, r, http.MethodGet, "/v1/orders/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandler_AdminOrderDetailAndRetry(t *testing.T) {
	h := newHarness(t, DispatcherConfig{MaxRetryCount: 1})
	h.wallet(t, 1)
	r := newRouter(h)
	o := h.paidOrder(t, "ops-1", chain.AssetTRX, "3")

	h.chain.Script(chaintest.Fail(chain.KindNodeUnreachable))
	_, err := h.disp.Dispatch(context.Background(), o.ID)
	require.NoError(t, err)

	code, out := do(t, r, http.MethodGet, "/v1/admin/orders/"+o.ID, "")
	require.Equal(t, http.StatusOK, code)
	order := out["order"].(map[string]any)
	assert.Equal(t, "failed", order["transferStatus"])
	assert.Equal(t, string(chain.KindNodeUnreachable), order["lastFailure"])
	assert.Len(t, out["attempts"], 1)

	code, out = do(t, r, http.MethodPost, "/v1/admin/orders/"+o.ID+"/retry", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", out["order"].(map[string]any)["transferStatus"])

	code, out = do(t, r, http.MethodPost, "/v1/admin/orders/"+o.ID+"/retry", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "not_retryable", out["error"])
}

func TestHandler_ListOrdersPagination(t *testing.T) {
	h := newHarness(t, DispatcherConfig{})
	r := newRouter(h)
	for _, ref := range []string{"p-1", "p-2", "p-3"} {
		_, _, err := h.svc.CreateOrder(context.Background(), CreateOrderRequest{Reference: ref, PayType: "TRX", Amount: "1", Destination: destA})
		require.NoError(t, err)
	}

	code, out := do(t, r, http.MethodGet, "/v1/admin/orders?limit=2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), out["count"])
	assert.Equal(t, true, out["hasMore"])
	cursor := out["nextCursor"].(string)
	require.NotEmpty(t, cursor)

	code, out = do(t, r, http.MethodGet, "/v1/admin/orders?limit=2&cursor="+cursor, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), out["count"])
	assert.Equal(t, false, out["hasMore"])

	code, _ = do(t, r, http.MethodGet, "/v1/admin/orders?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, r, http.MethodGet, "/v1/admin/orders?cursor=%25%25", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_Recommend(t *testing.T) {
	h := newHarness(t, DispatcherConfig{})
	w := h.wallet(t, 3)
	r := newRouter(h)

	code, out := do(t, r, http.MethodGet, "/v1/admin/wallets/recommend?payType=TRX&amount=5", "")
	require.Equal(t, http.StatusOK, code)
	ws := out["wallets"].([]any)
	require.Len(t, ws, 1)
	first := ws[0].(map[string]any)
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, w.ID, first["wallet"].(map[string]any)["id"])

	code, out = do(t, r, http.MethodGet, "/v1/admin/wallets/recommend?payType=trx&amount=5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["wallets"], 1)

	code, _ = do(t, r, http.MethodGet, "/v1/admin/wallets/recommend?payType=TRX", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_DispatchDisabled(t *testing.T) {
	h := newHarness(t, DispatcherConfig{})
	h.disp.cfg.AutoTransfer = false
	code, out := do(t, newRouter(h), http.MethodPost, "/v1/admin/dispatch", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "auto_transfer_disabled", out["error"])
}
