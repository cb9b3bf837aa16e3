package payout

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/payoutd/internal/amount"
	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/logging"
	"github.com/mbd888/payoutd/internal/pagination"
	"github.com/mbd888/payoutd/internal/validation"
)

// Handler provides HTTP endpoints for order intake and dispatch control.
type Handler struct {
	service    *Service
	dispatcher *Dispatcher
}

// NewHandler creates a new payout handler.
func NewHandler(service *Service, dispatcher *Dispatcher) *Handler {
	return &Handler{service: service, dispatcher: dispatcher}
}

// RegisterRoutes sets up the intake routes used by the order channel.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/orders/:ref", h.GetOrderStatus)
	r.POST("/orders/:ref/paid", h.MarkPaid)
	r.POST("/orders/:ref/expire", h.MarkExpired)
	r.POST("/orders/:ref/payment-failed", h.MarkPaymentFailed)
}

// RegisterAdminRoutes sets up operator routes. The group must already
// require the admin secret.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/orders", h.ListOrders)
	r.GET("/orders/:id", h.GetOrder)
	r.POST("/orders/:id/retry", h.RetryOrder)
	r.POST("/dispatch", h.RunDispatch)
	r.GET("/wallets/recommend", h.Recommend)
}

func writeError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	var terr *TransitionError
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": verrs.Error(), "details": verrs})
	case errors.Is(err, ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Order not found"})
	case errors.Is(err, ErrDuplicateRef):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_reference", "message": "An order with this reference exists with different parameters"})
	case errors.Is(err, ErrOrderBusy), errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "order_busy", "message": "Order is being processed, try again shortly"})
	case errors.Is(err, ErrOrderExpired):
		c.JSON(http.StatusConflict, gin.H{"error": "order_expired", "message": "Order payment window has closed"})
	case errors.Is(err, ErrPaymentState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_payment_state", "message": err.Error()})
	case errors.Is(err, ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": "not_retryable", "message": "Only failed orders can be retried"})
	case errors.Is(err, ErrNotDispatchable):
		c.JSON(http.StatusConflict, gin.H{"error": "not_dispatchable", "message": "Order is not paid or already settled"})
	case errors.Is(err, ErrTransferDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auto_transfer_disabled", "message": "Automatic transfers are disabled"})
	case errors.As(err, &terr):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": terr.Error()})
	default:
		logging.L(c.Request.Context()).Error("payout request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal server error"})
	}
}

// CreateOrder handles POST /v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	o, created, err := h.service.CreateOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	c.JSON(code, gin.H{"order": o, "created": created})
}

// GetOrderStatus handles GET /v1/orders/:ref
func (h *Handler) GetOrderStatus(c *gin.Context) {
	st, err := h.service.GetOrderStatus(c.Request.Context(), c.Param("ref"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// MarkPaid handles POST /v1/orders/:ref/paid
func (h *Handler) MarkPaid(c *gin.Context) {
	h.paymentUpdate(c, h.service.MarkPaid)
}

// MarkExpired handles POST /v1/orders/:ref/expire
func (h *Handler) MarkExpired(c *gin.Context) {
	h.paymentUpdate(c, h.service.MarkExpired)
}

// MarkPaymentFailed handles POST /v1/orders/:ref/payment-failed
func (h *Handler) MarkPaymentFailed(c *gin.Context) {
	h.paymentUpdate(c, h.service.MarkPaymentFailed)
}

func (h *Handler) paymentUpdate(c *gin.Context, fn func(context.Context, string) (*Order, error)) {
	o, err := fn(c.Request.Context(), c.Param("ref"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.status())
}

// ListOrders handles GET /v1/admin/orders
func (h *Handler) ListOrders(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}

	f := ListFilter{
		TransferStatus: TransferStatus(c.Query("transferStatus")),
		PaymentStatus:  PaymentStatus(c.Query("paymentStatus")),
		Limit:          limit + 1,
	}
	if cur != nil {
		f.BeforeTime, f.BeforeID = cur.CreatedAt, cur.ID
	}
	orders, err := h.service.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	orders, next, more := pagination.ComputePage(orders, limit, func(o *Order) (time.Time, string) {
		return o.CreatedAt, o.ID
	})
	if orders == nil {
		orders = []*Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders), "nextCursor": next, "hasMore": more})
}

// GetOrder handles GET /v1/admin/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	ctx := c.Request.Context()
	o, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	attempts, err := h.service.Attempts(ctx, o.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if attempts == nil {
		attempts = []*Attempt{}
	}
	c.JSON(http.StatusOK, gin.H{"order": o, "attempts": attempts})
}

// RetryOrder handles POST /v1/admin/orders/:id/retry
func (h *Handler) RetryOrder(c *gin.Context) {
	o, err := h.dispatcher.ManualRetry(context.WithoutCancel(c.Request.Context()), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// RunDispatch handles POST /v1/admin/dispatch
func (h *Handler) RunDispatch(c *gin.Context) {
	sum, err := h.dispatcher.RunCycle(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycle": sum})
}

// Recommend handles GET /v1/admin/wallets/recommend
func (h *Handler) Recommend(c *gin.Context) {
	payType, amt := chain.ParseAsset(c.Query("payType")), c.Query("amount")
	if errs := validation.Validate(
		validation.OneOf("payType", string(payType), string(chain.AssetTRX), string(chain.AssetUSDT)),
		validation.Required("amount", amt),
		validation.ValidAmount("amount", amt),
	); len(errs) > 0 {
		writeError(c, errs)
		return
	}
	value, _ := amount.Parse(amt)
	recs, x, err := h.dispatcher.Recommend(c.Request.Context(), payType, value)
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []Recommendation{}
	}
	c.JSON(http.StatusOK, gin.H{"wallets": recs, "excluded": x})
}
