package wallets

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/payoutd/internal/logging"
	"github.com/mbd888/payoutd/internal/validation"
)

// Handler provides the admin HTTP endpoints for the wallet registry.
type Handler struct {
	service *Service
}

// NewHandler creates a new wallet handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes sets up wallet management routes. The group must
// already require the admin secret.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/wallets", h.CreateWallet)
	r.GET("/wallets", h.ListWallets)
	r.POST("/wallets/refresh", h.RefreshAll)
	r.GET("/wallets/:id", h.GetWallet)
	r.PATCH("/wallets/:id", h.UpdateWallet)
	r.DELETE("/wallets/:id", h.DeleteWallet)
	r.POST("/wallets/:id/enable", h.EnableWallet)
	r.POST("/wallets/:id/disable", h.DisableWallet)
	r.POST("/wallets/:id/refresh", h.RefreshWallet)
	r.POST("/wallets/:id/reset-stats", h.ResetStats)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Wallet not found"})
	case errors.Is(err, ErrDuplicateAddress):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_address", "message": "A wallet with this address already exists"})
	case errors.Is(err, ErrInvalidPriority):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_priority", "message": err.Error()})
	case errors.Is(err, ErrInvalidKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_key", "message": "Private key must be 32 bytes of hex"})
	case errors.Is(err, ErrWalletBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "wallet_busy", "message": "Wallet has a transfer in flight, try again shortly"})
	default:
		logging.L(c.Request.Context()).Error("wallet request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal server error"})
	}
}

// CreateWallet handles POST /v1/admin/wallets
func (h *Handler) CreateWallet(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if errs := validation.Validate(
		validation.Required("privateKey", req.PrivateKey),
		validation.MaxLength("label", req.Label, validation.MaxStringLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": errs.Error(), "details": errs})
		return
	}

	w, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"wallet": w})
}

// ListWallets handles GET /v1/admin/wallets
func (h *Handler) ListWallets(c *gin.Context) {
	ws, err := h.service.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if ws == nil {
		ws = []*Wallet{}
	}
	c.JSON(http.StatusOK, gin.H{"wallets": ws, "count": len(ws)})
}

// GetWallet handles GET /v1/admin/wallets/:id
func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// UpdateWallet handles PATCH /v1/admin/wallets/:id
func (h *Handler) UpdateWallet(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	w, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// DeleteWallet handles DELETE /v1/admin/wallets/:id
func (h *Handler) DeleteWallet(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// EnableWallet handles POST /v1/admin/wallets/:id/enable
func (h *Handler) EnableWallet(c *gin.Context) {
	w, err := h.service.Enable(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// DisableWallet handles POST /v1/admin/wallets/:id/disable
func (h *Handler) DisableWallet(c *gin.Context) {
	w, err := h.service.Disable(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// RefreshWallet handles POST /v1/admin/wallets/:id/refresh. A failed chain
// read still returns the wallet with its lastError set.
func (h *Handler) RefreshWallet(c *gin.Context) {
	w, err := h.service.Refresh(c.Request.Context(), c.Param("id"))
	if err != nil && w == nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// RefreshAll handles POST /v1/admin/wallets/refresh
func (h *Handler) RefreshAll(c *gin.Context) {
	sum, err := h.service.RefreshAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}

// ResetStats handles POST /v1/admin/wallets/:id/reset-stats
func (h *Handler) ResetStats(c *gin.Context) {
	w, err := h.service.ResetStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}
