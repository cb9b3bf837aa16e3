// Package wallets is the registry of custodial payout wallets: their
// balance and resource snapshots, derived health, alert thresholds, and
// per-wallet dispatch statistics.
package wallets

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payoutd/internal/chain"
)

var (
	ErrNotFound         = errors.New("wallets: wallet not found")
	ErrDuplicateAddress = errors.New("wallets: address already registered")
	ErrInvalidPriority  = errors.New("wallets: priority must be between 1 and 100")
	ErrInvalidKey       = errors.New("wallets: invalid private key")
	ErrWalletBusy       = errors.New("wallets: wallet has a transfer in flight")
)

const (
	MinPriority     = 1
	MaxPriority     = 100
	DefaultPriority = 50
)

// Health is the derived fitness of a wallet for selection.
type Health string

const (
	HealthHealthy Health = "healthy"
	HealthWarning Health = "warning"
	HealthError   Health = "error"
)

// Balance is the last observed holdings of a wallet.
type Balance struct {
	Coin        decimal.Decimal `json:"coin"`
	Token       decimal.Decimal `json:"token"`
	RefreshedAt time.Time       `json:"refreshedAt"`
}

// Thresholds are the per-wallet alert levels health is derived from.
type Thresholds struct {
	MinCoinBalance  decimal.Decimal `json:"minCoinBalance"`
	MinTokenBalance decimal.Decimal `json:"minTokenBalance"`
	MinEnergy       int64           `json:"minEnergy"`
	Enabled         bool            `json:"enabled"`
}

// Stats counts completed dispatch attempts. SuccessCount + FailCount always
// equals TotalTransactions.
type Stats struct {
	TotalTransactions int64      `json:"totalTransactions"`
	SuccessCount      int64      `json:"successCount"`
	FailCount         int64      `json:"failCount"`
	LastUsedAt        *time.Time `json:"lastUsedAt,omitempty"`
}

// SuccessRate returns successCount/totalTransactions. ok is false when the
// wallet has no history.
func (s Stats) SuccessRate() (rate float64, ok bool) {
	if s.TotalTransactions == 0 {
		return 0, false
	}
	return float64(s.SuccessCount) / float64(s.TotalTransactions), true
}

// Wallet is a custodial wallet record.
type Wallet struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	Address    string          `json:"address"`
	SealedKey  string          `json:"-"`
	Priority   int             `json:"priority"`
	Enabled    bool            `json:"enabled"`
	Balance    Balance         `json:"balance"`
	Resources  chain.Resources `json:"resources"`
	Thresholds Thresholds      `json:"thresholds"`
	Health     Health          `json:"health"`
	Stats      Stats           `json:"stats"`
	LastError  string          `json:"lastError,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ComputeHealth derives health from the balance and resource snapshot.
// A coin balance below its threshold is an error because the wallet cannot
// pay fees; a short token balance or energy budget is only a warning.
func ComputeHealth(w *Wallet) Health {
	t := w.Thresholds
	if !t.Enabled {
		return HealthHealthy
	}
	if w.Balance.Coin.LessThan(t.MinCoinBalance) {
		return HealthError
	}
	if w.Balance.Token.LessThan(t.MinTokenBalance) || w.Resources.EnergyAvailable < t.MinEnergy {
		return HealthWarning
	}
	return HealthHealthy
}

// Snapshot is the chain-observed part of a wallet written by a refresh.
type Snapshot struct {
	Balance   Balance
	Resources chain.Resources
	Health    Health
	LastError string
}

// Criteria filters ListEligible.
type Criteria struct {
	PayType       chain.Asset
	OnlyEnabled   bool
	ExcludeHealth []Health
}

func (c Criteria) match(w *Wallet) bool {
	if c.OnlyEnabled && !w.Enabled {
		return false
	}
	for _, h := range c.ExcludeHealth {
		if w.Health == h {
			return false
		}
	}
	switch c.PayType {
	case chain.AssetUSDT:
		return w.Balance.Token.IsPositive()
	case chain.AssetTRX:
		return w.Balance.Coin.IsPositive()
	}
	return true
}

// ThresholdsRequest carries optional threshold overrides.
type ThresholdsRequest struct {
	MinCoinBalance  *decimal.Decimal `json:"minCoinBalance,omitempty"`
	MinTokenBalance *decimal.Decimal `json:"minTokenBalance,omitempty"`
	MinEnergy       *int64           `json:"minEnergy,omitempty"`
	Enabled         *bool            `json:"enabled,omitempty"`
}

func (r *ThresholdsRequest) apply(t *Thresholds) {
	if r == nil {
		return
	}
	if r.MinCoinBalance != nil {
		t.MinCoinBalance = *r.MinCoinBalance
	}
	if r.MinTokenBalance != nil {
		t.MinTokenBalance = *r.MinTokenBalance
	}
	if r.MinEnergy != nil {
		t.MinEnergy = *r.MinEnergy
	}
	if r.Enabled != nil {
		t.Enabled = *r.Enabled
	}
}

// CreateRequest registers a wallet. The private key is sealed on receipt
// and never returned.
type CreateRequest struct {
	Label      string             `json:"label"`
	PrivateKey string             `json:"privateKey"`
	Priority   int                `json:"priority"`
	Thresholds *ThresholdsRequest `json:"thresholds,omitempty"`
}

// UpdateRequest changes mutable wallet settings.
type UpdateRequest struct {
	Label      *string            `json:"label,omitempty"`
	Priority   *int               `json:"priority,omitempty"`
	Thresholds *ThresholdsRequest `json:"thresholds,omitempty"`
}

func validPriority(p int) bool {
	return p >= MinPriority && p <= MaxPriority
}
