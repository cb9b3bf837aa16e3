// Package selector picks the wallet that pays a given payout. It is a pure
// function of a registry snapshot: no I/O, no locking of its own.
package selector

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/wallets"
)

// Reason explains why no wallet could be selected.
type Reason string

const (
	ReasonNoWallets      Reason = "no_wallets"
	ReasonAllDisabled    Reason = "all_disabled"
	ReasonAllUnhealthy   Reason = "all_unhealthy"
	ReasonAllUnderfunded Reason = "all_underfunded"
	ReasonAllLocked      Reason = "all_locked"
)

// Retryable reports whether the pool may become usable without an
// operator: locks are released and balances are refreshed on their own.
func (r Reason) Retryable() bool {
	return r == ReasonAllLocked || r == ReasonAllUnderfunded
}

// Exclusions counts the wallets dropped at each filter stage.
type Exclusions struct {
	Disabled    int `json:"disabled"`
	Unhealthy   int `json:"unhealthy"`
	Underfunded int `json:"underfunded"`
	Locked      int `json:"locked"`
}

// NoEligibleWalletError is returned when every wallet was filtered out.
type NoEligibleWalletError struct {
	Reason     Reason
	Exclusions Exclusions
}

func (e *NoEligibleWalletError) Error() string {
	x := e.Exclusions
	return fmt.Sprintf("no eligible wallet: %s (disabled=%d unhealthy=%d underfunded=%d locked=%d)",
		e.Reason, x.Disabled, x.Unhealthy, x.Underfunded, x.Locked)
}

// Requirement is what a payout needs from a wallet.
type Requirement struct {
	PayType chain.Asset
	Amount  decimal.Decimal
	// Exclude lists wallets already found unable to pay this order.
	Exclude []string
}

// FeeEstimator estimates the TRX burned by one transfer when the wallet's
// own bandwidth or energy does not cover it.
type FeeEstimator struct {
	CoinTransferFee  decimal.Decimal // TRX transfer
	TokenTransferFee decimal.Decimal // USDT transfer, paid in TRX
}

// Estimate returns the TRX fee reserve for a transfer of asset.
func (f FeeEstimator) Estimate(asset chain.Asset) decimal.Decimal {
	if asset.IsToken() {
		return f.TokenTransferFee
	}
	return f.CoinTransferFee
}

// Covers reports whether w's snapshot can pay req plus the fee reserve.
func (f FeeEstimator) Covers(w *wallets.Wallet, req Requirement) bool {
	fee := f.Estimate(req.PayType)
	if req.PayType.IsToken() {
		return w.Balance.Token.GreaterThanOrEqual(req.Amount) && w.Balance.Coin.GreaterThanOrEqual(fee)
	}
	return w.Balance.Coin.GreaterThanOrEqual(req.Amount.Add(fee))
}

// Rank filters ws and returns the eligible wallets best first. Filters run
// in order: enabled, health, funds, lock. locked may be nil.
func Rank(ws []*wallets.Wallet, req Requirement, locked func(id string) bool, fees FeeEstimator) ([]*wallets.Wallet, Exclusions) {
	var x Exclusions
	excluded := make(map[string]bool, len(req.Exclude))
	for _, id := range req.Exclude {
		excluded[id] = true
	}

	out := make([]*wallets.Wallet, 0, len(ws))
	for _, w := range ws {
		switch {
		case !w.Enabled:
			x.Disabled++
		case w.Health == wallets.HealthError:
			x.Unhealthy++
		case excluded[w.ID] || !fees.Covers(w, req):
			x.Underfunded++
		case locked != nil && locked(w.ID):
			x.Locked++
		default:
			out = append(out, w)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, x
}

// Select returns the best eligible wallet, or *NoEligibleWalletError.
// Identical inputs always produce the same wallet.
func Select(ws []*wallets.Wallet, req Requirement, locked func(id string) bool, fees FeeEstimator) (*wallets.Wallet, error) {
	ranked, x := Rank(ws, req, locked, fees)
	if len(ranked) > 0 {
		return ranked[0], nil
	}
	return nil, &NoEligibleWalletError{Reason: reasonFor(len(ws), x), Exclusions: x}
}

// reasonFor names the last filter stage that still had candidates. A pool
// where some wallet only failed the lock check is all_locked even if
// others are disabled, because that wallet will free up.
func reasonFor(total int, x Exclusions) Reason {
	switch {
	case total == 0:
		return ReasonNoWallets
	case x.Locked > 0:
		return ReasonAllLocked
	case x.Underfunded > 0:
		return ReasonAllUnderfunded
	case x.Unhealthy > 0:
		return ReasonAllUnhealthy
	default:
		return ReasonAllDisabled
	}
}

// less orders by priority desc, success rate desc (wallets with history
// first), least recently used first (never used first), then id.
func less(a, b *wallets.Wallet) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}

	ra, okA := a.Stats.SuccessRate()
	rb, okB := b.Stats.SuccessRate()
	if okA != okB {
		return okA
	}
	if okA && ra != rb {
		return ra > rb
	}

	la, lb := a.Stats.LastUsedAt, b.Stats.LastUsedAt
	switch {
	case la == nil && lb != nil:
		return true
	case la != nil && lb == nil:
		return false
	case la != nil && lb != nil && !la.Equal(*lb):
		return la.Before(*lb)
	}

	return a.ID < b.ID
}
