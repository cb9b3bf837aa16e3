// Package chain defines the chain access port the payout engine is built on:
// balance and resource reads, signed transfer submission, and transaction
// status lookups, plus the classified error taxonomy every implementation
// reports through.
package chain

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Asset is one of the supported payout assets.
type Asset string

const (
	AssetTRX  Asset = "trx"  // native coin
	AssetUSDT Asset = "usdt" // TRC-20 token
)

// Valid reports whether a is a supported asset.
func (a Asset) Valid() bool {
	return a == AssetTRX || a == AssetUSDT
}

// ParseAsset normalizes an asset name as written by callers ("USDT",
// " trx "). The result may still be invalid; check Valid.
func ParseAsset(s string) Asset {
	return Asset(strings.ToLower(strings.TrimSpace(s)))
}

// IsToken reports whether a is a token transfer (energy required).
func (a Asset) IsToken() bool {
	return a == AssetUSDT
}

// Balance is a wallet's holdings in whole units.
type Balance struct {
	Coin  decimal.Decimal `json:"coin"`
	Token decimal.Decimal `json:"token"`
}

// Resources is a wallet's consumable transaction budget.
type Resources struct {
	EnergyAvailable    int64 `json:"energyAvailable"`
	EnergyLimit        int64 `json:"energyLimit"`
	BandwidthAvailable int64 `json:"bandwidthAvailable"`
	BandwidthLimit     int64 `json:"bandwidthLimit"`
}

// TxStatus is the on-chain state of a submitted transaction.
type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxPending   TxStatus = "pending"
	TxFailed    TxStatus = "failed"
	TxUnknown   TxStatus = "unknown"
)

// Credential signs transfers for one wallet. It never leaves the process and
// never renders its key in logs or JSON.
type Credential struct {
	Address    string `json:"-"`
	PrivateKey string `json:"-"` // hex, no 0x prefix
}

// String hides the key.
func (c Credential) String() string { return "credential(" + c.Address + ")" }

// LogValue hides the key from slog.
func (c Credential) LogValue() slog.Value { return slog.StringValue(c.String()) }

// TransferRequest describes one outgoing transfer.
type TransferRequest struct {
	To     string
	Asset  Asset
	Amount decimal.Decimal
}

// Port is the chain access capability the engine depends on.
type Port interface {
	GetBalance(ctx context.Context, address string) (Balance, error)
	GetResources(ctx context.Context, address string) (Resources, error)
	AddressHoldsToken(ctx context.Context, address string) (bool, error)
	SubmitTransfer(ctx context.Context, cred Credential, req TransferRequest) (string, error)
	GetTransactionStatus(ctx context.Context, txRef string) (TxStatus, error)

	// FindTransfer looks for an outgoing transfer matching req sent from
	// address at or after since. It returns an empty reference when none
	// is found. Used when a prior submission's reference was never captured.
	FindTransfer(ctx context.Context, address string, req TransferRequest, since time.Time) (string, TxStatus, error)
}
