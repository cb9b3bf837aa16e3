// Package payout owns payout orders and the engine that dispatches them.
//
// Flow:
//  1. The intake surface creates an order (payment pending)
//  2. The payment channel marks it paid
//  3. The dispatcher claims a wallet, provisions energy, and submits the transfer
//  4. Transient failures return the order to pending until the retry budget
//     runs out; permanent failures end it as failed
//  5. An operator may retry a failed order after the chain is checked for a
//     transfer that already landed
package payout

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payoutd/internal/chain"
)

var (
	ErrOrderNotFound    = errors.New("payout: order not found")
	ErrDuplicateRef     = errors.New("payout: reference already used with different parameters")
	ErrConflict         = errors.New("payout: order was modified concurrently")
	ErrNotDispatchable  = errors.New("payout: order is not dispatchable")
	ErrOrderBusy        = errors.New("payout: order is being dispatched")
	ErrPaymentState     = errors.New("payout: invalid payment status for this operation")
	ErrNotRetryable     = errors.New("payout: only failed orders can be retried")
	ErrOrderExpired     = errors.New("payout: order expired")
	ErrTransferDisabled = errors.New("payout: automatic transfers are disabled")
)

// PaymentStatus is driven by the external payment channel.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
	PaymentExpired PaymentStatus = "expired"
)

// TransferStatus is owned by the dispatch engine.
type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferProcessing TransferStatus = "processing"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
)

// Failure reasons recorded on orders and attempts, beyond the chain error
// kinds and selector reasons.
const (
	ReasonOrderExpired     = "order_expired"
	ReasonPaymentFailed    = "payment_failed"
	ReasonPendingOnChain   = "pending_on_chain"
	ReasonAwaitingExpiry   = "awaiting_tx_expiry"
	ReasonConfirmedOnChain = "confirmed_on_chain"
	ReasonStaleProcessing  = "stale_processing"
	ReasonCredential       = "credential_unavailable"
	ReasonInterrupted      = "interrupted"
)

// Order is one payout to one destination.
type Order struct {
	ID          string          `json:"id"`
	Reference   string          `json:"reference"`
	PayType     chain.Asset     `json:"payType"`
	Amount      decimal.Decimal `json:"amount"`
	FiatTotal   decimal.Decimal `json:"fiatTotal"`
	ServiceFee  decimal.Decimal `json:"serviceFee"`
	Destination string          `json:"destination"`

	PaymentStatus  PaymentStatus  `json:"paymentStatus"`
	TransferStatus TransferStatus `json:"transferStatus"`

	AssignedWalletID string     `json:"assignedWalletId,omitempty"`
	ExcludedWallets  []string   `json:"excludedWallets,omitempty"`
	Submitted        bool       `json:"submitted"`
	SubmittedTxRef   string     `json:"submittedTxRef,omitempty"`
	SubmittedAt      *time.Time `json:"submittedAt,omitempty"`
	TxReference      string     `json:"txReference,omitempty"`

	RetryCount  int    `json:"retryCount"`
	LastFailure string `json:"lastFailure,omitempty"`
	LastError   string `json:"lastError,omitempty"`
	Terminal    bool   `json:"terminal"`

	ExpiresAt     time.Time  `json:"expiresAt"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	TransferredAt *time.Time `json:"transferredAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	Version       int64      `json:"-"`
}

// Dispatchable reports whether the dispatch loop should pick o up. The
// payment window no longer applies once an order is paid.
func (o *Order) Dispatchable() bool {
	return o.PaymentStatus == PaymentPaid &&
		o.TransferStatus == TransferPending &&
		!o.Terminal
}

func (o *Order) excludes(walletID string) bool {
	for _, id := range o.ExcludedWallets {
		if id == walletID {
			return true
		}
	}
	return false
}

// Status is the coarse view a payer polls. It never carries the failure
// taxonomy.
type Status struct {
	Reference      string          `json:"reference"`
	PayType        chain.Asset     `json:"payType"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	TransferStatus TransferStatus  `json:"transferStatus"`
	TxReference    string          `json:"txReference,omitempty"`
	ExpiresAt      time.Time       `json:"expiresAt"`
}

func (o *Order) status() *Status {
	return &Status{
		Reference:      o.Reference,
		PayType:        o.PayType,
		Amount:         o.Amount,
		PaymentStatus:  o.PaymentStatus,
		TransferStatus: o.TransferStatus,
		TxReference:    o.TxReference,
		ExpiresAt:      o.ExpiresAt,
	}
}

// Outcome of one dispatch attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
	OutcomeDeferred  Outcome = "deferred" // nothing consumed, try again later
)

// Attempt is the audit record of one dispatch attempt.
type Attempt struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"orderId"`
	WalletID       string    `json:"walletId,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	Reason         string    `json:"reason,omitempty"`
	Error          string    `json:"error,omitempty"`
	RetryCount     int       `json:"retryCount"`
	TxRef          string    `json:"txRef,omitempty"`
	EnergyTicketID string    `json:"energyTicketId,omitempty"`
	Manual         bool      `json:"manual"`
	LatencyMS      int64     `json:"latencyMs"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CreateOrderRequest is the intake payload.
type CreateOrderRequest struct {
	Reference   string `json:"reference"`
	PayType     string `json:"payType" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	FiatTotal   string `json:"fiatTotal"`
	ServiceFee  string `json:"serviceFee"`
	Destination string `json:"destination" binding:"required"`
}

// ListFilter narrows admin order listings.
type ListFilter struct {
	TransferStatus TransferStatus
	PaymentStatus  PaymentStatus
	Limit          int
	// Cursor position: orders created strictly before (CreatedAt, ID).
	BeforeTime time.Time
	BeforeID   string
}
