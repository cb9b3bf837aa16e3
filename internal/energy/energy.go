// Package energy provisions the energy a wallet needs for a USDT transfer,
// renting it on demand from a provider when the wallet's own budget is short.
package energy

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects how energy is rented.
type Mode string

const (
	// ModeTransfer pays a fixed TRX amount to a provider address, which
	// delegates energy back to the payer.
	ModeTransfer Mode = "transfer"
	// ModeAPI buys energy through a provider's HTTP API.
	ModeAPI Mode = "api"
)

// TicketStatus is the lifecycle state of a rental.
type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketCompleted TicketStatus = "completed"
	TicketFailed    TicketStatus = "failed"
)

var (
	ErrTicketNotFound  = errors.New("energy: ticket not found")
	ErrBudgetExceeded  = errors.New("energy: daily rental budget exceeded")
	ErrRentalFunds     = errors.New("energy: wallet cannot pay for the rental")
	ErrDeliveryTimeout = errors.New("energy: rented energy did not arrive in time")
	ErrProviderFailed  = errors.New("energy: provider reported failure")
)

// Ticket records one rental attempt.
type Ticket struct {
	ID                  string          `json:"id"`
	WalletID            string          `json:"walletId"`
	Mode                Mode            `json:"mode"`
	AmountRequested     int64           `json:"amountRequested"`
	RecipientHoldsToken bool            `json:"recipientHoldsToken"`
	Status              TicketStatus    `json:"status"`
	ProviderRef         string          `json:"providerRef,omitempty"`
	CostTRX             decimal.Decimal `json:"costTrx"`
	Error               string          `json:"error,omitempty"`
	ExpiresAt           time.Time       `json:"expiresAt"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Config sizes and routes rentals.
type Config struct {
	Mode Mode

	// Energy consumed by one USDT transfer, depending on whether the
	// recipient already holds USDT.
	NewHolderEnergy      int64
	ExistingHolderEnergy int64

	ProviderAddress string          // transfer mode
	RentalPrice     decimal.Decimal // TRX per rental; also the api-mode budget estimate
	RentalFee       decimal.Decimal // TRX reserve for the rental transfer itself

	LeaseDuration time.Duration
	Timeout       time.Duration // delivery wait
	PollInterval  time.Duration
	DailyBudget   decimal.Decimal // TRX; zero means unlimited
}

// Required returns the energy a USDT transfer to the recipient consumes.
func (c Config) Required(recipientHoldsToken bool) int64 {
	if recipientHoldsToken {
		return c.ExistingHolderEnergy
	}
	return c.NewHolderEnergy
}
