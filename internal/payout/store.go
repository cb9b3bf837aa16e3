package payout

import (
	"context"
	"time"
)

// Store persists orders and their attempt log.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByReference(ctx context.Context, ref string) (*Order, error)
	// Update writes o if its Version matches the stored one and bumps
	// Version. A mismatch returns ErrConflict.
	Update(ctx context.Context, o *Order) error
	ListDispatchable(ctx context.Context, limit int) ([]*Order, error)
	ListByTransferStatus(ctx context.Context, status TransferStatus, limit int) ([]*Order, error)
	List(ctx context.Context, f ListFilter) ([]*Order, error)
	ListExpiredUnpaid(ctx context.Context, before time.Time, limit int) ([]*Order, error)

	CreateAttempt(ctx context.Context, a *Attempt) error
	ListAttempts(ctx context.Context, orderID string) ([]*Attempt, error)
}
