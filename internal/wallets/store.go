package wallets

import (
	"context"
	"time"
)

// Store persists wallet records.
type Store interface {
	Create(ctx context.Context, w *Wallet) error
	Get(ctx context.Context, id string) (*Wallet, error)
	GetByAddress(ctx context.Context, address string) (*Wallet, error)
	List(ctx context.Context) ([]*Wallet, error)

	// Update writes operator-owned settings: label, priority, enabled,
	// thresholds, and health.
	Update(ctx context.Context, w *Wallet) error
	Delete(ctx context.Context, id string) error

	// ApplySnapshot writes a refresh result. It never touches stats.
	ApplySnapshot(ctx context.Context, id string, snap Snapshot) error

	// RecordAttempt increments total and exactly one of success or fail,
	// and stamps lastUsedAt, in one atomic update.
	RecordAttempt(ctx context.Context, id string, success bool, at time.Time) error
	ResetStats(ctx context.Context, id string) error
}
