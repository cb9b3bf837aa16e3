package energy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/mbd888/payoutd/internal/amount"
)

// Budget caps TRX spent on rentals per UTC day.
type Budget interface {
	// Reserve books cost against today's budget or returns ErrBudgetExceeded.
	Reserve(ctx context.Context, cost decimal.Decimal) error
	// Release returns a reservation that was not spent.
	Release(ctx context.Context, cost decimal.Decimal)
	// Spent returns today's spending and the limit (zero means unlimited).
	Spent(ctx context.Context) (spent, limit decimal.Decimal)
}

func day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MemoryBudget is a per-process daily budget.
type MemoryBudget struct {
	mu      sync.Mutex
	limit   decimal.Decimal
	spent   decimal.Decimal
	resetAt string
	now     func() time.Time
}

// NewMemoryBudget creates a budget. A zero limit never refuses.
func NewMemoryBudget(limit decimal.Decimal) *MemoryBudget {
	return &MemoryBudget{limit: limit, now: time.Now}
}

// Caller must hold b.mu.
func (b *MemoryBudget) rollLocked() {
	today := day(b.now())
	if b.resetAt != today {
		b.spent = decimal.Zero
		b.resetAt = today
	}
}

func (b *MemoryBudget) Reserve(_ context.Context, cost decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	next := b.spent.Add(cost)
	if b.limit.IsPositive() && next.GreaterThan(b.limit) {
		return ErrBudgetExceeded
	}
	b.spent = next
	return nil
}

func (b *MemoryBudget) Release(_ context.Context, cost decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	b.spent = decimal.Max(decimal.Zero, b.spent.Sub(cost))
}

func (b *MemoryBudget) Spent(_ context.Context) (decimal.Decimal, decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.spent, b.limit
}

// RedisBudget shares the daily budget across replicas. Spending is kept in
// SUN under a per-day key.
type RedisBudget struct {
	rdb   *redis.Client
	limit decimal.Decimal
	now   func() time.Time
}

// NewRedisBudget creates a Redis-backed budget.
func NewRedisBudget(rdb *redis.Client, limit decimal.Decimal) *RedisBudget {
	return &RedisBudget{rdb: rdb, limit: limit, now: time.Now}
}

func (b *RedisBudget) key() string {
	return fmt.Sprintf("payoutd:energy:budget:%s", day(b.now()))
}

func (b *RedisBudget) Reserve(ctx context.Context, cost decimal.Decimal) error {
	sun := amount.ToSunInt64(cost)
	key := b.key()
	total, err := b.rdb.IncrBy(ctx, key, sun).Result()
	if err != nil {
		return fmt.Errorf("energy budget: %w", err)
	}
	b.rdb.Expire(ctx, key, 48*time.Hour)
	if b.limit.IsPositive() && total > amount.ToSunInt64(b.limit) {
		b.rdb.DecrBy(ctx, key, sun)
		return ErrBudgetExceeded
	}
	return nil
}

func (b *RedisBudget) Release(ctx context.Context, cost decimal.Decimal) {
	b.rdb.DecrBy(ctx, b.key(), amount.ToSunInt64(cost))
}

func (b *RedisBudget) Spent(ctx context.Context) (decimal.Decimal, decimal.Decimal) {
	sun, err := b.rdb.Get(ctx, b.key()).Int64()
	if err != nil {
		return decimal.Zero, b.limit
	}
	return amount.FromSunInt64(sun), b.limit
}
