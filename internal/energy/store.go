package energy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TicketStore persists rental tickets until their lease ends.
type TicketStore interface {
	Save(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	ListByWallet(ctx context.Context, walletID string, limit int) ([]*Ticket, error)
}

// MemoryTicketStore keeps tickets in process memory. Expired tickets are
// dropped lazily on access.
type MemoryTicketStore struct {
	mu      sync.RWMutex
	tickets map[string]*Ticket
	now     func() time.Time
}

// NewMemoryTicketStore creates an empty in-memory store.
func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{tickets: make(map[string]*Ticket), now: time.Now}
}

func (m *MemoryTicketStore) Save(_ context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tickets[t.ID] = &cp

	now := m.now()
	for id, existing := range m.tickets {
		if !existing.ExpiresAt.IsZero() && existing.ExpiresAt.Before(now) {
			delete(m.tickets, id)
		}
	}
	return nil
}

func (m *MemoryTicketStore) Get(_ context.Context, id string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok || (!t.ExpiresAt.IsZero() && t.ExpiresAt.Before(m.now())) {
		return nil, ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryTicketStore) ListByWallet(_ context.Context, walletID string, limit int) ([]*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var out []*Ticket
	for _, t := range m.tickets {
		if t.WalletID != walletID || (!t.ExpiresAt.IsZero() && t.ExpiresAt.Before(now)) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RedisTicketStore keeps tickets in Redis with a TTL matching the lease, so
// several replicas see the same rentals.
type RedisTicketStore struct {
	rdb *redis.Client
}

// NewRedisTicketStore wraps a connected client.
func NewRedisTicketStore(rdb *redis.Client) *RedisTicketStore {
	return &RedisTicketStore{rdb: rdb}
}

// Key helpers
func ticketKey(id string) string {
	return fmt.Sprintf("payoutd:energy:ticket:%s", id)
}

func walletTicketsKey(walletID string) string {
	return fmt.Sprintf("payoutd:energy:wallet:%s", walletID)
}

func (r *RedisTicketStore) Save(ctx context.Context, t *Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}
	ttl := time.Until(t.ExpiresAt)
	if ttl < time.Minute {
		ttl = time.Minute
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, ticketKey(t.ID), data, ttl)
	pipe.ZAdd(ctx, walletTicketsKey(t.WalletID), redis.Z{Score: float64(t.CreatedAt.UnixNano()), Member: t.ID})
	pipe.Expire(ctx, walletTicketsKey(t.WalletID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save ticket: %w", err)
	}
	return nil
}

func (r *RedisTicketStore) Get(ctx context.Context, id string) (*Ticket, error) {
	data, err := r.rdb.Get(ctx, ticketKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket: %w", err)
	}
	return &t, nil
}

func (r *RedisTicketStore) ListByWallet(ctx context.Context, walletID string, limit int) ([]*Ticket, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.rdb.ZRevRange(ctx, walletTicketsKey(walletID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange failed: %w", err)
	}

	var out []*Ticket
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if err == ErrTicketNotFound {
			// Lease ended but the index still holds the id.
			r.rdb.ZRem(ctx, walletTicketsKey(walletID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
