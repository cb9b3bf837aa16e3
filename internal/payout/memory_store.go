package payout

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory order store for development and tests.
type MemoryStore struct {
	orders   map[string]*Order
	byRef    map[string]string
	attempts map[string][]*Attempt
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*Order),
		byRef:    make(map[string]string),
		attempts: make(map[string][]*Attempt),
	}
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.ExcludedWallets = append([]string(nil), o.ExcludedWallets...)
	for _, p := range []**time.Time{&cp.SubmittedAt, &cp.PaidAt, &cp.TransferredAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[o.Reference]; ok {
		return ErrDuplicateRef
	}
	o.Version = 1
	m.orders[o.ID] = cloneOrder(o)
	m.byRef[o.Reference] = o.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryStore) GetByReference(_ context.Context, ref string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRef[ref]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(m.orders[id]), nil
}

func (m *MemoryStore) Update(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if existing.Version != o.Version {
		return ErrConflict
	}
	o.Version++
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

// collect returns matching orders oldest first. Caller must hold m.mu.
func (m *MemoryStore) collect(match func(*Order) bool) []*Order {
	var out []*Order
	for _, o := range m.orders {
		if match(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func limited(out []*Order, limit int) []*Order {
	if limit > 0 && len(out) > limit {
		return out[:limit]
	}
	return out
}

func (m *MemoryStore) ListDispatchable(_ context.Context, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return limited(m.collect((*Order).Dispatchable), limit), nil
}

func (m *MemoryStore) ListByTransferStatus(_ context.Context, status TransferStatus, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return limited(m.collect(func(o *Order) bool { return o.TransferStatus == status }), limit), nil
}

func (m *MemoryStore) ListExpiredUnpaid(_ context.Context, before time.Time, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return limited(m.collect(func(o *Order) bool {
		return o.PaymentStatus == PaymentPending && !o.ExpiresAt.IsZero() && o.ExpiresAt.Before(before)
	}), limit), nil
}

// List returns orders newest first.
func (m *MemoryStore) List(_ context.Context, f ListFilter) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.collect(func(o *Order) bool {
		if f.TransferStatus != "" && o.TransferStatus != f.TransferStatus {
			return false
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			return false
		}
		if !f.BeforeTime.IsZero() {
			if o.CreatedAt.After(f.BeforeTime) {
				return false
			}
			if o.CreatedAt.Equal(f.BeforeTime) && o.ID >= f.BeforeID {
				return false
			}
		}
		return true
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return limited(out, f.Limit), nil
}

func (m *MemoryStore) CreateAttempt(_ context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.attempts[a.OrderID] = append(m.attempts[a.OrderID], &cp)
	return nil
}

func (m *MemoryStore) ListAttempts(_ context.Context, orderID string) ([]*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.attempts[orderID]
	out := make([]*Attempt, len(src))
	for i, a := range src {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
