package wallets

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory wallet store for development and tests.
type MemoryStore struct {
	wallets map[string]*Wallet
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[string]*Wallet)}
}

func cloneWallet(w *Wallet) *Wallet {
	cp := *w
	if w.Stats.LastUsedAt != nil {
		t := *w.Stats.LastUsedAt
		cp.Stats.LastUsedAt = &t
	}
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.wallets {
		if existing.Address == w.Address {
			return ErrDuplicateAddress
		}
	}
	m.wallets[w.ID] = cloneWallet(w)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWallet(w), nil
}

func (m *MemoryStore) GetByAddress(_ context.Context, address string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.wallets {
		if w.Address == address {
			return cloneWallet(w), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) List(_ context.Context) ([]*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		result = append(result, cloneWallet(w))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt) ||
			(result[i].CreatedAt.Equal(result[j].CreatedAt) && result[i].ID < result[j].ID)
	})
	return result, nil
}

func (m *MemoryStore) Update(_ context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.wallets[w.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Label = w.Label
	cur.Priority = w.Priority
	cur.Enabled = w.Enabled
	cur.Thresholds = w.Thresholds
	cur.Health = w.Health
	cur.UpdatedAt = w.UpdatedAt
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[id]; !ok {
		return ErrNotFound
	}
	delete(m.wallets, id)
	return nil
}

func (m *MemoryStore) ApplySnapshot(_ context.Context, id string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.wallets[id]
	if !ok {
		return ErrNotFound
	}
	cur.Balance = snap.Balance
	cur.Resources = snap.Resources
	cur.Health = snap.Health
	cur.LastError = snap.LastError
	cur.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) RecordAttempt(_ context.Context, id string, success bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.wallets[id]
	if !ok {
		return ErrNotFound
	}
	cur.Stats.TotalTransactions++
	if success {
		cur.Stats.SuccessCount++
	} else {
		cur.Stats.FailCount++
	}
	t := at
	cur.Stats.LastUsedAt = &t
	return nil
}

func (m *MemoryStore) ResetStats(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.wallets[id]
	if !ok {
		return ErrNotFound
	}
	cur.Stats = Stats{}
	cur.UpdatedAt = time.Now()
	return nil
}
