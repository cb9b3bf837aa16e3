package wallets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/chain/tron"
	"github.com/mbd888/payoutd/internal/idgen"
	"github.com/mbd888/payoutd/internal/validation"
	"github.com/mbd888/payoutd/internal/vault"
)

// refreshConcurrency bounds parallel chain reads during RefreshAll.
const refreshConcurrency = 4

// Locker is the per-wallet lock shared with the dispatch engine.
type Locker interface {
	TryLock(key string) (func(), bool)
	Held(key string) bool
}

// Service implements the wallet registry.
type Service struct {
	store    Store
	chain    chain.Port
	vault    *vault.Vault
	locks    Locker
	defaults Thresholds
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a wallet registry. defaults seed the thresholds of new
// wallets that do not set their own.
func NewService(store Store, port chain.Port, v *vault.Vault, locks Locker, defaults Thresholds, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		chain:    port,
		vault:    v,
		locks:    locks,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// Create registers a wallet from its private key.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Wallet, error) {
	if req.Priority == 0 {
		req.Priority = DefaultPriority
	}
	if !validPriority(req.Priority) {
		return nil, ErrInvalidPriority
	}
	address, err := tron.AddressFromKey(req.PrivateKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	sealed, err := s.vault.Seal(req.PrivateKey, address)
	if err != nil {
		return nil, fmt.Errorf("wallets: seal key: %w", err)
	}

	thresholds := s.defaults
	req.Thresholds.apply(&thresholds)

	now := s.now()
	w := &Wallet{
		ID:         idgen.WithPrefix(idgen.PrefixWallet),
		Label:      validation.SanitizeString(req.Label, validation.MaxStringLength),
		Address:    address,
		SealedKey:  sealed,
		Priority:   req.Priority,
		Enabled:    true,
		Thresholds: thresholds,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	w.Health = ComputeHealth(w)
	if err := s.store.Create(ctx, w); err != nil {
		return nil, err
	}
	s.logger.Info("wallet created", "wallet_id", w.ID, "address", w.Address, "priority", w.Priority)

	refreshed, err := s.Refresh(ctx, w.ID)
	if err != nil {
		s.logger.Warn("initial wallet refresh failed", "wallet_id", w.ID, "error", err)
		return w, nil
	}
	return refreshed, nil
}

// Get returns a wallet by id.
func (s *Service) Get(ctx context.Context, id string) (*Wallet, error) {
	return s.store.Get(ctx, id)
}

// List returns every wallet.
func (s *Service) List(ctx context.Context) ([]*Wallet, error) {
	return s.store.List(ctx)
}

// ListEligible returns the wallets matching c.
func (s *Service) ListEligible(ctx context.Context, c Criteria) ([]*Wallet, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, w := range all {
		if c.match(w) {
			out = append(out, w)
		}
	}
	return out, nil
}

// Update changes label, priority, or thresholds. Health is recomputed
// against the new thresholds.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*Wallet, error) {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Priority != nil {
		if !validPriority(*req.Priority) {
			return nil, ErrInvalidPriority
		}
		w.Priority = *req.Priority
	}
	if req.Label != nil {
		w.Label = validation.SanitizeString(*req.Label, validation.MaxStringLength)
	}
	req.Thresholds.apply(&w.Thresholds)
	w.Health = ComputeHealth(w)
	w.UpdatedAt = s.now()

	if err := s.store.Update(ctx, w); err != nil {
		return nil, err
	}
	observeWallet(w)
	return w, nil
}

// Enable makes a wallet selectable.
func (s *Service) Enable(ctx context.Context, id string) (*Wallet, error) {
	return s.setEnabled(ctx, id, true)
}

// Disable removes a wallet from selection without deleting it.
func (s *Service) Disable(ctx context.Context, id string) (*Wallet, error) {
	return s.setEnabled(ctx, id, false)
}

func (s *Service) setEnabled(ctx context.Context, id string, enabled bool) (*Wallet, error) {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Enabled == enabled {
		return w, nil
	}
	w.Enabled = enabled
	w.UpdatedAt = s.now()
	if err := s.store.Update(ctx, w); err != nil {
		return nil, err
	}
	s.logger.Info("wallet enabled flag changed", "wallet_id", id, "enabled", enabled)
	return w, nil
}

// Delete removes a wallet permanently. A wallet with a transfer in flight
// cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock, ok := s.locks.TryLock(id)
	if !ok {
		return ErrWalletBusy
	}
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	forgetWallet(id)
	s.logger.Info("wallet deleted", "wallet_id", id)
	return nil
}

// Refresh reads balance and resources from the chain and writes the
// snapshot. Chain reads happen without the wallet lock. The write takes
// the lock only if it is free, so a refresh never waits on a transfer.
// A partial read keeps the previous value of the part that failed.
func (s *Service) Refresh(ctx context.Context, id string) (*Wallet, error) {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	bal, balErr := s.chain.GetBalance(ctx, w.Address)
	res, resErr := s.chain.GetResources(ctx, w.Address)

	next := *w
	if balErr == nil {
		next.Balance = Balance{Coin: bal.Coin, Token: bal.Token, RefreshedAt: s.now()}
	}
	if resErr == nil {
		next.Resources = res
	}
	next.Health = ComputeHealth(&next)
	readErr := errors.Join(balErr, resErr)
	next.LastError = ""
	if readErr != nil {
		next.LastError = readErr.Error()
		walletRefreshErrors.Inc()
	}

	if unlock, ok := s.locks.TryLock(id); ok {
		defer unlock()
	}
	if err := s.store.ApplySnapshot(ctx, id, Snapshot{
		Balance:   next.Balance,
		Resources: next.Resources,
		Health:    next.Health,
		LastError: next.LastError,
	}); err != nil {
		return nil, err
	}
	observeWallet(&next)

	if next.Health != w.Health {
		s.logger.Warn("wallet health changed",
			"wallet_id", id, "from", w.Health, "to", next.Health,
			"coin", next.Balance.Coin, "token", next.Balance.Token,
			"energy", next.Resources.EnergyAvailable)
	}
	if readErr != nil {
		return &next, fmt.Errorf("wallets: refresh %s: %w", id, readErr)
	}
	return &next, nil
}

// RefreshSummary reports a bulk refresh.
type RefreshSummary struct {
	Total     int `json:"total"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// RefreshAll refreshes every wallet with bounded concurrency. Individual
// failures are counted, not returned.
func (s *Service) RefreshAll(ctx context.Context) (RefreshSummary, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return RefreshSummary{}, err
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, w := range all {
		id := w.ID
		g.Go(func() error {
			if _, err := s.Refresh(gctx, id); err != nil {
				failed.Add(1)
				s.logger.Warn("wallet refresh failed", "wallet_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := RefreshSummary{Total: len(all), Failed: int(failed.Load())}
	sum.Refreshed = sum.Total - sum.Failed
	return sum, ctx.Err()
}

// RecordAttempt counts one completed dispatch attempt against a wallet.
func (s *Service) RecordAttempt(ctx context.Context, id string, success bool) error {
	if err := s.store.RecordAttempt(ctx, id, success, s.now()); err != nil {
		return err
	}
	outcome := "fail"
	if success {
		outcome = "success"
	}
	walletAttempts.WithLabelValues(outcome).Inc()
	return nil
}

// ResetStats zeroes a wallet's attempt statistics.
func (s *Service) ResetStats(ctx context.Context, id string) (*Wallet, error) {
	if err := s.store.ResetStats(ctx, id); err != nil {
		return nil, err
	}
	s.logger.Info("wallet stats reset", "wallet_id", id)
	return s.store.Get(ctx, id)
}

// Credential unseals a wallet's signing key.
func (s *Service) Credential(ctx context.Context, id string) (chain.Credential, error) {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return chain.Credential{}, err
	}
	key, err := s.vault.Open(w.SealedKey, w.Address)
	if err != nil {
		return chain.Credential{}, fmt.Errorf("wallets: credential %s: %w", id, err)
	}
	return chain.Credential{Address: w.Address, PrivateKey: key}, nil
}
