package energy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/idgen"
	"github.com/mbd888/payoutd/internal/traces"
)

// Provisioner makes sure a wallet has the energy a USDT transfer needs
// before the transfer is submitted.
type Provisioner struct {
	cfg     Config
	chain   chain.Port
	api     APIClient
	tickets TicketStore
	budget  Budget
	logger  *slog.Logger
	now     func() time.Time
}

// NewProvisioner creates a provisioner. api may be nil in transfer mode.
func NewProvisioner(cfg Config, port chain.Port, api APIClient, tickets TicketStore, budget Budget, logger *slog.Logger) *Provisioner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = time.Hour
	}
	if tickets == nil {
		tickets = NewMemoryTicketStore()
	}
	if budget == nil {
		budget = NewMemoryBudget(cfg.DailyBudget)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		cfg:     cfg,
		chain:   port,
		api:     api,
		tickets: tickets,
		budget:  budget,
		logger:  logger,
		now:     time.Now,
	}
}

func unavailable(op string, err error) error {
	return chain.Wrap(chain.KindEnergyUnavailable, "energy."+op, err)
}

// EnsureEnergy tops up the paying wallet's energy for a transfer of
// payType to destination. It returns a nil ticket when nothing had to be
// rented. Every failure is classified energy_unavailable. Cancelling ctx
// aborts the delivery wait but cannot undo a rental already paid for.
func (p *Provisioner) EnsureEnergy(ctx context.Context, walletID string, cred chain.Credential, payType chain.Asset, destination string) (*Ticket, error) {
	if !payType.IsToken() {
		return nil, nil
	}

	ctx, span := traces.StartSpan(ctx, "energy.ensure", traces.WalletID(walletID))
	defer span.End()

	holds, err := p.chain.AddressHoldsToken(ctx, destination)
	if err != nil {
		traces.Fail(span, err)
		return nil, unavailable("holder_check", err)
	}
	required := p.cfg.Required(holds)
	span.SetAttributes(traces.Energy(required))

	res, err := p.chain.GetResources(ctx, cred.Address)
	if err != nil {
		traces.Fail(span, err)
		return nil, unavailable("resources", err)
	}
	if res.EnergyAvailable >= required {
		return nil, nil
	}

	now := p.now()
	t := &Ticket{
		ID:                  idgen.WithPrefix(idgen.PrefixTicket),
		WalletID:            walletID,
		Mode:                p.cfg.Mode,
		AmountRequested:     required - res.EnergyAvailable,
		RecipientHoldsToken: holds,
		Status:              TicketPending,
		CostTRX:             decimal.Zero,
		ExpiresAt:           now.Add(p.cfg.LeaseDuration),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	p.logger.Info("renting energy",
		"wallet_id", walletID, "ticket_id", t.ID, "mode", t.Mode,
		"required", required, "available", res.EnergyAvailable, "recipient_holds_token", holds)

	start := time.Now()
	switch p.cfg.Mode {
	case ModeTransfer:
		err = p.rentByTransfer(ctx, t, cred, required)
	case ModeAPI:
		err = p.rentByAPI(ctx, t, cred.Address, required)
	default:
		err = fmt.Errorf("unknown rental mode %q", p.cfg.Mode)
	}
	energyProvisionDuration.WithLabelValues(string(t.Mode)).Observe(time.Since(start).Seconds())

	t.UpdatedAt = p.now()
	if err != nil {
		t.Status = TicketFailed
		t.Error = err.Error()
		energyRentals.WithLabelValues(string(t.Mode), "failed").Inc()
		traces.Fail(span, err)
		p.logger.Warn("energy rental failed", "wallet_id", walletID, "ticket_id", t.ID, "error", err)
	} else {
		t.Status = TicketCompleted
		energyRentals.WithLabelValues(string(t.Mode), "completed").Inc()
		p.logger.Info("energy rental delivered", "wallet_id", walletID, "ticket_id", t.ID, "provider_ref", t.ProviderRef)
	}
	if serr := p.tickets.Save(context.WithoutCancel(ctx), t); serr != nil {
		p.logger.Warn("failed to save energy ticket", "ticket_id", t.ID, "error", serr)
	}

	if err != nil {
		return t, unavailable(string(t.Mode), err)
	}
	return t, nil
}

func (p *Provisioner) rentByTransfer(ctx context.Context, t *Ticket, cred chain.Credential, required int64) error {
	price := p.cfg.RentalPrice
	bal, err := p.chain.GetBalance(ctx, cred.Address)
	if err != nil {
		return err
	}
	if need := price.Add(p.cfg.RentalFee); bal.Coin.LessThan(need) {
		return fmt.Errorf("%w: have %s TRX, need %s", ErrRentalFunds, bal.Coin, need)
	}
	if err := p.budget.Reserve(ctx, price); err != nil {
		return err
	}
	p.save(ctx, t)

	ref, err := p.chain.SubmitTransfer(ctx, cred, chain.TransferRequest{
		To:     p.cfg.ProviderAddress,
		Asset:  chain.AssetTRX,
		Amount: price,
	})
	if err != nil {
		t.ProviderRef = chain.TxRefOf(err)
		if chain.KindOf(err) != chain.KindAmbiguousSubmission {
			p.budget.Release(ctx, price)
		}
		return fmt.Errorf("rental payment: %w", err)
	}
	t.ProviderRef = ref
	t.CostTRX = price
	energyRentalSpend.Add(price.InexactFloat64())
	p.save(ctx, t)

	return p.waitForEnergy(ctx, cred.Address, required, nil)
}

func (p *Provisioner) rentByAPI(ctx context.Context, t *Ticket, address string, required int64) error {
	if p.api == nil {
		return errors.New("api rental mode without a provider client")
	}
	estimate := p.cfg.RentalPrice
	if err := p.budget.Reserve(ctx, estimate); err != nil {
		return err
	}
	p.save(ctx, t)

	pur, err := p.api.Purchase(ctx, PurchaseRequest{
		Receiver: address,
		Energy:   t.AmountRequested,
		Duration: p.cfg.LeaseDuration,
	})
	if err != nil {
		p.budget.Release(ctx, estimate)
		return err
	}
	t.ProviderRef = pur.OrderID
	t.CostTRX = pur.CostTRX
	energyRentalSpend.Add(pur.CostTRX.InexactFloat64())
	if pur.Status == PurchaseFailed {
		return fmt.Errorf("%w: %s", ErrProviderFailed, pur.Message)
	}
	p.save(ctx, t)

	orderID := pur.OrderID
	return p.waitForEnergy(ctx, address, required, func(ctx context.Context) error {
		st, err := p.api.Status(ctx, orderID)
		if err != nil {
			// The chain is authoritative. A flaky status endpoint is not fatal.
			return nil
		}
		if st.Status == PurchaseFailed {
			return fmt.Errorf("%w: %s", ErrProviderFailed, st.Message)
		}
		return nil
	})
}

// waitForEnergy polls the wallet until its energy reaches required, the
// delivery timeout passes, check fails, or ctx is cancelled.
func (p *Provisioner) waitForEnergy(ctx context.Context, address string, required int64, check func(context.Context) error) error {
	wctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		res, err := p.chain.GetResources(wctx, address)
		if err == nil && res.EnergyAvailable >= required {
			return nil
		}
		if check != nil {
			if err := check(wctx); err != nil {
				return err
			}
		}

		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrDeliveryTimeout
		case <-ticker.C:
		}
	}
}

func (p *Provisioner) save(ctx context.Context, t *Ticket) {
	t.UpdatedAt = p.now()
	if err := p.tickets.Save(ctx, t); err != nil {
		p.logger.Warn("failed to save energy ticket", "ticket_id", t.ID, "error", err)
	}
}

// Tickets lists recent rentals for a wallet.
func (p *Provisioner) Tickets(ctx context.Context, walletID string, limit int) ([]*Ticket, error) {
	return p.tickets.ListByWallet(ctx, walletID, limit)
}

// BudgetStatus reports today's rental spending.
func (p *Provisioner) BudgetStatus(ctx context.Context) (spent, limit decimal.Decimal) {
	return p.budget.Spent(ctx)
}
