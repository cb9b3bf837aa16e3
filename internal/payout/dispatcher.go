package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/energy"
	"github.com/mbd888/payoutd/internal/idgen"
	"github.com/mbd888/payoutd/internal/selector"
	"github.com/mbd888/payoutd/internal/traces"
	"github.com/mbd888/payoutd/internal/wallets"
)

// claimAttempts bounds re-selection when the chosen wallet is taken
// between selection and try-lock.
const claimAttempts = 3

// Wallets is the registry view the dispatcher needs.
type Wallets interface {
	Get(ctx context.Context, id string) (*wallets.Wallet, error)
	List(ctx context.Context) ([]*wallets.Wallet, error)
	Credential(ctx context.Context, id string) (chain.Credential, error)
	RecordAttempt(ctx context.Context, id string, success bool) error
	Refresh(ctx context.Context, id string) (*wallets.Wallet, error)
}

// Provisioner tops up a wallet's energy before a token transfer.
type Provisioner interface {
	EnsureEnergy(ctx context.Context, walletID string, cred chain.Credential, payType chain.Asset, destination string) (*energy.Ticket, error)
}

// Locker is the per-wallet lock shared with the registry.
type Locker interface {
	TryLock(key string) (func(), bool)
	Held(key string) bool
}

// DispatcherConfig tunes the dispatch engine.
type DispatcherConfig struct {
	MaxRetryCount int
	Workers       int
	BatchSize     int
	AutoTransfer  bool
	SubmitTimeout time.Duration
	// TxExpiry bounds how long after SubmittedAt a broadcast that no node
	// reports may still be included in a block. TRON transactions expire
	// 60s after creation by default.
	TxExpiry time.Duration
	Fees     selector.FeeEstimator
}

// Dispatcher moves paid orders to completed or failed.
type Dispatcher struct {
	svc     *Service
	store   Store
	wallets Wallets
	energy  Provisioner
	chain   chain.Port
	locks   Locker
	cfg     DispatcherConfig
	logger  *slog.Logger

	// claimMu covers selection plus try-lock so two dispatches never pick
	// the same wallet from the same snapshot.
	claimMu   sync.Mutex
	refreshes sync.WaitGroup
}

// NewDispatcher wires the dispatch engine.
func NewDispatcher(svc *Service, reg Wallets, prov Provisioner, port chain.Port, locks Locker, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.MaxRetryCount < 1 {
		cfg.MaxRetryCount = 3
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 20 * time.Second
	}
	if cfg.TxExpiry <= 0 {
		cfg.TxExpiry = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		svc:     svc,
		store:   svc.store,
		wallets: reg,
		energy:  prov,
		chain:   port,
		locks:   locks,
		cfg:     cfg,
		logger:  logger,
	}
}

// verdict is the classified result of one attempt.
type verdict struct {
	outcome Outcome
	reason  string
	err     error
	txRef   string
	consume bool   // counts against the retry budget
	exclude string // wallet to skip for this order from now on
}

// Dispatch runs one attempt for a dispatchable order. Chain failures are
// recorded on the order, not returned; the error reports orders that could
// not be attempted at all.
func (d *Dispatcher) Dispatch(ctx context.Context, id string) (*Order, error) {
	o, _, err := d.run(ctx, id, false)
	return o, err
}

// ManualRetry re-dispatches a failed order on operator request. The retry
// budget and wallet exclusions are reset. Any earlier submission is checked
// on chain first and never repeated if it landed.
func (d *Dispatcher) ManualRetry(ctx context.Context, id string) (*Order, error) {
	o, _, err := d.run(ctx, id, true)
	return o, err
}

func (d *Dispatcher) run(ctx context.Context, id string, manual bool) (*Order, *Attempt, error) {
	unlock, ok := d.svc.orderLocks.TryLock(id)
	if !ok {
		return nil, nil, ErrOrderBusy
	}
	defer unlock()

	o, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case manual && o.TransferStatus != TransferFailed:
		return o, nil, ErrNotRetryable
	case manual && o.PaymentStatus != PaymentPaid && !o.Submitted:
		return o, nil, ErrNotDispatchable
	case !manual && !o.Dispatchable():
		return o, nil, ErrNotDispatchable
	}

	ctx, done := d.svc.inflight.start(ctx, id)
	defer done()
	ctx, span := traces.StartSpan(ctx, "payout.dispatch",
		traces.OrderID(o.ID), traces.PayType(string(o.PayType)), traces.Amount(o.Amount.String()))
	defer span.End()

	dispatchInFlight.Inc()
	defer dispatchInFlight.Dec()

	start := time.Now()
	rec := &Attempt{
		ID:      idgen.WithPrefix(idgen.PrefixAttempt),
		OrderID: o.ID,
		Manual:  manual,
	}
	if manual {
		d.logger.Info("manual retry requested",
			"order_id", o.ID, "last_failure", o.LastFailure, "retry_count", o.RetryCount, "submitted", o.Submitted)
		o.Terminal = false
		o.RetryCount = 0
		o.ExcludedWallets = nil
	}

	v, err := d.execute(ctx, o, rec)
	if err != nil {
		traces.Fail(span, err)
		d.logger.Error("dispatch aborted", "order_id", o.ID, "wallet_id", rec.WalletID, "error", err)
		return o, nil, err
	}
	if err := d.apply(o, rec, v); err != nil {
		traces.Fail(span, err)
		return o, nil, err
	}

	saveErr := d.save(ctx, o)
	d.record(ctx, o, rec, v, start)
	if saveErr != nil {
		d.logger.Error("failed to persist dispatch result",
			"order_id", o.ID, "wallet_id", rec.WalletID, "outcome", rec.Outcome, "tx_ref", rec.TxRef, "error", saveErr)
		traces.Fail(span, saveErr)
		return o, rec, saveErr
	}

	span.SetAttributes(traces.Reason(rec.Reason), traces.RetryCount(o.RetryCount))
	if rec.WalletID != "" {
		span.SetAttributes(traces.WalletID(rec.WalletID))
	}
	if rec.TxRef != "" {
		span.SetAttributes(traces.TxRef(rec.TxRef))
	}
	if v.err != nil {
		traces.Fail(span, v.err)
	}
	return o, rec, nil
}

// execute performs the attempt up to the point of classification. A
// returned error means the attempt was abandoned before anything reached
// the chain.
func (d *Dispatcher) execute(ctx context.Context, o *Order, rec *Attempt) (verdict, error) {
	if o.Submitted {
		if v, proceed := d.checkPrior(ctx, o, rec); !proceed {
			if v.outcome == OutcomeDeferred && o.PaymentStatus != PaymentPaid {
				// Pending would strand it: unpaid orders are never picked up.
				v.outcome = OutcomeFailed
				v.err = fmt.Errorf("earlier submission unsettled, retry later: %w", ErrNotDispatchable)
			}
			return v, nil
		}
	}
	if o.PaymentStatus != PaymentPaid {
		// Only a landed earlier submission can still complete this order.
		reason := paymentEndReason(o.PaymentStatus)
		return verdict{outcome: OutcomeFailed, reason: reason, err: fmt.Errorf("payment %s: %w", o.PaymentStatus, ErrNotDispatchable)}, nil
	}

	w, release, err := d.claim(ctx, o)
	if err != nil {
		var ne *selector.NoEligibleWalletError
		if !errors.As(err, &ne) {
			return verdict{}, err
		}
		return selectionVerdict(ne), nil
	}
	defer release()

	rec.WalletID = w.ID
	o.AssignedWalletID = w.ID
	if o.TransferStatus != TransferProcessing {
		if err := o.moveTo(TransferProcessing); err != nil {
			return verdict{}, err
		}
	}
	if err := d.save(ctx, o); err != nil {
		return verdict{}, err
	}
	d.logger.Info("order processing", "order_id", o.ID, "wallet_id", w.ID, "retry_count", o.RetryCount)

	cred, err := d.wallets.Credential(ctx, w.ID)
	if err != nil {
		return verdict{outcome: OutcomeRetry, reason: ReasonCredential, err: err, consume: true, exclude: w.ID}, nil
	}

	ticket, err := d.energy.EnsureEnergy(ctx, w.ID, cred, o.PayType, o.Destination)
	if ticket != nil {
		rec.EnergyTicketID = ticket.ID
	}
	if err != nil {
		return d.chainVerdict(ctx, err, w.ID), nil
	}

	now := d.svc.now()
	o.Submitted = true
	o.SubmittedAt = &now
	o.SubmittedTxRef = ""
	if err := d.save(ctx, o); err != nil {
		return verdict{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	ref, err := d.chain.SubmitTransfer(sctx, cred, chain.TransferRequest{
		To:     o.Destination,
		Asset:  o.PayType,
		Amount: o.Amount,
	})
	cancel()
	if err == nil {
		o.SubmittedTxRef = ref
		return verdict{outcome: OutcomeCompleted, txRef: ref}, nil
	}

	if chain.KindOf(err) == chain.KindAmbiguousSubmission {
		o.SubmittedTxRef = chain.TxRefOf(err)
		rec.TxRef = o.SubmittedTxRef
	} else {
		// The node refused the transaction, so nothing can land later.
		o.Submitted = false
		o.SubmittedAt = nil
		o.SubmittedTxRef = ""
	}
	return d.chainVerdict(ctx, err, w.ID), nil
}

// checkPrior looks for an earlier submission of o on chain. proceed is true
// when none landed and a new transfer may be sent.
func (d *Dispatcher) checkPrior(ctx context.Context, o *Order, rec *Attempt) (v verdict, proceed bool) {
	ref := o.SubmittedTxRef
	var (
		status chain.TxStatus
		err    error
	)
	if ref != "" {
		status, err = d.chain.GetTransactionStatus(ctx, ref)
	} else {
		var w *wallets.Wallet
		w, err = d.wallets.Get(ctx, o.AssignedWalletID)
		if err == nil {
			since := o.CreatedAt
			if o.SubmittedAt != nil {
				since = o.SubmittedAt.Add(-time.Minute)
			}
			ref, status, err = d.chain.FindTransfer(ctx, w.Address, chain.TransferRequest{
				To:     o.Destination,
				Asset:  o.PayType,
				Amount: o.Amount,
			}, since)
		}
	}

	if err != nil {
		guardChecks.WithLabelValues("error").Inc()
		d.logger.Warn("prior submission check failed",
			"order_id", o.ID, "wallet_id", o.AssignedWalletID, "tx_ref", ref, "error", err)
		return verdict{
			outcome: OutcomeRetry,
			reason:  string(chain.KindAmbiguousSubmission),
			err:     fmt.Errorf("check prior submission: %w", err),
			consume: true,
		}, false
	}

	switch status {
	case chain.TxConfirmed:
		guardChecks.WithLabelValues("confirmed").Inc()
		rec.WalletID = o.AssignedWalletID
		d.logger.Info("prior submission confirmed on chain",
			"order_id", o.ID, "wallet_id", o.AssignedWalletID, "tx_ref", ref)
		return verdict{outcome: OutcomeCompleted, reason: ReasonConfirmedOnChain, txRef: ref}, false
	case chain.TxPending:
		guardChecks.WithLabelValues("pending").Inc()
		rec.TxRef = ref
		o.SubmittedTxRef = ref
		return verdict{outcome: OutcomeDeferred, reason: ReasonPendingOnChain}, false
	case chain.TxUnknown:
		// A broadcast no node reports yet can still land until it expires.
		if o.SubmittedAt != nil {
			if until := o.SubmittedAt.Add(d.cfg.TxExpiry); d.svc.now().Before(until) {
				guardChecks.WithLabelValues("unsettled").Inc()
				rec.TxRef = ref
				d.logger.Info("prior submission not visible yet, waiting for expiry",
					"order_id", o.ID, "wallet_id", o.AssignedWalletID, "tx_ref", ref, "until", until)
				return verdict{outcome: OutcomeDeferred, reason: ReasonAwaitingExpiry}, false
			}
		}
	}

	guardChecks.WithLabelValues("absent").Inc()
	d.logger.Info("prior submission not on chain, resubmitting",
		"order_id", o.ID, "wallet_id", o.AssignedWalletID, "tx_ref", ref, "status", status)
	o.Submitted = false
	o.SubmittedAt = nil
	o.SubmittedTxRef = ""
	return verdict{}, true
}

// claim selects a wallet and takes its lock.
func (d *Dispatcher) claim(ctx context.Context, o *Order) (*wallets.Wallet, func(), error) {
	req := selector.Requirement{PayType: o.PayType, Amount: o.Amount, Exclude: o.ExcludedWallets}
	for i := 0; i < claimAttempts; i++ {
		ws, err := d.wallets.List(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("list wallets: %w", err)
		}

		d.claimMu.Lock()
		w, err := selector.Select(ws, req, d.locks.Held, d.cfg.Fees)
		if err != nil {
			d.claimMu.Unlock()
			return nil, nil, err
		}
		release, ok := d.locks.TryLock(w.ID)
		d.claimMu.Unlock()
		if ok {
			return w, release, nil
		}
		d.logger.Debug("wallet taken during claim, reselecting", "order_id", o.ID, "wallet_id", w.ID)
	}
	return nil, nil, &selector.NoEligibleWalletError{Reason: selector.ReasonAllLocked}
}

func selectionVerdict(ne *selector.NoEligibleWalletError) verdict {
	v := verdict{reason: string(ne.Reason), err: ne}
	switch ne.Reason {
	case selector.ReasonAllLocked:
		v.outcome = OutcomeDeferred
	case selector.ReasonAllUnderfunded:
		v.outcome = OutcomeRetry
		v.consume = true
	default:
		v.outcome = OutcomeFailed
	}
	return v
}

func (d *Dispatcher) chainVerdict(ctx context.Context, err error, walletID string) verdict {
	if errors.Is(context.Cause(ctx), ErrOrderExpired) {
		return verdict{outcome: OutcomeFailed, reason: ReasonOrderExpired, err: err}
	}
	if ctx.Err() != nil {
		return verdict{outcome: OutcomeDeferred, reason: ReasonInterrupted, err: err}
	}

	kind := chain.KindOf(err)
	v := verdict{reason: string(kind), err: err}
	switch kind {
	case chain.KindInvalidDestination, chain.KindRejected:
		v.outcome = OutcomeFailed
	case chain.KindInsufficientBalance:
		v.outcome = OutcomeRetry
		v.consume = true
		v.exclude = walletID
	case chain.KindEnergyUnavailable:
		v.outcome = OutcomeRetry
		v.consume = true
		if errors.Is(err, energy.ErrRentalFunds) {
			// This wallet cannot pay for its own rental; another may.
			v.exclude = walletID
		}
	default:
		v.outcome = OutcomeRetry
		v.consume = true
	}
	return v
}

// apply moves o to the state v calls for and fills rec.
func (d *Dispatcher) apply(o *Order, rec *Attempt, v verdict) error {
	if o.TransferStatus != TransferProcessing {
		if err := o.moveTo(TransferProcessing); err != nil {
			return err
		}
	}
	o.LastError = ""
	if v.err != nil {
		o.LastError = v.err.Error()
	}

	var next TransferStatus
	switch v.outcome {
	case OutcomeCompleted:
		now := d.svc.now()
		o.TxReference = v.txRef
		o.SubmittedTxRef = v.txRef
		o.TransferredAt = &now
		o.LastFailure = ""
		next = TransferCompleted
	case OutcomeDeferred:
		o.LastFailure = v.reason
		next = TransferPending
	case OutcomeRetry:
		o.LastFailure = v.reason
		if v.exclude != "" && !o.excludes(v.exclude) {
			o.ExcludedWallets = append(o.ExcludedWallets, v.exclude)
		}
		if v.consume {
			o.RetryCount++
		}
		next = TransferPending
		if o.RetryCount >= d.cfg.MaxRetryCount {
			v.outcome = OutcomeFailed
			o.Terminal = true
			next = TransferFailed
		}
	default:
		o.LastFailure = v.reason
		o.Terminal = true
		next = TransferFailed
	}
	if err := o.moveTo(next); err != nil {
		return err
	}

	rec.Outcome = v.outcome
	rec.Reason = v.reason
	rec.RetryCount = o.RetryCount
	if v.err != nil {
		rec.Error = v.err.Error()
	}
	if v.txRef != "" {
		rec.TxRef = v.txRef
	}
	return nil
}

// record writes the wallet statistics, the audit row, and the telemetry of
// a finished attempt.
func (d *Dispatcher) record(ctx context.Context, o *Order, rec *Attempt, v verdict, start time.Time) {
	ctx = context.WithoutCancel(ctx)
	elapsed := time.Since(start)
	rec.LatencyMS = elapsed.Milliseconds()
	rec.CreatedAt = d.svc.now()

	if rec.WalletID != "" && rec.Reason != ReasonOrderExpired && rec.Reason != ReasonInterrupted {
		switch rec.Outcome {
		case OutcomeCompleted:
			d.recordWallet(ctx, rec.WalletID, true)
		case OutcomeFailed:
			d.recordWallet(ctx, rec.WalletID, false)
		}
	}

	quiet := rec.Outcome == OutcomeDeferred && rec.Reason == string(selector.ReasonAllLocked)
	if !quiet {
		if err := d.store.CreateAttempt(ctx, rec); err != nil {
			d.logger.Warn("failed to store dispatch attempt", "order_id", o.ID, "error", err)
		}
	}

	if rec.WalletID != "" && v.reason != ReasonConfirmedOnChain {
		d.refreshLater(rec.WalletID)
	}

	reason := rec.Reason
	if reason == "" {
		reason = "none"
	}
	dispatchAttempts.WithLabelValues(string(rec.Outcome), reason).Inc()
	dispatchDuration.WithLabelValues(string(o.PayType), string(rec.Outcome)).Observe(elapsed.Seconds())

	attrs := []any{
		"order_id", o.ID, "wallet_id", rec.WalletID, "outcome", rec.Outcome,
		"reason", rec.Reason, "retry_count", o.RetryCount, "transfer_status", o.TransferStatus,
	}
	if rec.TxRef != "" {
		attrs = append(attrs, "tx_ref", rec.TxRef)
	}
	switch rec.Outcome {
	case OutcomeFailed:
		d.logger.Warn("dispatch failed", append(attrs, "error", rec.Error)...)
	case OutcomeRetry:
		d.logger.Info("dispatch will retry", append(attrs, "error", rec.Error)...)
	case OutcomeDeferred:
		d.logger.Debug("dispatch deferred", attrs...)
	default:
		d.logger.Info("dispatch completed", attrs...)
	}

	if !quiet {
		d.svc.publish("dispatch_"+string(rec.Outcome), o, map[string]any{
			"walletId":   rec.WalletID,
			"reason":     rec.Reason,
			"retryCount": o.RetryCount,
			"txRef":      rec.TxRef,
		})
	}
}

func (d *Dispatcher) recordWallet(ctx context.Context, walletID string, success bool) {
	if err := d.wallets.RecordAttempt(ctx, walletID, success); err != nil {
		d.logger.Warn("failed to record wallet attempt", "wallet_id", walletID, "success", success, "error", err)
	}
}

// refreshLater re-reads a wallet after it was used, off the dispatch path.
func (d *Dispatcher) refreshLater(walletID string) {
	d.refreshes.Add(1)
	go func() {
		defer d.refreshes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := d.wallets.Refresh(ctx, walletID); err != nil {
			d.logger.Debug("post-dispatch wallet refresh failed", "wallet_id", walletID, "error", err)
		}
	}()
}

// Wait blocks until background wallet refreshes have finished.
func (d *Dispatcher) Wait() {
	d.refreshes.Wait()
}

func (d *Dispatcher) save(ctx context.Context, o *Order) error {
	o.UpdatedAt = d.svc.now()
	return d.store.Update(context.WithoutCancel(ctx), o)
}

// CycleSummary reports one dispatch cycle.
type CycleSummary struct {
	Picked    int `json:"picked"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// RunCycle dispatches every dispatchable order with bounded concurrency.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleSummary, error) {
	if !d.cfg.AutoTransfer {
		return CycleSummary{}, ErrTransferDisabled
	}
	orders, err := d.store.ListDispatchable(ctx, d.cfg.BatchSize)
	if err != nil {
		return CycleSummary{}, err
	}
	dispatchCycles.Inc()

	var (
		mu  sync.Mutex
		sum = CycleSummary{Picked: len(orders)}
		g   errgroup.Group
	)
	g.SetLimit(d.cfg.Workers)
	for _, o := range orders {
		id := o.ID
		g.Go(func() error {
			_, rec, err := d.run(ctx, id, false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrOrderBusy), errors.Is(err, ErrNotDispatchable):
				sum.Skipped++
			case err != nil:
				sum.Errors++
			case rec.Outcome == OutcomeCompleted:
				sum.Completed++
			case rec.Outcome == OutcomeRetry:
				sum.Retried++
			case rec.Outcome == OutcomeFailed:
				sum.Failed++
			default:
				sum.Deferred++
			}
			return nil
		})
	}
	_ = g.Wait()

	if sum.Picked > 0 {
		d.logger.Info("dispatch cycle finished",
			"picked", sum.Picked, "completed", sum.Completed, "retried", sum.Retried,
			"failed", sum.Failed, "deferred", sum.Deferred, "skipped", sum.Skipped, "errors", sum.Errors)
	}
	return sum, nil
}

// Recommendation is one wallet in a read-only selection preview.
type Recommendation struct {
	Rank   int             `json:"rank"`
	Wallet *wallets.Wallet `json:"wallet"`
	Busy   bool            `json:"busy"`
}

// Recommend ranks the wallets that could pay a prospective payout. It
// takes no locks and dispatches nothing. Busy marks wallets currently
// sending a transfer.
func (d *Dispatcher) Recommend(ctx context.Context, payType chain.Asset, amt decimal.Decimal) ([]Recommendation, selector.Exclusions, error) {
	ws, err := d.wallets.List(ctx)
	if err != nil {
		return nil, selector.Exclusions{}, err
	}
	ranked, x := selector.Rank(ws, selector.Requirement{PayType: payType, Amount: amt}, nil, d.cfg.Fees)
	out := make([]Recommendation, len(ranked))
	for i, w := range ranked {
		out[i] = Recommendation{Rank: i + 1, Wallet: w, Busy: d.locks.Held(w.ID)}
	}
	return out, x, nil
}

// StaleAfter is how long an order may sit in processing before it is
// assumed orphaned by a crash.
const StaleAfter = 10 * time.Minute

// ReconcileStale returns orders stuck in processing to pending. Their
// submission flag is kept, so the next attempt checks the chain first.
func (d *Dispatcher) ReconcileStale(ctx context.Context) (int, error) {
	orders, err := d.store.ListByTransferStatus(ctx, TransferProcessing, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	cutoff := d.svc.now().Add(-StaleAfter)
	n := 0
	for _, o := range orders {
		if o.UpdatedAt.After(cutoff) {
			continue
		}
		unlock, ok := d.svc.orderLocks.TryLock(o.ID)
		if !ok {
			continue
		}
		err := func() error {
			defer unlock()
			cur, err := d.store.Get(ctx, o.ID)
			if err != nil || cur.TransferStatus != TransferProcessing {
				return err
			}
			if cur.PaymentStatus != PaymentPaid {
				if _, err := cur.abandon(paymentEndReason(cur.PaymentStatus)); err != nil {
					return err
				}
			} else {
				if err := cur.moveTo(TransferPending); err != nil {
					return err
				}
				cur.LastFailure = ReasonStaleProcessing
			}
			if err := d.save(ctx, cur); err != nil {
				return err
			}
			d.logger.Warn("reset stale processing order",
				"order_id", cur.ID, "wallet_id", cur.AssignedWalletID, "submitted", cur.Submitted, "tx_ref", cur.SubmittedTxRef)
			n++
			return nil
		}()
		if err != nil {
			d.logger.Warn("failed to reset stale order", "order_id", o.ID, "error", err)
		}
	}
	return n, nil
}
