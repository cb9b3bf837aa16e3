package payout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payoutd/internal/amount"
	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/idgen"
	"github.com/mbd888/payoutd/internal/syncutil"
	"github.com/mbd888/payoutd/internal/validation"
)

// DefaultPaymentWindow is how long an order waits for payment.
const DefaultPaymentWindow = 30 * time.Minute

// Publisher receives order and dispatch events for live operator views.
type Publisher interface {
	Publish(kind string, data map[string]any)
}

// Service implements order intake and the payment callbacks.
type Service struct {
	store         Store
	orderLocks    *syncutil.KeyedMutex
	inflight      *inflight
	paymentWindow time.Duration
	events        Publisher
	logger        *slog.Logger
	now           func() time.Time
}

// NewService creates the order intake service.
func NewService(store Store, paymentWindow time.Duration, logger *slog.Logger) *Service {
	if paymentWindow <= 0 {
		paymentWindow = DefaultPaymentWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         store,
		orderLocks:    syncutil.NewKeyedMutex(),
		inflight:      newInflight(),
		paymentWindow: paymentWindow,
		logger:        logger,
		now:           time.Now,
	}
}

// WithPublisher streams order events to p.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.events = p
	return s
}

func (s *Service) publish(kind string, o *Order, extra map[string]any) {
	if s.events == nil {
		return
	}
	data := map[string]any{
		"orderId":        o.ID,
		"reference":      o.Reference,
		"payType":        string(o.PayType),
		"amount":         o.Amount.String(),
		"paymentStatus":  string(o.PaymentStatus),
		"transferStatus": string(o.TransferStatus),
	}
	for k, v := range extra {
		data[k] = v
	}
	s.events.Publish(kind, data)
}

// CreateOrder validates and stores a new order. Creating an order with a
// reference that already exists returns the existing order when the
// parameters match, and ErrDuplicateRef otherwise. created reports whether
// a new order was stored.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (o *Order, created bool, err error) {
	payType := chain.ParseAsset(req.PayType)
	validators := []func() *validation.ValidationError{
		validation.OneOf("payType", string(payType), string(chain.AssetTRX), string(chain.AssetUSDT)),
		validation.Required("amount", req.Amount),
		validation.ValidAmount("amount", req.Amount),
		validation.Required("destination", req.Destination),
		validation.ValidAddress("destination", req.Destination),
	}
	if req.Reference != "" {
		validators = append(validators, validation.ValidReference("reference", req.Reference))
	}
	if req.FiatTotal != "" {
		validators = append(validators, validation.ValidAmount("fiatTotal", req.FiatTotal))
	}
	if req.ServiceFee != "" {
		validators = append(validators, validation.ValidAmount("serviceFee", req.ServiceFee))
	}
	if errs := validation.Validate(validators...); len(errs) > 0 {
		return nil, false, errs
	}

	amt, _ := amount.Parse(req.Amount)
	fiat, serviceFee := decimal.Zero, decimal.Zero
	if req.FiatTotal != "" {
		fiat, _ = amount.Parse(req.FiatTotal)
	}
	if req.ServiceFee != "" {
		serviceFee, _ = amount.Parse(req.ServiceFee)
	}
	if req.Reference == "" {
		req.Reference = idgen.Reference()
	}

	now := s.now()
	o = &Order{
		ID:             idgen.WithPrefix(idgen.PrefixOrder),
		Reference:      req.Reference,
		PayType:        payType,
		Amount:         amt,
		FiatTotal:      fiat,
		ServiceFee:     serviceFee,
		Destination:    req.Destination,
		PaymentStatus:  PaymentPending,
		TransferStatus: TransferPending,
		ExpiresAt:      now.Add(s.paymentWindow),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.store.Create(ctx, o)
	if errors.Is(err, ErrDuplicateRef) {
		existing, gerr := s.store.GetByReference(ctx, req.Reference)
		if gerr != nil {
			return nil, false, gerr
		}
		if existing.PayType != o.PayType || !existing.Amount.Equal(o.Amount) || existing.Destination != o.Destination {
			return nil, false, ErrDuplicateRef
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	ordersCreated.WithLabelValues(string(o.PayType)).Inc()
	s.logger.Info("order created",
		"order_id", o.ID, "reference", o.Reference, "pay_type", o.PayType,
		"amount", o.Amount, "destination", o.Destination)
	s.publish("order_created", o, nil)
	return o, true, nil
}

// MarkPaid records the payment channel's confirmation. Repeating it is a
// no-op.
func (s *Service) MarkPaid(ctx context.Context, ref string) (*Order, error) {
	return s.updatePayment(ctx, ref, func(o *Order) (bool, error) {
		switch o.PaymentStatus {
		case PaymentPaid:
			return false, nil
		case PaymentPending:
		default:
			return false, ErrPaymentState
		}
		if !o.ExpiresAt.IsZero() && s.now().After(o.ExpiresAt) {
			return false, ErrOrderExpired
		}
		now := s.now()
		o.PaymentStatus = PaymentPaid
		o.PaidAt = &now
		return true, nil
	})
}

// MarkPaymentFailed records a failed payment.
func (s *Service) MarkPaymentFailed(ctx context.Context, ref string) (*Order, error) {
	return s.endPayment(ctx, ref, PaymentFailed)
}

// MarkExpired ends an order's payment window. A dispatch in progress for
// the order is told to stop waiting; a transfer already broadcast cannot
// be recalled.
func (s *Service) MarkExpired(ctx context.Context, ref string) (*Order, error) {
	return s.endPayment(ctx, ref, PaymentExpired)
}

func (s *Service) endPayment(ctx context.Context, ref string, to PaymentStatus) (*Order, error) {
	o, err := s.store.GetByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if s.inflight.cancel(o.ID, ErrOrderExpired) {
		s.logger.Info("cancelled in-flight dispatch", "order_id", o.ID, "payment_status", to)
	}

	abandoned := false
	o, err = s.updatePayment(ctx, ref, func(o *Order) (bool, error) {
		if o.PaymentStatus == to {
			return false, nil
		}
		if o.PaymentStatus != PaymentPending && o.PaymentStatus != PaymentPaid {
			return false, ErrPaymentState
		}
		if o.TransferStatus == TransferCompleted {
			return false, ErrPaymentState
		}
		wasPaid := o.PaymentStatus == PaymentPaid
		o.PaymentStatus = to
		if wasPaid {
			changed, err := o.abandon(paymentEndReason(to))
			if err != nil {
				return false, err
			}
			abandoned = changed
		}
		return true, nil
	})
	if err != nil || !abandoned {
		return o, err
	}

	rec := &Attempt{
		ID:         idgen.WithPrefix(idgen.PrefixAttempt),
		OrderID:    o.ID,
		WalletID:   o.AssignedWalletID,
		Outcome:    OutcomeFailed,
		Reason:     o.LastFailure,
		Error:      o.LastError,
		RetryCount: o.RetryCount,
		TxRef:      o.SubmittedTxRef,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateAttempt(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("failed to store dispatch attempt", "order_id", o.ID, "error", err)
	}
	dispatchAttempts.WithLabelValues(string(OutcomeFailed), rec.Reason).Inc()
	s.logger.Warn("paid order abandoned before transfer",
		"order_id", o.ID, "wallet_id", o.AssignedWalletID, "reason", rec.Reason,
		"retry_count", o.RetryCount, "submitted", o.Submitted, "tx_ref", o.SubmittedTxRef)
	s.publish("dispatch_failed", o, map[string]any{
		"walletId":   o.AssignedWalletID,
		"reason":     rec.Reason,
		"retryCount": o.RetryCount,
		"txRef":      o.SubmittedTxRef,
	})
	return o, nil
}

// updatePayment applies fn under the order lock. The lock waits for a
// running dispatch to finish so payment and transfer fields never race.
func (s *Service) updatePayment(ctx context.Context, ref string, fn func(*Order) (bool, error)) (*Order, error) {
	o, err := s.store.GetByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	unlock, err := s.orderLocks.LockContext(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err = s.store.Get(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	changed, err := fn(o)
	if err != nil || !changed {
		return o, err
	}
	o.UpdatedAt = s.now()
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info("order payment status changed",
		"order_id", o.ID, "reference", o.Reference, "payment_status", o.PaymentStatus)
	s.publish("order_payment", o, nil)
	return o, nil
}

// GetOrderStatus returns the coarse status a payer polls.
func (s *Service) GetOrderStatus(ctx context.Context, ref string) (*Status, error) {
	o, err := s.store.GetByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	return o.status(), nil
}

// Get returns the full order for operators.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// List returns orders newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	return s.store.List(ctx, f)
}

// Attempts returns the dispatch audit log of an order.
func (s *Service) Attempts(ctx context.Context, id string) ([]*Attempt, error) {
	return s.store.ListAttempts(ctx, id)
}

// ExpireUnpaid marks unpaid orders past their payment window as expired.
func (s *Service) ExpireUnpaid(ctx context.Context, limit int) (int, error) {
	orders, err := s.store.ListExpiredUnpaid(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range orders {
		if _, err := s.MarkExpired(ctx, o.Reference); err != nil {
			s.logger.Warn("failed to expire order", "order_id", o.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// inflight tracks cancel functions of running dispatches by order id.
type inflight struct {
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

func newInflight() *inflight {
	return &inflight{cancels: make(map[string]context.CancelCauseFunc)}
}

func (r *inflight) start(ctx context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
		cancel(nil)
	}
}

func (r *inflight) cancel(id string, cause error) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel(cause)
	}
	return ok
}
