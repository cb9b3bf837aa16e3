// Package chaintest provides an in-memory chain.Port for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payoutd/internal/chain"
)

// Outcome scripts the result of one SubmitTransfer call.
type Outcome struct {
	Err     error          // returned to the caller
	Landed  bool           // the transfer reached the chain despite Err
	Status  chain.TxStatus // status of a landed transfer (default confirmed)
	HideRef bool           // drop the tx reference from an ambiguous error
	Delay   time.Duration
}

// Fail scripts a classified rejection.
func Fail(kind chain.Kind) Outcome {
	return Outcome{Err: chain.Errorf(kind, "fake", "scripted %s", kind)}
}

// Ambiguous scripts a broadcast whose response was lost.
func Ambiguous(landed bool) Outcome {
	return Outcome{Err: errors.New("connection reset"), Landed: landed}
}

// Submission records one SubmitTransfer call.
type Submission struct {
	From    string
	Request chain.TransferRequest
	TxRef   string
	Landed  bool
	Err     error
	At      time.Time
}

// Fake is a thread-safe programmable chain.
type Fake struct {
	mu sync.Mutex

	balances  map[string]chain.Balance
	resources map[string]chain.Resources
	holders   map[string]bool
	statuses  map[string]chain.TxStatus

	readErr   error
	statusErr error
	delay     time.Duration
	script    []Outcome
	onSubmit  func(Submission)
	strict    bool

	seq         int
	submissions []Submission
	inflight    map[string]int
	maxInflight map[string]int
}

var _ chain.Port = (*Fake)(nil)

// New returns an empty fake chain.
func New() *Fake {
	return &Fake{
		balances:    make(map[string]chain.Balance),
		resources:   make(map[string]chain.Resources),
		holders:     make(map[string]bool),
		statuses:    make(map[string]chain.TxStatus),
		inflight:    make(map[string]int),
		maxInflight: make(map[string]int),
	}
}

// SetBalance sets the holdings of address in whole units.
func (f *Fake) SetBalance(address string, coin, token decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = chain.Balance{Coin: coin, Token: token}
}

// SetResources sets the energy and bandwidth of address.
func (f *Fake) SetResources(address string, r chain.Resources) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[address] = r
}

// AddEnergy credits energy to address, as a delivered rental would.
func (f *Fake) AddEnergy(address string, energy int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.resources[address]
	r.EnergyAvailable += energy
	r.EnergyLimit += energy
	f.resources[address] = r
}

// SetHolder marks whether address already holds the token.
func (f *Fake) SetHolder(address string, holds bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holders[address] = holds
}

// SetStatus overrides the status reported for txRef.
func (f *Fake) SetStatus(txRef string, s chain.TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[txRef] = s
}

// FailReads makes balance, resource, and holder reads return err. Nil clears it.
func (f *Fake) FailReads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// FailStatus makes status lookups return err. Nil clears it.
func (f *Fake) FailStatus(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr = err
}

// SetSubmitDelay makes every submission block for d.
func (f *Fake) SetSubmitDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Script queues outcomes for the next submissions. Unscripted calls succeed.
func (f *Fake) Script(outcomes ...Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, outcomes...)
}

// OnSubmit registers a hook run after every landed submission.
func (f *Fake) OnSubmit(fn func(Submission)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSubmit = fn
}

// Strict makes unscripted submissions debit balances and fail with
// insufficient_balance when the sender cannot cover the amount.
func (f *Fake) Strict(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strict = on
}

// Submissions returns every recorded SubmitTransfer call in order.
func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Submission, len(f.submissions))
	copy(out, f.submissions)
	return out
}

// Landed returns the submissions that reached the chain.
func (f *Fake) Landed() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Submission
	for _, s := range f.submissions {
		if s.Landed {
			out = append(out, s)
		}
	}
	return out
}

// MaxInFlight returns the peak number of concurrent submissions from address.
func (f *Fake) MaxInFlight(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight[address]
}

func (f *Fake) GetBalance(_ context.Context, address string) (chain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return chain.Balance{}, f.readErr
	}
	return f.balances[address], nil
}

func (f *Fake) GetResources(_ context.Context, address string) (chain.Resources, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return chain.Resources{}, f.readErr
	}
	return f.resources[address], nil
}

func (f *Fake) AddressHoldsToken(_ context.Context, address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return false, f.readErr
	}
	return f.holders[address], nil
}

func (f *Fake) SubmitTransfer(ctx context.Context, cred chain.Credential, req chain.TransferRequest) (string, error) {
	from := cred.Address

	f.mu.Lock()
	var out Outcome
	scripted := len(f.script) > 0
	if scripted {
		out = f.script[0]
		f.script = f.script[1:]
	}
	delay := f.delay + out.Delay
	f.inflight[from]++
	if f.inflight[from] > f.maxInflight[from] {
		f.maxInflight[from] = f.inflight[from]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight[from]--
		f.mu.Unlock()
	}()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			err := chain.Wrap(chain.KindNodeUnreachable, "fake", ctx.Err())
			f.record(Submission{From: from, Request: req, Err: err})
			return "", err
		case <-t.C:
		}
	}

	f.mu.Lock()
	if !scripted {
		out = Outcome{Landed: true}
		if f.strict {
			if err := f.debitLocked(from, req); err != nil {
				out = Outcome{Err: err}
			}
		}
	}
	f.seq++
	ref := fmt.Sprintf("%064x", f.seq)
	if out.Landed {
		status := out.Status
		if status == "" {
			status = chain.TxConfirmed
		}
		f.statuses[ref] = status
	}
	hook := f.onSubmit
	f.mu.Unlock()

	err := out.Err
	var ce *chain.Error
	if err != nil && !errors.As(err, &ce) {
		// Unclassified scripted errors model a lost broadcast response.
		txRef := ref
		if out.HideRef {
			txRef = ""
		}
		err = &chain.Error{Kind: chain.KindAmbiguousSubmission, Op: "broadcast", TxRef: txRef, Err: err}
	}

	sub := Submission{From: from, Request: req, Landed: out.Landed, Err: err, At: time.Now()}
	if out.Landed {
		sub.TxRef = ref
	}
	f.record(sub)
	if out.Landed && hook != nil {
		hook(sub)
	}

	if err != nil {
		return "", err
	}
	return ref, nil
}

// Caller must hold f.mu.
func (f *Fake) debitLocked(from string, req chain.TransferRequest) error {
	b := f.balances[from]
	switch req.Asset {
	case chain.AssetUSDT:
		if b.Token.LessThan(req.Amount) {
			return chain.Errorf(chain.KindInsufficientBalance, "fake", "token balance %s < %s", b.Token, req.Amount)
		}
		b.Token = b.Token.Sub(req.Amount)
	default:
		if b.Coin.LessThan(req.Amount) {
			return chain.Errorf(chain.KindInsufficientBalance, "fake", "coin balance %s < %s", b.Coin, req.Amount)
		}
		b.Coin = b.Coin.Sub(req.Amount)
	}
	f.balances[from] = b
	return nil
}

func (f *Fake) record(s Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, s)
}

func (f *Fake) GetTransactionStatus(_ context.Context, txRef string) (chain.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return chain.TxUnknown, f.statusErr
	}
	if s, ok := f.statuses[txRef]; ok {
		return s, nil
	}
	return chain.TxUnknown, nil
}

func (f *Fake) FindTransfer(_ context.Context, address string, req chain.TransferRequest, since time.Time) (string, chain.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", chain.TxUnknown, f.statusErr
	}
	for _, s := range f.submissions {
		if !s.Landed || s.From != address || s.At.Before(since) {
			continue
		}
		if s.Request.To == req.To && s.Request.Asset == req.Asset && s.Request.Amount.Equal(req.Amount) {
			return s.TxRef, f.statuses[s.TxRef], nil
		}
	}
	return "", chain.TxUnknown, nil
}
