package chain

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a chain failure. The set is closed.
type Kind string

const (
	KindInsufficientBalance Kind = "insufficient_balance"
	KindEnergyUnavailable   Kind = "energy_unavailable"
	KindNodeUnreachable     Kind = "node_unreachable"
	KindInvalidDestination  Kind = "invalid_destination"
	KindAmbiguousSubmission Kind = "ambiguous_submission"
	KindRejected            Kind = "rejected" // other deterministic rejection
)

// Retryable reports whether a later attempt may succeed without operator help.
// insufficient_balance is retryable only against a different wallet.
func (k Kind) Retryable() bool {
	switch k {
	case KindEnergyUnavailable, KindNodeUnreachable, KindAmbiguousSubmission, KindInsufficientBalance:
		return true
	default:
		return false
	}
}

// Error is a classified chain failure.
type Error struct {
	Kind  Kind
	Op    string // e.g. "broadcast", "getaccount"
	TxRef string // set when a transaction ID is known
	Err   error
}

func (e *Error) Error() string {
	if e.TxRef != "" {
		return fmt.Sprintf("chain: %s %s (tx: %s): %v", e.Op, e.Kind, e.TxRef, e.Err)
	}
	return fmt.Sprintf("chain: %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies any error. Unclassified context timeouts count as an
// unreachable node; anything else unclassified is a rejection.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNodeUnreachable
	}
	return KindRejected
}

// TxRefOf returns the transaction reference carried by err, if any.
func TxRefOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.TxRef
	}
	return ""
}
