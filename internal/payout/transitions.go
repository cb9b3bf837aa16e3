package payout

import "fmt"

// TransitionError reports a transfer status change the state machine
// forbids.
type TransitionError struct {
	From, To TransferStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("payout: transfer status %s -> %s not allowed", e.From, e.To)
}

var transitions = map[TransferStatus][]TransferStatus{
	TransferPending:    {TransferProcessing},
	TransferProcessing: {TransferCompleted, TransferFailed, TransferPending},
	TransferFailed:     {TransferProcessing},
}

// Transition checks that from -> to is a legal transfer status change.
// completed is terminal.
func Transition(from, to TransferStatus) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

// moveTo applies a checked transition to o. Entering completed requires
// a transaction reference.
func (o *Order) moveTo(to TransferStatus) error {
	if err := Transition(o.TransferStatus, to); err != nil {
		return err
	}
	if to == TransferCompleted && o.TxReference == "" {
		return fmt.Errorf("payout: order %s cannot complete without a tx reference", o.ID)
	}
	o.TransferStatus = to
	return nil
}

// abandon ends the transfer of an order whose payment was withdrawn. The
// submission flag is kept, so a manual retry checks the chain before
// anything else. It reports whether o changed.
func (o *Order) abandon(reason string) (bool, error) {
	switch o.TransferStatus {
	case TransferCompleted, TransferFailed:
		return false, nil
	case TransferPending:
		if err := o.moveTo(TransferProcessing); err != nil {
			return false, err
		}
	}
	if err := o.moveTo(TransferFailed); err != nil {
		return false, err
	}
	o.Terminal = true
	o.LastFailure = reason
	o.LastError = "payment " + string(o.PaymentStatus) + " before the transfer completed"
	return true, nil
}

// paymentEndReason is the failure reason for an order whose payment ended
// in st.
func paymentEndReason(st PaymentStatus) string {
	if st == PaymentFailed {
		return ReasonPaymentFailed
	}
	return ReasonOrderExpired
}
