package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified", Errorf(KindInvalidDestination, "createtransaction", "bad address"), KindInvalidDestination},
		{"wrapped classified", fmt.Errorf("dispatch: %w", Wrap(KindEnergyUnavailable, "rent", errors.New("timeout"))), KindEnergyUnavailable},
		{"deadline", context.DeadlineExceeded, KindNodeUnreachable},
		{"other", errors.New("weird"), KindRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, KindNodeUnreachable.Retryable())
	assert.True(t, KindEnergyUnavailable.Retryable())
	assert.True(t, KindAmbiguousSubmission.Retryable())
	assert.False(t, KindInvalidDestination.Retryable())
	assert.False(t, KindRejected.Retryable())
}

func TestError_CarriesTxRef(t *testing.T) {
	err := &Error{Kind: KindAmbiguousSubmission, Op: "broadcast", TxRef: "abc", Err: context.DeadlineExceeded}

	assert.Equal(t, "abc", TxRefOf(fmt.Errorf("wrap: %w", err)))
	assert.Contains(t, err.Error(), "tx: abc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, TxRefOf(errors.New("plain")))
	assert.NoError(t, Wrap(KindRejected, "x", nil))
}

func TestCredential_HidesKey(t *testing.T) {
	c := Credential{Address: "TAddr", PrivateKey: "deadbeef"}
	assert.NotContains(t, c.String(), "deadbeef")
	assert.NotContains(t, c.LogValue().String(), "deadbeef")
	assert.NotContains(t, fmt.Sprintf("%v", c), "deadbeef")
}
