package chaintest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payoutd/internal/chain"
)

func trx(v int64) chain.TransferRequest {
	return chain.TransferRequest{To: "TDest", Asset: chain.AssetTRX, Amount: decimal.NewFromInt(v)}
}

func TestFake_ScriptedOutcomes(t *testing.T) {
	f := New()
	ctx := context.Background()
	cred := chain.Credential{Address: "TSrc"}

	f.Script(Fail(chain.KindEnergyUnavailable), Ambiguous(true), Outcome{Err: assert.AnError, Landed: true, HideRef: true})

	_, err := f.SubmitTransfer(ctx, cred, trx(1))
	assert.Equal(t, chain.KindEnergyUnavailable, chain.KindOf(err))

	_, err = f.SubmitTransfer(ctx, cred, trx(2))
	assert.Equal(t, chain.KindAmbiguousSubmission, chain.KindOf(err))
	ref := chain.TxRefOf(err)
	require.NotEmpty(t, ref)
	status, err := f.GetTransactionStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, chain.TxConfirmed, status)

	_, err = f.SubmitTransfer(ctx, cred, trx(3))
	assert.Empty(t, chain.TxRefOf(err))
	found, status, err := f.FindTransfer(ctx, "TSrc", trx(3), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.NotEmpty(t, found)
	assert.Equal(t, chain.TxConfirmed, status)

	ref, err = f.SubmitTransfer(ctx, cred, trx(4))
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Len(t, f.Submissions(), 4)
	assert.Len(t, f.Landed(), 3)
}

func TestFake_StrictDebits(t *testing.T) {
	f := New()
	f.Strict(true)
	f.SetBalance("TSrc", decimal.NewFromInt(5), decimal.Zero)
	cred := chain.Credential{Address: "TSrc"}

	_, err := f.SubmitTransfer(context.Background(), cred, trx(3))
	require.NoError(t, err)
	_, err = f.SubmitTransfer(context.Background(), cred, trx(3))
	assert.Equal(t, chain.KindInsufficientBalance, chain.KindOf(err))

	bal, _ := f.GetBalance(context.Background(), "TSrc")
	assert.True(t, bal.Coin.Equal(decimal.NewFromInt(2)))
}

func TestFake_DelayHonorsContext(t *testing.T) {
	f := New()
	f.SetSubmitDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.SubmitTransfer(ctx, chain.Credential{Address: "TSrc"}, trx(1))
	assert.Equal(t, chain.KindNodeUnreachable, chain.KindOf(err))
	assert.Empty(t, f.Landed())
}
