package selector

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/wallets"
)

var fees = FeeEstimator{CoinTransferFee: decimal.RequireFromString("1.1"), TokenTransferFee: decimal.NewFromInt(30)}

func wallet(id string, priority int, coin, token int64) *wallets.Wallet {
	w := &wallets.Wallet{
		ID:       id,
		Priority: priority,
		Enabled:  true,
		Balance:  wallets.Balance{Coin: decimal.NewFromInt(coin), Token: decimal.NewFromInt(token)},
		Thresholds: wallets.Thresholds{
			MinCoinBalance:  decimal.NewFromInt(10),
			MinTokenBalance: decimal.NewFromInt(5),
			Enabled:         true,
		},
	}
	w.Health = wallets.ComputeHealth(w)
	return w
}

func trx(amount int64) Requirement {
	return Requirement{PayType: chain.AssetTRX, Amount: decimal.NewFromInt(amount)}
}

func usdt(amount int64) Requirement {
	return Requirement{PayType: chain.AssetUSDT, Amount: decimal.NewFromInt(amount)}
}

func TestSelect_ScenarioA_PriorityWins(t *testing.T) {
	w1 := wallet("w1", 80, 1000, 1000)
	w2 := wallet("w2", 50, 1000, 1000)

	got, err := Select([]*wallets.Wallet{w2, w1}, trx(10), nil, fees)
	require.NoError(t, err)
	assert.Equal(t, "w1", got.ID)
}

func TestSelect_ScenarioB_UnhealthySkipped(t *testing.T) {
	w1 := wallet("w1", 80, 5, 1000) // below minCoinBalance of 10
	require.Equal(t, wallets.HealthError, w1.Health)
	w2 := wallet("w2", 50, 1000, 1000)

	got, err := Select([]*wallets.Wallet{w1, w2}, usdt(10), nil, fees)
	require.NoError(t, err)
	assert.Equal(t, "w2", got.ID)
}

func TestSelect_TieBreaks(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)

	good := wallet("good", 50, 1000, 1000)
	good.Stats = wallets.Stats{TotalTransactions: 10, SuccessCount: 9, FailCount: 1, LastUsedAt: &now}

	worse := wallet("worse", 50, 1000, 1000)
	worse.Stats = wallets.Stats{TotalTransactions: 10, SuccessCount: 5, FailCount: 5, LastUsedAt: &earlier}

	fresh := wallet("fresh", 50, 1000, 1000)

	ranked, _ := Rank([]*wallets.Wallet{fresh, worse, good}, trx(1), nil, fees)
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"good", "worse", "fresh"}, ids(ranked), "history beats no history")

	// Equal rates: least recently used first, never used before used.
	a := wallet("a", 50, 1000, 1000)
	a.Stats = wallets.Stats{TotalTransactions: 2, SuccessCount: 2, LastUsedAt: &now}
	b := wallet("b", 50, 1000, 1000)
	b.Stats = wallets.Stats{TotalTransactions: 4, SuccessCount: 4, LastUsedAt: &earlier}
	ranked, _ = Rank([]*wallets.Wallet{a, b}, trx(1), nil, fees)
	assert.Equal(t, []string{"b", "a"}, ids(ranked))

	// Everything equal: id decides.
	c := wallet("c", 50, 1000, 1000)
	d := wallet("d", 50, 1000, 1000)
	ranked, _ = Rank([]*wallets.Wallet{d, c}, trx(1), nil, fees)
	assert.Equal(t, []string{"c", "d"}, ids(ranked))
}

func TestSelect_Deterministic(t *testing.T) {
	now := time.Now()
	var pool []*wallets.Wallet
	for i, p := range []int{70, 70, 40, 90, 90, 10} {
		w := wallet(string(rune('a'+i)), p, 1000, 1000)
		if i%2 == 0 {
			ts := now.Add(-time.Duration(i) * time.Minute)
			w.Stats = wallets.Stats{TotalTransactions: 4, SuccessCount: 3, FailCount: 1, LastUsedAt: &ts}
		}
		pool = append(pool, w)
	}

	first, err := Select(pool, trx(5), nil, fees)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := append([]*wallets.Wallet(nil), pool...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, err := Select(shuffled, trx(5), nil, fees)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
	}
}

func TestSelect_FundsIncludeFee(t *testing.T) {
	w := wallet("w", 50, 11, 100)

	_, err := Select([]*wallets.Wallet{w}, trx(10), nil, fees)
	var ne *NoEligibleWalletError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, ReasonAllUnderfunded, ne.Reason, "11 TRX cannot cover 10 + 1.1 fee")

	w.Balance.Coin = decimal.RequireFromString("11.1")
	_, err = Select([]*wallets.Wallet{w}, trx(10), nil, fees)
	assert.NoError(t, err)

	// USDT needs the token amount and a TRX fee reserve.
	_, err = Select([]*wallets.Wallet{w}, usdt(50), nil, fees)
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, ReasonAllUnderfunded, ne.Reason)

	w.Balance.Coin = decimal.NewFromInt(30)
	_, err = Select([]*wallets.Wallet{w}, usdt(50), nil, fees)
	assert.NoError(t, err)
}

func TestSelect_Reasons(t *testing.T) {
	locked := func(id string) bool { return id == "busy" }

	disabled := wallet("off", 50, 1000, 1000)
	disabled.Enabled = false
	unhealthy := wallet("sick", 50, 1, 1000)
	poor := wallet("poor", 50, 20, 0)
	busy := wallet("busy", 50, 1000, 1000)

	tests := []struct {
		name      string
		pool      []*wallets.Wallet
		want      Reason
		retryable bool
	}{
		{"empty", nil, ReasonNoWallets, false},
		{"disabled", []*wallets.Wallet{disabled}, ReasonAllDisabled, false},
		{"unhealthy", []*wallets.Wallet{disabled, unhealthy}, ReasonAllUnhealthy, false},
		{"underfunded", []*wallets.Wallet{unhealthy, poor}, ReasonAllUnderfunded, true},
		{"locked", []*wallets.Wallet{disabled, unhealthy, poor, busy}, ReasonAllLocked, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Select(tt.pool, usdt(10), locked, fees)
			var ne *NoEligibleWalletError
			require.True(t, errors.As(err, &ne))
			assert.Equal(t, tt.want, ne.Reason)
			assert.Equal(t, tt.retryable, ne.Reason.Retryable())
			assert.Contains(t, err.Error(), string(tt.want))
		})
	}
}

func TestSelect_ExcludedWalletsSkipped(t *testing.T) {
	w1 := wallet("w1", 80, 1000, 1000)
	w2 := wallet("w2", 50, 1000, 1000)

	req := trx(10)
	req.Exclude = []string{"w1"}
	got, err := Select([]*wallets.Wallet{w1, w2}, req, nil, fees)
	require.NoError(t, err)
	assert.Equal(t, "w2", got.ID)

	req.Exclude = []string{"w1", "w2"}
	_, err = Select([]*wallets.Wallet{w1, w2}, req, nil, fees)
	var ne *NoEligibleWalletError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, 2, ne.Exclusions.Underfunded)
}

func ids(ws []*wallets.Wallet) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.ID
	}
	return out
}
