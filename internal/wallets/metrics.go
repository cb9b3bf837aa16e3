package wallets

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	walletCoinBalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "payoutd",
		Subsystem: "wallet",
		Name:      "coin_balance",
		Help:      "Last observed TRX balance per wallet.",
	}, []string{"wallet"})

	walletTokenBalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "payoutd",
		Subsystem: "wallet",
		Name:      "token_balance",
		Help:      "Last observed USDT balance per wallet.",
	}, []string{"wallet"})

	walletEnergy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "payoutd",
		Subsystem: "wallet",
		Name:      "energy_available",
		Help:      "Last observed available energy per wallet.",
	}, []string{"wallet"})

	walletHealth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "payoutd",
		Subsystem: "wallet",
		Name:      "health",
		Help:      "1 for the wallet's current health state, 0 otherwise.",
	}, []string{"wallet", "health"})

	walletAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payoutd",
		Subsystem: "wallet",
		Name:      "attempts_total",
		Help:      "Completed dispatch attempts by outcome.",
	}, []string{"outcome"}) // "success", "fail"

	walletRefreshErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "payoutd",
		Subsystem: "wallet",
		Name:      "refresh_errors_total",
		Help:      "Wallet refreshes that failed to read chain state.",
	})
)

func init() {
	prometheus.MustRegister(
		walletCoinBalance,
		walletTokenBalance,
		walletEnergy,
		walletHealth,
		walletAttempts,
		walletRefreshErrors,
	)
}

func observeWallet(w *Wallet) {
	walletCoinBalance.WithLabelValues(w.ID).Set(w.Balance.Coin.InexactFloat64())
	walletTokenBalance.WithLabelValues(w.ID).Set(w.Balance.Token.InexactFloat64())
	walletEnergy.WithLabelValues(w.ID).Set(float64(w.Resources.EnergyAvailable))
	for _, h := range []Health{HealthHealthy, HealthWarning, HealthError} {
		v := 0.0
		if w.Health == h {
			v = 1
		}
		walletHealth.WithLabelValues(w.ID, string(h)).Set(v)
	}
}

func forgetWallet(id string) {
	walletCoinBalance.DeleteLabelValues(id)
	walletTokenBalance.DeleteLabelValues(id)
	walletEnergy.DeleteLabelValues(id)
	for _, h := range []Health{HealthHealthy, HealthWarning, HealthError} {
		walletHealth.DeleteLabelValues(id, string(h))
	}
}
