package energy

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	energyRentals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payoutd",
		Subsystem: "energy",
		Name:      "rentals_total",
		Help:      "Energy rentals by mode and outcome.",
	}, []string{"mode", "outcome"}) // "completed", "failed"

	energyRentalSpend = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "payoutd",
		Subsystem: "energy",
		Name:      "rental_spend_trx_total",
		Help:      "TRX spent on energy rentals.",
	})

	energyProvisionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payoutd",
		Subsystem: "energy",
		Name:      "provision_seconds",
		Help:      "Time from rental start to delivery or failure.",
		Buckets:   []float64{1, 3, 5, 10, 20, 30, 60, 120},
	}, []string{"mode"})
)

func init() {
	prometheus.MustRegister(energyRentals, energyRentalSpend, energyProvisionDuration)
}
