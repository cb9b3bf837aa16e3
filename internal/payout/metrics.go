package payout

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ordersCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payoutd",
		Name:      "orders_created_total",
		Help:      "Orders accepted by intake, by pay type.",
	}, []string{"pay_type"})

	dispatchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payoutd",
		Subsystem: "dispatch",
		Name:      "attempts_total",
		Help:      "Dispatch attempts by outcome and reason.",
	}, []string{"outcome", "reason"})

	dispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payoutd",
		Subsystem: "dispatch",
		Name:      "duration_seconds",
		Help:      "Wall time of one dispatch attempt.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"pay_type", "outcome"})

	dispatchInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "payoutd",
		Subsystem: "dispatch",
		Name:      "in_flight",
		Help:      "Dispatches currently running.",
	})

	guardChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payoutd",
		Subsystem: "dispatch",
		Name:      "prior_submission_checks_total",
		Help:      "On-chain checks of earlier submissions, by result.",
	}, []string{"result"}) // "confirmed", "pending", "absent", "error"

	dispatchCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "payoutd",
		Subsystem: "dispatch",
		Name:      "cycles_total",
		Help:      "Dispatch cycles run.",
	})
)

func init() {
	prometheus.MustRegister(ordersCreated, dispatchAttempts, dispatchDuration, dispatchInFlight, guardChecks, dispatchCycles)
}
