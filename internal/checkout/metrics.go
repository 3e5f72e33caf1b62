package checkout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkoutOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diner_checkout_outcomes_total",
			Help: "Finished checkouts by result (success or failure kind)",
		},
		[]string{"result"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diner_checkout_stage_duration_seconds",
			Help:    "Time spent in each checkout stage in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"stage"},
	)

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "diner_checkout_sessions_active",
		Help: "Checkout sessions that have not reached a terminal stage",
	})
)
