package cart

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	persistCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "diner_cart_persist_coalesced_total",
		Help: "Pending cart writes superseded by a newer state before being written",
	})

	persistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diner_cart_persist_failures_total",
			Help: "Cart snapshot writes that failed",
		},
		[]string{"op"},
	)

	cartEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "diner_cart_evictions_total",
		Help: "Idle carts dropped from memory after their snapshot was written",
	})

	persistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diner_cart_persist_duration_seconds",
			Help:    "Duration of cart snapshot writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)
