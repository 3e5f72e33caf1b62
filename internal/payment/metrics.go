package payment

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/utafrali/DinerGo/pkg/errors"
)

var (
	intentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diner_payment_intent_requests_total",
			Help: "Payment intent creation calls by result",
		},
		[]string{"result"},
	)

	intentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "diner_payment_intent_duration_seconds",
		Help:    "Latency of payment intent creation in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

func observeIntent(start time.Time, err error) {
	intentDuration.Observe(time.Since(start).Seconds())
	intentRequests.WithLabelValues(intentResult(err)).Inc()
}

func intentResult(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrIntentRejected):
		return "rejected"
	case errors.Is(err, apperrors.ErrServiceUnavail):
		return "circuit_open"
	default:
		return "error"
	}
}
