package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics counts checkout attempts by outcome and times them.
type CheckoutMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCheckoutMetrics registers the checkout metrics on reg. A nil registerer
// yields a recorder that drops everything.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quickbuy_checkout_total",
		Help: "Checkout attempts by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quickbuy_checkout_duration_seconds",
		Help:    "Time spent placing an order.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	reg.MustRegister(total, duration)
	return &CheckoutMetrics{total: total, duration: duration}
}

func (m *CheckoutMetrics) ObserveCheckout(outcome string, d time.Duration) {
	if m == nil || m.total == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.total.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
