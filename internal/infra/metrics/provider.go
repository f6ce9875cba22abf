package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(providerCallsTotal, providerCallLatency) }

var (
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Payment provider API calls by provider, operation and result.",
		},
		[]string{"provider", "op", "result"},
	)

	providerCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Payment provider API call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3, 5, 10},
		},
		[]string{"provider", "op"},
	)
)

func ObserveProviderCall(provider, op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerCallsTotal.WithLabelValues(norm(provider), op, result).Inc()
	providerCallLatency.WithLabelValues(norm(provider), op).Observe(d.Seconds())
}
