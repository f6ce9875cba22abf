package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsExpiredTotal,
		subscriptionTransitionsTotal,
		renewalsTotal,
	)
}

var (
	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Total number of subscriptions processed by the expiry worker.",
		},
	)

	subscriptionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "Subscription lifecycle transitions by target status.",
		},
		[]string{"to"},
	)

	renewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_renewals_total",
			Help: "Autopayment attempts by result.",
		},
		[]string{"result"}, // succeeded|pending|declined|skipped|error
	)
)

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func IncSubscriptionTransition(to string) {
	subscriptionTransitionsTotal.WithLabelValues(norm(to)).Inc()
}

func IncRenewal(result string) {
	renewalsTotal.WithLabelValues(norm(result)).Inc()
}
