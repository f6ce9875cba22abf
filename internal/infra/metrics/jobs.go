package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobRunsTotal, jobDuration, jobItemsTotal) }

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_job_runs_total",
			Help: "Periodic worker passes by job and result.",
		},
		[]string{"job", "result"}, // result: ok|error
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_job_duration_seconds",
			Help:    "Duration of one worker pass in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"job"},
	)

	jobItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_job_items_total",
			Help: "Items handled by worker passes, by outcome.",
		},
		[]string{"job", "outcome"}, // checked|applied|expired|failed
	)
)

// ObserveJobRun records one worker pass and its item counters.
func ObserveJobRun(job string, d time.Duration, err error, checked, applied, expired, failed int) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	job = norm(job)
	jobRunsTotal.WithLabelValues(job, result).Inc()
	jobDuration.WithLabelValues(job).Observe(d.Seconds())
	for outcome, n := range map[string]int{"checked": checked, "applied": applied, "expired": expired, "failed": failed} {
		if n > 0 {
			jobItemsTotal.WithLabelValues(job, outcome).Add(float64(n))
		}
	}
}
