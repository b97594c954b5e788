// Package metrics holds the Prometheus collectors shared by the worker loop,
// the coordinator and the lease renewer. The ops server exposes them on
// /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Job outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)

// Lease renewal result label values.
const (
	RenewalOK     = "ok"
	RenewalFailed = "failed"
)

var (
	// JobsTotal counts processed queue messages by outcome.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobagent_jobs_total",
			Help: "Total number of queue messages processed, by outcome.",
		},
		[]string{"outcome"},
	)

	// JobDuration observes end-to-end message processing time. Jobs can run
	// for minutes, so the buckets reach well past the default range.
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobagent_job_duration_seconds",
			Help:    "End-to-end message processing duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
	)

	// PollErrors counts failed queue receive calls.
	PollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobagent_poll_errors_total",
			Help: "Total number of failed queue receive calls.",
		},
	)

	// LeaseRenewals counts lease renewal attempts by result. Failed renewals
	// are the exposure window for duplicate execution.
	LeaseRenewals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobagent_lease_renewals_total",
			Help: "Total number of lease renewal attempts, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(PollErrors)
	prometheus.MustRegister(LeaseRenewals)

	// Pre-initialize label combinations so they appear in /metrics with value
	// 0 from startup, rather than only after first observation.
	for _, outcome := range []string{OutcomeCompleted, OutcomeFailed, OutcomeDiscarded} {
		JobsTotal.WithLabelValues(outcome)
	}
	for _, result := range []string{RenewalOK, RenewalFailed} {
		LeaseRenewals.WithLabelValues(result)
	}
}
