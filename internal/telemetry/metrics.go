package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter      = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_enqueued_total", Help: "Total enqueued jobs"})
	JobsClaimed         = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_claimed_total", Help: "Jobs claimed by workers"})
	JobsCompleted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_completed_total", Help: "Jobs completed successfully"})
	JobsRetried         = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_retried_total", Help: "Jobs rescheduled after a retryable failure"})
	JobsDead            = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_dead_total", Help: "Jobs moved to the dead set"})
	LeaseReclaims       = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_lease_reclaims_total", Help: "Expired claims returned to pending"})
	VersionConflicts    = prometheus.NewCounter(prometheus.CounterOpts{Name: "task_version_conflicts_total", Help: "Task mutations rejected with a stale version"})
	CreditsConsumed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "credits_consumed_total", Help: "Credits consumed across all buckets"})
	InsufficientBalance = prometheus.NewCounter(prometheus.CounterOpts{Name: "credits_insufficient_total", Help: "Consumption requests rejected for insufficient balance"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "api_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	QueueDepthGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_pending_depth", Help: "Jobs pending and ready to claim"})
	InFlightGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_inflight", Help: "Jobs currently claimed"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			JobsClaimed,
			JobsCompleted,
			JobsRetried,
			JobsDead,
			LeaseReclaims,
			VersionConflicts,
			CreditsConsumed,
			InsufficientBalance,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
