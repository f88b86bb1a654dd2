package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	IntentsHandled    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reminder_intents_total", Help: "Inbound intents handled, by kind"}, []string{"kind"})
	IntentRejections  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reminder_intent_rejections_total", Help: "Intents rejected with a user-facing message, by kind"}, []string{"kind"})
	DuplicateMessages = prometheus.NewCounter(prometheus.CounterOpts{Name: "reminder_duplicate_messages_total", Help: "Inbound messages skipped because their id was already processed"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "reminder_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	JobsScheduled     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reminder_jobs_scheduled_total", Help: "Scheduler jobs written, by kind"}, []string{"kind"})
	JobsFired         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reminder_jobs_fired_total", Help: "Scheduler jobs fired, by kind"}, []string{"kind"})
	JobFailures       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reminder_job_failures_total", Help: "Scheduler callbacks that returned an error, by kind"}, []string{"kind"})
	DeliveryFailures  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reminder_delivery_failures_total", Help: "Outbound deliveries that failed, by channel"}, []string{"channel"})
	Escalations       = prometheus.NewCounter(prometheus.CounterOpts{Name: "reminder_escalation_calls_total", Help: "Escalation calls placed after a missed notification"})
	JobsReconciled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "reminder_jobs_reconciled_total", Help: "Jobs re-created from reminder state by reconciliation"})
	RemindersArchived = prometheus.NewCounter(prometheus.CounterOpts{Name: "reminder_archived_total", Help: "Completed reminders exported and removed"})
	PendingJobsGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "reminder_jobs_pending", Help: "Jobs waiting in the scheduled set"})
	InFlightJobsGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "reminder_jobs_inflight", Help: "Jobs currently leased to a callback"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			IntentsHandled,
			IntentRejections,
			DuplicateMessages,
			RateLimitRejects,
			JobsScheduled,
			JobsFired,
			JobFailures,
			DeliveryFailures,
			Escalations,
			JobsReconciled,
			RemindersArchived,
			PendingJobsGauge,
			InFlightJobsGauge,
		)
	})
	return promhttp.Handler()
}
