// Package metrics exposes Prometheus collectors for the application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProfilesByState tracks the number of profiles in each lifecycle state.
	ProfilesByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "selfscope",
		Name:      "profiles_by_state",
		Help:      "Number of profiles by lifecycle state.",
	}, []string{"state"})

	// TransitionsRecordedTotal counts state transitions written to the log.
	TransitionsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "selfscope",
		Name:      "transitions_recorded_total",
		Help:      "Total state transitions recorded by destination state.",
	}, []string{"to_state"})

	// JobsEnqueuedTotal counts jobs accepted by the queue.
	JobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "selfscope",
		Subsystem: "jobs",
		Name:      "enqueued_total",
		Help:      "Total jobs enqueued by kind.",
	}, []string{"kind"})

	// JobsProcessedTotal counts worker outcomes per job kind.
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "selfscope",
		Subsystem: "jobs",
		Name:      "processed_total",
		Help:      "Total jobs processed by kind and outcome (succeeded/retried/dead).",
	}, []string{"kind", "outcome"})

	// JobDuration tracks job handler latency.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "selfscope",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Job handler duration in seconds by kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// QueueDepth tracks the number of queued jobs by status.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "selfscope",
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Number of jobs in the queue by status.",
	}, []string{"status"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "selfscope",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "selfscope",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// EmailsSentTotal counts transactional email deliveries by outcome.
	EmailsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "selfscope",
		Name:      "emails_sent_total",
		Help:      "Total transactional emails sent by outcome.",
	}, []string{"outcome"})

	// AnalyticsEventsTotal counts events forwarded to the analytics sink.
	AnalyticsEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "selfscope",
		Name:      "analytics_events_total",
		Help:      "Total analytics operations forwarded by type (track/alias).",
	}, []string{"type"})
)
