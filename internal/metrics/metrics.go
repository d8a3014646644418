package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siniopay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "siniopay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siniopay_ledger_transfers_total",
			Help: "Total number of transfer attempts by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "siniopay_ledger_transfer_duration_seconds",
			Help:    "Time spent inside the transfer unit of work",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15},
		},
		[]string{"outcome"},
	)

	ReversalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siniopay_ledger_reversals_total",
			Help: "Total number of reversal attempts by outcome",
		},
		[]string{"outcome"},
	)

	FlagsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siniopay_ledger_flags_total",
			Help: "Transactions moved to flagged, by initiator",
		},
		[]string{"initiator"},
	)

	ContentionTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siniopay_ledger_contention_timeouts_total",
			Help: "Units of work aborted because a row lock could not be acquired in time",
		},
		[]string{"operation"},
	)

	PostCommitTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siniopay_post_commit_tasks_total",
			Help: "Post-commit tasks by name and status",
		},
		[]string{"task", "status"},
	)

	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siniopay_notifications_sent_total",
			Help: "Total number of notifications delivered",
		},
		[]string{"type", "status"},
	)

	NotificationQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siniopay_notification_queue_length",
			Help: "Current length of notification queue",
		},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siniopay_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by route group",
		},
		[]string{"scope"},
	)

	IdempotentReplaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siniopay_idempotent_replays_total",
			Help: "Requests answered from the idempotency cache",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordTransfer(txType, outcome string, duration float64) {
	TransfersTotal.WithLabelValues(txType, outcome).Inc()
	TransferDuration.WithLabelValues(outcome).Observe(duration)
}

func RecordReversal(outcome string) {
	ReversalsTotal.WithLabelValues(outcome).Inc()
}

func RecordFlag(initiator string) {
	FlagsTotal.WithLabelValues(initiator).Inc()
}

func RecordContentionTimeout(operation string) {
	ContentionTimeoutsTotal.WithLabelValues(operation).Inc()
}

func RecordPostCommitTask(task, status string) {
	PostCommitTasksTotal.WithLabelValues(task, status).Inc()
}

func RecordNotification(notificationType, status string) {
	NotificationsSentTotal.WithLabelValues(notificationType, status).Inc()
}

func RecordIdempotentReplay() {
	IdempotentReplaysTotal.Inc()
}

func RecordRateLimited(scope string) {
	RateLimitedTotal.WithLabelValues(scope).Inc()
}
