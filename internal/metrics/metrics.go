package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alertflow_transactions_ingested_total",
		Help: "Total number of transactions accepted for ingestion.",
	})

	AlertsDrafted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alertflow_alerts_drafted_total",
		Help: "Total number of alert drafts produced by the rule engine, labelled by alert type.",
	}, []string{"alert_type"})

	EvaluationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alertflow_evaluation_errors_total",
		Help: "Total number of transactions the rule engine could not evaluate.",
	})

	AlertsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alertflow_alerts_enqueued_total",
		Help: "Total number of alert drafts placed on the alert queue.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alertflow_queue_depth",
		Help: "Alert drafts waiting for the batch writer.",
	})

	BatchesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alertflow_batches_written_total",
		Help: "Total number of alert batches handled by the writer, labelled by outcome.",
	}, []string{"outcome"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "alertflow_batch_size_alerts",
		Help:    "Number of alerts per write batch.",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 50, 100},
	})

	BatchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alertflow_batch_retries_total",
		Help: "Total number of batch write retries after transient failures.",
	})

	BatchWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "alertflow_batch_write_duration_ms",
		Help:    "Latency of one batch write attempt in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	AlertsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alertflow_alerts_persisted_total",
		Help: "Total number of alerts written to every view.",
	})

	DraftsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alertflow_drafts_dropped_total",
		Help: "Total number of alert drafts dropped, labelled by reason.",
	}, []string{"reason"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alertflow_transitions_total",
		Help: "Total number of status transition requests, labelled by outcome.",
	}, []string{"outcome"})

	DashboardRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alertflow_dashboard_rebuilds_total",
		Help: "Total number of dashboard recomputations, labelled by view and outcome.",
	}, []string{"view", "outcome"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alertflow_notifications_total",
		Help: "Total number of alert notifications, labelled by notifier and outcome.",
	}, []string{"notifier", "outcome"})
)
