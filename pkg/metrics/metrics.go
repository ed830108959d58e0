// Package metrics provides Prometheus metrics for the ratepulse service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CSVRowsParsed tracks normalized rate entries produced by the parser
	CSVRowsParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ratepulse",
			Subsystem: "csv",
			Name:      "rows_parsed_total",
			Help:      "Total number of rate entries parsed from uploaded CSVs",
		},
	)

	// ReconcileRuns tracks per-entity reconciliation outcomes
	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ratepulse",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of per-entity reconciliation runs by outcome",
		},
		[]string{"owner_kind", "outcome"},
	)

	// ReconcileDuration tracks reconciliation duration in seconds
	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ratepulse",
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of per-entity reconciliation runs in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"owner_kind"},
	)

	// WebhookRecords tracks webhook ingestion by result (inserted, skipped)
	WebhookRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ratepulse",
			Subsystem: "webhook",
			Name:      "records_total",
			Help:      "Total number of webhook records by result",
		},
		[]string{"result"},
	)

	// ScrapePollRounds tracks status poll rounds by outcome
	ScrapePollRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ratepulse",
			Subsystem: "scrape",
			Name:      "poll_rounds_total",
			Help:      "Total number of scrape status poll rounds by outcome",
		},
		[]string{"outcome"},
	)

	// ScrapeTasksTracked tracks tasks currently tracked in memory
	ScrapeTasksTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ratepulse",
			Subsystem: "scrape",
			Name:      "tasks_tracked",
			Help:      "Number of scrape tasks currently tracked in memory",
		},
	)

	// WorkerRequests tracks outbound calls to the external scrape worker
	WorkerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ratepulse",
			Subsystem: "worker",
			Name:      "requests_total",
			Help:      "Total number of outbound requests to the scrape worker",
		},
		[]string{"operation", "status"},
	)
)
