package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermodcdc_events_processed_total",
		Help: "Change events successfully delivered to a target.",
	}, []string{"target", "table", "operation"})

	eventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermodcdc_events_failed_total",
		Help: "Change events that failed delivery after exhausting retries.",
	}, []string{"target", "table"})

	deadLetterCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermodcdc_dead_letter_total",
		Help: "Failed deliveries of one table's events to a target, each recorded as a sync error.",
	}, []string{"target", "table"})

	processingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hermodcdc_batch_processing_seconds",
		Help:    "Time to deliver one batch of events to one target.",
		Buckets: prometheus.DefBuckets,
	}, []string{"target"})

	auditBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hermodcdc_audit_backlog",
		Help: "Unconsumed audit log rows behind the reader's current position.",
	}, []string{"source"})

	activeEngines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermodcdc_active_engines",
		Help: "Number of running engine instances in this process.",
	})
)
