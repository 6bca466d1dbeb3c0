package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cropsight_ingestion_runs_total",
		Help: "Ingestion workflow runs by terminal status.",
	}, []string{"status"})

	IngestionFeatures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cropsight_ingestion_features_total",
		Help: "Features processed by ingestion runs, by outcome.",
	}, []string{"outcome"})

	IngestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cropsight_ingestion_duration_seconds",
		Help:    "Wall time of ingestion runs from start to terminal event.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	UploadsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cropsight_uploads_rejected_total",
		Help: "Uploads rejected before a workflow run was started, by reason.",
	}, []string{"reason"})

	ProgressEmitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cropsight_progress_emit_failures_total",
		Help: "Progress events that could not be delivered to the stream bridge.",
	})

	ProgressReaders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cropsight_progress_readers",
		Help: "Progress stream connections currently open.",
	})

	WorkflowStepRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cropsight_workflow_step_retries_total",
		Help: "Workflow step attempts that failed and were retried.",
	}, []string{"workflow", "step"})

	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cropsight_cache_invalidations_total",
		Help: "Dashboard cache invalidations, by result.",
	}, []string{"result"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
