package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photogallery",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "photogallery",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "route"},
	)

	// Upload protocol steps, labelled authorize/confirm.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photogallery",
			Subsystem: "upload",
			Name:      "steps_total",
			Help:      "Upload authorize and confirm calls by outcome",
		},
		[]string{"step", "status"},
	)

	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photogallery",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Processing runs by outcome",
		},
		[]string{"outcome"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "photogallery",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of one processing run",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photogallery",
			Subsystem: "objectstore",
			Name:      "operations_total",
			Help:      "Object storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	StorageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "photogallery",
			Subsystem: "objectstore",
			Name:      "duration_seconds",
			Help:      "Object storage operation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"backend", "operation"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photogallery",
			Subsystem: "publisher",
			Name:      "events_total",
			Help:      "Live events published by kind and outcome",
		},
		[]string{"kind", "status"},
	)
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordRequest records an HTTP request
func RecordRequest(method, route, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

func RecordUploadStep(step string, err error) {
	UploadsTotal.WithLabelValues(step, statusLabel(err)).Inc()
}

func RecordPipelineRun(outcome string, durationSec float64) {
	PipelineRunsTotal.WithLabelValues(outcome).Inc()
	PipelineDuration.Observe(durationSec)
}

func RecordStorageOperation(backend, operation string, err error, durationSec float64) {
	StorageOperationsTotal.WithLabelValues(backend, operation, statusLabel(err)).Inc()
	StorageDuration.WithLabelValues(backend, operation).Observe(durationSec)
}

func RecordEvent(kind string, err error) {
	EventsPublishedTotal.WithLabelValues(kind, statusLabel(err)).Inc()
}
