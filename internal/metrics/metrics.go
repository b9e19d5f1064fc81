// Package metrics provides Prometheus metrics for the preview gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Preview metrics
	PreviewLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_loads_total",
			Help: "Total number of preview load attempts",
		},
		[]string{"type", "status"},
	)

	PreviewLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "preview_load_duration_seconds",
			Help:    "Time taken to fetch and render a preview",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	PreviewSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "preview_sessions_active",
			Help: "Number of open preview sessions",
		},
	)

	// Upload metrics
	UploadItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_items_total",
			Help: "Total number of upload items by terminal status",
		},
		[]string{"status"},
	)

	UploadConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_conflicts_total",
			Help: "Total number of name conflicts by chosen resolution",
		},
		[]string{"resolution"},
	)

	UploadBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upload_batch_duration_seconds",
			Help:    "Wall time to drain an upload batch, including time waiting on conflicts",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
	)

	// Cache invalidation metrics
	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Total number of cache invalidation signals sent",
		},
		[]string{"status"},
	)
)

// ObservePreview records the outcome of one preview load.
func ObservePreview(previewType string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	PreviewLoadsTotal.WithLabelValues(previewType, status).Inc()
	PreviewLoadDuration.WithLabelValues(previewType).Observe(time.Since(start).Seconds())
}

// ObserveInvalidation records one cache invalidation attempt.
func ObserveInvalidation(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CacheInvalidationsTotal.WithLabelValues(status).Inc()
}
