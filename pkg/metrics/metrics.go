// Package metrics 声明目录各批处理操作的 Prometheus 指标。
// 本工具没有常驻服务，指标通过 WriteTextfile 写成 node_exporter 的 textfile 格式。
package metrics

import (
	"Media_Catalog/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scanner metrics
var (
	ScannedFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_scanned_files_total",
			Help: "Total number of files visited by the scanner",
		},
		[]string{"outcome"}, // "candidate", "unsupported", "failed"
	)

	HashedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_catalog_hashed_bytes_total",
			Help: "Total number of bytes hashed",
		},
	)

	ExtractionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_catalog_extraction_failures_total",
			Help: "Total number of files whose metadata could not be read",
		},
	)
)

// Batch metrics
var (
	BatchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_batch_runs_total",
			Help: "Total number of batch operations",
		},
		[]string{"operation", "status"}, // status: "ok", "cancelled", "error"
	)

	BatchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_batch_items_total",
			Help: "Per-file outcomes of batch operations",
		},
		[]string{"operation", "outcome"},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_catalog_batch_duration_seconds",
			Help:    "Batch operation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"operation"},
	)
)

// Catalog metrics
var (
	CatalogRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_catalog_records",
			Help: "Number of records in the catalog",
		},
	)

	ValidationFindings = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_catalog_validation_findings",
			Help: "Findings of the last validation run",
		},
		[]string{"kind"}, // "missing", "hash_mismatch", "orphan"
	)
)

// ObserveReport 把一次批处理报告的计数记入指标。
func ObserveReport(r *models.BatchReport, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case r != nil && r.Cancelled:
		status = "cancelled"
	}
	op := models.OpScan
	if r != nil {
		op = r.Operation
	}
	BatchRuns.WithLabelValues(op, status).Inc()
	if r == nil {
		return
	}

	s := r.Summary
	for outcome, n := range map[string]int{
		"imported":          s.Imported,
		"skipped_duplicate": s.SkippedDuplicate,
		"already_indexed":   s.AlreadyIndexed,
		"unsupported":       s.Unsupported,
		"failed":            s.Failed,
		"moved":             s.Moved,
		"unchanged":         s.Unchanged,
		"skipped":           s.Skipped,
		"collisions":        s.Collisions,
	} {
		if n > 0 {
			BatchItems.WithLabelValues(op, outcome).Add(float64(n))
		}
	}
	if !r.FinishedAt.IsZero() {
		BatchDuration.WithLabelValues(op).Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	}
}

// WriteTextfile 把默认注册表中的全部指标写入 path（原子替换）。path 为空时什么也不做。
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
