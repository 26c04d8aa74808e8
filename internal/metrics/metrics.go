// Package metrics defines custom Prometheus metrics for BlobVault.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// Multipart transfer metrics. The three histograms break a pipelined upload
// into its read and upload phases plus the whole-transfer wall time, so a
// slow source stream can be told apart from a slow object store.
var (
	// ChunkReadSeconds observes time spent reading one part-sized chunk
	// from the source stream.
	ChunkReadSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blobvault_chunk_read_seconds",
			Help:    "Time to read one multipart chunk from the source stream",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ChunkUploadSeconds observes time spent uploading one part.
	ChunkUploadSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blobvault_chunk_upload_seconds",
			Help:    "Time to upload one multipart chunk",
			Buckets: prometheus.DefBuckets,
		},
	)

	// MultipartUploadSeconds observes whole multipart upload duration.
	MultipartUploadSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blobvault_multipart_upload_seconds",
			Help:    "Wall time of a whole multipart upload",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Blob store operation metrics.
var (
	// BlobOperationsTotal counts blob store operations by name and status.
	BlobOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobvault_blob_operations_total",
			Help: "Blob store operations by type",
		},
		[]string{"operation", "status"},
	)

	// BlobBytesWrittenTotal counts content bytes written to the store.
	BlobBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blobvault_blob_bytes_written_total",
			Help: "Total content bytes written",
		},
	)

	// MultipartAbortsTotal counts aborted multipart uploads.
	MultipartAbortsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blobvault_multipart_aborts_total",
			Help: "Multipart uploads aborted after a failure",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ChunkReadSeconds,
			ChunkUploadSeconds,
			MultipartUploadSeconds,
			BlobOperationsTotal,
			BlobBytesWrittenTotal,
			MultipartAbortsTotal,
		)
		// Initialize BlobOperationsTotal so it appears in scrape output
		// even before any operations have been performed.
		BlobOperationsTotal.WithLabelValues("create", "success")
	})
}
