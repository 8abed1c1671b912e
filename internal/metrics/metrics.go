// Package metrics provides Prometheus metrics for the nimbus storage core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Repository metrics
	repoOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_repository_operation_duration_seconds",
			Help:    "Resource repository operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	propagationWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_repository_propagation_writes_total",
			Help: "Ancestor records rewritten by size propagation",
		},
		[]string{"direction"},
	)

	batchDeleteUnprocessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_repository_batch_delete_unprocessed_total",
			Help: "Records left behind by batch deletes",
		},
	)

	// Document store metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_docstore_query_duration_seconds",
			Help:    "Document store query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "query"},
	)

	// Object store metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	// Local cache metrics
	cacheDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_cache_downloads_total",
			Help: "Total downloads into the local resource cache",
		},
		[]string{"status"},
	)

	cacheBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_cache_bytes_downloaded_total",
			Help: "Total bytes written into the local resource cache",
		},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_cache_lookups_total",
			Help: "Cached download URL lookups",
		},
		[]string{"result"},
	)

	tokenVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_cache_token_verifications_total",
			Help: "Cache token verifications by result",
		},
		[]string{"result"},
	)

	// Job metrics
	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_job_runs_total",
			Help: "Total background job runs",
		},
		[]string{"job", "status"},
	)

	jobRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_job_run_duration_seconds",
			Help:    "Background job run duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"job"},
	)

	jobNodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_job_nodes_total",
			Help: "Nodes visited by background jobs by outcome",
		},
		[]string{"job", "outcome"},
	)

	// Worker pool metrics
	poolQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nimbus_worker_pool_queue_depth",
			Help: "Tasks waiting in a worker pool queue",
		},
		[]string{"pool"},
	)

	poolTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_worker_pool_tasks_total",
			Help: "Tasks executed by worker pools",
		},
		[]string{"pool"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordRepositoryOp records one repository operation.
func RecordRepositoryOp(op string, start time.Time, err error) {
	repoOpDuration.WithLabelValues(op, status(err)).Observe(time.Since(start).Seconds())
}

// RecordPropagationWrite counts one ancestor rewrite; direction is "up" or "down".
func RecordPropagationWrite(direction string) {
	propagationWrites.WithLabelValues(direction).Inc()
}

// RecordBatchDeleteUnprocessed counts records a batch delete left behind.
func RecordBatchDeleteUnprocessed(n int) {
	batchDeleteUnprocessed.Add(float64(n))
}

// RecordDBQuery records a document store query duration.
func RecordDBQuery(backend, query string, start time.Time) {
	dbQueryDuration.WithLabelValues(backend, query).Observe(time.Since(start).Seconds())
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	st := "success"
	if !success {
		st = "error"
	}
	s3OperationsTotal.WithLabelValues(operation, st).Inc()
}

// RecordCacheDownload records a cache fill attempt.
func RecordCacheDownload(bytes int64, err error) {
	cacheDownloadsTotal.WithLabelValues(status(err)).Inc()
	if err == nil {
		cacheBytesDownloaded.Add(float64(bytes))
	}
}

// RecordCacheLookup records a cached download URL lookup; hit is false when the file is absent.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordTokenVerification records a token check; result is ok, invalid, expired or missing.
func RecordTokenVerification(result string) {
	tokenVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordJobRun records a finished job run.
func RecordJobRun(job string, start time.Time, err error) {
	st := "success"
	if err != nil {
		st = "failed"
	}
	jobRunsTotal.WithLabelValues(job, st).Inc()
	jobRunDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

// RecordJobNode counts a node visited by a job.
func RecordJobNode(job, outcome string) {
	jobNodesTotal.WithLabelValues(job, outcome).Inc()
}

// SetPoolQueueDepth sets the current queue depth of a pool.
func SetPoolQueueDepth(pool string, depth int) {
	poolQueueDepth.WithLabelValues(pool).Set(float64(depth))
}

// RecordPoolTask counts a task executed by a pool.
func RecordPoolTask(pool string) {
	poolTasksTotal.WithLabelValues(pool).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
