// Package telemetry carries the MCF server's observability surface: the
// Prometheus metric vectors, the slog handler setup, and the database pool
// sampler.
//
// Metrics register against the default Prometheus registry and are exposed on
// the side-channel metrics server main.go starts on
// MCF_TELEMETRY_METRICS_PROMETHEUS_PORT (default 9090). That listener is
// separate from the Gin router, so /metrics never competes with API traffic
// and never appears in the OpenAPI spec.
//
// Label cardinality is bounded by construction: HTTP metrics label the Gin
// route template (/api/v1/orgs/:orgid/projects), never the raw URL, and
// entity metrics label the seven fixed document kinds, never document IDs.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP transport metrics, recorded by middleware.MetricsMiddleware.
//
// Latency percentiles come out of the histogram with histogram_quantile, e.g.
//
//	histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Entity operation metrics, recorded at the controller boundary.
//
// EntityOperationsTotal counts batch calls: kind is one of the seven document
// kinds (organizations, projects, branches, elements, artifacts, webhooks,
// users), op is find/create/update/remove, outcome is "ok" or the error kind.
// EntityDocumentsWritten counts the documents a batch actually touched;
// dividing the two gives the average batch size.
var (
	EntityOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_operations_total",
			Help: "Total number of batch entity operations, by kind, operation, and outcome.",
		},
		[]string{"kind", "op", "outcome"},
	)

	EntityDocumentsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_documents_written_total",
			Help: "Total number of documents written or removed by batch operations, by kind and operation.",
		},
		[]string{"kind", "op"},
	)
)

// Artifact blob transfer metrics. The byte totals give dashboards storage
// backend ingress and egress, e.g. rate(artifact_upload_bytes_total[5m]).
var (
	ArtifactUploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artifact_uploads_total",
			Help: "Total number of artifact blob uploads.",
		},
	)

	ArtifactUploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artifact_upload_bytes_total",
			Help: "Total bytes uploaded to artifact blob storage.",
		},
	)

	ArtifactDownloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artifact_downloads_total",
			Help: "Total number of artifact blob downloads.",
		},
	)
)

// WebhookTriggersTotal counts external POSTs to the incoming-webhook trigger
// endpoint. result is "accepted", "invalid_token" or "not_found". A spike in
// invalid_token is usually a misconfigured CI job; alert on it regardless.
var WebhookTriggersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_triggers_total",
		Help: "Total number of incoming webhook trigger attempts, by result.",
	},
	[]string{"result"},
)

// Archive reaper metrics, recorded by the retention job. One sweep observation
// covers all kinds; the reaped counter shows what the policy actually deletes.
var (
	ReaperSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reaper_sweep_duration_seconds",
			Help:    "Duration of a single archive retention sweep.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReaperDocumentsReapedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaper_documents_reaped_total",
			Help: "Total number of expired archived documents hard-deleted by the reaper, by kind.",
		},
		[]string{"kind"},
	)
)

// DBOpenConnections tracks the sql.DB pool. Sampled on a 30 second tick by
// StartDBStatsCollector rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples the connection pool every 30 seconds into
// DBOpenConnections. The goroutine stops once the database stops answering
// pings, which is what happens when shutdown closes the pool. Call once after
// the database connection succeeds.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
