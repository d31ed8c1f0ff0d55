package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Describe is used instead of gathering because *Vec metrics with no observed
// label combinations are absent from Gather output even when registered.
func TestMetricNamesRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := map[string]describer{
		"http_requests_total":            HTTPRequestsTotal,
		"http_request_duration_seconds":  HTTPRequestDuration,
		"entity_operations_total":        EntityOperationsTotal,
		"entity_documents_written_total": EntityDocumentsWritten,
		"artifact_uploads_total":         ArtifactUploadsTotal,
		"artifact_upload_bytes_total":    ArtifactUploadBytesTotal,
		"artifact_downloads_total":       ArtifactDownloadsTotal,
		"webhook_triggers_total":         WebhookTriggersTotal,
		"reaper_sweep_duration_seconds":  ReaperSweepDuration,
		"reaper_documents_reaped_total":  ReaperDocumentsReapedTotal,
		"db_open_connections":            DBOpenConnections,
	}

	for name, metric := range cases {
		t.Run(name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			metric.Describe(ch)
			close(ch)

			for desc := range ch {
				if strings.Contains(desc.String(), `"`+name+`"`) {
					return
				}
			}
			t.Errorf("no descriptor carries fqName %q", name)
		})
	}
}

func TestEntityOperationCounters(t *testing.T) {
	ops := EntityOperationsTotal.WithLabelValues("elements", "create", "ok")
	before := testutil.ToFloat64(ops)
	ops.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ops))

	written := EntityDocumentsWritten.WithLabelValues("projects", "update")
	before = testutil.ToFloat64(written)
	written.Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(written))
}

func TestHTTPRequestCounter(t *testing.T) {
	c := HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/orgs", "200")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestArtifactTransferCounters(t *testing.T) {
	uploads := testutil.ToFloat64(ArtifactUploadsTotal)
	bytes := testutil.ToFloat64(ArtifactUploadBytesTotal)
	downloads := testutil.ToFloat64(ArtifactDownloadsTotal)

	ArtifactUploadsTotal.Inc()
	ArtifactUploadBytesTotal.Add(1024)
	ArtifactDownloadsTotal.Inc()

	assert.Equal(t, uploads+1, testutil.ToFloat64(ArtifactUploadsTotal))
	assert.Equal(t, bytes+1024, testutil.ToFloat64(ArtifactUploadBytesTotal))
	assert.Equal(t, downloads+1, testutil.ToFloat64(ArtifactDownloadsTotal))
}

func TestWebhookTriggerCounter(t *testing.T) {
	for _, result := range []string{"accepted", "invalid_token", "not_found"} {
		c := WebhookTriggersTotal.WithLabelValues(result)
		before := testutil.ToFloat64(c)
		c.Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(c), "result %s", result)
	}
}

func TestReaperMetrics(t *testing.T) {
	ReaperSweepDuration.Observe(0.5)
	ReaperSweepDuration.Observe(1.5)

	c, err := ReaperDocumentsReapedTotal.GetMetricWithLabelValues("elements")
	require.NoError(t, err)
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestDBOpenConnectionsGauge(t *testing.T) {
	DBOpenConnections.Set(5)
	assert.Equal(t, 5.0, testutil.ToFloat64(DBOpenConnections))
	DBOpenConnections.Set(0)
}
