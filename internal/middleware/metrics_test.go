package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmco/mcf-sub003/internal/telemetry"
)

func serveMetered(t *testing.T, status int, target string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/api/v1/orgs/:orgid", func(c *gin.Context) { c.Status(status) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
}

func requestCount(method, path, status string) float64 {
	return testutil.ToFloat64(telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status))
}

// pathLabels returns every value the path label currently carries on
// http_requests_total.
func pathLabels(t *testing.T) map[string]bool {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	telemetry.HTTPRequestsTotal.Collect(ch)
	close(ch)

	paths := make(map[string]bool)
	for m := range ch {
		var dm dto.Metric
		require.NoError(t, m.Write(&dm))
		for _, lp := range dm.GetLabel() {
			if lp.GetName() == "path" {
				paths[lp.GetValue()] = true
			}
		}
	}
	return paths
}

func TestMetricsMiddlewareCountsRequests(t *testing.T) {
	before := requestCount("GET", "/api/v1/orgs/:orgid", "200")
	serveMetered(t, http.StatusOK, "/api/v1/orgs/acme")
	assert.Equal(t, before+1, requestCount("GET", "/api/v1/orgs/:orgid", "200"))
}

func TestMetricsMiddlewareCountsErrorStatus(t *testing.T) {
	before := requestCount("GET", "/api/v1/orgs/:orgid", "500")
	serveMetered(t, http.StatusInternalServerError, "/api/v1/orgs/acme")
	assert.Equal(t, before+1, requestCount("GET", "/api/v1/orgs/:orgid", "500"))
}

func TestMetricsMiddlewareObservesDuration(t *testing.T) {
	before := testutil.CollectAndCount(telemetry.HTTPRequestDuration)
	serveMetered(t, http.StatusOK, "/api/v1/orgs/acme")
	assert.GreaterOrEqual(t, testutil.CollectAndCount(telemetry.HTTPRequestDuration), before,
		"duration histogram should have at least the prior number of series")

	// The series for the route template must exist after the request.
	h, err := telemetry.HTTPRequestDuration.GetMetricWithLabelValues("GET", "/api/v1/orgs/:orgid")
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestMetricsMiddlewareLabelsRouteTemplateNotURL(t *testing.T) {
	serveMetered(t, http.StatusOK, "/api/v1/orgs/acme")

	paths := pathLabels(t)
	assert.True(t, paths["/api/v1/orgs/:orgid"], "route template label should be present")
	assert.False(t, paths["/api/v1/orgs/acme"], "concrete URL must not become a label value")
}

func TestMetricsMiddlewareCollapsesUnmatchedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(MetricsMiddleware())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/definitely/not/registered", nil))

	paths := pathLabels(t)
	assert.True(t, paths[noRouteLabel])
	assert.False(t, paths["/definitely/not/registered"])
}
