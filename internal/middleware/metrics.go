package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmco/mcf-sub003/internal/telemetry"
)

// noRouteLabel stands in for requests that matched no registered route.
// Using one fixed label instead of the raw URL keeps scanners and typo'd
// paths from exploding label cardinality.
const noRouteLabel = "<no-route>"

// MetricsMiddleware records http_requests_total and
// http_request_duration_seconds for every request. The path label is the
// matched route template from c.FullPath(), for example
// /api/v1/orgs/:orgid/projects/:projectid, never the raw URL.
//
// Register after gin.Recovery() and RequestIDMiddleware so statuses written
// by error handlers are the ones recorded.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRouteLabel
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.
			WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).
			Inc()
		telemetry.HTTPRequestDuration.
			WithLabelValues(method, path).
			Observe(time.Since(start).Seconds())
	}
}
