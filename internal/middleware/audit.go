// audit.go provides Gin middleware that records authenticated write operations
// (creates, updates, deletes, permission changes, artifact uploads) and ships
// them to the configured audit destinations.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/audit"
	"github.com/lmco/mcf-sub003/internal/config"
	"github.com/lmco/mcf-sub003/internal/safego"
)

const shipTimeout = 5 * time.Second

// resourceKindForPath maps a request path to the entity kind it operates on.
// Routes nest (orgs contain projects contain branches contain elements), so
// the most specific segment wins.
func resourceKindForPath(path string) string {
	switch {
	case strings.Contains(path, "/artifacts"):
		return "artifact"
	case strings.Contains(path, "/elements"):
		return "element"
	case strings.Contains(path, "/webhooks"):
		return "webhook"
	case strings.Contains(path, "/branches"):
		return "branch"
	case strings.Contains(path, "/projects"):
		return "project"
	case strings.Contains(path, "/orgs"):
		return "org"
	case strings.Contains(path, "/users"):
		return "user"
	}
	return ""
}

// auditable reports whether a completed request should produce an audit
// record. Failed requests are skipped; they changed nothing.
func auditable(c *gin.Context, cfg *config.AuditConfig) bool {
	switch {
	case c.Request.Method == http.MethodOptions:
		return false
	case c.Request.Method == http.MethodGet && (cfg == nil || !cfg.LogReadOperations):
		return false
	case c.Writer.Status() >= 400:
		return false
	}
	return true
}

// AuditMiddleware records authenticated requests and ships them through the
// given shipper. Shipping happens on a background goroutine so audit
// destinations (files, remote webhooks) never add latency to the request path.
//
// By default only successful write operations are recorded. Set
// audit.log_read_operations to also record GET requests, which is noisy but
// occasionally required by compliance regimes.
func AuditMiddleware(shipper audit.Shipper, auditCfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if shipper == nil || !auditable(c, auditCfg) {
			return
		}

		path := c.Request.URL.Path
		entry := &audit.LogEntry{
			Timestamp:    time.Now(),
			Action:       c.Request.Method + " " + path,
			ResourceKind: resourceKindForPath(path),
			Username:     c.GetString(ContextUsername),
			RequestID:    c.GetString(RequestIDKey),
			IPAddress:    c.ClientIP(),
			StatusCode:   c.Writer.Status(),
		}

		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
			defer cancel()
			// Delivery failures are logged inside the shipper; nothing the
			// request path can do about them here.
			_ = shipper.Ship(ctx, entry)
		})
	}
}
