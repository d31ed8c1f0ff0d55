package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier on the wire.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request ID so handlers
	// can read it without parsing headers.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware stamps every request with an identifier. An inbound
// X-Request-ID from a gateway or load balancer is kept as-is; otherwise a
// UUID v4 is minted. The ID lands in the gin.Context under RequestIDKey and
// is echoed in the response header so clients can quote it when reporting a
// problem and operators can grep the logs for it.
//
// Register early, before any middleware that logs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
