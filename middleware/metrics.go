// gateway/middleware/metrics.go

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lattice-hq/gateway/metrics"
)

// Metrics times every request into the request histogram, labeled by route
// template so path parameters do not explode the cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
