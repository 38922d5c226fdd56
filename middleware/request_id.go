// gateway/middleware/request_id.go

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lattice-hq/gateway/util"
)

// RequestID assigns every request a correlation ID. An inbound header wins so
// IDs stay stable across hops; otherwise one is minted. The ID is echoed on
// the response and attached to the context for logs and error bodies.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(util.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(util.ContextRequestIDKey, id)
		c.Header(util.HeaderRequestID, id)
		c.Next()
	}
}
