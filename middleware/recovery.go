// gateway/middleware/recovery.go

package middleware

import (
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/util"
)

// Recovery converts handler panics into the standard dependency-unavailable
// response so raw panic detail never reaches a client. Broken client
// connections are logged and dropped without writing a response.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			if isBrokenPipe(rec) {
				logger.Error("Connection broken",
					zap.String("requestID", util.RequestID(c)),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", rec),
				)
				c.Abort()
				return
			}

			logger.Error("Panic recovered",
				zap.String("requestID", util.RequestID(c)),
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			util.RespondWithError(c, errs.NewDependencyUnavailableError(
				"service temporarily unavailable",
				fmt.Errorf("panic: %v", rec),
			))
		}()
		c.Next()
	}
}

// isBrokenPipe reports whether the panic came from writing to a client that
// already went away; those carry no useful stack and get no response.
func isBrokenPipe(rec interface{}) bool {
	ne, ok := rec.(*net.OpError)
	if !ok {
		return false
	}
	se, ok := ne.Err.(*os.SyscallError)
	if !ok {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
