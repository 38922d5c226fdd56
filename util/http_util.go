// gateway/util/http_util.go
package util

import (
	"errors"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/model"
	"github.com/lattice-hq/gateway/validation"
)

// Keys under which per-request values live in the gin context.
const (
	ContextRequestIDKey = "requestID"
	ContextGrantKey     = "grant"
)

// Headers the gateway reads and echoes on every request.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderSessionID = "X-Session-ID"
)

// ErrorResponse is the one body shape every rejected request gets.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// RespondWithError renders any error through the response taxonomy and aborts
// the request. Rate-limit rejections carry a Retry-After header; schema
// violations carry the field detail in the message. Internal causes stay in
// the logs.
func RespondWithError(c *gin.Context, err error) {
	ge := errs.Classify(err)
	requestID := RequestID(c)

	message := ge.Message
	var fieldErrs validation.FieldErrors
	if errors.As(err, &fieldErrs) {
		message = fieldErrs.Error()
	}

	if ge.RetryAfter > 0 {
		seconds := strconv.Itoa(int(math.Ceil(ge.RetryAfter.Seconds())))
		c.Header("Retry-After", seconds)
		c.Header("X-RateLimit-Reset", seconds)
	}
	if ge.RateLimit != nil {
		c.Header("X-RateLimit-Limit", strconv.Itoa(ge.RateLimit.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(ge.RateLimit.Remaining))
	}

	logger.Error("Request rejected",
		zap.String("requestID", requestID),
		zap.String("code", ge.Code),
		zap.Int("status", ge.Status),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.Error(err))

	c.AbortWithStatusJSON(ge.Status, ErrorResponse{
		Code:      ge.Code,
		Message:   message,
		RequestID: requestID,
	})
}

// RequestID returns the correlation ID assigned to this request.
func RequestID(c *gin.Context) string {
	if v, exists := c.Get(ContextRequestIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// GrantFromContext returns the grant attached by the auth middleware.
func GrantFromContext(c *gin.Context) (*model.Grant, bool) {
	v, exists := c.Get(ContextGrantKey)
	if !exists {
		return nil, false
	}
	grant, ok := v.(*model.Grant)
	return grant, ok
}

// SubjectIDFromContext returns the authenticated subject, empty if the
// request never passed the auth middleware.
func SubjectIDFromContext(c *gin.Context) string {
	if grant, ok := GrantFromContext(c); ok && grant.Identity != nil {
		return grant.Identity.SubjectID
	}
	return ""
}
