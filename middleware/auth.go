// gateway/middleware/auth.go

package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lattice-hq/gateway/config"
	errs "github.com/lattice-hq/gateway/errors"
	"github.com/lattice-hq/gateway/gate"
	"github.com/lattice-hq/gateway/util"
	"github.com/lattice-hq/gateway/validation"
)

// RouteConfig declares what the gate must check for one route.
type RouteConfig struct {
	// Permission required to pass; empty admits any authenticated subject.
	Permission string
	// Schema names the registered payload schema; empty skips validation.
	Schema string
	// Parts lists the request parts registered under Schema.
	Parts []validation.Part
}

// Auth runs the security pipeline for the route and attaches the grant to
// the context. It is the only middleware that rejects requests; everything
// it rejects goes out through the response taxonomy.
func Auth(g gate.Gate, route RouteConfig) gin.HandlerFunc {
	maxBody := config.GetInt64("validation.maxPayloadBytes")
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return func(c *gin.Context) {
		req := gate.Request{
			RequestID:   util.RequestID(c),
			ClientIP:    c.ClientIP(),
			BearerToken: bearerToken(c),
			SessionID:   c.GetHeader(util.HeaderSessionID),
			Method:      c.Request.Method,
			Path:        c.Request.URL.Path,
			Permission:  route.Permission,
			Schema:      route.Schema,
		}

		if route.Schema != "" {
			payloads, err := collectPayloads(c, route.Parts, maxBody)
			if err != nil {
				util.RespondWithError(c, err)
				return
			}
			req.Payloads = payloads
		}

		grant, err := g.Authorize(c.Request.Context(), req)
		if err != nil {
			util.RespondWithError(c, err)
			return
		}

		c.Set(util.ContextGrantKey, grant)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

// collectPayloads gathers the request parts the route's schema covers. The
// body is re-buffered so downstream handlers can still read it; the read is
// capped just above the validation limit so oversized payloads are detected
// without buffering arbitrarily large bodies.
func collectPayloads(c *gin.Context, parts []validation.Part, maxBody int64) ([]gate.Payload, error) {
	payloads := make([]gate.Payload, 0, len(parts))
	for _, part := range parts {
		switch part {
		case validation.PartBody:
			body, err := readBody(c, maxBody)
			if err != nil {
				return nil, errs.NewValidationError("request body could not be read", err)
			}
			payloads = append(payloads, gate.Payload{
				Part:        validation.PartBody,
				ContentType: c.ContentType(),
				Data:        body,
			})
		case validation.PartQuery:
			data, err := json.Marshal(flattenValues(c.Request.URL.Query()))
			if err != nil {
				return nil, err
			}
			payloads = append(payloads, gate.Payload{Part: validation.PartQuery, Data: data})
		case validation.PartParams:
			params := make(map[string]string, len(c.Params))
			for _, p := range c.Params {
				params[p.Key] = p.Value
			}
			data, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			payloads = append(payloads, gate.Payload{Part: validation.PartParams, Data: data})
		}
	}
	return payloads, nil
}

func readBody(c *gin.Context, maxBody int64) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody+1))
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// flattenValues keeps the first value per parameter; schemas for query parts
// declare string fields.
func flattenValues(values url.Values) map[string]string {
	flat := make(map[string]string, len(values))
	for key := range values {
		flat[key] = values.Get(key)
	}
	return flat
}
