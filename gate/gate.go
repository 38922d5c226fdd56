// gateway/gate/gate.go

// Package gate runs the security pipeline for one request: rate limit, token
// validation, session admission, permission check, payload schemas. It is the
// single place where component failures are folded into the response
// taxonomy; everything below it speaks sentinel errors.
package gate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/metrics"
	"github.com/lattice-hq/gateway/model"
	"github.com/lattice-hq/gateway/ratelimit"
	"github.com/lattice-hq/gateway/session"
	"github.com/lattice-hq/gateway/token"
	"github.com/lattice-hq/gateway/util"
	"github.com/lattice-hq/gateway/validation"
)

// Payload is one request part to check against the route's schema.
type Payload struct {
	Part        validation.Part
	ContentType string
	Data        []byte
}

// Request carries everything the pipeline needs to decide one call.
type Request struct {
	RequestID   string
	ClientIP    string
	BearerToken string
	SessionID   string
	Method      string
	Path        string
	// Permission is the permission the route demands; empty means any
	// authenticated subject passes.
	Permission string
	// Schema names the payload schema; empty skips payload validation.
	Schema   string
	Payloads []Payload
}

// Gate is the boundary route handlers call exactly once per request.
type Gate interface {
	// Authorize returns the grant for an admitted request. On rejection the
	// error is always a *errors.GatewayError from the response taxonomy.
	Authorize(ctx context.Context, req Request) (*model.Grant, error)
}

type gate struct {
	limiter  ratelimit.Limiter
	tokens   token.Validator
	sessions session.Manager
	schemas  validation.Validator
	bus      *util.EventBus
	clock    func() time.Time
}

// New wires the pipeline. The bus may be nil when nothing subscribes to
// decision events.
func New(limiter ratelimit.Limiter, tokens token.Validator, sessions session.Manager, schemas validation.Validator, bus *util.EventBus) Gate {
	return &gate{
		limiter:  limiter,
		tokens:   tokens,
		sessions: sessions,
		schemas:  schemas,
		bus:      bus,
		clock:    time.Now,
	}
}

func (g *gate) Authorize(ctx context.Context, req Request) (*model.Grant, error) {
	grant, err := g.run(ctx, req)
	if err != nil {
		ge := errs.Classify(err)
		metrics.RecordAuthDecision(model.DecisionDenied, ge.Code)
		g.publish(ctx, req, nil, ge)
		return nil, ge
	}

	metrics.RecordAuthDecision(model.DecisionGranted, "ok")
	g.publish(ctx, req, grant, nil)
	return grant, nil
}

// run executes the pipeline stages strictly in order; the first rejection
// wins and later stages are never consulted.
func (g *gate) run(ctx context.Context, req Request) (*model.Grant, error) {
	decision, err := g.limiter.Allow(ctx, req.ClientIP)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		ge := errs.NewRateLimitError("rate limit exceeded", decision.RetryAfter, errs.ErrRateLimited)
		ge.RateLimit = &errs.RateLimitInfo{Limit: decision.Limit, Remaining: decision.Remaining}
		return nil, ge
	}

	ident, err := g.tokens.Validate(ctx, req.BearerToken, req.SessionID)
	if err != nil {
		return nil, err
	}

	admitted, err := g.sessions.ManageSession(ctx, ident.SubjectID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if !admitted {
		return nil, errs.ErrSessionLimitExceeded
	}

	perms := model.PermissionsFor(ident.Roles)
	if req.Permission != "" && !model.HasPermission(perms, req.Permission) {
		logger.Warn("Permission denied",
			zap.String("subjectID", ident.SubjectID),
			zap.Strings("roles", ident.Roles),
			zap.String("required", req.Permission))
		return nil, fmt.Errorf("required %s: %w", req.Permission, errs.ErrPermissionDenied)
	}

	if req.Schema != "" {
		for _, p := range req.Payloads {
			if p.Part == validation.PartBody {
				err = g.schemas.ValidateBody(ctx, req.Schema, p.ContentType, p.Data)
			} else {
				err = g.schemas.Validate(ctx, req.Schema, p.Part, p.Data)
			}
			if err != nil {
				return nil, err
			}
		}
	}

	return &model.Grant{Identity: ident, Permissions: perms}, nil
}

func (g *gate) publish(ctx context.Context, req Request, grant *model.Grant, ge *errs.GatewayError) {
	if g.bus == nil {
		return
	}

	d := model.AuthDecision{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		ClientIP:  req.ClientIP,
		Method:    req.Method,
		Path:      req.Path,
		At:        g.clock(),
	}
	topic := util.EventAuthGranted
	if ge != nil {
		topic = util.EventAuthDenied
		d.Decision = model.DecisionDenied
		d.Reason = ge.Code
	} else {
		d.Decision = model.DecisionGranted
		if grant.Identity != nil {
			d.SubjectID = grant.Identity.SubjectID
		}
	}
	g.bus.Publish(ctx, topic, d)
}
