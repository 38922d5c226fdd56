// gateway/controller/decision_controller.go
package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lattice-hq/gateway/audit"
	errs "github.com/lattice-hq/gateway/errors"
	"github.com/lattice-hq/gateway/util"
)

type DecisionController struct {
	audits audit.Service
}

func NewDecisionController(audits audit.Service) *DecisionController {
	return &DecisionController{audits: audits}
}

// RegisterRoutes registers the API routes. The trail is admin-only; the
// caller supplies the middleware enforcing that.
func (dc *DecisionController) RegisterRoutes(r *gin.RouterGroup, authn gin.HandlerFunc) {
	r.GET("/decisions", authn, dc.ListDecisions)
}

// ListDecisions serves the audit trail. Bounds default to the last 24 hours.
func (dc *DecisionController) ListDecisions(c *gin.Context) {
	q, err := decisionQuery(c)
	if err != nil {
		util.RespondWithError(c, err)
		return
	}

	records, err := dc.audits.QueryDecisions(c.Request.Context(), q)
	if err != nil {
		util.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": records,
		"count":     len(records),
	})
}

func decisionQuery(c *gin.Context) (audit.Query, error) {
	now := time.Now().UTC()
	q := audit.Query{
		From:      now.Add(-24 * time.Hour),
		To:        now,
		SubjectID: c.Query("subject"),
		Decision:  c.Query("decision"),
	}

	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Query{}, errs.NewValidationError("from must be RFC3339", err)
		}
		q.From = from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Query{}, errs.NewValidationError("to must be RFC3339", err)
		}
		q.To = to
	}
	if raw := c.Query("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return audit.Query{}, errs.NewValidationError("size must be a positive integer", err)
		}
		q.Size = size
	}
	if !q.To.After(q.From) {
		return audit.Query{}, errs.NewValidationError("to must be after from", nil)
	}

	return q, nil
}
