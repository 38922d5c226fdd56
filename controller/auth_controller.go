// gateway/controller/auth_controller.go
package controller

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/session"
	"github.com/lattice-hq/gateway/token"
	"github.com/lattice-hq/gateway/util"
)

type AuthController struct {
	tokens   token.Validator
	sessions session.Manager
	bus      *util.EventBus
}

func NewAuthController(tokens token.Validator, sessions session.Manager, bus *util.EventBus) *AuthController {
	return &AuthController{
		tokens:   tokens,
		sessions: sessions,
		bus:      bus,
	}
}

// RegisterRoutes registers the API routes. Both routes sit behind the auth
// middleware, so a grant is always present by the time a handler runs.
func (ac *AuthController) RegisterRoutes(r *gin.RouterGroup, authn gin.HandlerFunc) {
	r.POST("/auth/logout", authn, ac.Logout)
	r.GET("/me", authn, ac.Me)
}

// Logout revokes the presented token and ends its session. Both writes must
// land; a logout the cache cluster never saw did not happen.
func (ac *AuthController) Logout(c *gin.Context) {
	grant, ok := util.GrantFromContext(c)
	if !ok || grant.Identity == nil {
		util.RespondWithError(c, errs.NewAuthenticationError("request is not authenticated", nil))
		return
	}

	rawToken := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	sessionID := c.GetHeader(util.HeaderSessionID)
	subjectID := grant.Identity.SubjectID

	if err := ac.tokens.Revoke(c.Request.Context(), rawToken, 0); err != nil {
		util.RespondWithError(c, err)
		return
	}
	if err := ac.sessions.EndSession(c.Request.Context(), subjectID, sessionID); err != nil {
		util.RespondWithError(c, err)
		return
	}

	if ac.bus != nil {
		ac.bus.Publish(c.Request.Context(), util.EventSessionEnded, util.SessionEnd{
			RequestID: util.RequestID(c),
			SubjectID: subjectID,
			SessionID: sessionID,
		})
	}

	logger.Info("Session logged out",
		zap.String("subjectID", subjectID),
		zap.String("sessionID", sessionID))

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me echoes the grant for the authenticated subject.
func (ac *AuthController) Me(c *gin.Context) {
	grant, ok := util.GrantFromContext(c)
	if !ok {
		util.RespondWithError(c, errs.NewAuthenticationError("request is not authenticated", nil))
		return
	}
	c.JSON(http.StatusOK, grant)
}
