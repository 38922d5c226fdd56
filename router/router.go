// gateway/router/router.go

package router

import (
	"github.com/gin-gonic/gin"

	"github.com/lattice-hq/gateway/controller"
	"github.com/lattice-hq/gateway/gate"
	"github.com/lattice-hq/gateway/metrics"
	"github.com/lattice-hq/gateway/middleware"
	"github.com/lattice-hq/gateway/model"
)

// SetupRouter assembles the middleware chain and mounts every route. Health
// and metrics stay outside the security pipeline; everything under /api/v1
// goes through the gate with its own route config.
func SetupRouter(controllers *controller.Controllers, g gate.Gate) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics())

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	controllers.System.RegisterRoutes(router)

	authn := func(cfg middleware.RouteConfig) gin.HandlerFunc {
		return middleware.Auth(g, cfg)
	}

	api := router.Group("/api/v1")

	controllers.Auth.RegisterRoutes(api, authn(middleware.RouteConfig{}))
	controllers.Decision.RegisterRoutes(api, authn(middleware.RouteConfig{Permission: model.PermAdminAll}))
	controllers.Proxy.RegisterRoutes(api, authn)

	return router
}
