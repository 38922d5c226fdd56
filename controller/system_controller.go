// gateway/controller/system_controller.go
package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lattice-hq/gateway/breaker"
	"github.com/lattice-hq/gateway/cache"
)

// healthTimeout bounds the cache ping so a hung cluster cannot hang the
// health endpoint.
const healthTimeout = 2 * time.Second

type SystemController struct {
	cache    cache.Cache
	breakers []*breaker.Breaker
}

func NewSystemController(cacheClient cache.Cache, breakers ...*breaker.Breaker) *SystemController {
	return &SystemController{
		cache:    cacheClient,
		breakers: breakers,
	}
}

// RegisterRoutes registers the API routes. Health stays outside the auth
// pipeline so probes keep working while dependencies are down.
func (sc *SystemController) RegisterRoutes(r gin.IRoutes) {
	r.GET("/healthz", sc.Healthz)
}

// Healthz reports cache reachability and the state of every breaker. The
// endpoint answers 200 only when the cache responds and no circuit is open.
func (sc *SystemController) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	healthy := true

	cacheStatus := "ok"
	if err := sc.cache.Ping(ctx); err != nil {
		cacheStatus = "unreachable"
		healthy = false
	}

	circuits := make(map[string]string, len(sc.breakers))
	for _, b := range sc.breakers {
		state := b.State()
		circuits[b.Name()] = state.String()
		if state == breaker.StateOpen {
			healthy = false
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status":   overall,
		"cache":    cacheStatus,
		"circuits": circuits,
	})
}
