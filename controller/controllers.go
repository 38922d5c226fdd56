// gateway/controller/controllers.go
package controller

import (
	"github.com/lattice-hq/gateway/audit"
	"github.com/lattice-hq/gateway/breaker"
	"github.com/lattice-hq/gateway/cache"
	"github.com/lattice-hq/gateway/config"
	"github.com/lattice-hq/gateway/session"
	"github.com/lattice-hq/gateway/token"
	"github.com/lattice-hq/gateway/util"
)

type Controllers struct {
	Auth     *AuthController
	System   *SystemController
	Decision *DecisionController
	Proxy    *ProxyController
}

// Dependencies carries everything the controllers need, wired once in main.
type Dependencies struct {
	Tokens    token.Validator
	Sessions  session.Manager
	Cache     cache.Cache
	Audits    audit.Service
	Bus       *util.EventBus
	Breakers  []*breaker.Breaker
	Upstreams config.UpstreamConfiguration
}

func InitializeControllers(deps Dependencies) (*Controllers, error) {
	proxy, err := NewProxyController(deps.Upstreams)
	if err != nil {
		return nil, err
	}
	return &Controllers{
		Auth:     NewAuthController(deps.Tokens, deps.Sessions, deps.Bus),
		System:   NewSystemController(deps.Cache, deps.Breakers...),
		Decision: NewDecisionController(deps.Audits),
		Proxy:    proxy,
	}, nil
}
