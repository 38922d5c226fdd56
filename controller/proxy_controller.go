// gateway/controller/proxy_controller.go
package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lattice-hq/gateway/config"
	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/middleware"
	"github.com/lattice-hq/gateway/model"
	"github.com/lattice-hq/gateway/util"
	"github.com/lattice-hq/gateway/validation"
)

// ProxyController forwards admitted requests to the upstream services. The
// gateway owns the security pipeline; upstreams never see a request that has
// not passed it.
type ProxyController struct {
	members   *httputil.ReverseProxy
	analytics *httputil.ReverseProxy
	graph     *httputil.ReverseProxy
}

func NewProxyController(upstreams config.UpstreamConfiguration) (*ProxyController, error) {
	members, err := newUpstreamProxy(upstreams.Members)
	if err != nil {
		return nil, err
	}
	analytics, err := newUpstreamProxy(upstreams.Analytics)
	if err != nil {
		return nil, err
	}
	graph, err := newUpstreamProxy(upstreams.Graph)
	if err != nil {
		return nil, err
	}
	return &ProxyController{
		members:   members,
		analytics: analytics,
		graph:     graph,
	}, nil
}

// RegisterRoutes registers the API routes. Every route names the permission
// it demands; writes that carry payloads also name their schema.
func (pc *ProxyController) RegisterRoutes(r *gin.RouterGroup, authn func(middleware.RouteConfig) gin.HandlerFunc) {
	members := r.Group("/members")
	{
		read := authn(middleware.RouteConfig{Permission: model.PermMembersRead})
		write := authn(middleware.RouteConfig{Permission: model.PermMembersWrite})
		create := authn(middleware.RouteConfig{
			Permission: model.PermMembersWrite,
			Schema:     model.SchemaCreateMember,
			Parts:      []validation.Part{validation.PartBody},
		})
		update := authn(middleware.RouteConfig{
			Permission: model.PermMembersWrite,
			Schema:     model.SchemaUpdateMember,
			Parts:      []validation.Part{validation.PartBody},
		})

		members.GET("", read, pc.Members)
		members.GET("/*path", read, pc.Members)
		members.POST("", create, pc.Members)
		members.PUT("/*path", update, pc.Members)
		members.DELETE("/*path", write, pc.Members)
	}

	analytics := r.Group("/analytics")
	{
		query := authn(middleware.RouteConfig{
			Permission: model.PermAnalyticsRead,
			Schema:     model.SchemaAnalyticsQuery,
			Parts:      []validation.Part{validation.PartQuery},
		})
		write := authn(middleware.RouteConfig{Permission: model.PermAnalyticsWrite})

		analytics.GET("", query, pc.Analytics)
		analytics.POST("/*path", write, pc.Analytics)
	}

	graph := r.Group("/graph")
	{
		read := authn(middleware.RouteConfig{Permission: model.PermGraphRead})
		mutate := authn(middleware.RouteConfig{
			Permission: model.PermGraphWrite,
			Schema:     model.SchemaGraphMutation,
			Parts:      []validation.Part{validation.PartBody},
		})

		graph.GET("", read, pc.Graph)
		graph.GET("/*path", read, pc.Graph)
		graph.POST("", mutate, pc.Graph)
	}
}

func (pc *ProxyController) Members(c *gin.Context)   { pc.members.ServeHTTP(c.Writer, c.Request) }
func (pc *ProxyController) Analytics(c *gin.Context) { pc.analytics.ServeHTTP(c.Writer, c.Request) }
func (pc *ProxyController) Graph(c *gin.Context)     { pc.graph.ServeHTTP(c.Writer, c.Request) }

// newUpstreamProxy builds a single-host proxy whose failures come back in
// the standard error body instead of a bare 502.
func newUpstreamProxy(rawURL string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("upstream %q: %w", rawURL, err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("Upstream unreachable",
			zap.String("upstream", target.Host),
			zap.String("path", r.URL.Path),
			zap.Error(err))

		ge := errs.NewDependencyUnavailableError("service temporarily unavailable", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ge.Status)
		_ = json.NewEncoder(w).Encode(util.ErrorResponse{
			Code:      ge.Code,
			Message:   ge.Message,
			RequestID: w.Header().Get(util.HeaderRequestID),
		})
	}
	return proxy, nil
}
