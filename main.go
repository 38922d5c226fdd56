package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lattice-hq/gateway/audit"
	"github.com/lattice-hq/gateway/breaker"
	"github.com/lattice-hq/gateway/cache"
	"github.com/lattice-hq/gateway/config"
	"github.com/lattice-hq/gateway/controller"
	"github.com/lattice-hq/gateway/gate"
	"github.com/lattice-hq/gateway/identity"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/ratelimit"
	"github.com/lattice-hq/gateway/router"
	"github.com/lattice-hq/gateway/session"
	"github.com/lattice-hq/gateway/token"
	"github.com/lattice-hq/gateway/util"
	"github.com/lattice-hq/gateway/validation"
)

// sweepInterval paces the background prune of expired sessions. Admission
// never depends on the sweep; it only keeps the cluster tidy.
const sweepInterval = 5 * time.Minute

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg := config.GetConfig()

	// Initialize logger
	logger.InitLogger(config.GetString("log.dir"))
	defer logger.Sync()

	// Initialize EventBus
	eventBus := util.NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventBus.Start(ctx)

	publishTransition := func(name string, from, to breaker.State) {
		eventBus.Publish(ctx, util.EventBreakerState, util.BreakerTransition{
			Dependency: name,
			From:       from.String(),
			To:         to.String(),
		})
	}
	breakerSettings := func(isSuccessful func(error) bool) breaker.Settings {
		return breaker.Settings{
			ErrorThreshold: cfg.Breaker.ErrorThreshold,
			MinVolume:      cfg.Breaker.MinVolume,
			Window:         cfg.Breaker.Window,
			Cooldown:       cfg.Breaker.Cooldown,
			Timeout:        cfg.Breaker.Timeout,
			IsSuccessful:   isSuccessful,
			OnStateChange:  publishTransition,
		}
	}

	// Cache cluster client behind its own breaker
	cacheBreaker := breaker.New("cache-cluster", breakerSettings(cache.BreakerSuccess))
	cacheClient, err := cache.New(cache.Options{
		Addresses:            cfg.Cache.Addresses,
		Username:             cfg.Cache.Username,
		Password:             cfg.Cache.Password,
		TLS:                  cfg.Cache.TLS,
		DialTimeout:          cfg.Cache.DialTimeout,
		ReadTimeout:          cfg.Cache.ReadTimeout,
		WriteTimeout:         cfg.Cache.WriteTimeout,
		CompressionThreshold: cfg.Cache.CompressionThreshold,
	}, cacheBreaker)
	if err != nil {
		logger.Fatal("Failed to initialize cache cluster client", zap.Error(err))
	}
	defer cacheClient.Close()

	// Identity provider behind its own breaker
	identityBreaker := breaker.New("identity-provider", breakerSettings(identity.BreakerSuccess))
	identityProvider := identity.NewHTTPProvider(identity.Config{
		BaseURL: cfg.Identity.BaseURL,
		Timeout: cfg.Identity.Timeout,
	})

	// Security pipeline components
	limiter := ratelimit.New(cacheClient, ratelimit.Config{
		Window:      cfg.RateLimit.Window,
		MaxRequests: cfg.RateLimit.MaxRequests,
		Whitelist:   cfg.RateLimit.Whitelist,
		FailOpen:    cfg.RateLimit.FailOpen,
		FallbackRPS: cfg.RateLimit.FallbackRPS,
	})
	sessions := session.NewManager(cacheClient, session.Config{
		MaxConcurrent: cfg.Session.MaxConcurrent,
		ActivityTTL:   cfg.Session.ActivityTTL,
	})
	tokens := token.New(cacheClient, identityProvider, identityBreaker, token.Config{
		IdentityTTLCap: cfg.Identity.CacheTTLCap,
	})
	schemas := validation.New(validation.Config{
		MaxPayloadBytes:  cfg.Validation.MaxPayloadBytes,
		Timeout:          cfg.Validation.Timeout,
		FailureThreshold: cfg.Validation.FailureThreshold,
		Cooldown:         cfg.Validation.Cooldown,
	})
	if err := router.RegisterSchemas(schemas); err != nil {
		logger.Fatal("Failed to register payload schemas", zap.Error(err))
	}

	securityGate := gate.New(limiter, tokens, sessions, schemas, eventBus)

	// Audit trail and ops notifications ride the event bus
	auditRepository, err := audit.NewElasticsearchRepository(config.GetString("elasticsearch.url"))
	if err != nil {
		logger.Fatal("Failed to initialize Elasticsearch", zap.Error(err))
	}
	auditService := audit.NewService(auditRepository)
	if cfg.Audit.Enabled {
		auditService.Attach(eventBus)
	}
	util.NewNotificationService().Attach(eventBus)

	// Initialize controllers
	controllers, err := controller.InitializeControllers(controller.Dependencies{
		Tokens:    tokens,
		Sessions:  sessions,
		Cache:     cacheClient,
		Audits:    auditService,
		Bus:       eventBus,
		Breakers:  []*breaker.Breaker{cacheBreaker, identityBreaker},
		Upstreams: cfg.Upstream,
	})
	if err != nil {
		logger.Fatal("Failed to initialize controllers", zap.Error(err))
	}

	// Background session sweep
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sessions.SweepExpired(ctx); err != nil {
					logger.Warn("Session sweep failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Set up Gin
	gin.SetMode(gin.ReleaseMode)
	engine := router.SetupRouter(controllers, securityGate)

	// Set up the server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", config.GetString("server.port")),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", config.GetString("server.port")))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
