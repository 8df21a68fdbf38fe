package handlers

import (
	"net/http"

	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/middleware"
	"github.com/SscSPs/backup_orchestrator/internal/platform/config"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
)

// RouteDeps carries the optional collaborators of the router.
type RouteDeps struct {
	// Metrics serves the prometheus exposition format on /metrics.
	Metrics http.Handler
	// RunLimiter throttles run triggers per user.
	RunLimiter *limiter.Limiter
	// HealthCheck is probed by /health when set.
	HealthCheck HealthChecker
}

// RegisterRoutes sets up all application routes, injecting dependencies using interfaces
func RegisterRoutes(
	r *gin.Engine,
	cfg *config.Config,
	services *portssvc.ServiceContainer,
	deps RouteDeps,
) {
	r.GET("/health", getHealth(deps.HealthCheck))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	setupAPIV1Routes(r, cfg, services, deps)
}

// setupAPIV1Routes configures the /api/v1 group and delegates to specific entity route registrations
func setupAPIV1Routes(
	r *gin.Engine,
	cfg *config.Config,
	services *portssvc.ServiceContainer,
	deps RouteDeps,
) {
	v1 := r.Group("/api/v1", middleware.AuthMiddleware(cfg.JWTSecret))

	var runLimit gin.HandlerFunc
	if deps.RunLimiter != nil {
		runLimit = middleware.RateLimit(deps.RunLimiter)
	}

	RegisterAccountRoutes(v1, services.Hierarchy)
	RegisterJobRoutes(v1, services.JobRun, runLimit)
	RegisterActivityRoutes(v1, services.Activity, services.Usage)
}
