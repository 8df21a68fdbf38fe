package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/adapters/database/memory"
	"github.com/SscSPs/backup_orchestrator/internal/adapters/database/pgsql"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/SscSPs/backup_orchestrator/internal/core/services"
	"github.com/SscSPs/backup_orchestrator/internal/handlers"
	"github.com/SscSPs/backup_orchestrator/internal/metrics"
	"github.com/SscSPs/backup_orchestrator/internal/middleware"
	"github.com/SscSPs/backup_orchestrator/internal/platform/config"
	"github.com/SscSPs/backup_orchestrator/internal/worker"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Orchestrator stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Orchestrator stopped")
}

func run(logger *slog.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, health, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	container := services.NewServiceContainer(cfg, repos, services.WithMetrics(collector))

	runLimiter, err := middleware.NewRateLimiter(cfg.RateLimit)
	if err != nil {
		return err
	}
	if err := handlers.RegisterValidators(); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		middleware.StructuredLoggingMiddleware(logger),
		gin.Recovery(),
		middleware.MetricsMiddleware(collector),
	)
	// cors refuses a config with no origins at all.
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(corsConfig(cfg)))
	}
	if err := r.SetTrustedProxies(nil); err != nil {
		return fmt.Errorf("failed to set trusted proxies: %w", err)
	}
	handlers.RegisterRoutes(r, cfg, container, handlers.RouteDeps{
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		RunLimiter:  runLimiter,
		HealthCheck: health,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	agent := worker.NewAgent(repos.RunQueue, container.Executor, clock.WallClock, worker.AgentConfig{
		ID:            workerID(),
		Concurrency:   cfg.WorkerConcurrency,
		PollInterval:  cfg.WorkerPollInterval,
		LeaseDuration: cfg.RunLeaseDuration,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", slog.String("port", cfg.Port), slog.String("store", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed to run: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down server")
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return agent.Run(gctx)
	})
	g.Go(func() error {
		return worker.RunPeriodically(gctx, clock.WallClock, "watchdog", cfg.WatchdogInterval, container.Watchdog.ReclaimStaleRuns)
	})
	g.Go(func() error {
		return worker.RunPeriodically(gctx, clock.WallClock, "scheduler", cfg.SchedulerInterval, container.Scheduler.TriggerDueJobs)
	})

	return g.Wait()
}

// openStore selects the repository backend. The returned health probe is nil when there is nothing to check.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (portsrepo.RepositoryProvider, handlers.HealthChecker, func(), error) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn("Using in-memory store; state is lost on restart")
		return memory.NewRepositoryProvider(memory.NewStore(clock.WallClock)), nil, func() {}, nil
	}

	pool, err := pgsql.NewPgxPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return portsrepo.RepositoryProvider{}, nil, nil, fmt.Errorf("failed to initialize database pool: %w", err)
	}
	logger.Info("Running database migrations...")
	if err := pgsql.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		pgsql.ClosePgxPool(pool)
		return portsrepo.RepositoryProvider{}, nil, nil, err
	}

	var health handlers.HealthChecker
	if cfg.EnableDBCheck {
		health = pool.Ping
	}
	return pgsql.NewRepositoryProvider(pool), health, func() { pgsql.ClosePgxPool(pool) }, nil
}

func corsConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.CORSAllowedOrigins
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	corsCfg.ExposeHeaders = []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"}
	corsCfg.MaxAge = 12 * time.Hour
	return corsCfg
}

// workerID names this process in run leases.
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return host + "-" + xid.New().String()
}
