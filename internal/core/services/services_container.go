package services

import (
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/metrics"
	"github.com/SscSPs/backup_orchestrator/internal/platform/config"
	"github.com/juju/clock"
)

// ContainerOption overrides a collaborator of the service container.
type ContainerOption func(*containerDeps)

type containerDeps struct {
	clock      clock.Clock
	metrics    *metrics.Collector
	connectors *ConnectorRegistry
	retry      *RetryPolicy
}

// WithClock drives every service from clk instead of the wall clock.
func WithClock(clk clock.Clock) ContainerOption {
	return func(d *containerDeps) {
		d.clock = clk
	}
}

func WithMetrics(collector *metrics.Collector) ContainerOption {
	return func(d *containerDeps) {
		d.metrics = collector
	}
}

// WithConnectors replaces the default registry, which simulates every source type.
func WithConnectors(registry *ConnectorRegistry) ContainerOption {
	return func(d *containerDeps) {
		d.connectors = registry
	}
}

func WithContainerRetryPolicy(policy RetryPolicy) ContainerOption {
	return func(d *containerDeps) {
		d.retry = &policy
	}
}

// NewServiceContainer creates a new service container with properly initialized dependencies
func NewServiceContainer(cfg *config.Config, repos portsrepo.RepositoryProvider, options ...ContainerOption) *portssvc.ServiceContainer {
	deps := containerDeps{clock: clock.WallClock}
	for _, option := range options {
		option(&deps)
	}
	if deps.connectors == nil {
		deps.connectors = NewConnectorRegistry(NewSimulatedConnector(deps.clock, SimulatedConnectorConfig{
			MinLatency:  cfg.SimulatedMinLatency,
			MaxLatency:  cfg.SimulatedMaxLatency,
			FailureRate: cfg.SimulatedFailureRate,
		}, 0))
	}

	container := &portssvc.ServiceContainer{}

	// Every service is guarded by the same membership-based authorizer.
	authorizer := NewAccountAuthorizer(repos.AccountRepo, repos.MembershipRepo)
	container.Activity = NewActivityService(repos.ActivityRepo, authorizer, deps.clock)

	lifecycle := []LifecycleOption{
		WithLifecycleClock(deps.clock),
		WithLifecycleActivity(container.Activity),
		WithLifecycleMetrics(deps.metrics),
	}
	if deps.retry != nil {
		lifecycle = append(lifecycle, WithRetryPolicy(*deps.retry))
	}

	// The watchdog comes first: suspending an account fails its runs through it.
	container.Watchdog = NewWatchdogService(repos, WatchdogConfig{MaxDuration: cfg.RunMaxDuration}, lifecycle...)
	container.Hierarchy = NewHierarchyService(
		repos.AccountRepo,
		repos.MembershipRepo,
		WithHierarchyClock(deps.clock),
		WithHierarchyActivity(container.Activity),
		WithRunTerminator(container.Watchdog),
		WithDefaultMaxSubAccounts(cfg.DefaultMaxSubAccounts),
	)

	container.JobRun = NewJobRunService(repos, authorizer, lifecycle...)
	container.Executor = NewRunExecutor(repos, deps.connectors, ExecutorConfig{
		LeaseDuration:     cfg.RunLeaseDuration,
		HeartbeatInterval: cfg.RunHeartbeatInterval,
		MaxDuration:       cfg.RunMaxDuration,
	}, lifecycle...)
	container.Scheduler = NewSchedulerService(repos.JobRepo, container.JobRun, deps.clock, 0)
	container.Usage = NewUsageService(repos.RunRepo, authorizer, deps.clock)
	container.Migrator = NewMigratorService(repos,
		WithMigratorClock(deps.clock),
		WithMigratorMaxSubAccounts(cfg.DefaultMaxSubAccounts),
	)

	return container
}
