package services

import (
	"context"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	"github.com/SscSPs/backup_orchestrator/internal/dto"
)

// ActivitySvc exposes the audit trail.
type ActivitySvc interface {
	// RecordActivity appends a record, assigning its ID and timestamp when unset.
	RecordActivity(ctx context.Context, record domain.ActivityRecord) error

	ListActivity(ctx context.Context, accountID, actorUserID string, params dto.ListActivityParams) ([]domain.ActivityRecord, *string, error)
}

// UsageSvc aggregates completed runs.
type UsageSvc interface {
	GetAccountUsage(ctx context.Context, accountID, actorUserID string, since time.Time) (*domain.UsageSummary, error)
}

// MigrationOptions controls a migrator run.
type MigrationOptions struct {
	DryRun   bool
	PageSize int
}

// MigratorSvc converts legacy flat accounts to the hierarchical model.
type MigratorSvc interface {
	Migrate(ctx context.Context, opts MigrationOptions) (*domain.MigrationReport, error)
}

// ServiceContainer holds instances of all the application services.
// This is the main entry point for accessing service functionality and
// is used throughout the application, particularly in the handlers.
type ServiceContainer struct {
	Hierarchy HierarchySvcFacade
	JobRun    JobRunSvcFacade
	Executor  RunExecutorSvc
	Watchdog  WatchdogSvc
	Scheduler SchedulerSvc
	Activity  ActivitySvc
	Usage     UsageSvc
	Migrator  MigratorSvc
}
