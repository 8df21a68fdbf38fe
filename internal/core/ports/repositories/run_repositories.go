package repositories

import (
	"context"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
)

// RunPage selects a page of runs ordered newest first.
type RunPage struct {
	Limit           int
	BeforeStartedAt *time.Time
	BeforeRunID     string
}

// StaleRunQuery selects runs the watchdog should reclaim.
type StaleRunQuery struct {
	Now           time.Time
	PendingBefore time.Time // pending runs created before this are stale
	RunningBefore time.Time // running runs started before this exceeded the max duration
	Limit         int
}

// RunReader defines read operations for runs
type RunReader interface {
	FindRunByID(ctx context.Context, runID string) (*domain.Run, error)

	// FindActiveRunsByJob uses the (job_id, status) index to find pending or running runs.
	FindActiveRunsByJob(ctx context.Context, jobID string) ([]domain.Run, error)

	// FindActiveRunsByAccounts finds pending or running runs owned by any of the accounts.
	FindActiveRunsByAccounts(ctx context.Context, accountIDs []string) ([]domain.Run, error)

	ListRunsByJob(ctx context.Context, jobID string, page RunPage) ([]domain.Run, error)

	// FindStaleRuns returns active runs that exceeded their max duration or lost their lease.
	FindStaleRuns(ctx context.Context, q StaleRunQuery) ([]domain.Run, error)

	// SumCompletedRuns aggregates completed runs of an account via the (account_id, started_at)
	// index. It may return apperrors.ErrIndexNotReady.
	SumCompletedRuns(ctx context.Context, accountID string, since time.Time) (domain.UsageSummary, error)
}

// RunWriter defines state transitions for runs. Every transition is conditional on the
// current status so terminal runs are never re-entered.
type RunWriter interface {
	// SaveRun inserts a new pending run.
	SaveRun(ctx context.Context, run domain.Run) error

	// MarkRunRunning moves a pending run to running and grants the caller a lease.
	// It fails with ErrInvalidState when the run is no longer pending.
	MarkRunRunning(ctx context.Context, runID, leaseOwner string, leaseExpiresAt, at time.Time) error

	// RenewRunLease extends the lease of a running run held by leaseOwner.
	RenewRunLease(ctx context.Context, runID, leaseOwner string, leaseExpiresAt, at time.Time) error

	// FinishRun writes a terminal outcome if the run's status is one of from.
	// It fails with ErrInvalidState otherwise.
	FinishRun(ctx context.Context, runID string, from []domain.RunStatus, outcome domain.RunOutcome, duration time.Duration) error
}

// RunRepositoryFacade combines all run-related repository interfaces
type RunRepositoryFacade interface {
	RunReader
	RunWriter
}

// RunQueue is the durable dispatch queue between StartRun and the executors.
type RunQueue interface {
	// Enqueue makes a task visible to executors at task.VisibleAfter.
	Enqueue(ctx context.Context, task domain.RunTask) error

	// Dequeue claims up to limit visible tasks, hiding each for lease.
	Dequeue(ctx context.Context, limit int, lease time.Duration) ([]domain.RunTask, error)

	// Extend keeps a claimed task hidden for another lease period (heartbeat).
	Extend(ctx context.Context, runID string, lease time.Duration) error

	// Ack removes a task from the queue.
	Ack(ctx context.Context, runID string) error
}
