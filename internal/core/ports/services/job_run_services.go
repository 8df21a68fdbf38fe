package services

import (
	"context"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	"github.com/SscSPs/backup_orchestrator/internal/dto"
)

// JobReaderSvc defines read operations for jobs and their runs
type JobReaderSvc interface {
	GetJob(ctx context.Context, jobID, actorUserID string) (*domain.Job, error)

	GetRun(ctx context.Context, runID, actorUserID string) (*domain.Run, error)

	// ListRuns returns a page of runs, newest first, and the token for the next page.
	ListRuns(ctx context.Context, jobID, actorUserID string, params dto.ListRunsParams) ([]domain.Run, *string, error)
}

// JobWriterSvc defines write operations for job definitions
type JobWriterSvc interface {
	CreateJob(ctx context.Context, accountID string, req dto.CreateJobRequest, actorUserID string) (*domain.Job, error)

	// DeleteJob fails with apperrors.ErrConflict while the job has a pending or running run.
	DeleteJob(ctx context.Context, jobID, actorUserID string) error

	UpdateJobSchedule(ctx context.Context, jobID string, schedule domain.Schedule, actorUserID string) (*domain.Job, error)

	SetJobStatus(ctx context.Context, jobID string, status domain.JobStatus, actorUserID string) (*domain.Job, error)
}

// RunOrchestratorSvc starts runs.
type RunOrchestratorSvc interface {
	// StartRun creates a pending run and dispatches it for execution without waiting for it.
	// A job that already has an active run fails with *apperrors.ActiveRunConflictError.
	StartRun(ctx context.Context, jobID, actorUserID string) (*domain.Run, error)

	// StartScheduledRun starts a run on behalf of the scheduler; no user authorization applies.
	StartScheduledRun(ctx context.Context, jobID string) (*domain.Run, error)
}

// JobRunSvcFacade combines all job and run service interfaces
type JobRunSvcFacade interface {
	JobReaderSvc
	JobWriterSvc
	RunOrchestratorSvc
}

// RunExecutorSvc drives dispatched runs to a terminal state.
type RunExecutorSvc interface {
	// ExecuteTask runs one dequeued task. It returns once the run is terminal or the task has
	// been left for redelivery.
	ExecuteTask(ctx context.Context, task domain.RunTask, workerID string) error
}

// RunTerminatorSvc fails runs that can no longer complete.
type RunTerminatorSvc interface {
	// FailActiveRuns fails every pending or running run owned by the accounts.
	FailActiveRuns(ctx context.Context, accountIDs []string, reason string) (int, error)
}

// WatchdogSvc reclaims runs stuck in an active state.
type WatchdogSvc interface {
	RunTerminatorSvc

	// ReclaimStaleRuns fails runs that exceeded the max duration or lost their lease.
	ReclaimStaleRuns(ctx context.Context) (int, error)
}

// SchedulerSvc starts runs for jobs whose nextRunAt has passed.
type SchedulerSvc interface {
	TriggerDueJobs(ctx context.Context) (int, error)
}
