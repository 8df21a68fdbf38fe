package repositories

import (
	"context"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
)

// JobReader defines read operations for job definitions
type JobReader interface {
	FindJobByID(ctx context.Context, jobID string) (*domain.Job, error)

	// ListDueJobs returns Active jobs whose nextRunAt is at or before now.
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
}

// JobWriter defines write operations for job definitions
type JobWriter interface {
	SaveJob(ctx context.Context, job domain.Job) error

	UpdateJobSchedule(ctx context.Context, jobID string, schedule domain.Schedule, nextRunAt time.Time, updatedBy string, at time.Time) error

	UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, updatedBy string, at time.Time) error

	// AdvanceNextRunAt moves nextRunAt only if it still equals expected. It reports whether it did.
	AdvanceNextRunAt(ctx context.Context, jobID string, expected time.Time, next time.Time) (bool, error)

	// DeleteJob removes the job only while its active-run slot is empty; otherwise it fails
	// with ErrConflict.
	DeleteJob(ctx context.Context, jobID string) error
}

// RunSlotManager owns the single active-run token of each job.
type RunSlotManager interface {
	// ClaimRunSlot sets the job's active run to summary.RunID if and only if the slot is empty,
	// and in the same atomic write records summary as lastRun and increments runCount.
	// It returns the new runCount, or an *apperrors.ActiveRunConflictError naming the holder.
	ClaimRunSlot(ctx context.Context, jobID string, summary domain.LastRunSummary) (int64, error)

	// ReleaseRunSlot empties the slot if runID still holds it and records status on lastRun
	// when lastRun refers to runID.
	ReleaseRunSlot(ctx context.Context, jobID, runID string, status domain.RunStatus) error
}

// JobRepositoryFacade combines all job-related repository interfaces
type JobRepositoryFacade interface {
	JobReader
	JobWriter
	RunSlotManager
}
