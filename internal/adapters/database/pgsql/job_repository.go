package pgsql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// claimAttempts bounds retries when the slot holder finishes between the claim and the lookup.
const claimAttempts = 3

type PgxJobRepository struct {
	BaseRepository
}

func newPgxJobRepository(pool *pgxpool.Pool) *PgxJobRepository {
	return &PgxJobRepository{BaseRepository: BaseRepository{Pool: pool}}
}

var _ portsrepo.JobRepositoryFacade = (*PgxJobRepository)(nil)

const jobSelect = `
SELECT
	job_id, account_id, name, source_type, source_refs, status, schedule, next_run_at, last_run,
	run_count, active_run_id, created_at, created_by, last_updated_at, last_updated_by
FROM jobs
`

type jobRow struct {
	JobID         string                 `db:"job_id"`
	AccountID     string                 `db:"account_id"`
	Name          string                 `db:"name"`
	SourceType    string                 `db:"source_type"`
	SourceRefs    []string               `db:"source_refs"`
	Status        string                 `db:"status"`
	Schedule      domain.Schedule        `db:"schedule"`
	NextRunAt     *time.Time             `db:"next_run_at"`
	LastRun       *domain.LastRunSummary `db:"last_run"`
	RunCount      int64                  `db:"run_count"`
	ActiveRunID   *string                `db:"active_run_id"`
	CreatedAt     time.Time              `db:"created_at"`
	CreatedBy     string                 `db:"created_by"`
	LastUpdatedAt time.Time              `db:"last_updated_at"`
	LastUpdatedBy string                 `db:"last_updated_by"`
}

func (row jobRow) toDomain() domain.Job {
	j := domain.Job{
		JobID:      row.JobID,
		AccountID:  row.AccountID,
		Name:       row.Name,
		SourceType: row.SourceType,
		SourceRefs: row.SourceRefs,
		Status:     domain.JobStatus(row.Status),
		Schedule:   row.Schedule,
		NextRunAt:  row.NextRunAt,
		LastRun:    row.LastRun,
		RunCount:   row.RunCount,
		AuditFields: domain.AuditFields{
			CreatedAt:     row.CreatedAt,
			CreatedBy:     row.CreatedBy,
			LastUpdatedAt: row.LastUpdatedAt,
			LastUpdatedBy: row.LastUpdatedBy,
		},
	}
	if row.ActiveRunID != nil {
		j.ActiveRunID = *row.ActiveRunID
	}
	return j
}

func (r *PgxJobRepository) getJobs(ctx context.Context, filterQuery string, args ...any) ([]domain.Job, error) {
	rows, err := r.Pool.Query(ctx, jobSelect+filterQuery, args...)
	if err != nil {
		return nil, dbError("failed to query jobs", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[jobRow])
	if err != nil {
		return nil, dbError("failed to collect job rows", err)
	}
	jobs := make([]domain.Job, 0, len(collected))
	for _, row := range collected {
		jobs = append(jobs, row.toDomain())
	}
	return jobs, nil
}

func (r *PgxJobRepository) FindJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	jobs, err := r.getJobs(ctx, `WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &jobs[0], nil
}

func (r *PgxJobRepository) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	return r.getJobs(ctx, `WHERE status = $1 AND next_run_at <= $2 ORDER BY next_run_at, job_id LIMIT $3`,
		string(domain.JobActive), now, nullIfZero(limit))
}

func (r *PgxJobRepository) SaveJob(ctx context.Context, job domain.Job) error {
	sourceRefs := job.SourceRefs
	if sourceRefs == nil {
		sourceRefs = []string{}
	}
	var activeRunID *string
	if job.ActiveRunID != "" {
		activeRunID = &job.ActiveRunID
	}
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO jobs (
			job_id, account_id, name, source_type, source_refs, status, schedule, next_run_at, last_run,
			run_count, active_run_id, created_at, created_by, last_updated_at, last_updated_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.JobID,
		job.AccountID,
		job.Name,
		job.SourceType,
		sourceRefs,
		string(job.Status),
		job.Schedule,
		job.NextRunAt,
		job.LastRun,
		job.RunCount,
		activeRunID,
		job.CreatedAt,
		job.CreatedBy,
		job.LastUpdatedAt,
		job.LastUpdatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicateError("job", job.JobID)
		}
		if code, _ := pgErrorCode(err); code == foreignKeyViolation {
			return apperrors.NewNotFoundError("account " + job.AccountID + " not found")
		}
		return dbError("failed to save job "+job.JobID, err)
	}
	return nil
}

// updateJob runs an UPDATE keyed on job_id and reports ErrNotFound when no row matched.
func (r *PgxJobRepository) updateJob(ctx context.Context, query string, args ...any) error {
	tag, err := r.Pool.Exec(ctx, query, args...)
	if err != nil {
		return dbError("failed to update job", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *PgxJobRepository) UpdateJobSchedule(ctx context.Context, jobID string, schedule domain.Schedule, nextRunAt time.Time, updatedBy string, at time.Time) error {
	return r.updateJob(ctx, `
		UPDATE jobs SET schedule = $2, next_run_at = $3, last_updated_at = $4, last_updated_by = $5
		WHERE job_id = $1`,
		jobID, schedule, nextRunAt, at, updatedBy)
}

func (r *PgxJobRepository) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, updatedBy string, at time.Time) error {
	return r.updateJob(ctx, `
		UPDATE jobs SET status = $2, last_updated_at = $3, last_updated_by = $4
		WHERE job_id = $1`,
		jobID, string(status), at, updatedBy)
}

func (r *PgxJobRepository) AdvanceNextRunAt(ctx context.Context, jobID string, expected time.Time, next time.Time) (bool, error) {
	tag, err := r.Pool.Exec(ctx, `UPDATE jobs SET next_run_at = $3 WHERE job_id = $1 AND next_run_at = $2`,
		jobID, expected, next)
	if err != nil {
		return false, dbError("failed to advance next run of job "+jobID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgxJobRepository) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM jobs WHERE job_id = $1 AND active_run_id IS NULL`, jobID)
	if err != nil {
		return dbError("failed to delete job "+jobID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	holder, err := r.activeRunID(ctx, jobID)
	if err != nil {
		return err
	}
	if holder == "" {
		return apperrors.NewConflictError(fmt.Sprintf("job %s changed during delete", jobID))
	}
	return &apperrors.ActiveRunConflictError{JobID: jobID, ActiveRunID: holder}
}

// activeRunID reads the current slot holder, empty when the slot is free.
func (r *PgxJobRepository) activeRunID(ctx context.Context, jobID string) (string, error) {
	var holder *string
	err := r.Pool.QueryRow(ctx, `SELECT active_run_id FROM jobs WHERE job_id = $1`, jobID).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.ErrNotFound
	}
	if err != nil {
		return "", dbError("failed to read active run of job "+jobID, err)
	}
	if holder == nil {
		return "", nil
	}
	return *holder, nil
}

func (r *PgxJobRepository) ClaimRunSlot(ctx context.Context, jobID string, summary domain.LastRunSummary) (int64, error) {
	for range claimAttempts {
		var count int64
		err := r.Pool.QueryRow(ctx, `
			UPDATE jobs SET active_run_id = $2, run_count = run_count + 1, last_run = $3
			WHERE job_id = $1 AND active_run_id IS NULL
			RETURNING run_count`,
			jobID, summary.RunID, summary,
		).Scan(&count)
		if err == nil {
			return count, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, dbError("failed to claim run slot of job "+jobID, err)
		}
		holder, err := r.activeRunID(ctx, jobID)
		if err != nil {
			return 0, err
		}
		if holder != "" {
			return 0, &apperrors.ActiveRunConflictError{JobID: jobID, ActiveRunID: holder}
		}
	}
	return 0, apperrors.NewConflictError(fmt.Sprintf("run slot of job %s is contended", jobID))
}

func (r *PgxJobRepository) ReleaseRunSlot(ctx context.Context, jobID, runID string, status domain.RunStatus) error {
	// A missing job was deleted after its run finished; nothing to release.
	_, err := r.Pool.Exec(ctx, `
		UPDATE jobs SET
			active_run_id = CASE WHEN active_run_id = $2 THEN NULL ELSE active_run_id END,
			last_run = CASE WHEN last_run->>'runID' = $2 THEN jsonb_set(last_run, '{status}', to_jsonb($3::text)) ELSE last_run END
		WHERE job_id = $1`,
		jobID, runID, string(status),
	)
	if err != nil {
		return dbError("failed to release run slot of job "+jobID, err)
	}
	return nil
}
