package pgsql

import (
	"context"
	"errors"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// oneActiveRunIndex is the partial unique index that backs the job's active-run slot.
const oneActiveRunIndex = "runs_one_active_per_job"

type PgxRunRepository struct {
	BaseRepository
}

func newPgxRunRepository(pool *pgxpool.Pool) *PgxRunRepository {
	return &PgxRunRepository{BaseRepository: BaseRepository{Pool: pool}}
}

var _ portsrepo.RunRepositoryFacade = (*PgxRunRepository)(nil)

const runSelect = `
SELECT
	run_id, job_id, account_id, status, started_at, finished_at, duration_ms,
	records_processed, files_processed, bytes_processed, error, metadata,
	lease_owner, lease_expires_at, heartbeat_at
FROM runs
`

type runRow struct {
	RunID            string             `db:"run_id"`
	JobID            string             `db:"job_id"`
	AccountID        string             `db:"account_id"`
	Status           string             `db:"status"`
	StartedAt        time.Time          `db:"started_at"`
	FinishedAt       *time.Time         `db:"finished_at"`
	DurationMs       int64              `db:"duration_ms"`
	RecordsProcessed int64              `db:"records_processed"`
	FilesProcessed   int64              `db:"files_processed"`
	BytesProcessed   int64              `db:"bytes_processed"`
	Error            string             `db:"error"`
	Metadata         domain.RunMetadata `db:"metadata"`
	LeaseOwner       *string            `db:"lease_owner"`
	LeaseExpiresAt   *time.Time         `db:"lease_expires_at"`
	HeartbeatAt      *time.Time         `db:"heartbeat_at"`
}

func (row runRow) toDomain() domain.Run {
	run := domain.Run{
		RunID:      row.RunID,
		JobID:      row.JobID,
		AccountID:  row.AccountID,
		Status:     domain.RunStatus(row.Status),
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
		Duration:   time.Duration(row.DurationMs) * time.Millisecond,
		RunResult: domain.RunResult{
			RecordsProcessed: row.RecordsProcessed,
			FilesProcessed:   row.FilesProcessed,
			BytesProcessed:   row.BytesProcessed,
		},
		Error:          row.Error,
		Metadata:       row.Metadata,
		LeaseExpiresAt: row.LeaseExpiresAt,
		HeartbeatAt:    row.HeartbeatAt,
	}
	if row.LeaseOwner != nil {
		run.LeaseOwner = *row.LeaseOwner
	}
	return run
}

func (r *PgxRunRepository) getRuns(ctx context.Context, filterQuery string, args ...any) ([]domain.Run, error) {
	rows, err := r.Pool.Query(ctx, runSelect+filterQuery, args...)
	if err != nil {
		return nil, dbError("failed to query runs", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[runRow])
	if err != nil {
		return nil, dbError("failed to collect run rows", err)
	}
	runs := make([]domain.Run, 0, len(collected))
	for _, row := range collected {
		runs = append(runs, row.toDomain())
	}
	return runs, nil
}

func activeStatuses() []string {
	return []string{string(domain.RunPending), string(domain.RunRunning)}
}

func (r *PgxRunRepository) FindRunByID(ctx context.Context, runID string) (*domain.Run, error) {
	runs, err := r.getRuns(ctx, `WHERE run_id = $1`, runID)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &runs[0], nil
}

func (r *PgxRunRepository) FindActiveRunsByJob(ctx context.Context, jobID string) ([]domain.Run, error) {
	return r.getRuns(ctx, `WHERE job_id = $1 AND status = ANY($2) ORDER BY started_at DESC, run_id DESC`,
		jobID, activeStatuses())
}

func (r *PgxRunRepository) FindActiveRunsByAccounts(ctx context.Context, accountIDs []string) ([]domain.Run, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	return r.getRuns(ctx, `WHERE account_id = ANY($1) AND status = ANY($2) ORDER BY started_at DESC, run_id DESC`,
		accountIDs, activeStatuses())
}

func (r *PgxRunRepository) ListRunsByJob(ctx context.Context, jobID string, page portsrepo.RunPage) ([]domain.Run, error) {
	if page.BeforeStartedAt == nil {
		return r.getRuns(ctx, `WHERE job_id = $1 ORDER BY started_at DESC, run_id DESC LIMIT $2`,
			jobID, nullIfZero(page.Limit))
	}
	return r.getRuns(ctx, `
		WHERE job_id = $1 AND (started_at, run_id) < ($2::timestamptz, $3::text)
		ORDER BY started_at DESC, run_id DESC LIMIT $4`,
		jobID, *page.BeforeStartedAt, page.BeforeRunID, nullIfZero(page.Limit))
}

func (r *PgxRunRepository) FindStaleRuns(ctx context.Context, q portsrepo.StaleRunQuery) ([]domain.Run, error) {
	return r.getRuns(ctx, `
		WHERE (status = $1 AND started_at < $3)
		   OR (status = $2 AND (started_at < $4 OR lease_expires_at < $5))
		ORDER BY started_at, run_id LIMIT $6`,
		string(domain.RunPending), string(domain.RunRunning), q.PendingBefore, q.RunningBefore, q.Now, nullIfZero(q.Limit))
}

func (r *PgxRunRepository) SumCompletedRuns(ctx context.Context, accountID string, since time.Time) (domain.UsageSummary, error) {
	summary := domain.UsageSummary{AccountID: accountID, Since: since}
	var count int64
	var totals domain.RunResult
	err := r.Pool.QueryRow(ctx, `
		SELECT count(*),
			COALESCE(sum(records_processed), 0)::bigint,
			COALESCE(sum(files_processed), 0)::bigint,
			COALESCE(sum(bytes_processed), 0)::bigint
		FROM runs
		WHERE account_id = $1 AND status = $2 AND started_at >= $3`,
		accountID, string(domain.RunCompleted), since,
	).Scan(&count, &totals.RecordsProcessed, &totals.FilesProcessed, &totals.BytesProcessed)
	if err != nil {
		return summary, dbError("failed to aggregate usage of account "+accountID, err)
	}
	summary.SetTotals(count, totals)
	return summary, nil
}

func (r *PgxRunRepository) SaveRun(ctx context.Context, run domain.Run) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO runs (
			run_id, job_id, account_id, status, started_at, finished_at, duration_ms,
			records_processed, files_processed, bytes_processed, error, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.RunID,
		run.JobID,
		run.AccountID,
		string(run.Status),
		run.StartedAt,
		run.FinishedAt,
		run.Duration.Milliseconds(),
		run.RecordsProcessed,
		run.FilesProcessed,
		run.BytesProcessed,
		run.Error,
		run.Metadata,
	)
	if err == nil {
		return nil
	}
	code, constraint := pgErrorCode(err)
	if code != uniqueViolation {
		return dbError("failed to save run "+run.RunID, err)
	}
	if constraint != oneActiveRunIndex {
		return duplicateError("run", run.RunID)
	}
	active, ferr := r.FindActiveRunsByJob(ctx, run.JobID)
	if ferr != nil {
		return ferr
	}
	conflict := &apperrors.ActiveRunConflictError{JobID: run.JobID}
	if len(active) > 0 {
		conflict.ActiveRunID = active[0].RunID
	}
	return conflict
}

// transitionMiss explains why a conditional transition matched no row.
func (r *PgxRunRepository) transitionMiss(ctx context.Context, runID, detail string) error {
	var status string
	err := r.Pool.QueryRow(ctx, `SELECT status FROM runs WHERE run_id = $1`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return dbError("failed to read run "+runID, err)
	}
	return apperrors.NewInvalidStateError("run " + runID + " is " + status + detail)
}

func (r *PgxRunRepository) MarkRunRunning(ctx context.Context, runID, leaseOwner string, leaseExpiresAt, at time.Time) error {
	// The job's last_run summary moves with the run in the same statement.
	var started int
	err := r.Pool.QueryRow(ctx, `
		WITH started AS (
			UPDATE runs SET status = $2, lease_owner = $3, lease_expires_at = $4, heartbeat_at = $5
			WHERE run_id = $1 AND status = $6
			RETURNING job_id
		), summary AS (
			UPDATE jobs SET last_run = jsonb_set(jobs.last_run, '{status}', to_jsonb($2::text))
			FROM started
			WHERE jobs.job_id = started.job_id AND jobs.last_run->>'runID' = $1
		)
		SELECT count(*) FROM started`,
		runID, string(domain.RunRunning), leaseOwner, leaseExpiresAt, at, string(domain.RunPending)).Scan(&started)
	if err != nil {
		return dbError("failed to mark run "+runID+" running", err)
	}
	if started == 0 {
		return r.transitionMiss(ctx, runID, "")
	}
	return nil
}

func (r *PgxRunRepository) RenewRunLease(ctx context.Context, runID, leaseOwner string, leaseExpiresAt, at time.Time) error {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE runs SET lease_expires_at = $3, heartbeat_at = $4
		WHERE run_id = $1 AND lease_owner = $2 AND status = $5`,
		runID, leaseOwner, leaseExpiresAt, at, string(domain.RunRunning))
	if err != nil {
		return dbError("failed to renew lease of run "+runID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionMiss(ctx, runID, ", not leased by "+leaseOwner)
	}
	return nil
}

func (r *PgxRunRepository) FinishRun(ctx context.Context, runID string, from []domain.RunStatus, outcome domain.RunOutcome, duration time.Duration) error {
	var result domain.RunResult
	if outcome.Status == domain.RunCompleted {
		result = outcome.Result
	}
	fromStatuses := make([]string, 0, len(from))
	for _, s := range from {
		fromStatuses = append(fromStatuses, string(s))
	}
	tag, err := r.Pool.Exec(ctx, `
		UPDATE runs SET
			status = $2, finished_at = $3, duration_ms = $4, error = $5,
			records_processed = $6, files_processed = $7, bytes_processed = $8,
			lease_owner = NULL, lease_expires_at = NULL
		WHERE run_id = $1 AND status = ANY($9)`,
		runID, string(outcome.Status), outcome.FinishedAt, duration.Milliseconds(), outcome.Error,
		result.RecordsProcessed, result.FilesProcessed, result.BytesProcessed, fromStatuses)
	if err != nil {
		return dbError("failed to finish run "+runID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionMiss(ctx, runID, "")
	}
	return nil
}
