package pgsql

import (
	"context"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxRunQueue is a visibility-timeout queue on the run_queue table. Visibility is measured
// on the database clock so executors on different hosts agree.
type PgxRunQueue struct {
	BaseRepository
}

func newPgxRunQueue(pool *pgxpool.Pool) *PgxRunQueue {
	return &PgxRunQueue{BaseRepository: BaseRepository{Pool: pool}}
}

var _ portsrepo.RunQueue = (*PgxRunQueue)(nil)

type queueRow struct {
	RunID     string    `db:"run_id"`
	JobID     string    `db:"job_id"`
	AccountID string    `db:"account_id"`
	Attempt   int       `db:"attempt"`
	VisibleAt time.Time `db:"visible_at"`
}

func (q *PgxRunQueue) Enqueue(ctx context.Context, task domain.RunTask) error {
	var visibleAfter *time.Time
	if !task.VisibleAfter.IsZero() {
		visibleAfter = &task.VisibleAfter
	}
	_, err := q.Pool.Exec(ctx, `
		INSERT INTO run_queue (run_id, job_id, account_id, attempt, visible_at)
		VALUES ($1, $2, $3, $4, COALESCE($5::timestamptz, now()))
		ON CONFLICT (run_id) DO UPDATE SET visible_at = EXCLUDED.visible_at`,
		task.RunID, task.JobID, task.AccountID, task.Attempt, visibleAfter)
	if err != nil {
		return dbError("failed to enqueue run "+task.RunID, err)
	}
	return nil
}

// Dequeue claims visible tasks with SKIP LOCKED so concurrent executors never share one.
func (q *PgxRunQueue) Dequeue(ctx context.Context, limit int, lease time.Duration) ([]domain.RunTask, error) {
	rows, err := q.Pool.Query(ctx, `
		WITH picked AS (
			SELECT run_id FROM run_queue
			WHERE visible_at <= now()
			ORDER BY visible_at, run_id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE run_queue q
		SET attempt = q.attempt + 1, visible_at = now() + make_interval(secs => $2)
		FROM picked
		WHERE q.run_id = picked.run_id
		RETURNING q.run_id, q.job_id, q.account_id, q.attempt, q.visible_at`,
		nullIfZero(limit), lease.Seconds())
	if err != nil {
		return nil, dbError("failed to dequeue runs", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[queueRow])
	if err != nil {
		return nil, dbError("failed to collect queued runs", err)
	}
	tasks := make([]domain.RunTask, 0, len(collected))
	for _, row := range collected {
		tasks = append(tasks, domain.RunTask{
			RunID:        row.RunID,
			JobID:        row.JobID,
			AccountID:    row.AccountID,
			Attempt:      row.Attempt,
			VisibleAfter: row.VisibleAt,
		})
	}
	return tasks, nil
}

func (q *PgxRunQueue) Extend(ctx context.Context, runID string, lease time.Duration) error {
	tag, err := q.Pool.Exec(ctx, `UPDATE run_queue SET visible_at = now() + make_interval(secs => $2) WHERE run_id = $1`,
		runID, lease.Seconds())
	if err != nil {
		return dbError("failed to extend run "+runID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (q *PgxRunQueue) Ack(ctx context.Context, runID string) error {
	if _, err := q.Pool.Exec(ctx, `DELETE FROM run_queue WHERE run_id = $1`, runID); err != nil {
		return dbError("failed to ack run "+runID, err)
	}
	return nil
}
