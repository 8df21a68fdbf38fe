package pgsql

import (
	"context"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgxActivityRepository struct {
	BaseRepository
}

func newPgxActivityRepository(pool *pgxpool.Pool) *PgxActivityRepository {
	return &PgxActivityRepository{BaseRepository: BaseRepository{Pool: pool}}
}

var _ portsrepo.ActivityRepository = (*PgxActivityRepository)(nil)

type activityRow struct {
	ActivityID   string         `db:"activity_id"`
	AccountID    string         `db:"account_id"`
	UserID       *string        `db:"user_id"`
	Type         string         `db:"type"`
	ResourceID   string         `db:"resource_id"`
	ResourceType string         `db:"resource_type"`
	Message      string         `db:"message"`
	Metadata     map[string]any `db:"metadata"`
	OccurredAt   time.Time      `db:"occurred_at"`
}

func (r *PgxActivityRepository) AppendActivity(ctx context.Context, record domain.ActivityRecord) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO activities (
			activity_id, account_id, user_id, type, resource_id, resource_type, message, metadata, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ActivityID,
		record.AccountID,
		record.UserID,
		record.Type,
		record.ResourceID,
		record.ResourceType,
		record.Message,
		record.Metadata,
		record.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicateError("activity", record.ActivityID)
		}
		return dbError("failed to append activity", err)
	}
	return nil
}

func (r *PgxActivityRepository) ListActivity(ctx context.Context, filter portsrepo.ActivityFilter) ([]domain.ActivityRecord, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT activity_id, account_id, user_id, type, resource_id, resource_type, message, metadata, occurred_at
		FROM activities
		WHERE account_id = $1 AND ($2 = '' OR resource_id = $2) AND activity_id > $3
		ORDER BY activity_id
		LIMIT $4`,
		filter.AccountID, filter.ResourceID, filter.AfterID, nullIfZero(filter.Limit))
	if err != nil {
		return nil, dbError("failed to query activity", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[activityRow])
	if err != nil {
		return nil, dbError("failed to collect activity rows", err)
	}
	records := make([]domain.ActivityRecord, 0, len(collected))
	for _, row := range collected {
		records = append(records, domain.ActivityRecord{
			ActivityID:   row.ActivityID,
			AccountID:    row.AccountID,
			UserID:       row.UserID,
			Type:         row.Type,
			ResourceID:   row.ResourceID,
			ResourceType: row.ResourceType,
			Message:      row.Message,
			Metadata:     row.Metadata,
			Timestamp:    row.OccurredAt,
		})
	}
	return records, nil
}
