package repositories

import (
	"context"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
)

// ActivityFilter selects activity records in append order.
type ActivityFilter struct {
	AccountID  string
	ResourceID string // optional
	AfterID    string // exclusive cursor
	Limit      int
}

// ActivityRepository is the append-only audit log.
type ActivityRepository interface {
	AppendActivity(ctx context.Context, record domain.ActivityRecord) error
	ListActivity(ctx context.Context, filter ActivityFilter) ([]domain.ActivityRecord, error)
}
