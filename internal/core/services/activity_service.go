package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/dto"
	"github.com/SscSPs/backup_orchestrator/internal/utils/pagination"
	"github.com/juju/clock"
	"github.com/rs/xid"
)

type activityService struct {
	BaseService
	activityRepo portsrepo.ActivityRepository
}

// NewActivityService creates the audit trail service. Record IDs are xids, which sort in
// creation order and serve directly as the list cursor.
func NewActivityService(repo portsrepo.ActivityRepository, authorizer portssvc.AccountAuthorizerSvc, clk clock.Clock) portssvc.ActivitySvc {
	return &activityService{
		BaseService:  BaseService{Authorizer: authorizer, Clock: clk},
		activityRepo: repo,
	}
}

var _ portssvc.ActivitySvc = (*activityService)(nil)

func (s *activityService) RecordActivity(ctx context.Context, record domain.ActivityRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = s.Now()
	}
	if record.ActivityID == "" {
		record.ActivityID = xid.NewWithTime(record.Timestamp).String()
	}
	if err := s.activityRepo.AppendActivity(ctx, record); err != nil {
		return fmt.Errorf("failed to append %s activity for %s: %w", record.Type, record.ResourceID, err)
	}
	return nil
}

func (s *activityService) ListActivity(ctx context.Context, accountID, actorUserID string, params dto.ListActivityParams) ([]domain.ActivityRecord, *string, error) {
	if err := s.AuthorizeUser(ctx, actorUserID, accountID, domain.CanViewAllData); err != nil {
		return nil, nil, err
	}

	afterID, err := pagination.DecodeKeyToken(params.NextToken)
	if err != nil {
		return nil, nil, apperrors.NewValidationFailedError(err.Error())
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	records, err := s.activityRepo.ListActivity(ctx, portsrepo.ActivityFilter{
		AccountID:  accountID,
		ResourceID: params.ResourceID,
		AfterID:    afterID,
		Limit:      limit + 1,
	})
	if err != nil {
		s.LogError(ctx, err, "Failed to list activity", slog.String("account_id", accountID))
		return nil, nil, err
	}

	var next *string
	if len(records) > limit {
		records = records[:limit]
		token := pagination.EncodeKeyToken(records[limit-1].ActivityID)
		next = &token
	}
	if records == nil {
		records = []domain.ActivityRecord{}
	}
	return records, next, nil
}

// activityFor builds a record attributed to userID; an empty userID marks a system record.
func activityFor(accountID, userID, typ, resourceType, resourceID, message string, metadata map[string]any) domain.ActivityRecord {
	rec := domain.ActivityRecord{
		AccountID:    accountID,
		Type:         typ,
		ResourceID:   resourceID,
		ResourceType: resourceType,
		Message:      message,
		Metadata:     metadata,
	}
	if userID != "" && userID != domain.SystemUserID {
		rec.UserID = &userID
	}
	return rec
}
