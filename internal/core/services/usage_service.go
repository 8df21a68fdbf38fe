package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/juju/clock"
)

// defaultUsageWindow is used when the caller does not say since when to aggregate.
const defaultUsageWindow = 30 * 24 * time.Hour

type usageService struct {
	BaseService
	runRepo portsrepo.RunReader
}

func NewUsageService(runRepo portsrepo.RunReader, authorizer portssvc.AccountAuthorizerSvc, clk clock.Clock) portssvc.UsageSvc {
	return &usageService{
		BaseService: BaseService{Authorizer: authorizer, Clock: clk},
		runRepo:     runRepo,
	}
}

func (s *usageService) GetAccountUsage(ctx context.Context, accountID, actorUserID string, since time.Time) (*domain.UsageSummary, error) {
	if err := s.AuthorizeUser(ctx, actorUserID, accountID, domain.CanViewAllData); err != nil {
		return nil, err
	}
	if since.IsZero() {
		since = s.Now().Add(-defaultUsageWindow)
	}

	summary, err := s.runRepo.SumCompletedRuns(ctx, accountID, since)
	if err != nil {
		// A brand-new account may not be covered by the usage index yet.
		if errors.Is(err, apperrors.ErrIndexNotReady) {
			s.LogWarn(ctx, "Usage index not ready, reporting no usage", slog.String("account_id", accountID))
			return &domain.UsageSummary{AccountID: accountID, Since: since}, nil
		}
		s.LogError(ctx, err, "Failed to aggregate usage", slog.String("account_id", accountID))
		return nil, err
	}
	return &summary, nil
}
