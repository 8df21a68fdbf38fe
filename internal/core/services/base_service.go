package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/middleware"
	"github.com/juju/clock"
)

// BaseService provides common functionality for all services
type BaseService struct {
	Authorizer portssvc.AccountAuthorizerSvc
	Clock      clock.Clock
}

// GetLogger gets the logger from context or returns a default one
func (s *BaseService) GetLogger(ctx context.Context) *slog.Logger {
	return middleware.GetLoggerFromCtx(ctx)
}

// LogError logs an error with consistent formatting
func (s *BaseService) LogError(ctx context.Context, err error, msg string, keyvals ...any) {
	logger := s.GetLogger(ctx)
	args := make([]any, 0, len(keyvals)+1)
	args = append(args, slog.String("error", err.Error()))
	args = append(args, keyvals...)
	logger.Error(msg, args...)
}

// LogInfo logs an info message with consistent formatting
func (s *BaseService) LogInfo(ctx context.Context, msg string, keyvals ...any) {
	s.GetLogger(ctx).Info(msg, keyvals...)
}

// LogDebug logs a debug message with consistent formatting
func (s *BaseService) LogDebug(ctx context.Context, msg string, keyvals ...any) {
	s.GetLogger(ctx).Debug(msg, keyvals...)
}

// LogWarn logs a warning with consistent formatting
func (s *BaseService) LogWarn(ctx context.Context, msg string, keyvals ...any) {
	s.GetLogger(ctx).Warn(msg, keyvals...)
}

// ServiceClock returns the configured clock, falling back to the wall clock.
func (s *BaseService) ServiceClock() clock.Clock {
	if s.Clock == nil {
		return clock.WallClock
	}
	return s.Clock
}

// Now returns the current time from the service clock, in UTC.
func (s *BaseService) Now() time.Time {
	return s.ServiceClock().Now().UTC()
}

// AuthorizeUser checks that a user holds a capability on an account.
func (s *BaseService) AuthorizeUser(ctx context.Context, userID, accountID string, capability domain.Capability) error {
	if s.Authorizer != nil {
		return s.Authorizer.Authorize(ctx, userID, accountID, capability)
	}
	s.LogWarn(ctx, "No account authorizer configured, denying access",
		slog.String("user_id", userID),
		slog.String("account_id", accountID),
		slog.String("capability", string(capability)))
	return apperrors.NewForbiddenError("authorization is not configured")
}
