package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/metrics"
)

// ReasonWatchdog is recorded on runs failed by the watchdog.
const ReasonWatchdog = "watchdog"

// AccountSuspendedMessage is stored on runs failed because their account was suspended.
const AccountSuspendedMessage = "Account suspended"

// WatchdogConfig bounds how long a run may stay active.
type WatchdogConfig struct {
	// MaxDuration is the longest a run may stay running.
	MaxDuration time.Duration
	// PendingTimeout is the longest a run may wait to be picked up. Defaults to MaxDuration.
	PendingTimeout time.Duration
	BatchSize      int
}

func (c WatchdogConfig) withDefaults() WatchdogConfig {
	if c.MaxDuration <= 0 {
		c.MaxDuration = time.Hour
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = c.MaxDuration
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

type watchdogService struct {
	BaseService
	runRepo  portsrepo.RunReader
	finisher *runFinisher
	metrics  *metrics.Collector
	cfg      WatchdogConfig
}

// NewWatchdogService creates the service that fails runs which can no longer complete.
func NewWatchdogService(repos portsrepo.RepositoryProvider, cfg WatchdogConfig, options ...LifecycleOption) portssvc.WatchdogSvc {
	o := applyLifecycleOptions(options)
	return &watchdogService{
		BaseService: BaseService{Clock: o.clock},
		runRepo:     repos.RunRepo,
		finisher:    newRunFinisher(repos, o),
		metrics:     o.metrics,
		cfg:         cfg.withDefaults(),
	}
}

var _ portssvc.WatchdogSvc = (*watchdogService)(nil)

func (s *watchdogService) ReclaimStaleRuns(ctx context.Context) (int, error) {
	now := s.Now()
	runs, err := s.runRepo.FindStaleRuns(ctx, portsrepo.StaleRunQuery{
		Now:           now,
		PendingBefore: now.Add(-s.cfg.PendingTimeout),
		RunningBefore: now.Add(-s.cfg.MaxDuration),
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		s.LogError(ctx, err, "Failed to find stale runs")
		return 0, err
	}

	reclaimed := 0
	var errs []error
	for _, run := range runs {
		message, cause := s.diagnose(run, now)
		done, err := s.finisher.finish(ctx, finishRequest{
			run:     run,
			from:    []domain.RunStatus{run.Status},
			outcome: s.finisher.failed(message),
			reason:  ReasonWatchdog,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", run.RunID, err))
			continue
		}
		if done {
			reclaimed++
			s.metrics.RunReclaimed(cause)
			s.LogWarn(ctx, "Watchdog failed stale run",
				slog.String("run_id", run.RunID),
				slog.String("job_id", run.JobID),
				slog.String("cause", cause))
		}
	}
	return reclaimed, errors.Join(errs...)
}

// diagnose explains why a stale run is being failed.
func (s *watchdogService) diagnose(run domain.Run, now time.Time) (message, cause string) {
	switch {
	case run.Status == domain.RunPending:
		return fmt.Sprintf("Run was not picked up within %s", s.cfg.PendingTimeout), "pending_timeout"
	case run.StartedAt.Before(now.Add(-s.cfg.MaxDuration)):
		return fmt.Sprintf("Run exceeded maximum duration of %s", s.cfg.MaxDuration), "max_duration"
	default:
		return "Run lease expired before completion", "lease_expired"
	}
}

func (s *watchdogService) FailActiveRuns(ctx context.Context, accountIDs []string, reason string) (int, error) {
	if len(accountIDs) == 0 {
		return 0, nil
	}
	runs, err := s.runRepo.FindActiveRunsByAccounts(ctx, accountIDs)
	if err != nil {
		s.LogError(ctx, err, "Failed to find active runs of accounts")
		return 0, err
	}

	failed := 0
	var errs []error
	for _, run := range runs {
		done, err := s.finisher.finish(ctx, finishRequest{
			run:     run,
			from:    domain.ActiveRunStatuses,
			outcome: s.finisher.failed(AccountSuspendedMessage),
			reason:  reason,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", run.RunID, err))
			continue
		}
		if done {
			failed++
		}
	}
	if failed > 0 {
		s.LogInfo(ctx, "Failed active runs", slog.Int("count", failed), slog.String("reason", reason))
	}
	return failed, errors.Join(errs...)
}
