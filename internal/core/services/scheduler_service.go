package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/juju/clock"
)

type schedulerService struct {
	BaseService
	jobRepo      portsrepo.JobRepositoryFacade
	orchestrator portssvc.RunOrchestratorSvc
	batchSize    int
}

// NewSchedulerService creates the service that starts runs of due jobs.
func NewSchedulerService(jobRepo portsrepo.JobRepositoryFacade, orchestrator portssvc.RunOrchestratorSvc, clk clock.Clock, batchSize int) portssvc.SchedulerSvc {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &schedulerService{
		BaseService:  BaseService{Clock: clk},
		jobRepo:      jobRepo,
		orchestrator: orchestrator,
		batchSize:    batchSize,
	}
}

// TriggerDueJobs advances nextRunAt of every due job before starting its run, so concurrent
// schedulers start each occurrence at most once. A missed start is not retried; the job runs
// again at its next occurrence.
func (s *schedulerService) TriggerDueJobs(ctx context.Context) (int, error) {
	now := s.Now()
	jobs, err := s.jobRepo.ListDueJobs(ctx, now, s.batchSize)
	if err != nil {
		s.LogError(ctx, err, "Failed to list due jobs")
		return 0, err
	}

	started := 0
	for _, job := range jobs {
		next := job.Schedule.NextRunAt(now)
		advanced, err := s.jobRepo.AdvanceNextRunAt(ctx, job.JobID, *job.NextRunAt, next)
		if err != nil {
			s.LogError(ctx, err, "Failed to advance nextRunAt", slog.String("job_id", job.JobID))
			continue
		}
		if !advanced {
			continue
		}

		run, err := s.orchestrator.StartScheduledRun(ctx, job.JobID)
		if err != nil {
			if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrInvalidState) {
				s.LogInfo(ctx, "Skipping scheduled run", slog.String("job_id", job.JobID), slog.String("reason", err.Error()))
			} else {
				s.LogError(ctx, err, "Failed to start scheduled run", slog.String("job_id", job.JobID))
			}
			continue
		}
		started++
		s.LogDebug(ctx, "Scheduled run started", slog.String("job_id", job.JobID), slog.String("run_id", run.RunID))
	}
	return started, nil
}
