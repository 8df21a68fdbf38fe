package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/dto"
	"github.com/SscSPs/backup_orchestrator/internal/metrics"
	"github.com/SscSPs/backup_orchestrator/internal/utils/pagination"
)

// DispatchFailedMessage is stored on runs that could not be handed to the executors.
const DispatchFailedMessage = "Failed to dispatch run"

// orphanSlotGrace is how long a slot may point at a run that was never written before
// StartRun treats it as left behind by a crashed caller.
const orphanSlotGrace = time.Minute

// jobRunService implements the JobRunSvcFacade interface
type jobRunService struct {
	BaseService
	accountRepo portsrepo.AccountReader
	jobRepo     portsrepo.JobRepositoryFacade
	runRepo     portsrepo.RunRepositoryFacade
	queue       portsrepo.RunQueue
	activity    portssvc.ActivitySvc
	finisher    *runFinisher
	metrics     *metrics.Collector
	newID       func() string
}

// NewJobRunService creates the orchestrator for jobs and their runs.
func NewJobRunService(repos portsrepo.RepositoryProvider, authorizer portssvc.AccountAuthorizerSvc, options ...LifecycleOption) portssvc.JobRunSvcFacade {
	o := applyLifecycleOptions(options)
	return &jobRunService{
		BaseService: BaseService{Authorizer: authorizer, Clock: o.clock},
		accountRepo: repos.AccountRepo,
		jobRepo:     repos.JobRepo,
		runRepo:     repos.RunRepo,
		queue:       repos.RunQueue,
		activity:    o.activity,
		finisher:    newRunFinisher(repos, o),
		metrics:     o.metrics,
		newID:       o.newID,
	}
}

var _ portssvc.JobRunSvcFacade = (*jobRunService)(nil)

func (s *jobRunService) findJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.jobRepo.FindJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("job %s not found", jobID))
		}
		s.LogError(ctx, err, "Failed to load job", slog.String("job_id", jobID))
		return nil, err
	}
	return job, nil
}

// authorizedJob loads the job and checks the actor against its owning account.
func (s *jobRunService) authorizedJob(ctx context.Context, jobID, actorUserID string, capability domain.Capability) (*domain.Job, error) {
	job, err := s.findJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.AuthorizeUser(ctx, actorUserID, job.AccountID, capability); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobRunService) CreateJob(ctx context.Context, accountID string, req dto.CreateJobRequest, actorUserID string) (*domain.Job, error) {
	if err := s.AuthorizeUser(ctx, actorUserID, accountID, domain.CanManageJobs); err != nil {
		return nil, err
	}
	account, err := s.accountRepo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive() {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("account %s is %s", accountID, account.Status))
	}

	now := s.Now()
	schedule := req.Schedule.ToSchedule()
	nextRunAt := schedule.NextRunAt(now)
	job := domain.Job{
		JobID:       s.newID(),
		AccountID:   accountID,
		Name:        req.Name,
		SourceType:  req.SourceType,
		SourceRefs:  req.SourceRefs,
		Status:      domain.JobActive,
		Schedule:    schedule,
		NextRunAt:   &nextRunAt,
		AuditFields: auditFields(actorUserID, now),
	}
	if job.SourceRefs == nil {
		job.SourceRefs = []string{}
	}
	if err := s.jobRepo.SaveJob(ctx, job); err != nil {
		s.LogError(ctx, err, "Failed to save job", slog.String("account_id", accountID))
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	s.record(ctx, activityFor(accountID, actorUserID, domain.ActivityJobCreated, domain.ResourceJob, job.JobID,
		fmt.Sprintf("Job %q created", job.Name),
		map[string]any{"sourceType": job.SourceType, "schedule": string(schedule.Type)}))
	s.LogInfo(ctx, "Job created", slog.String("job_id", job.JobID), slog.String("account_id", accountID))
	return &job, nil
}

func (s *jobRunService) GetJob(ctx context.Context, jobID, actorUserID string) (*domain.Job, error) {
	return s.authorizedJob(ctx, jobID, actorUserID, domain.CanViewAllData)
}

func (s *jobRunService) GetRun(ctx context.Context, runID, actorUserID string) (*domain.Run, error) {
	run, err := s.runRepo.FindRunByID(ctx, runID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("run %s not found", runID))
		}
		return nil, err
	}
	// Runs outlive their job, so the account recorded on the run is authoritative.
	if err := s.AuthorizeUser(ctx, actorUserID, run.AccountID, domain.CanViewAllData); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *jobRunService) ListRuns(ctx context.Context, jobID, actorUserID string, params dto.ListRunsParams) ([]domain.Run, *string, error) {
	if _, err := s.authorizedJob(ctx, jobID, actorUserID, domain.CanViewAllData); err != nil {
		return nil, nil, err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	page := portsrepo.RunPage{Limit: limit + 1}
	if params.NextToken != "" {
		startedAt, runID, err := pagination.DecodeRunToken(params.NextToken)
		if err != nil {
			return nil, nil, apperrors.NewValidationFailedError("invalid nextToken: " + err.Error())
		}
		page.BeforeStartedAt = &startedAt
		page.BeforeRunID = runID
	}

	runs, err := s.runRepo.ListRunsByJob(ctx, jobID, page)
	if err != nil {
		s.LogError(ctx, err, "Failed to list runs", slog.String("job_id", jobID))
		return nil, nil, err
	}

	var next *string
	if len(runs) > limit {
		runs = runs[:limit]
		last := runs[limit-1]
		token := pagination.EncodeRunToken(last.StartedAt, last.RunID)
		next = &token
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	return runs, next, nil
}

func (s *jobRunService) DeleteJob(ctx context.Context, jobID, actorUserID string) error {
	job, err := s.authorizedJob(ctx, jobID, actorUserID, domain.CanManageJobs)
	if err != nil {
		return err
	}

	active, err := s.runRepo.FindActiveRunsByJob(ctx, jobID)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return &apperrors.ActiveRunConflictError{JobID: jobID, ActiveRunID: active[0].RunID}
	}
	// The repository re-checks the slot so a run started after the query still blocks the delete.
	if err := s.jobRepo.DeleteJob(ctx, jobID); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			s.LogError(ctx, err, "Failed to delete job", slog.String("job_id", jobID))
		}
		return err
	}

	s.record(ctx, activityFor(job.AccountID, actorUserID, domain.ActivityJobDeleted, domain.ResourceJob, jobID,
		fmt.Sprintf("Job %q deleted", job.Name), map[string]any{"runCount": job.RunCount}))
	s.LogInfo(ctx, "Job deleted", slog.String("job_id", jobID))
	return nil
}

func (s *jobRunService) UpdateJobSchedule(ctx context.Context, jobID string, schedule domain.Schedule, actorUserID string) (*domain.Job, error) {
	job, err := s.authorizedJob(ctx, jobID, actorUserID, domain.CanManageJobs)
	if err != nil {
		return nil, err
	}

	// The previous nextRunAt plays no part: the schedule is re-anchored on now.
	now := s.Now()
	nextRunAt := schedule.NextRunAt(now)
	if err := s.jobRepo.UpdateJobSchedule(ctx, jobID, schedule, nextRunAt, actorUserID, now); err != nil {
		s.LogError(ctx, err, "Failed to update job schedule", slog.String("job_id", jobID))
		return nil, err
	}
	job.Schedule = schedule
	job.NextRunAt = &nextRunAt
	job.LastUpdatedAt = now
	job.LastUpdatedBy = actorUserID

	s.record(ctx, activityFor(job.AccountID, actorUserID, domain.ActivityJobScheduled, domain.ResourceJob, jobID,
		fmt.Sprintf("Schedule set to %s at %02d:%02d", schedule.Type, schedule.Hour, schedule.Minute),
		map[string]any{"nextRunAt": nextRunAt.Format(time.RFC3339)}))
	return job, nil
}

func (s *jobRunService) SetJobStatus(ctx context.Context, jobID string, status domain.JobStatus, actorUserID string) (*domain.Job, error) {
	if !domain.IsValidJobStatus(status) || status == domain.JobError {
		return nil, apperrors.NewValidationFailedError(fmt.Sprintf("status %q cannot be set", status))
	}
	job, err := s.authorizedJob(ctx, jobID, actorUserID, domain.CanManageJobs)
	if err != nil {
		return nil, err
	}
	if job.Status == status {
		return job, nil
	}

	now := s.Now()
	if err := s.jobRepo.UpdateJobStatus(ctx, jobID, status, actorUserID, now); err != nil {
		s.LogError(ctx, err, "Failed to update job status", slog.String("job_id", jobID))
		return nil, err
	}
	previous := job.Status
	job.Status = status
	job.LastUpdatedAt = now
	job.LastUpdatedBy = actorUserID

	s.record(ctx, activityFor(job.AccountID, actorUserID, domain.ActivityJobStatusChanged, domain.ResourceJob, jobID,
		fmt.Sprintf("Job status changed from %s to %s", previous, status),
		map[string]any{"from": string(previous), "to": string(status)}))
	return job, nil
}

func (s *jobRunService) StartRun(ctx context.Context, jobID, actorUserID string) (*domain.Run, error) {
	job, err := s.authorizedJob(ctx, jobID, actorUserID, domain.CanManageJobs)
	if err != nil {
		return nil, err
	}
	return s.startRun(ctx, job, domain.TriggeredBy{UserID: actorUserID, Type: domain.TriggerManual})
}

func (s *jobRunService) StartScheduledRun(ctx context.Context, jobID string) (*domain.Run, error) {
	job, err := s.findJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.startRun(ctx, job, domain.TriggeredBy{UserID: domain.SystemUserID, Type: domain.TriggerScheduled})
}

// startRun claims the job's active slot, writes the pending run and enqueues it. It returns
// as soon as the task is queued; the outcome is only observable through the run store.
func (s *jobRunService) startRun(ctx context.Context, job *domain.Job, trigger domain.TriggeredBy) (*domain.Run, error) {
	if job.Status != domain.JobActive {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("job %s is %s", job.JobID, job.Status))
	}
	account, err := s.accountRepo.FindAccountByID(ctx, job.AccountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive() {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("account %s is %s", account.AccountID, account.Status))
	}

	now := s.Now()
	run := domain.Run{
		RunID:     s.newID(),
		JobID:     job.JobID,
		AccountID: job.AccountID,
		Status:    domain.RunPending,
		StartedAt: now,
		Metadata:  domain.RunMetadata{TriggeredBy: trigger},
	}

	runCount, err := s.claimSlot(ctx, job, run)
	if err != nil {
		if holder, ok := apperrors.ActiveRunID(err); ok {
			s.LogInfo(ctx, "Job already has an active run",
				slog.String("job_id", job.JobID),
				slog.String("active_run_id", holder))
		} else {
			s.LogError(ctx, err, "Failed to claim active run slot", slog.String("job_id", job.JobID))
		}
		return nil, err
	}

	if err := s.runRepo.SaveRun(ctx, run); err != nil {
		s.LogError(ctx, err, "Failed to save run", slog.String("run_id", run.RunID))
		if rerr := s.jobRepo.ReleaseRunSlot(context.WithoutCancel(ctx), job.JobID, run.RunID, domain.RunFailed); rerr != nil {
			s.LogError(ctx, rerr, "Failed to release slot after failed run insert", slog.String("job_id", job.JobID))
		}
		return nil, err
	}

	s.record(ctx, activityFor(job.AccountID, trigger.UserID, domain.ActivityRunStarted, domain.ResourceRun, run.RunID,
		fmt.Sprintf("Run started for job %q", job.Name),
		map[string]any{"jobID": job.JobID, "triggerType": string(trigger.Type), "runCount": runCount}))
	s.metrics.RunStarted(string(trigger.Type))

	task := domain.RunTask{RunID: run.RunID, JobID: run.JobID, AccountID: run.AccountID, VisibleAfter: now}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.LogError(ctx, err, "Failed to enqueue run", slog.String("run_id", run.RunID))
		if _, ferr := s.finisher.finish(context.WithoutCancel(ctx), finishRequest{
			run:     run,
			from:    []domain.RunStatus{domain.RunPending},
			outcome: s.finisher.failed(DispatchFailedMessage),
			reason:  "dispatch_failed",
		}); ferr != nil {
			s.LogError(ctx, ferr, "Failed to fail undispatched run", slog.String("run_id", run.RunID))
		}
		return nil, fmt.Errorf("failed to dispatch run %s: %w", run.RunID, err)
	}

	s.LogInfo(ctx, "Run dispatched",
		slog.String("run_id", run.RunID),
		slog.String("job_id", job.JobID),
		slog.String("trigger", string(trigger.Type)))
	return &run, nil
}

// claimSlot takes the job's active-run slot. When the holder turns out to be finished, or was
// never written and is older than orphanSlotGrace, the slot is freed and claimed once more.
func (s *jobRunService) claimSlot(ctx context.Context, job *domain.Job, run domain.Run) (int64, error) {
	summary := domain.LastRunSummary{RunID: run.RunID, StartedAt: run.StartedAt, Status: domain.RunPending}
	count, err := s.jobRepo.ClaimRunSlot(ctx, job.JobID, summary)
	holderID, conflict := apperrors.ActiveRunID(err)
	if !conflict {
		return count, err
	}
	if !s.releaseAbandonedSlot(ctx, job, holderID, run.StartedAt) {
		return 0, err
	}
	return s.jobRepo.ClaimRunSlot(ctx, job.JobID, summary)
}

func (s *jobRunService) releaseAbandonedSlot(ctx context.Context, job *domain.Job, holderID string, now time.Time) bool {
	status := domain.RunFailed
	holder, err := s.runRepo.FindRunByID(ctx, holderID)
	switch {
	case err == nil:
		if holder.Status.IsActive() {
			return false
		}
		status = holder.Status
	case errors.Is(err, apperrors.ErrNotFound):
		// A caller may be between claiming the slot and inserting its run.
		if job.LastRun == nil || job.LastRun.RunID != holderID || now.Sub(job.LastRun.StartedAt) < orphanSlotGrace {
			return false
		}
	default:
		s.LogError(ctx, err, "Failed to load active run slot holder", slog.String("run_id", holderID))
		return false
	}

	s.LogWarn(ctx, "Releasing active run slot left by a finished run",
		slog.String("job_id", job.JobID),
		slog.String("run_id", holderID),
		slog.String("status", string(status)))
	if err := s.jobRepo.ReleaseRunSlot(ctx, job.JobID, holderID, status); err != nil {
		s.LogError(ctx, err, "Failed to release abandoned slot", slog.String("job_id", job.JobID))
		return false
	}
	return true
}

func (s *jobRunService) record(ctx context.Context, rec domain.ActivityRecord) {
	if s.activity == nil {
		return
	}
	if err := s.activity.RecordActivity(ctx, rec); err != nil {
		s.LogError(ctx, err, "Failed to record activity", slog.String("type", rec.Type), slog.String("resource_id", rec.ResourceID))
	}
}
