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
	"github.com/SscSPs/backup_orchestrator/internal/metrics"
	"github.com/SscSPs/backup_orchestrator/internal/middleware"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"
)

// ExecutionErrorMessage is stored on runs whose execution aborted without a clean outcome.
const ExecutionErrorMessage = "Job execution error"

// RetryPolicy bounds retries of terminal run writes.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	Clock    clock.Clock
}

// DefaultRetryPolicy retries a terminal write a few times with doubling delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, Delay: 200 * time.Millisecond, Clock: clock.WallClock}
}

// LifecycleOption configures the services that move runs through their states.
type LifecycleOption func(*lifecycleOptions)

type lifecycleOptions struct {
	clock    clock.Clock
	activity portssvc.ActivitySvc
	metrics  *metrics.Collector
	retry    RetryPolicy
	newID    func() string
}

func WithLifecycleClock(clk clock.Clock) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.clock = clk
	}
}

func WithLifecycleActivity(activity portssvc.ActivitySvc) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.activity = activity
	}
}

func WithLifecycleMetrics(collector *metrics.Collector) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.metrics = collector
	}
}

// WithRetryPolicy sets how terminal run writes are retried.
func WithRetryPolicy(policy RetryPolicy) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.retry = policy
	}
}

// WithRunIDGenerator overrides how job and run IDs are minted.
func WithRunIDGenerator(gen func() string) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.newID = gen
	}
}

func applyLifecycleOptions(options []LifecycleOption) lifecycleOptions {
	o := lifecycleOptions{
		clock: clock.WallClock,
		retry: DefaultRetryPolicy(),
		newID: uuid.NewString,
	}
	for _, option := range options {
		option(&o)
	}
	if o.retry.Clock == nil {
		o.retry.Clock = o.clock
	}
	return o
}

func newRunFinisher(repos portsrepo.RepositoryProvider, o lifecycleOptions) *runFinisher {
	return &runFinisher{
		BaseService: BaseService{Clock: o.clock},
		runRepo:     repos.RunRepo,
		slots:       repos.JobRepo,
		queue:       repos.RunQueue,
		activity:    o.activity,
		metrics:     o.metrics,
		retry:       o.retry,
	}
}

// runFinisher owns every transition of a run into a terminal state, whoever triggers it:
// the executor, the watchdog, an account suspension or a failed dispatch.
type runFinisher struct {
	BaseService
	runRepo  portsrepo.RunWriter
	slots    portsrepo.RunSlotManager
	queue    portsrepo.RunQueue
	activity portssvc.ActivitySvc
	metrics  *metrics.Collector
	retry    RetryPolicy
}

// finishRequest describes one terminal transition.
type finishRequest struct {
	run     domain.Run
	from    []domain.RunStatus
	outcome domain.RunOutcome
	reason  string // set for force-failures, e.g. "watchdog"
}

// finish applies the outcome if the run is still in one of req.from. It reports false when
// another party finished the run first, in which case nothing else is written.
func (f *runFinisher) finish(ctx context.Context, req finishRequest) (bool, error) {
	run := req.run
	duration := req.outcome.Duration(run.StartedAt)

	err := f.withRetry(ctx, "finish run", func() error {
		return f.runRepo.FinishRun(ctx, run.RunID, req.from, req.outcome, duration)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidState) {
			f.LogDebug(ctx, "Run already left the expected state, outcome discarded",
				slog.String("run_id", run.RunID),
				slog.String("outcome", string(req.outcome.Status)))
			f.ack(ctx, run.RunID)
			return false, nil
		}
		f.LogError(ctx, err, "Failed to write run outcome", slog.String("run_id", run.RunID))
		return false, err
	}

	if err := f.withRetry(ctx, "release run slot", func() error {
		return f.slots.ReleaseRunSlot(ctx, run.JobID, run.RunID, req.outcome.Status)
	}); err != nil {
		// The next StartRun notices a terminal holder and frees the slot itself.
		f.LogError(ctx, err, "Failed to release active run slot",
			slog.String("job_id", run.JobID),
			slog.String("run_id", run.RunID))
	}
	f.ack(ctx, run.RunID)

	activityType := domain.ActivityRunCompleted
	message := fmt.Sprintf("Run completed: %d records, %d files processed", req.outcome.Result.RecordsProcessed, req.outcome.Result.FilesProcessed)
	if req.outcome.Status == domain.RunFailed {
		activityType = domain.ActivityRunFailed
		message = "Run failed: " + req.outcome.Error
	}
	meta := map[string]any{
		"jobID":            run.JobID,
		"recordsProcessed": req.outcome.Result.RecordsProcessed,
		"filesProcessed":   req.outcome.Result.FilesProcessed,
		"bytesProcessed":   req.outcome.Result.BytesProcessed,
		"durationMs":       duration.Milliseconds(),
	}
	if req.outcome.Error != "" {
		meta["error"] = req.outcome.Error
	}
	if req.reason != "" {
		meta["reason"] = req.reason
	}
	if f.activity != nil {
		rec := activityFor(run.AccountID, run.Metadata.TriggeredBy.UserID, activityType, domain.ResourceRun, run.RunID, message, meta)
		if err := f.activity.RecordActivity(ctx, rec); err != nil {
			f.LogError(ctx, err, "Failed to record run outcome activity", slog.String("run_id", run.RunID))
		}
	}

	f.metrics.RunFinished(string(req.outcome.Status), duration)
	f.LogInfo(ctx, "Run finished",
		slog.String("run_id", run.RunID),
		slog.String("job_id", run.JobID),
		slog.String("status", string(req.outcome.Status)),
		slog.Duration("duration", duration))
	return true, nil
}

func (f *runFinisher) ack(ctx context.Context, runID string) {
	if f.queue == nil {
		return
	}
	if err := f.queue.Ack(ctx, runID); err != nil {
		f.LogError(ctx, err, "Failed to ack run task", slog.String("run_id", runID))
	}
}

// failed builds a failed outcome at the current time.
func (f *runFinisher) failed(message string) domain.RunOutcome {
	return domain.RunOutcome{Status: domain.RunFailed, Error: message, FinishedAt: f.Now()}
}

func (f *runFinisher) withRetry(ctx context.Context, what string, fn func() error) error {
	policy := f.retry
	if policy.Attempts <= 1 {
		return fn()
	}
	if policy.Clock == nil {
		policy.Clock = clock.WallClock
	}
	err := retry.Call(retry.CallArgs{
		Func: fn,
		IsFatalError: func(err error) bool {
			return errors.Is(err, apperrors.ErrInvalidState) || errors.Is(err, apperrors.ErrNotFound)
		},
		NotifyFunc: func(err error, attempt int) {
			f.LogWarn(ctx, "Retrying run write", slog.String("op", what), slog.Int("attempt", attempt), slog.String("error", err.Error()))
		},
		Attempts:    policy.Attempts,
		Delay:       policy.Delay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       policy.Clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}

// ExecutorConfig controls leases held by the executor.
type ExecutorConfig struct {
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	MaxDuration       time.Duration
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 2 * time.Minute
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.LeaseDuration {
		c.HeartbeatInterval = c.LeaseDuration / 3
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = time.Hour
	}
	return c
}

// runExecutor drives dequeued runs from pending to a terminal state.
type runExecutor struct {
	BaseService
	jobRepo    portsrepo.JobReader
	runRepo    portsrepo.RunRepositoryFacade
	queue      portsrepo.RunQueue
	connectors *ConnectorRegistry
	finisher   *runFinisher
	metrics    *metrics.Collector
	cfg        ExecutorConfig
}

var _ portssvc.RunExecutorSvc = (*runExecutor)(nil)

// NewRunExecutor creates the executor that workers hand dequeued tasks to.
func NewRunExecutor(repos portsrepo.RepositoryProvider, connectors *ConnectorRegistry, cfg ExecutorConfig, options ...LifecycleOption) portssvc.RunExecutorSvc {
	o := applyLifecycleOptions(options)
	return &runExecutor{
		BaseService: BaseService{Clock: o.clock},
		jobRepo:     repos.JobRepo,
		runRepo:     repos.RunRepo,
		queue:       repos.RunQueue,
		connectors:  connectors,
		finisher:    newRunFinisher(repos, o),
		metrics:     o.metrics,
		cfg:         cfg.withDefaults(),
	}
}

func (e *runExecutor) ExecuteTask(ctx context.Context, task domain.RunTask, workerID string) error {
	ctx = withRunLogger(ctx, task.RunID, task.JobID)

	run, err := e.runRepo.FindRunByID(ctx, task.RunID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			e.LogWarn(ctx, "Dropping task for unknown run")
			e.finisher.ack(ctx, task.RunID)
			return nil
		}
		return err
	}

	switch {
	case run.Status.IsTerminal():
		e.finisher.ack(ctx, run.RunID)
		return nil
	case run.Status == domain.RunRunning:
		return e.recoverRedelivered(ctx, run)
	}

	job, err := e.jobRepo.FindJobByID(ctx, run.JobID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_, ferr := e.finisher.finish(ctx, finishRequest{run: *run, from: domain.ActiveRunStatuses, outcome: e.finisher.failed("Job no longer exists")})
			return ferr
		}
		return err
	}

	now := e.Now()
	if err := e.runRepo.MarkRunRunning(ctx, run.RunID, workerID, now.Add(e.cfg.LeaseDuration), now); err != nil {
		if errors.Is(err, apperrors.ErrInvalidState) {
			// Failed by the watchdog or a suspension before we got to it.
			e.finisher.ack(ctx, run.RunID)
			return nil
		}
		return err
	}
	run.Status = domain.RunRunning
	e.metrics.ExecutorBusy(1)
	defer e.metrics.ExecutorBusy(-1)

	outcome := e.execute(ctx, *job, *run, workerID)
	_, err = e.finisher.finish(context.WithoutCancel(ctx), finishRequest{run: *run, from: []domain.RunStatus{domain.RunRunning}, outcome: outcome})
	return err
}

// execute runs the connector under a heartbeat and always yields an outcome, even if the
// connector panics.
func (e *runExecutor) execute(ctx context.Context, job domain.Job, run domain.Run, workerID string) (outcome domain.RunOutcome) {
	// Runs in flight finish even when the worker is draining; the max duration still applies.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.MaxDuration)
	defer cancel()

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		e.heartbeat(execCtx, cancel, run.RunID, workerID)
	}()
	defer func() {
		cancel()
		<-hbDone
	}()

	defer func() {
		if r := recover(); r != nil {
			e.LogError(ctx, fmt.Errorf("panic: %v", r), "Connector panicked")
			outcome = e.finisher.failed(ExecutionErrorMessage)
		}
	}()

	result, err := e.connectors.For(job.SourceType).Backup(execCtx, job, run)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("Run exceeded maximum duration of %s", e.cfg.MaxDuration)
		}
		return e.finisher.failed(msg)
	}
	if result.RecordsProcessed < 0 || result.FilesProcessed < 0 || result.BytesProcessed < 0 {
		return e.finisher.failed(ExecutionErrorMessage)
	}
	return domain.RunOutcome{Status: domain.RunCompleted, Result: result, FinishedAt: e.Now()}
}

// heartbeat renews the run lease and the queue visibility until ctx ends. It cancels the
// execution when the run is no longer ours, e.g. after the watchdog failed it.
func (e *runExecutor) heartbeat(ctx context.Context, cancel context.CancelFunc, runID, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.ServiceClock().After(e.cfg.HeartbeatInterval):
		}

		now := e.Now()
		if err := e.runRepo.RenewRunLease(ctx, runID, workerID, now.Add(e.cfg.LeaseDuration), now); err != nil {
			if errors.Is(err, apperrors.ErrInvalidState) || errors.Is(err, apperrors.ErrNotFound) {
				e.LogWarn(ctx, "Lost run lease, abandoning execution", slog.String("run_id", runID))
				cancel()
				return
			}
			e.LogError(ctx, err, "Heartbeat failed", slog.String("run_id", runID))
			continue
		}
		if err := e.queue.Extend(ctx, runID, e.cfg.LeaseDuration); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			e.LogError(ctx, err, "Failed to extend task visibility", slog.String("run_id", runID))
		}
	}
}

// recoverRedelivered handles a task whose run is already running: its executor stopped
// heartbeating, so once the lease has lapsed the run is failed.
func (e *runExecutor) recoverRedelivered(ctx context.Context, run *domain.Run) error {
	if run.LeaseExpiresAt != nil && run.LeaseExpiresAt.After(e.Now()) {
		e.LogDebug(ctx, "Run still leased by another executor", slog.String("lease_owner", run.LeaseOwner))
		return nil
	}
	_, err := e.finisher.finish(ctx, finishRequest{
		run:     *run,
		from:    []domain.RunStatus{domain.RunRunning},
		outcome: e.finisher.failed("Run lease expired before completion"),
		reason:  "lease_expired",
	})
	return err
}

func withRunLogger(ctx context.Context, runID, jobID string) context.Context {
	logger := middleware.GetLoggerFromCtx(ctx).With(slog.String("run_id", runID), slog.String("job_id", jobID))
	return middleware.WithLogger(ctx, logger)
}
