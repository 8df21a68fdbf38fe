package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	"github.com/SscSPs/backup_orchestrator/internal/core/services"
	"github.com/stretchr/testify/suite"
)

type WatchdogServiceTestSuite struct {
	suite.Suite
	f       *fixture
	account *domain.Account
	job     *domain.Job
}

func TestWatchdogService(t *testing.T) {
	suite.Run(t, new(WatchdogServiceTestSuite))
}

func (s *WatchdogServiceTestSuite) SetupTest() {
	s.f = newFixture(s.T())
	s.account = s.f.rootAccount(ownerID, "Acme")
	s.job = s.f.job(s.account.AccountID, ownerID)
}

// claimAsCrashedWorker moves the run to running under a lease nobody will renew.
func (s *WatchdogServiceTestSuite) claimAsCrashedWorker(runID string, lease time.Duration) domain.RunTask {
	tasks, err := s.f.repos.RunQueue.Dequeue(s.f.ctx, 1, lease)
	s.Require().NoError(err)
	s.Require().Len(tasks, 1)
	now := s.f.clock.Now().UTC()
	s.Require().NoError(s.f.repos.RunRepo.MarkRunRunning(s.f.ctx, runID, "worker-crashed", now.Add(lease), now))
	return tasks[0]
}

func (s *WatchdogServiceTestSuite) startRun() *domain.Run {
	run, err := s.f.svc.JobRun.StartRun(s.f.ctx, s.job.JobID, ownerID)
	s.Require().NoError(err)
	return run
}

func (s *WatchdogServiceTestSuite) TestReclaim_NothingStale() {
	s.startRun()
	n, err := s.f.svc.Watchdog.ReclaimStaleRuns(s.f.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *WatchdogServiceTestSuite) TestReclaim_PendingNeverPickedUp() {
	run := s.startRun()
	s.f.clock.Advance(2 * time.Hour)

	n, err := s.f.svc.Watchdog.ReclaimStaleRuns(s.f.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	failed := s.f.run(run.RunID)
	s.Equal(domain.RunFailed, failed.Status)
	s.Equal("Run was not picked up within 1h0m0s", failed.Error)
	s.Empty(s.f.storedJob(s.job.JobID).ActiveRunID)
	s.Equal(services.ReasonWatchdog, s.f.lastActivity(s.account.AccountID, run.RunID).Metadata["reason"])
	s.Zero(s.f.drain(), "the queued task is acknowledged")

	n, err = s.f.svc.Watchdog.ReclaimStaleRuns(s.f.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	_, err = s.f.svc.JobRun.StartRun(s.f.ctx, s.job.JobID, ownerID)
	s.NoError(err, "the job accepts runs again")
}

func (s *WatchdogServiceTestSuite) TestReclaim_LeaseExpired() {
	run := s.startRun()
	s.claimAsCrashedWorker(run.RunID, 2*time.Minute)
	s.f.clock.Advance(3 * time.Minute)

	n, err := s.f.svc.Watchdog.ReclaimStaleRuns(s.f.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal("Run lease expired before completion", s.f.run(run.RunID).Error)
}

func (s *WatchdogServiceTestSuite) TestReclaim_MaxDurationExceeded() {
	run := s.startRun()
	s.claimAsCrashedWorker(run.RunID, 3*time.Hour)
	s.f.clock.Advance(61 * time.Minute)

	n, err := s.f.svc.Watchdog.ReclaimStaleRuns(s.f.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal("Run exceeded maximum duration of 1h0m0s", s.f.run(run.RunID).Error)
}

func (s *WatchdogServiceTestSuite) TestRedelivery_WaitsForLeaseThenFails() {
	run := s.startRun()
	task := s.claimAsCrashedWorker(run.RunID, 2*time.Minute)

	s.Require().NoError(s.f.svc.Executor.ExecuteTask(s.f.ctx, task, "worker-2"))
	s.Equal(domain.RunRunning, s.f.run(run.RunID).Status, "a live lease is left alone")

	s.f.clock.Advance(3 * time.Minute)
	s.Require().NoError(s.f.svc.Executor.ExecuteTask(s.f.ctx, task, "worker-2"))
	failed := s.f.run(run.RunID)
	s.Equal(domain.RunFailed, failed.Status)
	s.Equal("Run lease expired before completion", failed.Error)
	s.Empty(s.f.storedJob(s.job.JobID).ActiveRunID)
}

func (s *WatchdogServiceTestSuite) TestLateCompletionIsDiscarded() {
	// The account is suspended while the connector is still working.
	s.f.connectors.Register("postgres", services.ConnectorFunc(func(ctx context.Context, job domain.Job, _ domain.Run) (domain.RunResult, error) {
		_, err := s.f.svc.Watchdog.FailActiveRuns(ctx, []string{job.AccountID}, services.ReasonAccountSuspended)
		s.Require().NoError(err)
		return okResult, nil
	}))
	run := s.startRun()
	s.f.drain()

	failed := s.f.run(run.RunID)
	s.Equal(domain.RunFailed, failed.Status)
	s.Equal(services.AccountSuspendedMessage, failed.Error)
	s.Zero(failed.RecordsProcessed)
	s.Equal([]string{domain.ActivityRunStarted, domain.ActivityRunFailed}, s.f.activityTypes(s.account.AccountID, run.RunID),
		"the discarded completion leaves no trace")
}

func (s *WatchdogServiceTestSuite) TestFailActiveRuns() {
	n, err := s.f.svc.Watchdog.FailActiveRuns(s.f.ctx, nil, services.ReasonAccountSuspended)
	s.Require().NoError(err)
	s.Zero(n)

	run := s.startRun()
	other := s.f.rootAccount(ownerID, "Other")
	otherJob := s.f.job(other.AccountID, ownerID)
	otherRun, err := s.f.svc.JobRun.StartRun(s.f.ctx, otherJob.JobID, ownerID)
	s.Require().NoError(err)

	n, err = s.f.svc.Watchdog.FailActiveRuns(s.f.ctx, []string{s.account.AccountID}, services.ReasonAccountSuspended)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(domain.RunFailed, s.f.run(run.RunID).Status)
	s.Equal(domain.RunPending, s.f.run(otherRun.RunID).Status)
}
