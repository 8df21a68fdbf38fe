package services_test

import (
	"testing"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	"github.com/stretchr/testify/suite"
)

type SchedulerServiceTestSuite struct {
	suite.Suite
	f       *fixture
	account *domain.Account
	job     *domain.Job
}

func TestSchedulerService(t *testing.T) {
	suite.Run(t, new(SchedulerServiceTestSuite))
}

func (s *SchedulerServiceTestSuite) SetupTest() {
	s.f = newFixture(s.T())
	s.account = s.f.rootAccount(ownerID, "Acme")
	s.job = s.f.job(s.account.AccountID, ownerID) // daily at 02:30, first due 2024-03-15 02:30
}

func (s *SchedulerServiceTestSuite) TestTriggerDueJobs_NotYetDue() {
	n, err := s.f.svc.Scheduler.TriggerDueJobs(s.f.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *SchedulerServiceTestSuite) TestTriggerDueJobs_StartsEachOccurrenceOnce() {
	s.f.clock.Advance(10 * time.Hour) // 2024-03-15 02:45

	n, err := s.f.svc.Scheduler.TriggerDueJobs(s.f.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	job := s.f.storedJob(s.job.JobID)
	s.Equal(time.Date(2024, 3, 16, 2, 30, 0, 0, time.UTC), *job.NextRunAt)
	s.Require().NotEmpty(job.ActiveRunID)
	run := s.f.run(job.ActiveRunID)
	s.Equal(domain.TriggerScheduled, run.Metadata.TriggeredBy.Type)
	s.Equal(domain.SystemUserID, run.Metadata.TriggeredBy.UserID)

	n, err = s.f.svc.Scheduler.TriggerDueJobs(s.f.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *SchedulerServiceTestSuite) TestTriggerDueJobs_SkipsJobWithActiveRun() {
	manual, err := s.f.svc.JobRun.StartRun(s.f.ctx, s.job.JobID, ownerID)
	s.Require().NoError(err)
	s.f.clock.Advance(10 * time.Hour)

	n, err := s.f.svc.Scheduler.TriggerDueJobs(s.f.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	job := s.f.storedJob(s.job.JobID)
	s.Equal(manual.RunID, job.ActiveRunID)
	s.Equal(time.Date(2024, 3, 16, 2, 30, 0, 0, time.UTC), *job.NextRunAt, "the missed occurrence is not retried")
}

func (s *SchedulerServiceTestSuite) TestTriggerDueJobs_IgnoresPausedJobs() {
	_, err := s.f.svc.JobRun.SetJobStatus(s.f.ctx, s.job.JobID, domain.JobPaused, ownerID)
	s.Require().NoError(err)
	s.f.clock.Advance(10 * time.Hour)

	n, err := s.f.svc.Scheduler.TriggerDueJobs(s.f.ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Zero(s.f.storedJob(s.job.JobID).RunCount)
}
