package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/adapters/database/memory"
	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/suite"
)

var epoch = time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

type StoreTestSuite struct {
	suite.Suite
	ctx   context.Context
	clock *testclock.Clock
	store *memory.Store
	repos portsrepo.RepositoryProvider
}

func TestStore(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = testclock.NewClock(epoch)
	s.store = memory.NewStore(s.clock)
	s.repos = memory.NewRepositoryProvider(s.store)
}

func (s *StoreTestSuite) saveRoot(id string, settings domain.AccountSettings) {
	err := s.repos.AccountRepo.SaveAccount(s.ctx, domain.Account{
		AccountID: id, AccountPath: domain.RootPath(id), Status: domain.AccountActive, Settings: settings,
	}, domain.NewOwnerMembership("owner", id, epoch))
	s.Require().NoError(err)
}

func (s *StoreTestSuite) saveChild(parent *domain.Account, id string) error {
	return s.repos.AccountRepo.SaveSubAccount(s.ctx, domain.Account{
		AccountID:       id,
		ParentAccountID: &parent.AccountID,
		AccountPath:     domain.ChildPath(parent.AccountPath, id),
		Level:           parent.Level + 1,
		Status:          domain.AccountActive,
		Settings:        domain.DefaultAccountSettings(0),
	}, domain.NewOwnerMembership("owner", id, epoch))
}

func (s *StoreTestSuite) account(id string) *domain.Account {
	a, err := s.repos.AccountRepo.FindAccountByID(s.ctx, id)
	s.Require().NoError(err)
	return a
}

func (s *StoreTestSuite) TestSaveSubAccount_EnforcesLimitAtomically() {
	s.saveRoot("root", domain.AccountSettings{AllowSubAccounts: true, MaxSubAccounts: 1})
	root := s.account("root")

	s.Require().NoError(s.saveChild(root, "a"))
	s.ErrorIs(s.saveChild(root, "b"), apperrors.ErrPolicyViolation)
	s.ErrorIs(s.saveChild(s.account("a"), "a"), apperrors.ErrDuplicate)

	n, err := s.repos.AccountRepo.CountChildren(s.ctx, "root")
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *StoreTestSuite) TestMoveSubtree() {
	s.saveRoot("root", domain.DefaultAccountSettings(0))
	s.Require().NoError(s.saveChild(s.account("root"), "a"))
	s.Require().NoError(s.saveChild(s.account("a"), "b"))
	s.Require().NoError(s.saveChild(s.account("root"), "c"))

	parentC := "c"
	move := portsrepo.SubtreeMove{
		AccountID: "a", NewParentID: &parentC, OldPath: "/root/a", NewPath: "/root/c/a",
		LevelDelta: 1, ExpectedParent: s.account("a").ParentAccountID, At: epoch,
	}
	s.Require().NoError(s.repos.AccountRepo.MoveSubtree(s.ctx, move))
	s.Equal("/root/c/a/b", s.account("b").AccountPath)
	s.Equal(3, s.account("b").Level)
	s.Equal("c", *s.account("a").ParentAccountID)

	s.ErrorIs(s.repos.AccountRepo.MoveSubtree(s.ctx, move), apperrors.ErrConflict, "a stale move is rejected")

	parentB := "b"
	cyclic := portsrepo.SubtreeMove{
		AccountID: "a", NewParentID: &parentB, OldPath: "/root/c/a", NewPath: "/root/c/a/b/a",
		ExpectedParent: &parentC, At: epoch,
	}
	s.ErrorIs(s.repos.AccountRepo.MoveSubtree(s.ctx, cyclic), apperrors.ErrCycle)

	subtree, err := s.repos.AccountRepo.ListSubtree(s.ctx, "/root/c")
	s.Require().NoError(err)
	s.Require().Len(subtree, 3)
	s.Equal([]string{"c", "a", "b"}, []string{subtree[0].AccountID, subtree[1].AccountID, subtree[2].AccountID})
}

func (s *StoreTestSuite) TestRunSlot() {
	s.Require().NoError(s.repos.JobRepo.SaveJob(s.ctx, domain.Job{JobID: "j", AccountID: "root", Status: domain.JobActive}))

	count, err := s.repos.JobRepo.ClaimRunSlot(s.ctx, "j", domain.LastRunSummary{RunID: "r1", StartedAt: epoch, Status: domain.RunPending})
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	_, err = s.repos.JobRepo.ClaimRunSlot(s.ctx, "j", domain.LastRunSummary{RunID: "r2", StartedAt: epoch})
	holder, ok := apperrors.ActiveRunID(err)
	s.True(ok)
	s.Equal("r1", holder)
	s.ErrorIs(s.repos.JobRepo.DeleteJob(s.ctx, "j"), apperrors.ErrConflict)

	// Releasing on behalf of another run leaves the slot alone.
	s.Require().NoError(s.repos.JobRepo.ReleaseRunSlot(s.ctx, "j", "r2", domain.RunFailed))
	job, err := s.repos.JobRepo.FindJobByID(s.ctx, "j")
	s.Require().NoError(err)
	s.Equal("r1", job.ActiveRunID)

	s.Require().NoError(s.repos.JobRepo.ReleaseRunSlot(s.ctx, "j", "r1", domain.RunCompleted))
	job, err = s.repos.JobRepo.FindJobByID(s.ctx, "j")
	s.Require().NoError(err)
	s.Empty(job.ActiveRunID)
	s.Equal(domain.RunCompleted, job.LastRun.Status)

	s.Require().NoError(s.repos.JobRepo.DeleteJob(s.ctx, "j"))
	s.NoError(s.repos.JobRepo.ReleaseRunSlot(s.ctx, "j", "r1", domain.RunCompleted), "release after delete is a no-op")
}

func (s *StoreTestSuite) TestRunTransitions() {
	run := domain.Run{RunID: "r1", JobID: "j", AccountID: "root", Status: domain.RunPending, StartedAt: epoch}
	s.Require().NoError(s.repos.RunRepo.SaveRun(s.ctx, run))

	second := run
	second.RunID = "r2"
	_, ok := apperrors.ActiveRunID(s.repos.RunRepo.SaveRun(s.ctx, second))
	s.True(ok, "at most one active run per job")

	lease := epoch.Add(time.Minute)
	s.Require().NoError(s.repos.RunRepo.MarkRunRunning(s.ctx, "r1", "w1", lease, epoch))
	s.ErrorIs(s.repos.RunRepo.MarkRunRunning(s.ctx, "r1", "w2", lease, epoch), apperrors.ErrInvalidState)
	s.ErrorIs(s.repos.RunRepo.RenewRunLease(s.ctx, "r1", "w2", lease, epoch), apperrors.ErrInvalidState)

	done := domain.RunOutcome{Status: domain.RunCompleted, Result: domain.RunResult{RecordsProcessed: 5}, FinishedAt: epoch.Add(time.Second)}
	s.Require().NoError(s.repos.RunRepo.FinishRun(s.ctx, "r1", []domain.RunStatus{domain.RunRunning}, done, time.Second))
	s.ErrorIs(s.repos.RunRepo.FinishRun(s.ctx, "r1", domain.ActiveRunStatuses, done, time.Second), apperrors.ErrInvalidState,
		"terminal runs are never re-entered")

	stored, err := s.repos.RunRepo.FindRunByID(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(domain.RunCompleted, stored.Status)
	s.Equal(int64(5), stored.RecordsProcessed)
	s.Nil(stored.LeaseExpiresAt)

	usage, err := s.repos.RunRepo.SumCompletedRuns(s.ctx, "root", epoch)
	s.Require().NoError(err)
	s.Equal(int64(1), usage.RunCount)
	usage, err = s.repos.RunRepo.SumCompletedRuns(s.ctx, "root", epoch.Add(time.Second))
	s.Require().NoError(err)
	s.Zero(usage.RunCount)

	s.Require().NoError(s.repos.RunRepo.SaveRun(s.ctx, second))
}

func (s *StoreTestSuite) TestQueueVisibility() {
	q := s.repos.RunQueue
	s.Require().NoError(q.Enqueue(s.ctx, domain.RunTask{RunID: "r1"}))
	s.Require().NoError(q.Enqueue(s.ctx, domain.RunTask{RunID: "r2", VisibleAfter: epoch.Add(time.Minute)}))

	tasks, err := q.Dequeue(s.ctx, 10, 30*time.Second)
	s.Require().NoError(err)
	s.Require().Len(tasks, 1)
	s.Equal("r1", tasks[0].RunID)
	s.Equal(1, tasks[0].Attempt)

	tasks, err = q.Dequeue(s.ctx, 10, 30*time.Second)
	s.Require().NoError(err)
	s.Empty(tasks, "claimed tasks stay hidden for the lease")

	s.clock.Advance(31 * time.Second)
	s.Require().NoError(q.Extend(s.ctx, "r1", time.Minute))
	tasks, err = q.Dequeue(s.ctx, 10, 30*time.Second)
	s.Require().NoError(err)
	s.Empty(tasks)

	s.clock.Advance(time.Minute)
	tasks, err = q.Dequeue(s.ctx, 10, 30*time.Second)
	s.Require().NoError(err)
	s.Require().Len(tasks, 2)
	s.Equal("r2", tasks[0].RunID, "ordered by visibility")
	s.Equal(2, tasks[1].Attempt)

	s.Require().NoError(q.Ack(s.ctx, "r1"))
	s.ErrorIs(q.Extend(s.ctx, "r1", time.Minute), apperrors.ErrNotFound)
}

func (s *StoreTestSuite) TestLegacyScanPages() {
	s.store.SeedLegacyUsers(
		domain.LegacyUser{UserID: "c"}, domain.LegacyUser{UserID: "a"}, domain.LegacyUser{UserID: "b"},
	)
	var seen []string
	token := ""
	for {
		users, next, err := s.repos.LegacyUserRepo.ScanLegacyUsers(s.ctx, token, 2)
		s.Require().NoError(err)
		for _, u := range users {
			seen = append(seen, u.UserID)
		}
		if next == "" {
			break
		}
		token = next
	}
	s.Equal([]string{"a", "b", "c"}, seen)
}

func (s *StoreTestSuite) TestMarkRunRunning_UpdatesLastRunSummary() {
	s.Require().NoError(s.repos.JobRepo.SaveJob(s.ctx, domain.Job{JobID: "j", AccountID: "root", Status: domain.JobActive}))
	_, err := s.repos.JobRepo.ClaimRunSlot(s.ctx, "j", domain.LastRunSummary{RunID: "r1", StartedAt: epoch, Status: domain.RunPending})
	s.Require().NoError(err)
	s.Require().NoError(s.repos.RunRepo.SaveRun(s.ctx, domain.Run{RunID: "r1", JobID: "j", AccountID: "root", Status: domain.RunPending, StartedAt: epoch}))

	s.Require().NoError(s.repos.RunRepo.MarkRunRunning(s.ctx, "r1", "w1", epoch.Add(time.Minute), epoch))

	job, err := s.repos.JobRepo.FindJobByID(s.ctx, "j")
	s.Require().NoError(err)
	s.Require().NotNil(job.LastRun)
	s.Equal(domain.RunRunning, job.LastRun.Status)
	s.Equal("r1", job.ActiveRunID)
}
