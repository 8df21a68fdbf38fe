package services_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/adapters/database/memory"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/core/services"
	"github.com/SscSPs/backup_orchestrator/internal/dto"
	"github.com/SscSPs/backup_orchestrator/internal/platform/config"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
)

var fixtureEpoch = time.Date(2024, 3, 14, 16, 45, 0, 0, time.UTC)

// okResult is what the default test connector reports.
var okResult = domain.RunResult{RecordsProcessed: 120, FilesProcessed: 13, BytesProcessed: 13 * 4096}

// fixture is a full service container on the in-memory store, driven by a test clock.
type fixture struct {
	t          *testing.T
	ctx        context.Context
	clock      *testclock.Clock
	store      *memory.Store
	repos      portsrepo.RepositoryProvider
	connectors *services.ConnectorRegistry
	svc        *portssvc.ServiceContainer
}

func testConfig() *config.Config {
	return &config.Config{
		RunLeaseDuration:      2 * time.Minute,
		RunHeartbeatInterval:  30 * time.Second,
		RunMaxDuration:        time.Hour,
		DefaultMaxSubAccounts: 10,
		MigrationPageSize:     2,
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithRepos(t, nil)
}

// newFixtureWithRepos lets a test replace individual repositories before the container is built.
func newFixtureWithRepos(t *testing.T, override func(*portsrepo.RepositoryProvider)) *fixture {
	t.Helper()
	clk := testclock.NewClock(fixtureEpoch)
	store := memory.NewStore(clk)
	repos := memory.NewRepositoryProvider(store)
	if override != nil {
		override(&repos)
	}
	connectors := services.NewConnectorRegistry(services.ConnectorFunc(func(context.Context, domain.Job, domain.Run) (domain.RunResult, error) {
		return okResult, nil
	}))
	svc := services.NewServiceContainer(testConfig(), repos,
		services.WithClock(clk),
		services.WithConnectors(connectors),
		services.WithContainerRetryPolicy(services.RetryPolicy{Attempts: 1}),
	)
	return &fixture{
		t:          t,
		ctx:        context.Background(),
		clock:      clk,
		store:      store,
		repos:      repos,
		connectors: connectors,
		svc:        svc,
	}
}

func (f *fixture) rootAccount(ownerUserID, name string) *domain.Account {
	f.t.Helper()
	account, err := f.svc.Hierarchy.CreateRootAccount(f.ctx, dto.CreateRootAccountRequest{Name: name}, ownerUserID)
	require.NoError(f.t, err)
	return account
}

func (f *fixture) job(accountID, actorUserID string) *domain.Job {
	f.t.Helper()
	job, err := f.svc.JobRun.CreateJob(f.ctx, accountID, dto.CreateJobRequest{
		Name:       "nightly",
		SourceType: "postgres",
		SourceRefs: []string{"db-1"},
		Schedule:   dto.ScheduleRequest{Type: domain.ScheduleDaily, Hour: 2, Minute: 30},
	}, actorUserID)
	require.NoError(f.t, err)
	return job
}

// drain dequeues every visible task and executes it synchronously.
func (f *fixture) drain() int {
	f.t.Helper()
	tasks, err := f.repos.RunQueue.Dequeue(f.ctx, 100, 2*time.Minute)
	require.NoError(f.t, err)
	for _, task := range tasks {
		require.NoError(f.t, f.svc.Executor.ExecuteTask(f.ctx, task, "worker-1"))
	}
	return len(tasks)
}

func (f *fixture) run(runID string) *domain.Run {
	f.t.Helper()
	run, err := f.repos.RunRepo.FindRunByID(f.ctx, runID)
	require.NoError(f.t, err)
	return run
}

func (f *fixture) storedJob(jobID string) *domain.Job {
	f.t.Helper()
	job, err := f.repos.JobRepo.FindJobByID(f.ctx, jobID)
	require.NoError(f.t, err)
	return job
}

// activityTypes lists the types of the records about resourceID in append order.
func (f *fixture) activityTypes(accountID, resourceID string) []string {
	f.t.Helper()
	records, err := f.repos.ActivityRepo.ListActivity(f.ctx, portsrepo.ActivityFilter{AccountID: accountID, ResourceID: resourceID})
	require.NoError(f.t, err)
	types := make([]string, 0, len(records))
	for _, r := range records {
		types = append(types, r.Type)
	}
	return types
}

func (f *fixture) lastActivity(accountID, resourceID string) domain.ActivityRecord {
	f.t.Helper()
	records, err := f.repos.ActivityRepo.ListActivity(f.ctx, portsrepo.ActivityFilter{AccountID: accountID, ResourceID: resourceID})
	require.NoError(f.t, err)
	require.NotEmpty(f.t, records)
	return records[len(records)-1]
}

// sequence returns an ID generator yielding ids in order and then numbered fallbacks.
func sequence(ids ...string) func() string {
	n := 0
	return func() string {
		n++
		if n <= len(ids) {
			return ids[n-1]
		}
		return fmt.Sprintf("id-%d", n)
	}
}
