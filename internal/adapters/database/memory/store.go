// Package memory implements every storage port in process. It backs STORE_BACKEND=memory and
// the behavioural tests of the core services. All repositories created from one Store share a
// single lock, so operations that span aggregates are atomic.
package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/juju/clock"
)

type queueEntry struct {
	task      domain.RunTask
	visibleAt time.Time
}

// Store holds the state shared by the in-memory repositories.
type Store struct {
	mu    sync.Mutex
	clock clock.Clock

	accounts       map[string]domain.Account
	memberships    map[membershipKey]domain.UserAccountMembership
	jobs           map[string]domain.Job
	runs           map[string]domain.Run
	queue          map[string]*queueEntry
	activities     []domain.ActivityRecord
	legacyUsers    map[string]domain.LegacyUser
	legacyAccounts map[string]domain.LegacyAccount
}

type membershipKey struct {
	userID    string
	accountID string
}

// NewStore creates an empty store. clk drives queue visibility; nil means the wall clock.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Store{
		clock:          clk,
		accounts:       make(map[string]domain.Account),
		memberships:    make(map[membershipKey]domain.UserAccountMembership),
		jobs:           make(map[string]domain.Job),
		runs:           make(map[string]domain.Run),
		queue:          make(map[string]*queueEntry),
		legacyUsers:    make(map[string]domain.LegacyUser),
		legacyAccounts: make(map[string]domain.LegacyAccount),
	}
}

// NewRepositoryProvider wires every port to store.
func NewRepositoryProvider(store *Store) portsrepo.RepositoryProvider {
	return portsrepo.RepositoryProvider{
		AccountRepo:       &AccountRepository{store},
		MembershipRepo:    &MembershipRepository{store},
		JobRepo:           &JobRepository{store},
		RunRepo:           &RunRepository{store},
		RunQueue:          &RunQueue{store},
		ActivityRepo:      &ActivityRepository{store},
		LegacyUserRepo:    &LegacyRepository{store},
		LegacyAccountRepo: &LegacyRepository{store},
	}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneAccount(a domain.Account) domain.Account {
	a.ParentAccountID = cloneStringPtr(a.ParentAccountID)
	return a
}

func cloneMembership(m domain.UserAccountMembership) domain.UserAccountMembership {
	m.Permissions = slices.Clone(m.Permissions)
	return m
}

func cloneJob(j domain.Job) domain.Job {
	j.SourceRefs = slices.Clone(j.SourceRefs)
	j.NextRunAt = cloneTimePtr(j.NextRunAt)
	if j.LastRun != nil {
		lr := *j.LastRun
		j.LastRun = &lr
	}
	return j
}

func cloneRun(r domain.Run) domain.Run {
	r.FinishedAt = cloneTimePtr(r.FinishedAt)
	r.LeaseExpiresAt = cloneTimePtr(r.LeaseExpiresAt)
	r.HeartbeatAt = cloneTimePtr(r.HeartbeatAt)
	return r
}
