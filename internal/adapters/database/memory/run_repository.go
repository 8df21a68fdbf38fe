package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
)

// RunRepository implements portsrepo.RunRepositoryFacade.
type RunRepository struct {
	s *Store
}

var _ portsrepo.RunRepositoryFacade = (*RunRepository)(nil)

func (r *RunRepository) FindRunByID(_ context.Context, runID string) (*domain.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	run = cloneRun(run)
	return &run, nil
}

func (r *RunRepository) FindActiveRunsByJob(_ context.Context, jobID string) ([]domain.Run, error) {
	return r.filter(func(run domain.Run) bool {
		return run.JobID == jobID && run.Status.IsActive()
	}), nil
}

func (r *RunRepository) FindActiveRunsByAccounts(_ context.Context, accountIDs []string) ([]domain.Run, error) {
	return r.filter(func(run domain.Run) bool {
		return run.Status.IsActive() && slices.Contains(accountIDs, run.AccountID)
	}), nil
}

// filter returns matching runs newest first.
func (r *RunRepository) filter(keep func(domain.Run) bool) []domain.Run {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Run
	for _, run := range r.s.runs {
		if keep(run) {
			out = append(out, cloneRun(run))
		}
	}
	slices.SortFunc(out, newestFirst)
	return out
}

func newestFirst(a, b domain.Run) int {
	if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
		return c
	}
	return strings.Compare(b.RunID, a.RunID)
}

func (r *RunRepository) ListRunsByJob(_ context.Context, jobID string, page portsrepo.RunPage) ([]domain.Run, error) {
	runs := r.filter(func(run domain.Run) bool {
		if run.JobID != jobID {
			return false
		}
		if page.BeforeStartedAt == nil {
			return true
		}
		// Strictly after the cursor in newest-first order.
		return newestFirst(domain.Run{StartedAt: *page.BeforeStartedAt, RunID: page.BeforeRunID}, run) < 0
	})
	if page.Limit > 0 && len(runs) > page.Limit {
		runs = runs[:page.Limit]
	}
	return runs, nil
}

func (r *RunRepository) FindStaleRuns(_ context.Context, q portsrepo.StaleRunQuery) ([]domain.Run, error) {
	runs := r.filter(func(run domain.Run) bool {
		switch run.Status {
		case domain.RunPending:
			return run.StartedAt.Before(q.PendingBefore)
		case domain.RunRunning:
			if run.StartedAt.Before(q.RunningBefore) {
				return true
			}
			return run.LeaseExpiresAt != nil && run.LeaseExpiresAt.Before(q.Now)
		}
		return false
	})
	slices.Reverse(runs)
	if q.Limit > 0 && len(runs) > q.Limit {
		runs = runs[:q.Limit]
	}
	return runs, nil
}

func (r *RunRepository) SumCompletedRuns(_ context.Context, accountID string, since time.Time) (domain.UsageSummary, error) {
	summary := domain.UsageSummary{AccountID: accountID, Since: since}
	for _, run := range r.filter(func(run domain.Run) bool {
		return run.AccountID == accountID && run.Status == domain.RunCompleted && !run.StartedAt.Before(since)
	}) {
		summary.Add(run.RunResult)
	}
	return summary, nil
}

// SaveRun enforces at most one active run per job, as the partial unique index does in SQL.
func (r *RunRepository) SaveRun(_ context.Context, run domain.Run) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.runs[run.RunID]; exists {
		return apperrors.ErrDuplicate
	}
	if run.Status.IsActive() {
		for _, existing := range r.s.runs {
			if existing.JobID == run.JobID && existing.Status.IsActive() {
				return &apperrors.ActiveRunConflictError{JobID: run.JobID, ActiveRunID: existing.RunID}
			}
		}
	}
	r.s.runs[run.RunID] = cloneRun(run)
	return nil
}

func (r *RunRepository) transition(runID string, from []domain.RunStatus, fn func(*domain.Run)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if !slices.Contains(from, run.Status) {
		return apperrors.NewInvalidStateError("run " + runID + " is " + string(run.Status))
	}
	fn(&run)
	r.s.runs[runID] = run
	return nil
}

func (r *RunRepository) MarkRunRunning(_ context.Context, runID, leaseOwner string, leaseExpiresAt, at time.Time) error {
	return r.transition(runID, []domain.RunStatus{domain.RunPending}, func(run *domain.Run) {
		run.Status = domain.RunRunning
		run.LeaseOwner = leaseOwner
		run.LeaseExpiresAt = &leaseExpiresAt
		run.HeartbeatAt = &at
		// The job's lastRun summary follows its run; transition holds the store lock.
		if j, ok := r.s.jobs[run.JobID]; ok && j.LastRun != nil && j.LastRun.RunID == runID {
			j.LastRun.Status = domain.RunRunning
		}
	})
}

func (r *RunRepository) RenewRunLease(_ context.Context, runID, leaseOwner string, leaseExpiresAt, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if run.Status != domain.RunRunning || run.LeaseOwner != leaseOwner {
		return apperrors.NewInvalidStateError("run " + runID + " is not leased by " + leaseOwner)
	}
	run.LeaseExpiresAt = &leaseExpiresAt
	run.HeartbeatAt = &at
	r.s.runs[runID] = run
	return nil
}

func (r *RunRepository) FinishRun(_ context.Context, runID string, from []domain.RunStatus, outcome domain.RunOutcome, duration time.Duration) error {
	return r.transition(runID, from, func(run *domain.Run) {
		finishedAt := outcome.FinishedAt
		run.Status = outcome.Status
		run.FinishedAt = &finishedAt
		run.Duration = duration
		run.Error = outcome.Error
		run.RunResult = domain.RunResult{}
		if outcome.Status == domain.RunCompleted {
			run.RunResult = outcome.Result
		}
		run.LeaseOwner = ""
		run.LeaseExpiresAt = nil
	})
}
