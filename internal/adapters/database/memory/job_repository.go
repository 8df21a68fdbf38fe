package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
)

// JobRepository implements portsrepo.JobRepositoryFacade.
type JobRepository struct {
	s *Store
}

var _ portsrepo.JobRepositoryFacade = (*JobRepository)(nil)

func (r *JobRepository) FindJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[jobID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	j = cloneJob(j)
	return &j, nil
}

func (r *JobRepository) ListDueJobs(_ context.Context, now time.Time, limit int) ([]domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Job
	for _, j := range r.s.jobs {
		if j.Status == domain.JobActive && j.NextRunAt != nil && !j.NextRunAt.After(now) {
			out = append(out, cloneJob(j))
		}
	}
	slices.SortFunc(out, func(a, b domain.Job) int {
		if c := a.NextRunAt.Compare(*b.NextRunAt); c != 0 {
			return c
		}
		return strings.Compare(a.JobID, b.JobID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepository) SaveJob(_ context.Context, job domain.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.jobs[job.JobID]; exists {
		return fmt.Errorf("job %s: %w", job.JobID, apperrors.ErrDuplicate)
	}
	r.s.jobs[job.JobID] = cloneJob(job)
	return nil
}

func (r *JobRepository) update(jobID string, fn func(*domain.Job) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[jobID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if err := fn(&j); err != nil {
		return err
	}
	r.s.jobs[jobID] = j
	return nil
}

func (r *JobRepository) UpdateJobSchedule(_ context.Context, jobID string, schedule domain.Schedule, nextRunAt time.Time, updatedBy string, at time.Time) error {
	return r.update(jobID, func(j *domain.Job) error {
		j.Schedule = schedule
		j.NextRunAt = &nextRunAt
		j.LastUpdatedAt = at
		j.LastUpdatedBy = updatedBy
		return nil
	})
}

func (r *JobRepository) UpdateJobStatus(_ context.Context, jobID string, status domain.JobStatus, updatedBy string, at time.Time) error {
	return r.update(jobID, func(j *domain.Job) error {
		j.Status = status
		j.LastUpdatedAt = at
		j.LastUpdatedBy = updatedBy
		return nil
	})
}

func (r *JobRepository) AdvanceNextRunAt(_ context.Context, jobID string, expected time.Time, next time.Time) (bool, error) {
	advanced := false
	err := r.update(jobID, func(j *domain.Job) error {
		if j.NextRunAt == nil || !j.NextRunAt.Equal(expected) {
			return nil
		}
		j.NextRunAt = &next
		advanced = true
		return nil
	})
	return advanced, err
}

func (r *JobRepository) DeleteJob(_ context.Context, jobID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[jobID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if j.ActiveRunID != "" {
		return &apperrors.ActiveRunConflictError{JobID: jobID, ActiveRunID: j.ActiveRunID}
	}
	delete(r.s.jobs, jobID)
	return nil
}

func (r *JobRepository) ClaimRunSlot(_ context.Context, jobID string, summary domain.LastRunSummary) (int64, error) {
	var count int64
	err := r.update(jobID, func(j *domain.Job) error {
		if j.ActiveRunID != "" {
			return &apperrors.ActiveRunConflictError{JobID: jobID, ActiveRunID: j.ActiveRunID}
		}
		j.ActiveRunID = summary.RunID
		j.RunCount++
		j.LastRun = &summary
		count = j.RunCount
		return nil
	})
	return count, err
}

func (r *JobRepository) ReleaseRunSlot(_ context.Context, jobID, runID string, status domain.RunStatus) error {
	err := r.update(jobID, func(j *domain.Job) error {
		if j.ActiveRunID == runID {
			j.ActiveRunID = ""
		}
		if j.LastRun != nil && j.LastRun.RunID == runID {
			j.LastRun.Status = status
		}
		return nil
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		// Job deleted after its run finished; nothing to release.
		return nil
	}
	return err
}
