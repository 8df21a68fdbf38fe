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

// RunQueue implements portsrepo.RunQueue with visibility timeouts on the store clock.
type RunQueue struct {
	s *Store
}

var _ portsrepo.RunQueue = (*RunQueue)(nil)

func (q *RunQueue) Enqueue(_ context.Context, task domain.RunTask) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	visibleAt := task.VisibleAfter
	if visibleAt.IsZero() {
		visibleAt = q.s.now()
	}
	q.s.queue[task.RunID] = &queueEntry{task: task, visibleAt: visibleAt}
	return nil
}

func (q *RunQueue) Dequeue(_ context.Context, limit int, lease time.Duration) ([]domain.RunTask, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	now := q.s.now()

	var visible []*queueEntry
	for _, e := range q.s.queue {
		if !e.visibleAt.After(now) {
			visible = append(visible, e)
		}
	}
	slices.SortFunc(visible, func(a, b *queueEntry) int {
		if c := a.visibleAt.Compare(b.visibleAt); c != 0 {
			return c
		}
		return strings.Compare(a.task.RunID, b.task.RunID)
	})
	if limit > 0 && len(visible) > limit {
		visible = visible[:limit]
	}

	tasks := make([]domain.RunTask, 0, len(visible))
	for _, e := range visible {
		e.task.Attempt++
		e.visibleAt = now.Add(lease)
		e.task.VisibleAfter = e.visibleAt
		tasks = append(tasks, e.task)
	}
	return tasks, nil
}

func (q *RunQueue) Extend(_ context.Context, runID string, lease time.Duration) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	e, ok := q.s.queue[runID]
	if !ok {
		return apperrors.ErrNotFound
	}
	e.visibleAt = q.s.now().Add(lease)
	return nil
}

func (q *RunQueue) Ack(_ context.Context, runID string) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	delete(q.s.queue, runID)
	return nil
}

// Len reports the number of queued tasks, visible or not.
func (q *RunQueue) Len() int {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	return len(q.s.queue)
}
