package memory

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
)

// ActivityRepository implements portsrepo.ActivityRepository as an append-only slice.
type ActivityRepository struct {
	s *Store
}

var _ portsrepo.ActivityRepository = (*ActivityRepository)(nil)

func (r *ActivityRepository) AppendActivity(_ context.Context, record domain.ActivityRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record.Metadata = maps.Clone(record.Metadata)
	r.s.activities = append(r.s.activities, record)
	return nil
}

func (r *ActivityRepository) ListActivity(_ context.Context, filter portsrepo.ActivityFilter) ([]domain.ActivityRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.ActivityRecord
	for _, rec := range r.s.activities {
		if rec.AccountID != filter.AccountID {
			continue
		}
		if filter.ResourceID != "" && rec.ResourceID != filter.ResourceID {
			continue
		}
		if filter.AfterID != "" && rec.ActivityID <= filter.AfterID {
			continue
		}
		rec.Metadata = maps.Clone(rec.Metadata)
		out = append(out, rec)
	}
	slices.SortStableFunc(out, func(a, b domain.ActivityRecord) int {
		return strings.Compare(a.ActivityID, b.ActivityID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
