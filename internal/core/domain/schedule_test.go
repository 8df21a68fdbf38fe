package domain

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleNextRunAt(t *testing.T) {
	now := time.Date(2024, 3, 14, 16, 45, 12, 0, time.UTC)

	tests := []struct {
		name     string
		schedule Schedule
		want     time.Time
	}{
		{
			name:     "daily at HH:MM is the next day at that time",
			schedule: Schedule{Type: ScheduleDaily, Hour: 2, Minute: 30},
			want:     time.Date(2024, 3, 15, 2, 30, 0, 0, time.UTC),
		},
		{
			name:     "weekly is seven days from now at the given time",
			schedule: Schedule{Type: ScheduleWeekly, Hour: 9, Minute: 0},
			want:     time.Date(2024, 3, 21, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "monthly keeps the day of month",
			schedule: Schedule{Type: ScheduleMonthly, Hour: 23, Minute: 59},
			want:     time.Date(2024, 4, 14, 23, 59, 0, 0, time.UTC),
		},
		{
			name:     "unknown shape falls back to 24h",
			schedule: Schedule{Type: "fortnightly"},
			want:     now.Add(24 * time.Hour),
		},
		{
			name:     "out of range time falls back to 24h",
			schedule: Schedule{Type: ScheduleDaily, Hour: 25},
			want:     now.Add(24 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schedule.NextRunAt(now))
		})
	}
}

func TestScheduleNextRunAt_MonthlyClampsToMonthEnd(t *testing.T) {
	s := Schedule{Type: ScheduleMonthly, Hour: 1, Minute: 0}

	assert.Equal(t, time.Date(2024, 2, 29, 1, 0, 0, 0, time.UTC),
		s.NextRunAt(time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)), "leap year February")
	assert.Equal(t, time.Date(2023, 2, 28, 1, 0, 0, 0, time.UTC),
		s.NextRunAt(time.Date(2023, 1, 30, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2025, 1, 31, 1, 0, 0, 0, time.UTC),
		s.NextRunAt(time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC)), "year rollover")
}

func TestRunStatusTransitions(t *testing.T) {
	assert.True(t, RunPending.CanTransitionTo(RunRunning))
	assert.True(t, RunRunning.CanTransitionTo(RunCompleted))
	assert.True(t, RunRunning.CanTransitionTo(RunFailed))
	assert.False(t, RunPending.CanTransitionTo(RunCompleted), "completion may not skip running")
	assert.False(t, RunCompleted.CanTransitionTo(RunRunning))
	assert.False(t, RunFailed.CanTransitionTo(RunPending))
	assert.False(t, RunRunning.CanTransitionTo(RunPending))

	assert.True(t, RunPending.IsActive())
	assert.True(t, RunRunning.IsActive())
	assert.True(t, RunFailed.IsTerminal())
	assert.False(t, RunCompleted.IsActive())
}

func TestRunStatusTransitionTable(t *testing.T) {
	statuses := []RunStatus{RunPending, RunRunning, RunCompleted, RunFailed}
	allowed := map[RunStatus][]RunStatus{
		RunPending: {RunRunning, RunFailed},
		RunRunning: {RunCompleted, RunFailed},
	}
	for _, from := range statuses {
		for _, to := range statuses {
			want := slices.Contains(allowed[from], to)
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}
