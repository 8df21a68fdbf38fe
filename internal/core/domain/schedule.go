package domain

import "time"

// ScheduleType is the shape of a job schedule.
type ScheduleType string

const (
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
)

// DefaultScheduleInterval is used for schedule shapes that are not recognized.
const DefaultScheduleInterval = 24 * time.Hour

// Schedule describes when a job should run.
type Schedule struct {
	Type   ScheduleType `json:"type"`
	Hour   int          `json:"hour"`
	Minute int          `json:"minute"`
	// Expression keeps the user supplied cron-like text for display only.
	Expression string `json:"expression,omitempty"`
}

// NextRunAt computes the next run time from now using fixed-offset rules.
// The previous nextRunAt never influences the result.
func (s Schedule) NextRunAt(now time.Time) time.Time {
	if !s.hasValidTime() {
		return now.Add(DefaultScheduleInterval)
	}
	switch s.Type {
	case ScheduleDaily:
		return s.at(now.AddDate(0, 0, 1))
	case ScheduleWeekly:
		return s.at(now.AddDate(0, 0, 7))
	case ScheduleMonthly:
		return s.at(addMonthClamped(now))
	default:
		return now.Add(DefaultScheduleInterval)
	}
}

func (s Schedule) hasValidTime() bool {
	return s.Hour >= 0 && s.Hour <= 23 && s.Minute >= 0 && s.Minute <= 59
}

func (s Schedule) at(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), s.Hour, s.Minute, 0, 0, day.Location())
}

// addMonthClamped returns the same day-of-month in the following month, clamped to
// the last day of that month (Jan 31 -> Feb 28/29).
func addMonthClamped(t time.Time) time.Time {
	firstOfNext := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
