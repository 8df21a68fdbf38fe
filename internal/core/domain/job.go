package domain

import "time"

// JobStatus is the user-controlled logical state of a job, distinct from any run's status.
type JobStatus string

const (
	JobActive  JobStatus = "ACTIVE"
	JobPaused  JobStatus = "PAUSED"
	JobStopped JobStatus = "STOPPED"
	JobError   JobStatus = "ERROR"
)

// IsValidJobStatus reports whether s is a known job status.
func IsValidJobStatus(s JobStatus) bool {
	switch s {
	case JobActive, JobPaused, JobStopped, JobError:
		return true
	}
	return false
}

// LastRunSummary is the denormalized view of a job's most recent run.
type LastRunSummary struct {
	RunID     string    `json:"runID"`
	StartedAt time.Time `json:"startedAt"`
	Status    RunStatus `json:"status"`
}

// Job is a schedulable backup task owned by exactly one account.
type Job struct {
	JobID      string          `json:"jobID"`
	AccountID  string          `json:"accountID"`
	Name       string          `json:"name"`
	SourceType string          `json:"sourceType"`
	SourceRefs []string        `json:"sourceRefs"`
	Status     JobStatus       `json:"status"`
	Schedule   Schedule        `json:"schedule"`
	NextRunAt  *time.Time      `json:"nextRunAt,omitempty"`
	LastRun    *LastRunSummary `json:"lastRun,omitempty"`
	RunCount   int64           `json:"runCount"`
	// ActiveRunID is the job's single active-run slot; empty when no run is pending or running.
	ActiveRunID string `json:"activeRunID,omitempty"`
	AuditFields
}

// TriggerType records how a run was initiated.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
)

// TriggeredBy captures the actor behind a run.
type TriggeredBy struct {
	UserID string      `json:"userID"`
	Type   TriggerType `json:"type"`
}
