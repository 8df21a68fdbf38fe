package domain

import "time"

// RunStatus is the state of a single execution attempt.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ActiveRunStatuses are the statuses that occupy a job's single active slot.
var ActiveRunStatuses = []RunStatus{RunPending, RunRunning}

// IsActive reports whether the status occupies the job's active slot.
func (s RunStatus) IsActive() bool {
	return s == RunPending || s == RunRunning
}

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// CanTransitionTo enforces pending -> running -> {completed | failed}.
// pending -> failed is the one shortcut: a run that no worker ever picked up is abandoned
// (dispatch failure, pending timeout, account suspension) without pretending it ran.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunRunning || next == RunFailed
	case RunRunning:
		return next == RunCompleted || next == RunFailed
	}
	return false
}

// RunMetadata is free-form data recorded at run creation.
type RunMetadata struct {
	TriggeredBy TriggeredBy `json:"triggeredBy"`
}

// RunResult holds the counters a completed run reports.
type RunResult struct {
	RecordsProcessed int64 `json:"recordsProcessed"`
	FilesProcessed   int64 `json:"filesProcessed"`
	BytesProcessed   int64 `json:"bytesProcessed"`
}

// Run is one execution attempt of a job.
type Run struct {
	RunID      string     `json:"runID"`
	JobID      string     `json:"jobID"`
	AccountID  string     `json:"accountID"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	// Duration is derived from StartedAt and FinishedAt and is not authoritative.
	Duration time.Duration `json:"duration"`
	RunResult
	Error    string      `json:"error,omitempty"`
	Metadata RunMetadata `json:"metadata"`
	// Lease bookkeeping written by the executor holding the run.
	LeaseOwner     string     `json:"leaseOwner,omitempty"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	HeartbeatAt    *time.Time `json:"heartbeatAt,omitempty"`
}

// RunOutcome is the terminal state the executor or watchdog writes for a run.
type RunOutcome struct {
	Status     RunStatus
	Result     RunResult
	Error      string
	FinishedAt time.Time
}

// Duration computes the run duration for an outcome.
func (o RunOutcome) Duration(startedAt time.Time) time.Duration {
	if o.FinishedAt.Before(startedAt) {
		return 0
	}
	return o.FinishedAt.Sub(startedAt)
}

// RunTask is a durable queue entry asking an executor to perform a run.
type RunTask struct {
	RunID        string    `json:"runID"`
	JobID        string    `json:"jobID"`
	AccountID    string    `json:"accountID"`
	Attempt      int       `json:"attempt"`
	VisibleAfter time.Time `json:"visibleAfter"`
}
