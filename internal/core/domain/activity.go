package domain

import "time"

// Activity types appended by the core.
const (
	ActivityRunStarted        = "job.run.started"
	ActivityRunCompleted      = "job.run.completed"
	ActivityRunFailed         = "job.run.failed"
	ActivityJobCreated        = "job.created"
	ActivityJobDeleted        = "job.deleted"
	ActivityJobScheduled      = "job.schedule.updated"
	ActivityJobStatusChanged  = "job.status.changed"
	ActivitySubAccountCreated = "account.subaccount.created"
	ActivityAccountReparented = "account.reparented"
	ActivityAccountSuspended  = "account.suspended"
	ActivityMembershipGranted = "account.membership.granted"
)

// Resource types referenced by activity records.
const (
	ResourceRun     = "run"
	ResourceJob     = "job"
	ResourceAccount = "account"
)

// ActivityRecord is an immutable audit entry. ActivityID sorts in append order.
type ActivityRecord struct {
	ActivityID   string         `json:"activityID"`
	AccountID    string         `json:"accountID"`
	UserID       *string        `json:"userID,omitempty"` // nil for system-generated records
	Type         string         `json:"type"`
	ResourceID   string         `json:"resourceID"`
	ResourceType string         `json:"resourceType"`
	Message      string         `json:"message"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}
