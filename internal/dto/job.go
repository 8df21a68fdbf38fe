package dto

import (
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
)

// --- Job DTOs ---

// ScheduleRequest describes a job schedule.
type ScheduleRequest struct {
	Type       domain.ScheduleType `json:"type" binding:"required,schedule_type"`
	Hour       int                 `json:"hour" binding:"min=0,max=23"`
	Minute     int                 `json:"minute" binding:"min=0,max=59"`
	Expression string              `json:"expression" binding:"max=200"`
}

// ToSchedule converts the request to domain.Schedule.
func (r ScheduleRequest) ToSchedule() domain.Schedule {
	return domain.Schedule{Type: r.Type, Hour: r.Hour, Minute: r.Minute, Expression: r.Expression}
}

// CreateJobRequest defines data for creating a backup job.
type CreateJobRequest struct {
	Name       string          `json:"name" binding:"required,max=200"`
	SourceType string          `json:"sourceType" binding:"required,max=100"`
	SourceRefs []string        `json:"sourceRefs"`
	Schedule   ScheduleRequest `json:"schedule" binding:"required"`
}

// UpdateJobStatusRequest changes the logical status of a job.
type UpdateJobStatusRequest struct {
	Status domain.JobStatus `json:"status" binding:"required,oneof=ACTIVE PAUSED STOPPED"`
}

// JobResponse defines data returned for a job.
type JobResponse struct {
	JobID       string                 `json:"jobID"`
	AccountID   string                 `json:"accountID"`
	Name        string                 `json:"name"`
	SourceType  string                 `json:"sourceType"`
	SourceRefs  []string               `json:"sourceRefs"`
	Status      domain.JobStatus       `json:"status"`
	Schedule    domain.Schedule        `json:"schedule"`
	NextRunAt   *time.Time             `json:"nextRunAt,omitempty"`
	LastRun     *domain.LastRunSummary `json:"lastRun,omitempty"`
	RunCount    int64                  `json:"runCount"`
	ActiveRunID string                 `json:"activeRunID,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	CreatedBy   string                 `json:"createdBy"`
}

// ToJobResponse converts domain.Job to DTO.
func ToJobResponse(j *domain.Job) JobResponse {
	return JobResponse{
		JobID:       j.JobID,
		AccountID:   j.AccountID,
		Name:        j.Name,
		SourceType:  j.SourceType,
		SourceRefs:  j.SourceRefs,
		Status:      j.Status,
		Schedule:    j.Schedule,
		NextRunAt:   j.NextRunAt,
		LastRun:     j.LastRun,
		RunCount:    j.RunCount,
		ActiveRunID: j.ActiveRunID,
		CreatedAt:   j.CreatedAt,
		CreatedBy:   j.CreatedBy,
	}
}

// --- Run DTOs ---

// RunResponse defines data returned for a run.
type RunResponse struct {
	RunID            string             `json:"runID"`
	JobID            string             `json:"jobID"`
	AccountID        string             `json:"accountID"`
	Status           domain.RunStatus   `json:"status"`
	StartedAt        time.Time          `json:"startedAt"`
	FinishedAt       *time.Time         `json:"finishedAt,omitempty"`
	DurationMillis   int64              `json:"durationMillis"`
	RecordsProcessed int64              `json:"recordsProcessed"`
	FilesProcessed   int64              `json:"filesProcessed"`
	BytesProcessed   int64              `json:"bytesProcessed"`
	Error            string             `json:"error,omitempty"`
	TriggeredBy      domain.TriggeredBy `json:"triggeredBy"`
}

// ToRunResponse converts domain.Run to DTO.
func ToRunResponse(r *domain.Run) RunResponse {
	return RunResponse{
		RunID:            r.RunID,
		JobID:            r.JobID,
		AccountID:        r.AccountID,
		Status:           r.Status,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		DurationMillis:   r.Duration.Milliseconds(),
		RecordsProcessed: r.RecordsProcessed,
		FilesProcessed:   r.FilesProcessed,
		BytesProcessed:   r.BytesProcessed,
		Error:            r.Error,
		TriggeredBy:      r.Metadata.TriggeredBy,
	}
}

// ListRunsParams defines query parameters for listing runs.
type ListRunsParams struct {
	Limit     int    `form:"limit,default=20" binding:"min=1,max=100"`
	NextToken string `form:"nextToken"`
}

// ListRunsResponse wraps a page of runs.
type ListRunsResponse struct {
	Runs      []RunResponse `json:"runs"`
	NextToken *string       `json:"nextToken,omitempty"`
}

// ToListRunsResponse converts a page of runs to DTO.
func ToListRunsResponse(runs []domain.Run, nextToken *string) ListRunsResponse {
	list := make([]RunResponse, len(runs))
	for i := range runs {
		list[i] = ToRunResponse(&runs[i])
	}
	return ListRunsResponse{Runs: list, NextToken: nextToken}
}

// --- Activity DTOs ---

// ListActivityParams defines query parameters for listing activity.
type ListActivityParams struct {
	ResourceID string `form:"resourceID"`
	Limit      int    `form:"limit,default=50" binding:"min=1,max=200"`
	NextToken  string `form:"nextToken"`
}

// ListActivityResponse wraps a page of activity records.
type ListActivityResponse struct {
	Activities []domain.ActivityRecord `json:"activities"`
	NextToken  *string                 `json:"nextToken,omitempty"`
}

// UsageParams defines query parameters for the usage summary.
type UsageParams struct {
	Since time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
}
