package handlers

import (
	"log/slog"
	"net/http"

	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/dto"
	"github.com/SscSPs/backup_orchestrator/internal/middleware"
	"github.com/gin-gonic/gin"
)

// jobHandler handles HTTP requests for jobs and their runs.
type jobHandler struct {
	jobRunService portssvc.JobRunSvcFacade
}

func newJobHandler(js portssvc.JobRunSvcFacade) *jobHandler {
	return &jobHandler{jobRunService: js}
}

// RegisterJobRoutes registers job and run routes. runLimit, when set, guards run triggers.
func RegisterJobRoutes(rg *gin.RouterGroup, jobRunService portssvc.JobRunSvcFacade, runLimit gin.HandlerFunc) {
	h := newJobHandler(jobRunService)

	rg.POST("/accounts/:account_id/jobs", h.createJob)

	jobs := rg.Group("/jobs/:job_id")
	{
		jobs.GET("", h.getJob)
		jobs.DELETE("", h.deleteJob)
		jobs.PUT("/schedule", h.updateSchedule)
		jobs.PUT("/status", h.setStatus)
		jobs.GET("/runs", h.listRuns)
		if runLimit != nil {
			jobs.POST("/runs", runLimit, h.startRun)
		} else {
			jobs.POST("/runs", h.startRun)
		}
	}

	rg.GET("/runs/:run_id", h.getRun)
}

func (h *jobHandler) createJob(c *gin.Context) {
	accountID := c.Param("account_id")
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err, "request format")
		return
	}
	userID, ok := actorID(c)
	if !ok {
		return
	}

	job, err := h.jobRunService.CreateJob(c.Request.Context(), accountID, req, userID)
	if err != nil {
		respondError(c, err, "create job")
		return
	}

	middleware.GetLoggerFromCtx(c.Request.Context()).Info("Job created",
		slog.String("account_id", accountID), slog.String("job_id", job.JobID))
	c.JSON(http.StatusCreated, dto.ToJobResponse(job))
}

func (h *jobHandler) getJob(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}
	job, err := h.jobRunService.GetJob(c.Request.Context(), c.Param("job_id"), userID)
	if err != nil {
		respondError(c, err, "retrieve job")
		return
	}
	c.JSON(http.StatusOK, dto.ToJobResponse(job))
}

// deleteJob is refused with 409 and the active run id while a run is pending or running.
func (h *jobHandler) deleteJob(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}
	if err := h.jobRunService.DeleteJob(c.Request.Context(), c.Param("job_id"), userID); err != nil {
		respondError(c, err, "delete job")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *jobHandler) updateSchedule(c *gin.Context) {
	var req dto.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err, "request format")
		return
	}
	userID, ok := actorID(c)
	if !ok {
		return
	}

	job, err := h.jobRunService.UpdateJobSchedule(c.Request.Context(), c.Param("job_id"), req.ToSchedule(), userID)
	if err != nil {
		respondError(c, err, "update job schedule")
		return
	}
	c.JSON(http.StatusOK, dto.ToJobResponse(job))
}

func (h *jobHandler) setStatus(c *gin.Context) {
	var req dto.UpdateJobStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err, "request format")
		return
	}
	userID, ok := actorID(c)
	if !ok {
		return
	}

	job, err := h.jobRunService.SetJobStatus(c.Request.Context(), c.Param("job_id"), req.Status, userID)
	if err != nil {
		respondError(c, err, "update job status")
		return
	}
	c.JSON(http.StatusOK, dto.ToJobResponse(job))
}

// startRun answers 202 with the pending run; execution continues in the background.
func (h *jobHandler) startRun(c *gin.Context) {
	jobID := c.Param("job_id")
	userID, ok := actorID(c)
	if !ok {
		return
	}

	run, err := h.jobRunService.StartRun(c.Request.Context(), jobID, userID)
	if err != nil {
		respondError(c, err, "start run")
		return
	}

	middleware.GetLoggerFromCtx(c.Request.Context()).Info("Run started",
		slog.String("job_id", jobID), slog.String("run_id", run.RunID))
	c.JSON(http.StatusAccepted, dto.ToRunResponse(run))
}

func (h *jobHandler) listRuns(c *gin.Context) {
	var params dto.ListRunsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondBindError(c, err, "query parameters")
		return
	}
	userID, ok := actorID(c)
	if !ok {
		return
	}

	runs, next, err := h.jobRunService.ListRuns(c.Request.Context(), c.Param("job_id"), userID, params)
	if err != nil {
		respondError(c, err, "list runs")
		return
	}
	c.JSON(http.StatusOK, dto.ToListRunsResponse(runs, next))
}

func (h *jobHandler) getRun(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}
	run, err := h.jobRunService.GetRun(c.Request.Context(), c.Param("run_id"), userID)
	if err != nil {
		respondError(c, err, "retrieve run")
		return
	}
	c.JSON(http.StatusOK, dto.ToRunResponse(run))
}
