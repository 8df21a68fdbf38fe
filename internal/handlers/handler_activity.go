package handlers

import (
	"net/http"

	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/dto"
	"github.com/gin-gonic/gin"
)

type activityHandler struct {
	activityService portssvc.ActivitySvc
	usageService    portssvc.UsageSvc
}

// RegisterActivityRoutes registers the audit trail and usage read routes of an account.
func RegisterActivityRoutes(rg *gin.RouterGroup, activityService portssvc.ActivitySvc, usageService portssvc.UsageSvc) {
	h := &activityHandler{activityService: activityService, usageService: usageService}

	rg.GET("/accounts/:account_id/activity", h.listActivity)
	rg.GET("/accounts/:account_id/usage", h.getUsage)
}

func (h *activityHandler) listActivity(c *gin.Context) {
	var params dto.ListActivityParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondBindError(c, err, "query parameters")
		return
	}
	userID, ok := actorID(c)
	if !ok {
		return
	}

	records, next, err := h.activityService.ListActivity(c.Request.Context(), c.Param("account_id"), userID, params)
	if err != nil {
		respondError(c, err, "list activity")
		return
	}
	c.JSON(http.StatusOK, dto.ListActivityResponse{Activities: records, NextToken: next})
}

// getUsage sums completed runs since the optional RFC 3339 "since" parameter.
func (h *activityHandler) getUsage(c *gin.Context) {
	var params dto.UsageParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondBindError(c, err, "query parameters")
		return
	}
	userID, ok := actorID(c)
	if !ok {
		return
	}

	summary, err := h.usageService.GetAccountUsage(c.Request.Context(), c.Param("account_id"), userID, params.Since)
	if err != nil {
		respondError(c, err, "aggregate usage")
		return
	}
	c.JSON(http.StatusOK, summary)
}
