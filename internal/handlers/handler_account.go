package handlers

import (
	"log/slog"
	"net/http"

	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/dto"
	"github.com/SscSPs/backup_orchestrator/internal/middleware"
	"github.com/gin-gonic/gin"
)

// accountHandler handles HTTP requests on the account tree and its memberships.
type accountHandler struct {
	hierarchyService portssvc.HierarchySvcFacade
}

func newAccountHandler(hs portssvc.HierarchySvcFacade) *accountHandler {
	return &accountHandler{hierarchyService: hs}
}

// RegisterAccountRoutes registers the account tree routes.
func RegisterAccountRoutes(rg *gin.RouterGroup, hierarchyService portssvc.HierarchySvcFacade) {
	h := newAccountHandler(hierarchyService)

	accounts := rg.Group("/accounts")
	{
		accounts.POST("", h.createRootAccount)
		accounts.POST("/:account_id/sub-accounts", h.createSubAccount)
		accounts.GET("/:account_id/hierarchy", h.getHierarchy)
		accounts.POST("/:account_id/reparent", h.reparent)
		accounts.POST("/:account_id/suspend", h.suspend)
		accounts.POST("/:account_id/members", h.grantMembership)
		accounts.GET("/:account_id/members", h.listMemberships)
	}
}

// createRootAccount creates a level 0 account owned by the caller.
func (h *accountHandler) createRootAccount(c *gin.Context) {
	var req dto.CreateRootAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err, "request format")
		return
	}
	userID, ok := actorID(c)
	if !ok {
		return
	}

	account, err := h.hierarchyService.CreateRootAccount(c.Request.Context(), req, userID)
	if err != nil {
		respondError(c, err, "create account")
		return
	}

	middleware.GetLoggerFromCtx(c.Request.Context()).Info("Root account created", slog.String("account_id", account.AccountID))
	c.JSON(http.StatusCreated, dto.ToAccountResponse(account))
}

func (h *accountHandler) createSubAccount(c *gin.Context) {
	parentID := c.Param("account_id")
	var req dto.CreateSubAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err, "request format")
		return
	}
	userID, ok := actorID(c)
	if !ok {
		return
	}

	account, err := h.hierarchyService.CreateSubAccount(c.Request.Context(), parentID, req, userID)
	if err != nil {
		respondError(c, err, "create sub-account")
		return
	}

	middleware.GetLoggerFromCtx(c.Request.Context()).Info("Sub-account created",
		slog.String("parent_account_id", parentID), slog.String("account_id", account.AccountID))
	c.JSON(http.StatusCreated, dto.ToAccountResponse(account))
}

func (h *accountHandler) getHierarchy(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}

	hierarchy, err := h.hierarchyService.GetHierarchy(c.Request.Context(), c.Param("account_id"), userID)
	if err != nil {
		respondError(c, err, "resolve hierarchy")
		return
	}
	c.JSON(http.StatusOK, dto.ToHierarchyResponse(hierarchy))
}

// reparent moves the account and its subtree. An absent newParentAccountID detaches it to a root.
func (h *accountHandler) reparent(c *gin.Context) {
	accountID := c.Param("account_id")
	var req dto.ReparentAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err, "request format")
		return
	}
	userID, ok := actorID(c)
	if !ok {
		return
	}

	account, err := h.hierarchyService.Reparent(c.Request.Context(), accountID, req.NewParentAccountID, userID)
	if err != nil {
		respondError(c, err, "re-parent account")
		return
	}

	middleware.GetLoggerFromCtx(c.Request.Context()).Info("Account re-parented",
		slog.String("account_id", accountID), slog.String("account_path", account.AccountPath))
	c.JSON(http.StatusOK, dto.ToAccountResponse(account))
}

func (h *accountHandler) suspend(c *gin.Context) {
	accountID := c.Param("account_id")
	var req dto.SuspendAccountRequest
	// The body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err, "request format")
			return
		}
	}
	userID, ok := actorID(c)
	if !ok {
		return
	}

	if err := h.hierarchyService.SuspendAccount(c.Request.Context(), accountID, req, userID); err != nil {
		respondError(c, err, "suspend account")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *accountHandler) grantMembership(c *gin.Context) {
	var req dto.GrantMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err, "request format")
		return
	}
	userID, ok := actorID(c)
	if !ok {
		return
	}

	membership, err := h.hierarchyService.GrantMembership(c.Request.Context(), c.Param("account_id"), req, userID)
	if err != nil {
		respondError(c, err, "grant membership")
		return
	}
	c.JSON(http.StatusCreated, dto.ToMembershipResponse(membership))
}

func (h *accountHandler) listMemberships(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}

	memberships, err := h.hierarchyService.ListMemberships(c.Request.Context(), c.Param("account_id"), userID)
	if err != nil {
		respondError(c, err, "list memberships")
		return
	}
	c.JSON(http.StatusOK, dto.ToListMembershipsResponse(memberships))
}
