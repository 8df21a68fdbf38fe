package dto

import (
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
)

// --- Account DTOs ---

// CreateRootAccountRequest defines data for creating a root account on signup.
type CreateRootAccountRequest struct {
	Name string `json:"name" binding:"required,max=200"`
}

// CreateSubAccountRequest defines data for creating a child account.
type CreateSubAccountRequest struct {
	Name             string `json:"name" binding:"required,max=200"`
	AllowSubAccounts *bool  `json:"allowSubAccounts"`
	MaxSubAccounts   *int   `json:"maxSubAccounts" binding:"omitempty,min=0"`
}

// ReparentAccountRequest moves an account under a new parent; nil makes it a root.
type ReparentAccountRequest struct {
	NewParentAccountID *string `json:"newParentAccountID"`
}

// SuspendAccountRequest carries an optional human readable reason.
type SuspendAccountRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// AccountResponse defines data returned for an account.
type AccountResponse struct {
	AccountID       string                 `json:"accountID"`
	Name            string                 `json:"name"`
	ParentAccountID *string                `json:"parentAccountID,omitempty"`
	AccountPath     string                 `json:"accountPath"`
	Level           int                    `json:"level"`
	OwnerUserID     string                 `json:"ownerUserID"`
	Status          domain.AccountStatus   `json:"status"`
	Settings        domain.AccountSettings `json:"settings"`
	CreatedAt       time.Time              `json:"createdAt"`
	LastUpdatedAt   time.Time              `json:"lastUpdatedAt"`
}

// ToAccountResponse converts domain.Account to DTO.
func ToAccountResponse(a *domain.Account) AccountResponse {
	return AccountResponse{
		AccountID:       a.AccountID,
		Name:            a.Name,
		ParentAccountID: a.ParentAccountID,
		AccountPath:     a.AccountPath,
		Level:           a.Level,
		OwnerUserID:     a.OwnerUserID,
		Status:          a.Status,
		Settings:        a.Settings,
		CreatedAt:       a.CreatedAt,
		LastUpdatedAt:   a.LastUpdatedAt,
	}
}

func toAccountResponses(accounts []domain.Account) []AccountResponse {
	list := make([]AccountResponse, len(accounts))
	for i := range accounts {
		list[i] = ToAccountResponse(&accounts[i])
	}
	return list
}

// HierarchyResponse wraps an account with its ancestors and direct children.
type HierarchyResponse struct {
	Account   AccountResponse   `json:"account"`
	Ancestors []AccountResponse `json:"ancestors"`
	Children  []AccountResponse `json:"children"`
}

// ToHierarchyResponse converts domain.AccountHierarchy to DTO.
func ToHierarchyResponse(h *domain.AccountHierarchy) HierarchyResponse {
	return HierarchyResponse{
		Account:   ToAccountResponse(&h.Account),
		Ancestors: toAccountResponses(h.Ancestors),
		Children:  toAccountResponses(h.Children),
	}
}

// --- Membership DTOs ---

// GrantMembershipRequest defines data for adding a user to an account.
type GrantMembershipRequest struct {
	UserID      string                `json:"userID" binding:"required"`
	Role        domain.MembershipRole `json:"role" binding:"required,oneof=OWNER MEMBER"`
	Permissions []domain.Capability   `json:"permissions" binding:"dive,capability"`
}

// MembershipResponse defines data returned about a membership.
type MembershipResponse struct {
	UserID      string                  `json:"userID"`
	AccountID   string                  `json:"accountID"`
	Role        domain.MembershipRole   `json:"role"`
	Permissions []domain.Capability     `json:"permissions"`
	Status      domain.MembershipStatus `json:"status"`
	JoinedAt    time.Time               `json:"joinedAt"`
}

// ToMembershipResponse converts domain.UserAccountMembership to DTO.
func ToMembershipResponse(m *domain.UserAccountMembership) MembershipResponse {
	return MembershipResponse{
		UserID:      m.UserID,
		AccountID:   m.AccountID,
		Role:        m.Role,
		Permissions: m.Permissions,
		Status:      m.Status,
		JoinedAt:    m.JoinedAt,
	}
}

// ListMembershipsResponse wraps a list of memberships.
type ListMembershipsResponse struct {
	Memberships []MembershipResponse `json:"memberships"`
}

// ToListMembershipsResponse converts a slice of memberships to DTO.
func ToListMembershipsResponse(ms []domain.UserAccountMembership) ListMembershipsResponse {
	list := make([]MembershipResponse, len(ms))
	for i := range ms {
		list[i] = ToMembershipResponse(&ms[i])
	}
	return ListMembershipsResponse{Memberships: list}
}
