package services

import (
	"context"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	"github.com/SscSPs/backup_orchestrator/internal/dto"
)

// AccountAuthorizerSvc answers capability checks against the account tree.
type AccountAuthorizerSvc interface {
	// Authorize succeeds iff the user holds an Active membership on accountID granting the
	// capability, or an Active membership on a strict ancestor that grants canViewAllData and
	// the capability. It returns apperrors.ErrForbidden otherwise.
	Authorize(ctx context.Context, userID, accountID string, capability domain.Capability) error
}

// HierarchyReaderSvc defines read operations on the account tree
type HierarchyReaderSvc interface {
	// ResolveHierarchy returns the account's ancestors (root first) and direct children.
	ResolveHierarchy(ctx context.Context, accountID string) (*domain.AccountHierarchy, error)

	// GetHierarchy is ResolveHierarchy guarded by canViewAllData.
	GetHierarchy(ctx context.Context, accountID, actorUserID string) (*domain.AccountHierarchy, error)

	ListMemberships(ctx context.Context, accountID, actorUserID string) ([]domain.UserAccountMembership, error)
}

// HierarchyWriterSvc defines structural changes to the account tree
type HierarchyWriterSvc interface {
	// CreateRootAccount creates a level 0 account owned by the user (signup).
	CreateRootAccount(ctx context.Context, req dto.CreateRootAccountRequest, userID string) (*domain.Account, error)

	CreateSubAccount(ctx context.Context, parentAccountID string, req dto.CreateSubAccountRequest, actorUserID string) (*domain.Account, error)

	// Reparent moves the account under newParentID (nil makes it a root) and recomputes the
	// path and level of the whole subtree.
	Reparent(ctx context.Context, accountID string, newParentID *string, actorUserID string) (*domain.Account, error)

	// SuspendAccount suspends the account with its subtree and force-fails their active runs.
	SuspendAccount(ctx context.Context, accountID string, req dto.SuspendAccountRequest, actorUserID string) error

	GrantMembership(ctx context.Context, accountID string, req dto.GrantMembershipRequest, actorUserID string) (*domain.UserAccountMembership, error)
}

// HierarchySvcFacade combines all hierarchy-related service interfaces
type HierarchySvcFacade interface {
	AccountAuthorizerSvc
	HierarchyReaderSvc
	HierarchyWriterSvc
}
