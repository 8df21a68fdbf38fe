package repositories

import (
	"context"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
)

// AccountReader defines read operations for the account tree
type AccountReader interface {
	// FindAccountByID retrieves an account by its ID.
	FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error)

	// FindAccountsByIDs retrieves the accounts that exist among the given IDs.
	FindAccountsByIDs(ctx context.Context, accountIDs []string) (map[string]domain.Account, error)

	// ListSubtree returns the account at rootPath and every account whose path lies beneath it,
	// ordered by level.
	ListSubtree(ctx context.Context, rootPath string) ([]domain.Account, error)

	// CountChildren returns the number of direct children of an account.
	CountChildren(ctx context.Context, parentAccountID string) (int, error)
}

// AccountWriter defines write operations for the account tree
type AccountWriter interface {
	// SaveAccount persists a new root account together with its owner membership.
	SaveAccount(ctx context.Context, account domain.Account, owner domain.UserAccountMembership) error

	// SaveSubAccount persists a child account and its owner membership. It must serialize against
	// other writers on the parent and fail with ErrPolicyViolation when the parent no longer allows
	// sub-accounts or already has maxSubAccounts children.
	SaveSubAccount(ctx context.Context, child domain.Account, owner domain.UserAccountMembership) error

	// MoveSubtree re-parents an account and rewrites the cached path and level of every
	// descendant as one exclusive operation. It fails with ErrConflict when the account's parent
	// or path no longer match the move, and with ErrPolicyViolation when the new parent is full.
	MoveSubtree(ctx context.Context, move SubtreeMove) error

	// SetSubtreeStatus sets the status of the account at rootPath and all its descendants.
	// It returns the IDs of the accounts it touched.
	SetSubtreeStatus(ctx context.Context, rootPath string, status domain.AccountStatus, updatedBy string, at time.Time) ([]string, error)
}

// SubtreeMove describes a re-parent of the subtree rooted at AccountID.
type SubtreeMove struct {
	AccountID      string
	NewParentID    *string
	OldPath        string
	NewPath        string
	LevelDelta     int
	ExpectedParent *string // guards against concurrent re-parents of the same account
	UpdatedBy      string
	At             time.Time
}

// AccountRepositoryFacade combines all account-related repository interfaces
type AccountRepositoryFacade interface {
	AccountReader
	AccountWriter
}

// MembershipRepository defines operations on user/account memberships
type MembershipRepository interface {
	// FindMembership retrieves the membership for a (user, account) pair.
	FindMembership(ctx context.Context, userID, accountID string) (*domain.UserAccountMembership, error)

	// FindUserMemberships returns the memberships a user holds among the given accounts.
	FindUserMemberships(ctx context.Context, userID string, accountIDs []string) ([]domain.UserAccountMembership, error)

	// ListAccountMemberships lists every membership of an account.
	ListAccountMemberships(ctx context.Context, accountID string) ([]domain.UserAccountMembership, error)

	// SaveMembership adds a membership or replaces role, permissions and status of an existing one.
	SaveMembership(ctx context.Context, membership domain.UserAccountMembership) error

	// CreateMembershipIfAbsent inserts the membership only when no row exists for the pair.
	// It reports whether a row was created.
	CreateMembershipIfAbsent(ctx context.Context, membership domain.UserAccountMembership) (bool, error)

	// CountMemberships counts rows for a (user, account) pair.
	CountMemberships(ctx context.Context, userID, accountID string) (int, error)
}
