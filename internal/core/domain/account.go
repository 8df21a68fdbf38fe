package domain

import (
	"fmt"
	"slices"
	"strings"
)

// PathSeparator delimits account identifiers inside an AccountPath.
const PathSeparator = "/"

// DefaultMaxSubAccounts is applied to accounts that carry no explicit limit.
const DefaultMaxSubAccounts = 10

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
)

// AccountSettings holds the sub-account policy of an account.
type AccountSettings struct {
	AllowSubAccounts bool `json:"allowSubAccounts"`
	MaxSubAccounts   int  `json:"maxSubAccounts"`
}

// DefaultAccountSettings returns hierarchy-capable defaults.
func DefaultAccountSettings(maxSubAccounts int) AccountSettings {
	if maxSubAccounts <= 0 {
		maxSubAccounts = DefaultMaxSubAccounts
	}
	return AccountSettings{AllowSubAccounts: true, MaxSubAccounts: maxSubAccounts}
}

// Account is a tenant in the account tree.
//
// ParentAccountID is the authoritative edge. AccountPath and Level are derived
// caches recomputed whenever the parent changes.
type Account struct {
	AccountID       string          `json:"accountID"`
	Name            string          `json:"name"`
	ParentAccountID *string         `json:"parentAccountID,omitempty"`
	AccountPath     string          `json:"accountPath"`
	Level           int             `json:"level"`
	OwnerUserID     string          `json:"ownerUserID"`
	Status          AccountStatus   `json:"status"`
	Settings        AccountSettings `json:"settings"`
	Version         int64           `json:"version"`
	AuditFields
}

// IsRoot reports whether the account has no parent.
func (a Account) IsRoot() bool {
	return a.ParentAccountID == nil || *a.ParentAccountID == ""
}

// IsActive reports whether the account may be used for new work.
func (a Account) IsActive() bool {
	return a.Status == "" || a.Status == AccountActive
}

// AncestorIDs returns the identifiers of every strict ancestor, root first.
func (a Account) AncestorIDs() []string {
	segments := PathSegments(a.AccountPath)
	if len(segments) <= 1 {
		return nil
	}
	return segments[:len(segments)-1]
}

// HasAncestor reports whether accountID appears as a strict ancestor in the path.
func (a Account) HasAncestor(accountID string) bool {
	return slices.Contains(a.AncestorIDs(), accountID)
}

// CheckConsistency verifies that the cached path and level agree with the
// account identity and its parent reference.
func (a Account) CheckConsistency() error {
	segments := PathSegments(a.AccountPath)
	if len(segments) == 0 || segments[len(segments)-1] != a.AccountID {
		return fmt.Errorf("account %s: path %q does not terminate in its own id", a.AccountID, a.AccountPath)
	}
	if a.Level != len(segments)-1 {
		return fmt.Errorf("account %s: level %d does not match path depth %d", a.AccountID, a.Level, len(segments)-1)
	}
	if a.IsRoot() {
		if len(segments) != 1 {
			return fmt.Errorf("account %s: root account with non-root path %q", a.AccountID, a.AccountPath)
		}
		return nil
	}
	if len(segments) < 2 || segments[len(segments)-2] != *a.ParentAccountID {
		return fmt.Errorf("account %s: path %q does not terminate in parent %s", a.AccountID, a.AccountPath, *a.ParentAccountID)
	}
	return nil
}

// RootPath builds the path of a root account.
func RootPath(accountID string) string {
	return PathSeparator + accountID
}

// ChildPath builds the path of a direct child of the account at parentPath.
func ChildPath(parentPath, childID string) string {
	return strings.TrimSuffix(parentPath, PathSeparator) + PathSeparator + childID
}

// PathSegments splits an account path into identifiers, root first.
func PathSegments(path string) []string {
	trimmed := strings.Trim(path, PathSeparator)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, PathSeparator)
}

// IsSubtreePath reports whether path equals root or lies beneath it.
func IsSubtreePath(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+PathSeparator)
}

// RebasePath moves path from oldRoot to newRoot, keeping the suffix below oldRoot.
func RebasePath(path, oldRoot, newRoot string) string {
	return newRoot + strings.TrimPrefix(path, oldRoot)
}

// ValidAccountID reports whether id can be embedded in an account path.
func ValidAccountID(id string) bool {
	return id != "" && !strings.Contains(id, PathSeparator)
}

// AccountHierarchy is an account together with its ancestors (root first) and direct children.
type AccountHierarchy struct {
	Account   Account   `json:"account"`
	Ancestors []Account `json:"ancestors"`
	Children  []Account `json:"children"`
}
