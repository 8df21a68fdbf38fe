package domain

import (
	"slices"
	"time"
)

// MembershipRole defines the role a user holds within an account.
type MembershipRole string

const (
	RoleOwner  MembershipRole = "OWNER"
	RoleMember MembershipRole = "MEMBER"
)

// MembershipStatus defines whether a membership currently grants anything.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "ACTIVE"
	MembershipSuspended MembershipStatus = "SUSPENDED"
)

// Capability is a single permission a membership can carry.
type Capability string

const (
	CanCreateSubAccounts  Capability = "canCreateSubAccounts"
	CanInviteUsers        Capability = "canInviteUsers"
	CanManageIntegrations Capability = "canManageIntegrations"
	CanViewAllData        Capability = "canViewAllData"
	CanManageBilling      Capability = "canManageBilling"
	CanDeleteAccount      Capability = "canDeleteAccount"
	CanModifySettings     Capability = "canModifySettings"
	CanManageJobs         Capability = "canManageJobs"
)

// AllCapabilities is the full owner permission set.
var AllCapabilities = []Capability{
	CanCreateSubAccounts,
	CanInviteUsers,
	CanManageIntegrations,
	CanViewAllData,
	CanManageBilling,
	CanDeleteAccount,
	CanModifySettings,
	CanManageJobs,
}

// IsValidCapability reports whether c is a known capability.
func IsValidCapability(c Capability) bool {
	return slices.Contains(AllCapabilities, c)
}

// OwnerPermissions returns a fresh copy of the full owner permission set.
func OwnerPermissions() []Capability {
	return slices.Clone(AllCapabilities)
}

// UserAccountMembership relates a user to an account. Exactly one exists per (UserID, AccountID).
type UserAccountMembership struct {
	UserID      string           `json:"userID"`
	AccountID   string           `json:"accountID"`
	Role        MembershipRole   `json:"role"`
	Permissions []Capability     `json:"permissions"`
	Status      MembershipStatus `json:"status"`
	JoinedAt    time.Time        `json:"joinedAt"`
}

// IsActive reports whether the membership currently grants capabilities.
func (m UserAccountMembership) IsActive() bool {
	return m.Status == MembershipActive
}

// Has reports whether the membership carries capability c. Owners carry every capability.
func (m UserAccountMembership) Has(c Capability) bool {
	if m.Role == RoleOwner {
		return true
	}
	return slices.Contains(m.Permissions, c)
}

// Grants reports whether the membership authorizes c directly on its own account.
func (m UserAccountMembership) Grants(c Capability) bool {
	return m.IsActive() && m.Has(c)
}

// GrantsToDescendants reports whether the membership authorizes c on accounts below its own.
// Inheritance flows downward only from memberships that can view all data.
func (m UserAccountMembership) GrantsToDescendants(c Capability) bool {
	return m.IsActive() && m.Has(CanViewAllData) && m.Has(c)
}

// NewOwnerMembership builds the Owner membership created alongside a new or migrated account.
func NewOwnerMembership(userID, accountID string, joinedAt time.Time) UserAccountMembership {
	return UserAccountMembership{
		UserID:      userID,
		AccountID:   accountID,
		Role:        RoleOwner,
		Permissions: OwnerPermissions(),
		Status:      MembershipActive,
		JoinedAt:    joinedAt,
	}
}
