package services_test

import (
	"testing"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/core/services"
	"github.com/SscSPs/backup_orchestrator/internal/dto"
	"github.com/stretchr/testify/suite"
)

const (
	ownerID    = "user-owner"
	viewerID   = "user-viewer"
	strangerID = "user-stranger"
)

type HierarchyServiceTestSuite struct {
	suite.Suite
	f         *fixture
	hierarchy portssvc.HierarchySvcFacade
	root      *domain.Account
}

func TestHierarchyService(t *testing.T) {
	suite.Run(t, new(HierarchyServiceTestSuite))
}

func (s *HierarchyServiceTestSuite) SetupTest() {
	s.f = newFixture(s.T())
	s.hierarchy = services.NewHierarchyService(
		s.f.repos.AccountRepo,
		s.f.repos.MembershipRepo,
		services.WithHierarchyClock(s.f.clock),
		services.WithHierarchyActivity(s.f.svc.Activity),
		services.WithRunTerminator(s.f.svc.Watchdog),
		services.WithAccountIDGenerator(sequence("root", "child", "grandchild", "sibling")),
	)
	var err error
	s.root, err = s.hierarchy.CreateRootAccount(s.f.ctx, dto.CreateRootAccountRequest{Name: "Root"}, ownerID)
	s.Require().NoError(err)
}

func (s *HierarchyServiceTestSuite) createSub(parentID string, req dto.CreateSubAccountRequest) *domain.Account {
	if req.Name == "" {
		req.Name = "sub"
	}
	account, err := s.hierarchy.CreateSubAccount(s.f.ctx, parentID, req, ownerID)
	s.Require().NoError(err)
	return account
}

func (s *HierarchyServiceTestSuite) TestCreateRootAccount() {
	s.Equal("/root", s.root.AccountPath)
	s.Equal(0, s.root.Level)
	s.True(s.root.Settings.AllowSubAccounts)
	s.Equal(domain.DefaultMaxSubAccounts, s.root.Settings.MaxSubAccounts)

	owner, err := s.f.repos.MembershipRepo.FindMembership(s.f.ctx, ownerID, "root")
	s.Require().NoError(err)
	s.Equal(domain.RoleOwner, owner.Role)
	s.ElementsMatch(domain.AllCapabilities, owner.Permissions)
}

func (s *HierarchyServiceTestSuite) TestCreateSubAccount_DerivesPathAndLevel() {
	child := s.createSub("root", dto.CreateSubAccountRequest{Name: "Child"})
	s.Equal(1, child.Level)
	s.Equal("/root/child", child.AccountPath)
	s.Require().NotNil(child.ParentAccountID)
	s.Equal("root", *child.ParentAccountID)
	s.NoError(child.CheckConsistency())

	grandchild := s.createSub("child", dto.CreateSubAccountRequest{})
	s.Equal(child.Level+1, grandchild.Level)
	s.Equal(child.AccountPath+"/"+grandchild.AccountID, grandchild.AccountPath)

	membership, err := s.f.repos.MembershipRepo.FindMembership(s.f.ctx, ownerID, "child")
	s.Require().NoError(err)
	s.Equal(domain.RoleOwner, membership.Role)

	s.Equal([]string{domain.ActivitySubAccountCreated}, s.f.activityTypes("root", "child"))
}

func (s *HierarchyServiceTestSuite) TestAuthorize_InheritsFromAncestorWithViewAllData() {
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Child"})

	// An owner of root holds canViewAllData there, so it reaches the child.
	s.NoError(s.hierarchy.Authorize(s.f.ctx, ownerID, "child", domain.CanViewAllData))
	s.NoError(s.hierarchy.Authorize(s.f.ctx, ownerID, "child", domain.CanManageJobs))

	_, err := s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      viewerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{domain.CanViewAllData},
	}, ownerID)
	s.Require().NoError(err)

	s.NoError(s.hierarchy.Authorize(s.f.ctx, viewerID, "child", domain.CanViewAllData))
	s.ErrorIs(s.hierarchy.Authorize(s.f.ctx, viewerID, "child", domain.CanManageJobs), apperrors.ErrForbidden,
		"inheritance never adds capabilities the ancestor membership lacks")
}

func (s *HierarchyServiceTestSuite) TestAuthorize_NeverFlowsUpward() {
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Child"})
	_, err := s.hierarchy.GrantMembership(s.f.ctx, "child", dto.GrantMembershipRequest{UserID: viewerID, Role: domain.RoleOwner}, ownerID)
	s.Require().NoError(err)

	s.NoError(s.hierarchy.Authorize(s.f.ctx, viewerID, "child", domain.CanDeleteAccount))
	s.ErrorIs(s.hierarchy.Authorize(s.f.ctx, viewerID, "root", domain.CanViewAllData), apperrors.ErrForbidden)
	s.ErrorIs(s.hierarchy.Authorize(s.f.ctx, strangerID, "child", domain.CanViewAllData), apperrors.ErrForbidden)
	s.ErrorIs(s.hierarchy.Authorize(s.f.ctx, ownerID, "missing", domain.CanViewAllData), apperrors.ErrNotFound)
}

func (s *HierarchyServiceTestSuite) TestAuthorize_DirectMembershipWithoutViewAllDataDoesNotInherit() {
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Child"})
	_, err := s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      viewerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{domain.CanManageJobs},
	}, ownerID)
	s.Require().NoError(err)

	s.NoError(s.hierarchy.Authorize(s.f.ctx, viewerID, "root", domain.CanManageJobs))
	s.ErrorIs(s.hierarchy.Authorize(s.f.ctx, viewerID, "child", domain.CanManageJobs), apperrors.ErrForbidden)
}

func (s *HierarchyServiceTestSuite) TestCreateSubAccount_PolicyViolations() {
	noChildren := false
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Leaf only", AllowSubAccounts: &noChildren})
	_, err := s.hierarchy.CreateSubAccount(s.f.ctx, "child", dto.CreateSubAccountRequest{Name: "x"}, ownerID)
	s.ErrorIs(err, apperrors.ErrPolicyViolation)

	one := 1
	s.createSub("root", dto.CreateSubAccountRequest{Name: "One slot", MaxSubAccounts: &one}) // "grandchild"
	s.createSub("grandchild", dto.CreateSubAccountRequest{})
	_, err = s.hierarchy.CreateSubAccount(s.f.ctx, "grandchild", dto.CreateSubAccountRequest{Name: "too many"}, ownerID)
	s.ErrorIs(err, apperrors.ErrPolicyViolation)
}

func (s *HierarchyServiceTestSuite) TestCreateSubAccount_Forbidden() {
	_, err := s.hierarchy.CreateSubAccount(s.f.ctx, "root", dto.CreateSubAccountRequest{Name: "x"}, strangerID)
	s.ErrorIs(err, apperrors.ErrForbidden)
}

func (s *HierarchyServiceTestSuite) TestResolveHierarchy() {
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Child"})
	s.createSub("child", dto.CreateSubAccountRequest{Name: "Grandchild"})
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Sibling"})

	h, err := s.hierarchy.ResolveHierarchy(s.f.ctx, "child")
	s.Require().NoError(err)
	s.Equal("child", h.Account.AccountID)
	s.Require().Len(h.Ancestors, 1)
	s.Equal("root", h.Ancestors[0].AccountID)
	s.Require().Len(h.Children, 1)
	s.Equal("grandchild", h.Children[0].AccountID)

	h, err = s.hierarchy.GetHierarchy(s.f.ctx, "root", ownerID)
	s.Require().NoError(err)
	s.Empty(h.Ancestors)
	s.Len(h.Children, 2)

	_, err = s.hierarchy.ResolveHierarchy(s.f.ctx, "missing")
	s.ErrorIs(err, apperrors.ErrNotFound)
	_, err = s.hierarchy.GetHierarchy(s.f.ctx, "root", strangerID)
	s.ErrorIs(err, apperrors.ErrForbidden)
}

func (s *HierarchyServiceTestSuite) TestReparent_RejectsCycles() {
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Child"})
	s.createSub("child", dto.CreateSubAccountRequest{Name: "Grandchild"})

	for _, tc := range []struct{ account, newParent string }{
		{"child", "child"},
		{"child", "grandchild"},
		{"root", "child"},
		{"root", "grandchild"},
		{"grandchild", "grandchild"},
	} {
		newParent := tc.newParent
		_, err := s.hierarchy.Reparent(s.f.ctx, tc.account, &newParent, ownerID)
		s.ErrorIs(err, apperrors.ErrCycle, "%s under %s", tc.account, tc.newParent)
	}

	child, err := s.f.repos.AccountRepo.FindAccountByID(s.f.ctx, "child")
	s.Require().NoError(err)
	s.Equal("/root/child", child.AccountPath, "a rejected move leaves the tree untouched")
}

func (s *HierarchyServiceTestSuite) TestReparent_RecomputesSubtree() {
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Child"})
	s.createSub("child", dto.CreateSubAccountRequest{Name: "Grandchild"})
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Sibling"})

	newParent := "sibling"
	moved, err := s.hierarchy.Reparent(s.f.ctx, "child", &newParent, ownerID)
	s.Require().NoError(err)
	s.Equal("/root/sibling/child", moved.AccountPath)
	s.Equal(2, moved.Level)
	s.Equal("sibling", *moved.ParentAccountID)

	grandchild, err := s.f.repos.AccountRepo.FindAccountByID(s.f.ctx, "grandchild")
	s.Require().NoError(err)
	s.Equal("/root/sibling/child/grandchild", grandchild.AccountPath)
	s.Equal(3, grandchild.Level)
	s.NoError(grandchild.CheckConsistency())

	// Detaching makes the account a root of its own tree.
	detached, err := s.hierarchy.Reparent(s.f.ctx, "child", nil, ownerID)
	s.Require().NoError(err)
	s.Equal("/child", detached.AccountPath)
	s.Equal(0, detached.Level)
	s.Nil(detached.ParentAccountID)

	grandchild, err = s.f.repos.AccountRepo.FindAccountByID(s.f.ctx, "grandchild")
	s.Require().NoError(err)
	s.Equal("/child/grandchild", grandchild.AccountPath)
	s.Equal(1, grandchild.Level)

	s.Contains(s.f.activityTypes("child", "child"), domain.ActivityAccountReparented)
}

func (s *HierarchyServiceTestSuite) TestReparent_RespectsNewParentPolicy() {
	noChildren := false
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Closed", AllowSubAccounts: &noChildren})
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Mover"})

	closed := "child"
	_, err := s.hierarchy.Reparent(s.f.ctx, "grandchild", &closed, ownerID)
	s.ErrorIs(err, apperrors.ErrPolicyViolation)
}

func (s *HierarchyServiceTestSuite) TestSuspendAccount_SuspendsSubtreeAndFailsRuns() {
	s.createSub("root", dto.CreateSubAccountRequest{Name: "Child"})
	s.createSub("child", dto.CreateSubAccountRequest{Name: "Grandchild"})

	job := s.f.job("grandchild", ownerID)
	run, err := s.f.svc.JobRun.StartRun(s.f.ctx, job.JobID, ownerID)
	s.Require().NoError(err)

	s.Require().NoError(s.hierarchy.SuspendAccount(s.f.ctx, "child", dto.SuspendAccountRequest{Reason: "billing"}, ownerID))

	for _, id := range []string{"child", "grandchild"} {
		a, err := s.f.repos.AccountRepo.FindAccountByID(s.f.ctx, id)
		s.Require().NoError(err)
		s.Equal(domain.AccountSuspended, a.Status, id)
	}
	root, err := s.f.repos.AccountRepo.FindAccountByID(s.f.ctx, "root")
	s.Require().NoError(err)
	s.Equal(domain.AccountActive, root.Status)

	failed := s.f.run(run.RunID)
	s.Equal(domain.RunFailed, failed.Status)
	s.Equal(services.AccountSuspendedMessage, failed.Error)
	s.Empty(s.f.storedJob(job.JobID).ActiveRunID)
	s.Equal(services.ReasonAccountSuspended, s.f.lastActivity("grandchild", run.RunID).Metadata["reason"])

	_, err = s.f.svc.JobRun.StartRun(s.f.ctx, job.JobID, ownerID)
	s.ErrorIs(err, apperrors.ErrInvalidState)
	_, err = s.hierarchy.CreateSubAccount(s.f.ctx, "child", dto.CreateSubAccountRequest{Name: "x"}, ownerID)
	s.ErrorIs(err, apperrors.ErrInvalidState)
}

func (s *HierarchyServiceTestSuite) TestGrantMembership_CannotGrantMoreThanHeld() {
	_, err := s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      viewerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{domain.CanInviteUsers, domain.CanViewAllData},
	}, ownerID)
	s.Require().NoError(err)

	_, err = s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      strangerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{domain.CanDeleteAccount},
	}, viewerID)
	s.ErrorIs(err, apperrors.ErrForbidden)

	_, err = s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      strangerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{"canFly"},
	}, ownerID)
	s.ErrorIs(err, apperrors.ErrValidation)

	memberships, err := s.hierarchy.ListMemberships(s.f.ctx, "root", viewerID)
	s.Require().NoError(err)
	s.Len(memberships, 2)
}

func (s *HierarchyServiceTestSuite) TestGrantMembership_InviterCannotDemoteOwner() {
	_, err := s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      viewerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{domain.CanInviteUsers},
	}, ownerID)
	s.Require().NoError(err)

	_, err = s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      ownerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{},
	}, viewerID)
	s.ErrorIs(err, apperrors.ErrForbidden)
	s.NoError(s.hierarchy.Authorize(s.f.ctx, ownerID, "root", domain.CanManageJobs), "the owner keeps full control")

	owner, err := s.f.repos.MembershipRepo.FindMembership(s.f.ctx, ownerID, "root")
	s.Require().NoError(err)
	s.Equal(domain.RoleOwner, owner.Role)
}

func (s *HierarchyServiceTestSuite) TestGrantMembership_CannotStripUnheldCapabilities() {
	_, err := s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      viewerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{domain.CanInviteUsers},
	}, ownerID)
	s.Require().NoError(err)
	_, err = s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      strangerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{domain.CanManageBilling, domain.CanInviteUsers},
	}, ownerID)
	s.Require().NoError(err)

	_, err = s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      strangerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{domain.CanInviteUsers},
	}, viewerID)
	s.ErrorIs(err, apperrors.ErrForbidden, "removing canManageBilling needs canManageBilling")

	_, err = s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      strangerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{domain.CanManageBilling},
	}, ownerID)
	s.NoError(err, "an owner may narrow any membership")
}

func (s *HierarchyServiceTestSuite) TestGrantMembership_OwnerMayReplaceAnotherOwner() {
	_, err := s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{UserID: viewerID, Role: domain.RoleOwner}, ownerID)
	s.Require().NoError(err)

	m, err := s.hierarchy.GrantMembership(s.f.ctx, "root", dto.GrantMembershipRequest{
		UserID:      viewerID,
		Role:        domain.RoleMember,
		Permissions: []domain.Capability{domain.CanViewAllData},
	}, ownerID)
	s.Require().NoError(err)
	s.Equal(domain.RoleMember, m.Role)
}
