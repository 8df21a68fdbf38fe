package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/dto"
	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
)

// ReasonAccountSuspended is recorded on runs force-failed by an account suspension.
const ReasonAccountSuspended = "account_suspended"

// hierarchyService implements the HierarchySvcFacade interface
type hierarchyService struct {
	BaseService
	accountRepo    portsrepo.AccountRepositoryFacade
	membershipRepo portsrepo.MembershipRepository
	activity       portssvc.ActivitySvc
	terminator     portssvc.RunTerminatorSvc
	authz          portssvc.AccountAuthorizerSvc

	// treeLocks serializes structural writes per tree root within this process.
	treeLocks      *kmutex.Kmutex
	maxSubAccounts int
	newID          func() string
}

// HierarchyOption is a functional option for configuring the hierarchy service
type HierarchyOption func(*hierarchyService)

// WithHierarchyClock sets the clock used for audit timestamps.
func WithHierarchyClock(clk clock.Clock) HierarchyOption {
	return func(s *hierarchyService) {
		s.Clock = clk
	}
}

// WithHierarchyActivity adds the activity log dependency
func WithHierarchyActivity(activity portssvc.ActivitySvc) HierarchyOption {
	return func(s *hierarchyService) {
		s.activity = activity
	}
}

// WithRunTerminator adds the dependency used to fail runs of suspended accounts
func WithRunTerminator(terminator portssvc.RunTerminatorSvc) HierarchyOption {
	return func(s *hierarchyService) {
		s.terminator = terminator
	}
}

// WithDefaultMaxSubAccounts sets maxSubAccounts for accounts created without an explicit limit.
func WithDefaultMaxSubAccounts(n int) HierarchyOption {
	return func(s *hierarchyService) {
		s.maxSubAccounts = n
	}
}

// WithAccountIDGenerator overrides how new account IDs are minted.
func WithAccountIDGenerator(gen func() string) HierarchyOption {
	return func(s *hierarchyService) {
		s.newID = gen
	}
}

// NewHierarchyService creates a new hierarchy service with the provided options
func NewHierarchyService(accountRepo portsrepo.AccountRepositoryFacade, membershipRepo portsrepo.MembershipRepository, options ...HierarchyOption) portssvc.HierarchySvcFacade {
	svc := &hierarchyService{
		accountRepo:    accountRepo,
		membershipRepo: membershipRepo,
		authz:          NewAccountAuthorizer(accountRepo, membershipRepo),
		treeLocks:      kmutex.New(),
		maxSubAccounts: domain.DefaultMaxSubAccounts,
		newID:          uuid.NewString,
	}
	for _, option := range options {
		option(svc)
	}
	svc.Authorizer = svc.authz
	return svc
}

var _ portssvc.HierarchySvcFacade = (*hierarchyService)(nil)

// Authorize implements AccountAuthorizerSvc.
func (s *hierarchyService) Authorize(ctx context.Context, userID, accountID string, capability domain.Capability) error {
	return s.authz.Authorize(ctx, userID, accountID, capability)
}

func (s *hierarchyService) ResolveHierarchy(ctx context.Context, accountID string) (*domain.AccountHierarchy, error) {
	account, err := s.accountRepo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	hierarchy := &domain.AccountHierarchy{
		Account:   *account,
		Ancestors: []domain.Account{},
		Children:  []domain.Account{},
	}

	if ancestorIDs := account.AncestorIDs(); len(ancestorIDs) > 0 {
		found, err := s.accountRepo.FindAccountsByIDs(ctx, ancestorIDs)
		if err != nil {
			s.LogError(ctx, err, "Failed to load ancestors", slog.String("account_id", accountID))
			return nil, err
		}
		for _, id := range ancestorIDs {
			if a, ok := found[id]; ok {
				hierarchy.Ancestors = append(hierarchy.Ancestors, a)
			} else {
				s.LogWarn(ctx, "Ancestor on account path does not exist",
					slog.String("account_id", accountID),
					slog.String("ancestor_id", id))
			}
		}
	}

	subtree, err := s.accountRepo.ListSubtree(ctx, account.AccountPath)
	if err != nil {
		s.LogError(ctx, err, "Failed to list subtree", slog.String("account_id", accountID))
		return nil, err
	}
	for _, a := range subtree {
		if a.Level == account.Level+1 && a.ParentAccountID != nil && *a.ParentAccountID == accountID {
			hierarchy.Children = append(hierarchy.Children, a)
		}
	}

	return hierarchy, nil
}

func (s *hierarchyService) GetHierarchy(ctx context.Context, accountID, actorUserID string) (*domain.AccountHierarchy, error) {
	if err := s.AuthorizeUser(ctx, actorUserID, accountID, domain.CanViewAllData); err != nil {
		return nil, err
	}
	return s.ResolveHierarchy(ctx, accountID)
}

func (s *hierarchyService) ListMemberships(ctx context.Context, accountID, actorUserID string) ([]domain.UserAccountMembership, error) {
	if err := s.AuthorizeUser(ctx, actorUserID, accountID, domain.CanViewAllData); err != nil {
		return nil, err
	}
	memberships, err := s.membershipRepo.ListAccountMemberships(ctx, accountID)
	if err != nil {
		s.LogError(ctx, err, "Failed to list memberships", slog.String("account_id", accountID))
		return nil, err
	}
	if memberships == nil {
		return []domain.UserAccountMembership{}, nil
	}
	return memberships, nil
}

func (s *hierarchyService) CreateRootAccount(ctx context.Context, req dto.CreateRootAccountRequest, userID string) (*domain.Account, error) {
	now := s.Now()
	id := s.newID()
	account := domain.Account{
		AccountID:   id,
		Name:        req.Name,
		AccountPath: domain.RootPath(id),
		Level:       0,
		OwnerUserID: userID,
		Status:      domain.AccountActive,
		Settings:    domain.DefaultAccountSettings(s.maxSubAccounts),
		Version:     1,
		AuditFields: auditFields(userID, now),
	}

	if err := s.accountRepo.SaveAccount(ctx, account, domain.NewOwnerMembership(userID, id, now)); err != nil {
		s.LogError(ctx, err, "Failed to save root account", slog.String("account_id", id))
		return nil, err
	}

	s.LogInfo(ctx, "Root account created", slog.String("account_id", id), slog.String("owner_user_id", userID))
	return &account, nil
}

func (s *hierarchyService) CreateSubAccount(ctx context.Context, parentAccountID string, req dto.CreateSubAccountRequest, actorUserID string) (*domain.Account, error) {
	if err := s.AuthorizeUser(ctx, actorUserID, parentAccountID, domain.CanCreateSubAccounts); err != nil {
		return nil, err
	}

	parent, err := s.accountRepo.FindAccountByID(ctx, parentAccountID)
	if err != nil {
		return nil, err
	}
	if !parent.IsActive() {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("account %s is %s", parent.AccountID, parent.Status))
	}
	if err := s.checkChildPolicy(ctx, parent); err != nil {
		return nil, err
	}

	settings := domain.DefaultAccountSettings(s.maxSubAccounts)
	if req.AllowSubAccounts != nil {
		settings.AllowSubAccounts = *req.AllowSubAccounts
	}
	if req.MaxSubAccounts != nil {
		settings.MaxSubAccounts = *req.MaxSubAccounts
	}

	now := s.Now()
	id := s.newID()
	child := domain.Account{
		AccountID:       id,
		Name:            req.Name,
		ParentAccountID: &parent.AccountID,
		AccountPath:     domain.ChildPath(parent.AccountPath, id),
		Level:           parent.Level + 1,
		OwnerUserID:     actorUserID,
		Status:          domain.AccountActive,
		Settings:        settings,
		Version:         1,
		AuditFields:     auditFields(actorUserID, now),
	}

	// The repository re-checks the limit under a lock on the parent.
	if err := s.accountRepo.SaveSubAccount(ctx, child, domain.NewOwnerMembership(actorUserID, id, now)); err != nil {
		s.LogError(ctx, err, "Failed to save sub-account",
			slog.String("parent_account_id", parentAccountID),
			slog.String("account_id", id))
		return nil, err
	}

	s.record(ctx, activityFor(parent.AccountID, actorUserID, domain.ActivitySubAccountCreated, domain.ResourceAccount, id,
		fmt.Sprintf("Sub-account %q created", child.Name),
		map[string]any{"accountPath": child.AccountPath, "level": child.Level}))

	s.LogInfo(ctx, "Sub-account created",
		slog.String("parent_account_id", parentAccountID),
		slog.String("account_id", id),
		slog.Int("level", child.Level))
	return &child, nil
}

func (s *hierarchyService) checkChildPolicy(ctx context.Context, parent *domain.Account) error {
	if !parent.Settings.AllowSubAccounts {
		return apperrors.NewPolicyViolationError(fmt.Sprintf("account %s does not allow sub-accounts", parent.AccountID))
	}
	count, err := s.accountRepo.CountChildren(ctx, parent.AccountID)
	if err != nil {
		s.LogError(ctx, err, "Failed to count children", slog.String("account_id", parent.AccountID))
		return err
	}
	if count >= parent.Settings.MaxSubAccounts {
		return apperrors.NewPolicyViolationError(fmt.Sprintf("account %s already has %d of %d sub-accounts",
			parent.AccountID, count, parent.Settings.MaxSubAccounts))
	}
	return nil
}

func (s *hierarchyService) Reparent(ctx context.Context, accountID string, newParentID *string, actorUserID string) (*domain.Account, error) {
	if newParentID != nil && *newParentID == "" {
		newParentID = nil
	}
	if newParentID != nil && *newParentID == accountID {
		return nil, apperrors.NewCycleError(fmt.Sprintf("account %s cannot be its own parent", accountID))
	}

	if err := s.AuthorizeUser(ctx, actorUserID, accountID, domain.CanModifySettings); err != nil {
		return nil, err
	}
	if newParentID != nil {
		if err := s.AuthorizeUser(ctx, actorUserID, *newParentID, domain.CanCreateSubAccounts); err != nil {
			return nil, err
		}
	}

	account, err := s.accountRepo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var newParent *domain.Account
	if newParentID != nil {
		if newParent, err = s.accountRepo.FindAccountByID(ctx, *newParentID); err != nil {
			return nil, err
		}
	}

	unlock := s.lockTrees(treeRoot(account), treeRoot(newParent))
	defer unlock()

	// Re-read under the lock; the tree may have changed while we waited.
	if account, err = s.accountRepo.FindAccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	if newParent != nil {
		if newParent, err = s.accountRepo.FindAccountByID(ctx, newParent.AccountID); err != nil {
			return nil, err
		}
		if err := s.checkNotDescendant(ctx, account, newParent); err != nil {
			return nil, err
		}
		if !newParent.IsActive() {
			return nil, apperrors.NewInvalidStateError(fmt.Sprintf("account %s is %s", newParent.AccountID, newParent.Status))
		}
	}

	if sameParent(account.ParentAccountID, newParentID) {
		s.LogDebug(ctx, "Re-parent is a no-op", slog.String("account_id", accountID))
		return account, nil
	}
	if newParent != nil {
		if err := s.checkChildPolicy(ctx, newParent); err != nil {
			return nil, err
		}
	}

	newPath := domain.RootPath(accountID)
	if newParent != nil {
		newPath = domain.ChildPath(newParent.AccountPath, accountID)
	}
	newLevel := len(domain.PathSegments(newPath)) - 1

	move := portsrepo.SubtreeMove{
		AccountID:      accountID,
		NewParentID:    newParentID,
		OldPath:        account.AccountPath,
		NewPath:        newPath,
		LevelDelta:     newLevel - account.Level,
		ExpectedParent: account.ParentAccountID,
		UpdatedBy:      actorUserID,
		At:             s.Now(),
	}
	if err := s.accountRepo.MoveSubtree(ctx, move); err != nil {
		s.LogError(ctx, err, "Failed to move subtree",
			slog.String("account_id", accountID),
			slog.String("old_path", move.OldPath),
			slog.String("new_path", move.NewPath))
		return nil, err
	}

	s.record(ctx, activityFor(accountID, actorUserID, domain.ActivityAccountReparented, domain.ResourceAccount, accountID,
		fmt.Sprintf("Account moved from %s to %s", move.OldPath, move.NewPath),
		map[string]any{"oldPath": move.OldPath, "newPath": move.NewPath}))

	s.LogInfo(ctx, "Account re-parented",
		slog.String("account_id", accountID),
		slog.String("new_path", newPath))
	return s.accountRepo.FindAccountByID(ctx, accountID)
}

// checkNotDescendant walks the authoritative parent edges up from candidate and fails with a
// cycle error if it reaches account.
func (s *hierarchyService) checkNotDescendant(ctx context.Context, account, candidate *domain.Account) error {
	cycleErr := apperrors.NewCycleError(fmt.Sprintf("account %s is a descendant of %s", candidate.AccountID, account.AccountID))
	if domain.IsSubtreePath(candidate.AccountPath, account.AccountPath) {
		return cycleErr
	}

	seen := map[string]bool{candidate.AccountID: true}
	current := candidate
	for !current.IsRoot() {
		parentID := *current.ParentAccountID
		if parentID == account.AccountID {
			return cycleErr
		}
		if seen[parentID] {
			return apperrors.NewCycleError(fmt.Sprintf("existing cycle detected at account %s", parentID))
		}
		seen[parentID] = true

		parent, err := s.accountRepo.FindAccountByID(ctx, parentID)
		if err != nil {
			return fmt.Errorf("failed to walk ancestors of %s: %w", candidate.AccountID, err)
		}
		current = parent
	}
	return nil
}

// lockTrees takes the per-tree locks in a stable order and returns the matching unlock.
func (s *hierarchyService) lockTrees(roots ...string) func() {
	keys := make([]string, 0, len(roots))
	for _, r := range roots {
		if r != "" && !slices.Contains(keys, r) {
			keys = append(keys, r)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		s.treeLocks.Lock(k)
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			s.treeLocks.Unlock(keys[i])
		}
	}
}

func treeRoot(a *domain.Account) string {
	if a == nil {
		return ""
	}
	segments := domain.PathSegments(a.AccountPath)
	if len(segments) == 0 {
		return a.AccountID
	}
	return segments[0]
}

func sameParent(a, b *string) bool {
	if a == nil || *a == "" {
		return b == nil
	}
	return b != nil && *a == *b
}

func (s *hierarchyService) SuspendAccount(ctx context.Context, accountID string, req dto.SuspendAccountRequest, actorUserID string) error {
	if err := s.AuthorizeUser(ctx, actorUserID, accountID, domain.CanDeleteAccount); err != nil {
		return err
	}
	account, err := s.accountRepo.FindAccountByID(ctx, accountID)
	if err != nil {
		return err
	}

	unlock := s.lockTrees(treeRoot(account))
	defer unlock()

	touched, err := s.accountRepo.SetSubtreeStatus(ctx, account.AccountPath, domain.AccountSuspended, actorUserID, s.Now())
	if err != nil {
		s.LogError(ctx, err, "Failed to suspend subtree", slog.String("account_id", accountID))
		return err
	}

	failed := 0
	if s.terminator != nil && len(touched) > 0 {
		if failed, err = s.terminator.FailActiveRuns(ctx, touched, ReasonAccountSuspended); err != nil {
			// Accounts are already suspended, so no new runs can start; stragglers are left
			// to the watchdog.
			s.LogError(ctx, err, "Failed to fail active runs of suspended accounts",
				slog.String("account_id", accountID),
				slog.Int("accounts", len(touched)))
		}
	}

	s.record(ctx, activityFor(accountID, actorUserID, domain.ActivityAccountSuspended, domain.ResourceAccount, accountID,
		fmt.Sprintf("Account suspended with %d descendant accounts", len(touched)-1),
		map[string]any{"reason": req.Reason, "accounts": touched, "failedRuns": failed}))

	s.LogInfo(ctx, "Account subtree suspended",
		slog.String("account_id", accountID),
		slog.Int("accounts", len(touched)),
		slog.Int("failed_runs", failed))
	return nil
}

func (s *hierarchyService) GrantMembership(ctx context.Context, accountID string, req dto.GrantMembershipRequest, actorUserID string) (*domain.UserAccountMembership, error) {
	if err := s.AuthorizeUser(ctx, actorUserID, accountID, domain.CanInviteUsers); err != nil {
		return nil, err
	}

	account, err := s.accountRepo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive() {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("account %s is %s", accountID, account.Status))
	}

	membership := domain.UserAccountMembership{
		UserID:    req.UserID,
		AccountID: accountID,
		Role:      req.Role,
		Status:    domain.MembershipActive,
		JoinedAt:  s.Now(),
	}
	requested := req.Permissions
	if req.Role == domain.RoleOwner {
		requested = domain.OwnerPermissions()
	}
	for _, c := range requested {
		if !domain.IsValidCapability(c) {
			return nil, apperrors.NewValidationFailedError(fmt.Sprintf("unknown capability %q", c))
		}
		// Nobody can hand out a capability they do not hold themselves.
		if err := s.AuthorizeUser(ctx, actorUserID, accountID, c); err != nil {
			return nil, err
		}
		if !slices.Contains(membership.Permissions, c) {
			membership.Permissions = append(membership.Permissions, c)
		}
	}
	if membership.Permissions == nil {
		membership.Permissions = []domain.Capability{}
	}
	if err := s.checkMembershipOverwrite(ctx, account, membership, actorUserID); err != nil {
		return nil, err
	}

	if err := s.membershipRepo.SaveMembership(ctx, membership); err != nil {
		s.LogError(ctx, err, "Failed to save membership",
			slog.String("account_id", accountID),
			slog.String("user_id", req.UserID))
		return nil, err
	}

	s.record(ctx, activityFor(accountID, actorUserID, domain.ActivityMembershipGranted, domain.ResourceAccount, accountID,
		fmt.Sprintf("User %s added as %s", req.UserID, req.Role),
		map[string]any{"userID": req.UserID, "role": string(req.Role), "permissions": membership.Permissions}))

	return &membership, nil
}

// checkMembershipOverwrite guards the row a grant replaces. Only an Owner of the account (or of
// an ancestor) may change the owner's membership or an Owner row, and nobody may strip a
// capability they do not hold themselves.
func (s *hierarchyService) checkMembershipOverwrite(ctx context.Context, account *domain.Account, next domain.UserAccountMembership, actorUserID string) error {
	existing, err := s.membershipRepo.FindMembership(ctx, next.UserID, account.AccountID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		existing = nil
	case err != nil:
		return err
	}

	protected := next.UserID == account.OwnerUserID || (existing != nil && existing.Role == domain.RoleOwner)
	if protected {
		owner, err := s.isAccountOwner(ctx, actorUserID, account)
		if err != nil {
			return err
		}
		if !owner {
			return apperrors.NewForbiddenError(fmt.Sprintf("only an owner of account %s can change the membership of owner %s",
				account.AccountID, next.UserID))
		}
	}
	if existing == nil {
		return nil
	}

	for _, c := range domain.OwnerPermissions() {
		if existing.Has(c) && !next.Has(c) {
			if err := s.AuthorizeUser(ctx, actorUserID, account.AccountID, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// isAccountOwner reports whether userID holds an active Owner membership on the account or one
// of its ancestors.
func (s *hierarchyService) isAccountOwner(ctx context.Context, userID string, account *domain.Account) (bool, error) {
	memberships, err := s.membershipRepo.FindUserMemberships(ctx, userID, append(account.AncestorIDs(), account.AccountID))
	if err != nil {
		return false, err
	}
	for _, m := range memberships {
		if m.IsActive() && m.Role == domain.RoleOwner {
			return true, nil
		}
	}
	return false, nil
}

// record appends an audit record. Hierarchy changes are already committed at this point, so a
// failed append is logged rather than returned.
func (s *hierarchyService) record(ctx context.Context, rec domain.ActivityRecord) {
	if s.activity == nil {
		return
	}
	if err := s.activity.RecordActivity(ctx, rec); err != nil {
		s.LogError(ctx, err, "Failed to record activity", slog.String("type", rec.Type))
	}
}

func auditFields(userID string, now time.Time) domain.AuditFields {
	return domain.AuditFields{
		CreatedAt:     now,
		CreatedBy:     userID,
		LastUpdatedAt: now,
		LastUpdatedBy: userID,
	}
}
