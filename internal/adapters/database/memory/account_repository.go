package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
)

// AccountRepository implements portsrepo.AccountRepositoryFacade.
type AccountRepository struct {
	s *Store
}

var _ portsrepo.AccountRepositoryFacade = (*AccountRepository)(nil)

func (r *AccountRepository) FindAccountByID(_ context.Context, accountID string) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[accountID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	a = cloneAccount(a)
	return &a, nil
}

func (r *AccountRepository) FindAccountsByIDs(_ context.Context, accountIDs []string) (map[string]domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]domain.Account, len(accountIDs))
	for _, id := range accountIDs {
		if a, ok := r.s.accounts[id]; ok {
			out[id] = cloneAccount(a)
		}
	}
	return out, nil
}

func (r *AccountRepository) ListSubtree(_ context.Context, rootPath string) ([]domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Account
	for _, a := range r.s.accounts {
		if a.AccountPath != "" && domain.IsSubtreePath(a.AccountPath, rootPath) {
			out = append(out, cloneAccount(a))
		}
	}
	slices.SortFunc(out, func(a, b domain.Account) int {
		if a.Level != b.Level {
			return a.Level - b.Level
		}
		return strings.Compare(a.AccountPath, b.AccountPath)
	})
	return out, nil
}

func (r *AccountRepository) CountChildren(_ context.Context, parentAccountID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.countChildren(parentAccountID), nil
}

func (s *Store) countChildren(parentAccountID string) int {
	n := 0
	for _, a := range s.accounts {
		if a.ParentAccountID != nil && *a.ParentAccountID == parentAccountID {
			n++
		}
	}
	return n
}

func (r *AccountRepository) SaveAccount(_ context.Context, account domain.Account, owner domain.UserAccountMembership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.accounts[account.AccountID]; exists {
		return fmt.Errorf("account %s: %w", account.AccountID, apperrors.ErrDuplicate)
	}
	r.s.accounts[account.AccountID] = cloneAccount(account)
	r.s.memberships[membershipKey{owner.UserID, owner.AccountID}] = cloneMembership(owner)
	return nil
}

func (r *AccountRepository) SaveSubAccount(_ context.Context, child domain.Account, owner domain.UserAccountMembership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if child.ParentAccountID == nil {
		return apperrors.NewValidationFailedError("sub-account without parent")
	}
	parent, ok := r.s.accounts[*child.ParentAccountID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if err := r.s.checkChildPolicy(parent); err != nil {
		return err
	}
	if _, exists := r.s.accounts[child.AccountID]; exists {
		return fmt.Errorf("account %s: %w", child.AccountID, apperrors.ErrDuplicate)
	}
	r.s.accounts[child.AccountID] = cloneAccount(child)
	r.s.memberships[membershipKey{owner.UserID, owner.AccountID}] = cloneMembership(owner)
	return nil
}

func (s *Store) checkChildPolicy(parent domain.Account) error {
	if !parent.Settings.AllowSubAccounts {
		return apperrors.NewPolicyViolationError(fmt.Sprintf("account %s does not allow sub-accounts", parent.AccountID))
	}
	if s.countChildren(parent.AccountID) >= parent.Settings.MaxSubAccounts {
		return apperrors.NewPolicyViolationError(fmt.Sprintf("account %s reached its sub-account limit", parent.AccountID))
	}
	return nil
}

func (r *AccountRepository) MoveSubtree(_ context.Context, move portsrepo.SubtreeMove) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	account, ok := r.s.accounts[move.AccountID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if account.AccountPath != move.OldPath || !sameParentID(account.ParentAccountID, move.ExpectedParent) {
		return apperrors.NewConflictError(fmt.Sprintf("account %s moved concurrently", move.AccountID))
	}
	if move.NewParentID != nil {
		parent, ok := r.s.accounts[*move.NewParentID]
		if !ok {
			return apperrors.ErrNotFound
		}
		if domain.IsSubtreePath(parent.AccountPath, move.OldPath) {
			return apperrors.NewCycleError(fmt.Sprintf("account %s is a descendant of %s", parent.AccountID, move.AccountID))
		}
		if err := r.s.checkChildPolicy(parent); err != nil {
			return err
		}
	}

	for id, a := range r.s.accounts {
		if a.AccountPath == "" || !domain.IsSubtreePath(a.AccountPath, move.OldPath) {
			continue
		}
		a.AccountPath = domain.RebasePath(a.AccountPath, move.OldPath, move.NewPath)
		a.Level += move.LevelDelta
		a.Version++
		a.LastUpdatedAt = move.At
		a.LastUpdatedBy = move.UpdatedBy
		if id == move.AccountID {
			a.ParentAccountID = cloneStringPtr(move.NewParentID)
		}
		r.s.accounts[id] = a
	}
	return nil
}

func sameParentID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *AccountRepository) SetSubtreeStatus(_ context.Context, rootPath string, status domain.AccountStatus, updatedBy string, at time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var touched []string
	for id, a := range r.s.accounts {
		if a.AccountPath == "" || !domain.IsSubtreePath(a.AccountPath, rootPath) {
			continue
		}
		a.Status = status
		a.Version++
		a.LastUpdatedAt = at
		a.LastUpdatedBy = updatedBy
		r.s.accounts[id] = a
		touched = append(touched, id)
	}
	if len(touched) == 0 {
		return nil, apperrors.ErrNotFound
	}
	slices.Sort(touched)
	return touched, nil
}

// MembershipRepository implements portsrepo.MembershipRepository.
type MembershipRepository struct {
	s *Store
}

var _ portsrepo.MembershipRepository = (*MembershipRepository)(nil)

func (r *MembershipRepository) FindMembership(_ context.Context, userID, accountID string) (*domain.UserAccountMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.memberships[membershipKey{userID, accountID}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	m = cloneMembership(m)
	return &m, nil
}

func (r *MembershipRepository) FindUserMemberships(_ context.Context, userID string, accountIDs []string) ([]domain.UserAccountMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.UserAccountMembership
	for _, id := range accountIDs {
		if m, ok := r.s.memberships[membershipKey{userID, id}]; ok {
			out = append(out, cloneMembership(m))
		}
	}
	return out, nil
}

func (r *MembershipRepository) ListAccountMemberships(_ context.Context, accountID string) ([]domain.UserAccountMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.UserAccountMembership
	for k, m := range r.s.memberships {
		if k.accountID == accountID {
			out = append(out, cloneMembership(m))
		}
	}
	slices.SortFunc(out, func(a, b domain.UserAccountMembership) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	return out, nil
}

func (r *MembershipRepository) SaveMembership(_ context.Context, membership domain.UserAccountMembership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := membershipKey{membership.UserID, membership.AccountID}
	if existing, ok := r.s.memberships[key]; ok {
		membership.JoinedAt = existing.JoinedAt
	}
	r.s.memberships[key] = cloneMembership(membership)
	return nil
}

func (r *MembershipRepository) CreateMembershipIfAbsent(_ context.Context, membership domain.UserAccountMembership) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := membershipKey{membership.UserID, membership.AccountID}
	if _, ok := r.s.memberships[key]; ok {
		return false, nil
	}
	r.s.memberships[key] = cloneMembership(membership)
	return true, nil
}

func (r *MembershipRepository) CountMemberships(_ context.Context, userID, accountID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.memberships[membershipKey{userID, accountID}]; ok {
		return 1, nil
	}
	return 0, nil
}
