package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
)

// accountAuthorizer answers capability checks from memberships on the account and its ancestors.
type accountAuthorizer struct {
	BaseService
	accountRepo    portsrepo.AccountReader
	membershipRepo portsrepo.MembershipRepository
}

// NewAccountAuthorizer creates the authorizer shared by every service that guards an account.
func NewAccountAuthorizer(accountRepo portsrepo.AccountReader, membershipRepo portsrepo.MembershipRepository) portssvc.AccountAuthorizerSvc {
	return &accountAuthorizer{accountRepo: accountRepo, membershipRepo: membershipRepo}
}

var _ portssvc.AccountAuthorizerSvc = (*accountAuthorizer)(nil)

// Authorize implements AccountAuthorizerSvc. Inheritance flows from ancestors to descendants
// only; a membership on a descendant never grants anything on its ancestors.
func (s *accountAuthorizer) Authorize(ctx context.Context, userID, accountID string, capability domain.Capability) error {
	account, err := s.accountRepo.FindAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NewNotFoundError(fmt.Sprintf("account %s not found", accountID))
		}
		s.LogError(ctx, err, "Failed to load account for authorization", slog.String("account_id", accountID))
		return err
	}

	ancestors := account.AncestorIDs()
	memberships, err := s.membershipRepo.FindUserMemberships(ctx, userID, append(slices.Clone(ancestors), accountID))
	if err != nil {
		s.LogError(ctx, err, "Failed to load memberships for authorization",
			slog.String("user_id", userID),
			slog.String("account_id", accountID))
		return err
	}

	for _, m := range memberships {
		if m.AccountID == accountID && m.Grants(capability) {
			return nil
		}
		if slices.Contains(ancestors, m.AccountID) && m.GrantsToDescendants(capability) {
			s.LogDebug(ctx, "Capability inherited from ancestor",
				slog.String("user_id", userID),
				slog.String("account_id", accountID),
				slog.String("ancestor_id", m.AccountID),
				slog.String("capability", string(capability)))
			return nil
		}
	}

	s.LogDebug(ctx, "User lacks capability on account",
		slog.String("user_id", userID),
		slog.String("account_id", accountID),
		slog.String("capability", string(capability)))
	return apperrors.NewForbiddenError(fmt.Sprintf("user %s lacks %s on account %s", userID, capability, accountID))
}
