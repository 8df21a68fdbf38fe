package memory

import (
	"context"
	"maps"
	"slices"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/SscSPs/backup_orchestrator/internal/utils/pagination"
)

// LegacyRepository exposes the flat user and account tables to the migrator.
type LegacyRepository struct {
	s *Store
}

var (
	_ portsrepo.LegacyUserReader        = (*LegacyRepository)(nil)
	_ portsrepo.LegacyAccountRepository = (*LegacyRepository)(nil)
)

// SeedLegacyUsers loads flat user records.
func (s *Store) SeedLegacyUsers(users ...domain.LegacyUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.legacyUsers[u.UserID] = u
	}
}

// SeedLegacyAccounts loads flat account records.
func (s *Store) SeedLegacyAccounts(accounts ...domain.LegacyAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range accounts {
		s.legacyAccounts[a.AccountID] = a
	}
}

// scanPage returns the keys after the token in key order and the token for the next page.
func scanPage(keys []string, pageToken string, limit int) ([]string, string, error) {
	after, err := pagination.DecodeKeyToken(pageToken)
	if err != nil {
		return nil, "", err
	}
	slices.Sort(keys)
	start, _ := slices.BinarySearch(keys, after)
	if after != "" && start < len(keys) && keys[start] == after {
		start++
	}
	keys = keys[start:]
	if limit <= 0 || len(keys) <= limit {
		return keys, "", nil
	}
	keys = keys[:limit]
	return keys, pagination.EncodeKeyToken(keys[len(keys)-1]), nil
}

func (r *LegacyRepository) ScanLegacyUsers(_ context.Context, pageToken string, limit int) ([]domain.LegacyUser, string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	keys, next, err := scanPage(slices.Collect(maps.Keys(r.s.legacyUsers)), pageToken, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]domain.LegacyUser, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.s.legacyUsers[k])
	}
	return out, next, nil
}

func (r *LegacyRepository) ScanLegacyAccounts(_ context.Context, pageToken string, limit int) ([]domain.LegacyAccount, string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	keys, next, err := scanPage(slices.Collect(maps.Keys(r.s.legacyAccounts)), pageToken, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]domain.LegacyAccount, 0, len(keys))
	for _, k := range keys {
		a := r.s.legacyAccounts[k]
		a.AccountPath = cloneStringPtr(a.AccountPath)
		if a.Level != nil {
			lvl := *a.Level
			a.Level = &lvl
		}
		out = append(out, a)
	}
	return out, next, nil
}

// ApplyHierarchyDefaults upgrades the flat record and makes it visible as a hierarchical root.
func (r *LegacyRepository) ApplyHierarchyDefaults(_ context.Context, upgrade portsrepo.HierarchyUpgrade) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	legacy, ok := r.s.legacyAccounts[upgrade.AccountID]
	if !ok || !legacy.NeedsHierarchy() {
		return false, nil
	}
	path, level := upgrade.AccountPath, upgrade.Level
	legacy.AccountPath = &path
	legacy.Level = &level
	legacy.OwnerUserID = upgrade.OwnerUserID
	r.s.legacyAccounts[upgrade.AccountID] = legacy

	account := r.s.accounts[upgrade.AccountID]
	account.AccountID = upgrade.AccountID
	if account.Name == "" {
		account.Name = legacy.Name
	}
	account.AccountPath = path
	account.Level = level
	account.ParentAccountID = nil
	account.OwnerUserID = upgrade.OwnerUserID
	account.Settings = upgrade.Settings
	if account.Status == "" {
		account.Status = domain.AccountActive
	}
	account.Version++
	r.s.accounts[upgrade.AccountID] = account
	return true, nil
}
