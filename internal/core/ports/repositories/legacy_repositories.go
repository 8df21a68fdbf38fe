package repositories

import (
	"context"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
)

// LegacyUserReader scans the flat users table page by page.
type LegacyUserReader interface {
	// ScanLegacyUsers returns up to limit users after pageToken and the token of the next page,
	// which is empty once the scan is complete.
	ScanLegacyUsers(ctx context.Context, pageToken string, limit int) ([]domain.LegacyUser, string, error)
}

// LegacyAccountRepository scans and upgrades accounts created before the hierarchy existed.
type LegacyAccountRepository interface {
	ScanLegacyAccounts(ctx context.Context, pageToken string, limit int) ([]domain.LegacyAccount, string, error)

	// ApplyHierarchyDefaults writes path, level, owner and merged settings only if the account
	// still lacks both path and level. It reports whether the row was updated.
	ApplyHierarchyDefaults(ctx context.Context, upgrade HierarchyUpgrade) (bool, error)
}

// HierarchyUpgrade is the set of fields the migrator fills on a legacy account.
type HierarchyUpgrade struct {
	AccountID   string
	AccountPath string
	Level       int
	OwnerUserID string
	Settings    domain.AccountSettings
}
