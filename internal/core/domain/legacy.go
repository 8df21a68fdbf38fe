package domain

// LegacyUser is a row of the flat single-account users table.
type LegacyUser struct {
	UserID    string `json:"userID"`
	Email     string `json:"email"`
	AccountID string `json:"accountID"` // empty when the user never owned an account
}

// LegacyAccount is an accounts row as seen before the hierarchy migration.
// Hierarchy fields are nil until the migrator fills them in.
type LegacyAccount struct {
	AccountID   string  `json:"accountID"`
	Name        string  `json:"name"`
	AccountPath *string `json:"accountPath,omitempty"`
	Level       *int    `json:"level,omitempty"`
	OwnerUserID string  `json:"ownerUserID,omitempty"`
	// Older owner fields, consulted in order when OwnerUserID is empty.
	UserID    string `json:"userID,omitempty"`
	CreatedBy string `json:"createdBy,omitempty"`
}

// NeedsHierarchy reports whether the account still lacks both path and level.
func (a LegacyAccount) NeedsHierarchy() bool {
	return (a.AccountPath == nil || *a.AccountPath == "") && a.Level == nil
}

// BestOwnerUserID picks the most reliable owner field available.
func (a LegacyAccount) BestOwnerUserID() string {
	switch {
	case a.OwnerUserID != "":
		return a.OwnerUserID
	case a.UserID != "":
		return a.UserID
	default:
		return a.CreatedBy
	}
}

// MigrationStats is the tally for one migrated table.
type MigrationStats struct {
	Processed int `json:"processed" yaml:"processed"`
	Migrated  int `json:"migrated" yaml:"migrated"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	Errors    int `json:"errors" yaml:"errors"`
}

// MembershipMismatch is a verification finding: a user whose legacy account
// does not have exactly one membership.
type MembershipMismatch struct {
	UserID          string `json:"userID" yaml:"userID"`
	AccountID       string `json:"accountID" yaml:"accountID"`
	MembershipCount int    `json:"membershipCount" yaml:"membershipCount"`
}

// MigrationReport is the final result of a migrator run.
type MigrationReport struct {
	DryRun     bool                 `json:"dryRun" yaml:"dryRun"`
	Users      MigrationStats       `json:"users" yaml:"users"`
	Accounts   MigrationStats       `json:"accounts" yaml:"accounts"`
	Mismatches []MembershipMismatch `json:"mismatches" yaml:"mismatches"`
	// UnmigratedAccounts lists accounts the verification pass still found without a hierarchy.
	UnmigratedAccounts []string `json:"unmigratedAccounts,omitempty" yaml:"unmigratedAccounts,omitempty"`
	// PlannedActions lists what a dry run would have written.
	PlannedActions []string `json:"plannedActions,omitempty" yaml:"plannedActions,omitempty"`
}

// HasErrors reports whether any record failed or verification found mismatches.
func (r MigrationReport) HasErrors() bool {
	return r.Users.Errors > 0 || r.Accounts.Errors > 0 || len(r.Mismatches) > 0 || len(r.UnmigratedAccounts) > 0
}
