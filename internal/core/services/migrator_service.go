package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/SscSPs/backup_orchestrator/internal/middleware"
	"github.com/juju/clock"
)

// DefaultMigrationPageSize is the scan page size used when none is given.
const DefaultMigrationPageSize = 100

type migratorService struct {
	BaseService
	users          portsrepo.LegacyUserReader
	accounts       portsrepo.LegacyAccountRepository
	memberships    portsrepo.MembershipRepository
	maxSubAccounts int
}

// MigratorOption is a functional option for configuring the migrator
type MigratorOption func(*migratorService)

func WithMigratorClock(clk clock.Clock) MigratorOption {
	return func(s *migratorService) {
		s.Clock = clk
	}
}

// WithMigratorMaxSubAccounts sets the maxSubAccounts merged into migrated account settings.
func WithMigratorMaxSubAccounts(n int) MigratorOption {
	return func(s *migratorService) {
		s.maxSubAccounts = n
	}
}

// NewMigratorService creates the one-shot converter of legacy flat accounts.
func NewMigratorService(repos portsrepo.RepositoryProvider, options ...MigratorOption) portssvc.MigratorSvc {
	svc := &migratorService{
		users:          repos.LegacyUserRepo,
		accounts:       repos.LegacyAccountRepo,
		memberships:    repos.MembershipRepo,
		maxSubAccounts: domain.DefaultMaxSubAccounts,
	}
	for _, option := range options {
		option(svc)
	}
	return svc
}

// migrationRun carries the state of one Migrate call.
type migrationRun struct {
	opts   portssvc.MigrationOptions
	report *domain.MigrationReport
	// planned holds the (user, account) pairs a dry run would have created.
	planned map[[2]string]bool
}

// Migrate converts legacy users and accounts and then verifies the result. A failure on a
// single record is counted and the batch carries on; only a failed page scan aborts the run,
// in which case the partial report is returned with the error.
func (s *migratorService) Migrate(ctx context.Context, opts portssvc.MigrationOptions) (*domain.MigrationReport, error) {
	logger := middleware.GetLoggerFromCtx(ctx).With(slog.String("component", "hierarchy_migrator"), slog.Bool("dry_run", opts.DryRun))
	ctx = middleware.WithLogger(ctx, logger)
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultMigrationPageSize
	}

	run := &migrationRun{
		opts:    opts,
		report:  &domain.MigrationReport{DryRun: opts.DryRun, Mismatches: []domain.MembershipMismatch{}},
		planned: make(map[[2]string]bool),
	}

	s.LogInfo(ctx, "Migrating legacy users")
	if err := s.scanUsers(ctx, opts.PageSize, func(u domain.LegacyUser) { s.migrateUser(ctx, run, u) }); err != nil {
		return run.report, err
	}
	s.LogInfo(ctx, "Migrating legacy accounts")
	if err := s.scanAccounts(ctx, opts.PageSize, func(a domain.LegacyAccount) { s.migrateAccount(ctx, run, a) }); err != nil {
		return run.report, err
	}
	s.LogInfo(ctx, "Verifying memberships")
	if err := s.verify(ctx, run); err != nil {
		return run.report, err
	}

	r := run.report
	s.LogInfo(ctx, "Migration finished",
		slog.Int("users_processed", r.Users.Processed),
		slog.Int("users_migrated", r.Users.Migrated),
		slog.Int("users_skipped", r.Users.Skipped),
		slog.Int("users_errors", r.Users.Errors),
		slog.Int("accounts_processed", r.Accounts.Processed),
		slog.Int("accounts_migrated", r.Accounts.Migrated),
		slog.Int("accounts_skipped", r.Accounts.Skipped),
		slog.Int("accounts_errors", r.Accounts.Errors),
		slog.Int("mismatches", len(r.Mismatches)))
	return r, nil
}

func (s *migratorService) scanUsers(ctx context.Context, pageSize int, visit func(domain.LegacyUser)) error {
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		users, next, err := s.users.ScanLegacyUsers(ctx, token, pageSize)
		if err != nil {
			s.LogError(ctx, err, "Failed to scan legacy users")
			return fmt.Errorf("failed to scan legacy users: %w", err)
		}
		for _, u := range users {
			visit(u)
		}
		if next == "" {
			return nil
		}
		token = next
	}
}

func (s *migratorService) scanAccounts(ctx context.Context, pageSize int, visit func(domain.LegacyAccount)) error {
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		accounts, next, err := s.accounts.ScanLegacyAccounts(ctx, token, pageSize)
		if err != nil {
			s.LogError(ctx, err, "Failed to scan legacy accounts")
			return fmt.Errorf("failed to scan legacy accounts: %w", err)
		}
		for _, a := range accounts {
			visit(a)
		}
		if next == "" {
			return nil
		}
		token = next
	}
}

// migrateUser gives a user with a legacy account an Owner membership on it. Users without an
// account are not eligible and are not counted.
func (s *migratorService) migrateUser(ctx context.Context, run *migrationRun, u domain.LegacyUser) {
	if u.AccountID == "" {
		return
	}
	stats := &run.report.Users
	stats.Processed++
	attrs := []any{slog.String("user_id", u.UserID), slog.String("account_id", u.AccountID)}

	if run.opts.DryRun {
		count, err := s.memberships.CountMemberships(ctx, u.UserID, u.AccountID)
		if err != nil {
			stats.Errors++
			s.LogError(ctx, err, "Failed to look up membership", attrs...)
			return
		}
		if count > 0 {
			stats.Skipped++
			return
		}
		stats.Migrated++
		run.planned[[2]string{u.UserID, u.AccountID}] = true
		run.report.PlannedActions = append(run.report.PlannedActions,
			fmt.Sprintf("create owner membership for user %s on account %s", u.UserID, u.AccountID))
		return
	}

	created, err := s.memberships.CreateMembershipIfAbsent(ctx, domain.NewOwnerMembership(u.UserID, u.AccountID, s.Now()))
	if err != nil {
		stats.Errors++
		s.LogError(ctx, err, "Failed to create owner membership", attrs...)
		return
	}
	if created {
		stats.Migrated++
		s.LogDebug(ctx, "Created owner membership", attrs...)
		return
	}
	stats.Skipped++
}

// migrateAccount turns an account that lacks both path and level into a level 0 root.
func (s *migratorService) migrateAccount(ctx context.Context, run *migrationRun, a domain.LegacyAccount) {
	stats := &run.report.Accounts
	stats.Processed++
	if !a.NeedsHierarchy() {
		stats.Skipped++
		return
	}

	attrs := []any{slog.String("account_id", a.AccountID)}
	if !domain.ValidAccountID(a.AccountID) {
		stats.Errors++
		s.LogWarn(ctx, "Legacy account id cannot be used in a path", attrs...)
		return
	}
	owner := a.BestOwnerUserID()
	if owner == "" {
		stats.Errors++
		s.LogWarn(ctx, "Legacy account has no owner field", attrs...)
		return
	}

	upgrade := portsrepo.HierarchyUpgrade{
		AccountID:   a.AccountID,
		AccountPath: domain.RootPath(a.AccountID),
		Level:       0,
		OwnerUserID: owner,
		Settings:    domain.DefaultAccountSettings(s.maxSubAccounts),
	}
	if run.opts.DryRun {
		stats.Migrated++
		run.report.PlannedActions = append(run.report.PlannedActions,
			fmt.Sprintf("set path %s, level 0 and owner %s on account %s", upgrade.AccountPath, owner, a.AccountID))
		return
	}

	updated, err := s.accounts.ApplyHierarchyDefaults(ctx, upgrade)
	if err != nil {
		stats.Errors++
		s.LogError(ctx, err, "Failed to apply hierarchy defaults", attrs...)
		return
	}
	if updated {
		stats.Migrated++
		s.LogDebug(ctx, "Applied hierarchy defaults", attrs...)
		return
	}
	// Someone else migrated it between the scan and the write.
	stats.Skipped++
}

// verify re-scans both tables. Every user with a legacy account must have exactly one
// membership on it and every account must carry a hierarchy. Findings are reported, not
// repaired. In a dry run the writes the run would have made are taken into account.
func (s *migratorService) verify(ctx context.Context, run *migrationRun) error {
	err := s.scanUsers(ctx, run.opts.PageSize, func(u domain.LegacyUser) {
		if u.AccountID == "" {
			return
		}
		count, err := s.memberships.CountMemberships(ctx, u.UserID, u.AccountID)
		if err != nil {
			run.report.Users.Errors++
			s.LogError(ctx, err, "Failed to verify membership", slog.String("user_id", u.UserID))
			return
		}
		if run.planned[[2]string{u.UserID, u.AccountID}] {
			count++
		}
		if count != 1 {
			run.report.Mismatches = append(run.report.Mismatches, domain.MembershipMismatch{
				UserID:          u.UserID,
				AccountID:       u.AccountID,
				MembershipCount: count,
			})
			s.LogWarn(ctx, "Membership verification mismatch",
				slog.String("user_id", u.UserID),
				slog.String("account_id", u.AccountID),
				slog.Int("membership_count", count))
		}
	})
	if err != nil || run.opts.DryRun {
		return err
	}

	return s.scanAccounts(ctx, run.opts.PageSize, func(a domain.LegacyAccount) {
		if a.NeedsHierarchy() {
			run.report.UnmigratedAccounts = append(run.report.UnmigratedAccounts, a.AccountID)
		}
	})
}
