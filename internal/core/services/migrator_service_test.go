package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/backup_orchestrator/internal/core/ports/services"
	"github.com/stretchr/testify/suite"
)

type MigratorServiceTestSuite struct {
	suite.Suite
	f *fixture
}

func TestMigratorService(t *testing.T) {
	suite.Run(t, new(MigratorServiceTestSuite))
}

func (s *MigratorServiceTestSuite) SetupTest() {
	s.f = newFixture(s.T())
	seedLegacy(s.f)
}

func intPtr(n int) *int       { return &n }
func strPtr(v string) *string { return &v }

func migrate(f *fixture, dryRun bool) (*domain.MigrationReport, error) {
	return f.svc.Migrator.Migrate(f.ctx, portssvc.MigrationOptions{DryRun: dryRun, PageSize: 2})
}

// seedLegacy loads a flat dataset with one record of every kind the migrator distinguishes.
func seedLegacy(f *fixture) {
	f.store.SeedLegacyUsers(
		domain.LegacyUser{UserID: "u1", Email: "u1@example.com", AccountID: "acct1"},
		domain.LegacyUser{UserID: "u2", Email: "u2@example.com"},
		domain.LegacyUser{UserID: "u3", Email: "u3@example.com", AccountID: "acct2"},
	)
	f.store.SeedLegacyAccounts(
		domain.LegacyAccount{AccountID: "acct1", Name: "One", OwnerUserID: "u1"},
		domain.LegacyAccount{AccountID: "acct2", Name: "Two", OwnerUserID: "u3", AccountPath: strPtr("/acct2"), Level: intPtr(0)},
		domain.LegacyAccount{AccountID: "acct3", Name: "Three", CreatedBy: "u9"},
		domain.LegacyAccount{AccountID: "acct5", Name: "Ownerless"},
		domain.LegacyAccount{AccountID: "bad/id", Name: "Bad", OwnerUserID: "u1"},
	)
	// u3 was already given a membership by an earlier partial run.
	if err := f.repos.MembershipRepo.SaveMembership(f.ctx, domain.NewOwnerMembership("u3", "acct2", fixtureEpoch)); err != nil {
		panic(err)
	}
}

func (s *MigratorServiceTestSuite) TestMigrate_ConvertsLegacyData() {
	report, err := migrate(s.f, false)
	s.Require().NoError(err)

	s.Equal(domain.MigrationStats{Processed: 2, Migrated: 1, Skipped: 1}, report.Users, "users without an account are not eligible")
	s.Equal(domain.MigrationStats{Processed: 5, Migrated: 2, Skipped: 1, Errors: 2}, report.Accounts)
	s.Empty(report.Mismatches)
	s.ElementsMatch([]string{"acct5", "bad/id"}, report.UnmigratedAccounts)
	s.True(report.HasErrors())

	count, err := s.f.repos.MembershipRepo.CountMemberships(s.f.ctx, "u1", "acct1")
	s.Require().NoError(err)
	s.Equal(1, count)
	membership, err := s.f.repos.MembershipRepo.FindMembership(s.f.ctx, "u1", "acct1")
	s.Require().NoError(err)
	s.Equal(domain.RoleOwner, membership.Role)

	acct1, err := s.f.repos.AccountRepo.FindAccountByID(s.f.ctx, "acct1")
	s.Require().NoError(err)
	s.Equal("/acct1", acct1.AccountPath)
	s.Equal(0, acct1.Level)
	s.Equal("u1", acct1.OwnerUserID)
	s.Equal(domain.AccountSettings{AllowSubAccounts: true, MaxSubAccounts: 10}, acct1.Settings)
	s.NoError(acct1.CheckConsistency())

	acct3, err := s.f.repos.AccountRepo.FindAccountByID(s.f.ctx, "acct3")
	s.Require().NoError(err)
	s.Equal("u9", acct3.OwnerUserID, "falls back to the creator when no owner is recorded")
}

func (s *MigratorServiceTestSuite) TestMigrate_IsIdempotent() {
	_, err := migrate(s.f, false)
	s.Require().NoError(err)

	report, err := migrate(s.f, false)
	s.Require().NoError(err)
	s.Equal(domain.MigrationStats{Processed: 2, Skipped: 2}, report.Users)
	s.Equal(domain.MigrationStats{Processed: 5, Skipped: 3, Errors: 2}, report.Accounts)
	s.Empty(report.Mismatches)

	count, err := s.f.repos.MembershipRepo.CountMemberships(s.f.ctx, "u1", "acct1")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *MigratorServiceTestSuite) TestMigrate_DryRunWritesNothing() {
	report, err := migrate(s.f, true)
	s.Require().NoError(err)

	s.True(report.DryRun)
	s.Equal(1, report.Users.Migrated)
	s.Equal(2, report.Accounts.Migrated)
	s.Len(report.PlannedActions, 3)
	s.Empty(report.Mismatches, "planned memberships count towards verification")
	s.Empty(report.UnmigratedAccounts)

	count, err := s.f.repos.MembershipRepo.CountMemberships(s.f.ctx, "u1", "acct1")
	s.Require().NoError(err)
	s.Zero(count)
	_, err = s.f.repos.AccountRepo.FindAccountByID(s.f.ctx, "acct1")
	s.Error(err)
}

func (s *MigratorServiceTestSuite) TestMigrate_CleanDataHasNoErrors() {
	f := newFixture(s.T())
	f.store.SeedLegacyUsers(domain.LegacyUser{UserID: "u1", AccountID: "acct1"})
	f.store.SeedLegacyAccounts(domain.LegacyAccount{AccountID: "acct1", UserID: "u1"})

	report, err := migrate(f, false)
	s.Require().NoError(err)
	s.False(report.HasErrors())
}

func (s *MigratorServiceTestSuite) TestMigrate_CountsFailedWritesAndReportsMismatch() {
	f := newFixtureWithRepos(s.T(), func(repos *portsrepo.RepositoryProvider) {
		repos.MembershipRepo = refusingMemberships{MembershipRepository: repos.MembershipRepo}
	})
	f.store.SeedLegacyUsers(domain.LegacyUser{UserID: "u1", AccountID: "acct1"})
	f.store.SeedLegacyAccounts(domain.LegacyAccount{AccountID: "acct1", OwnerUserID: "u1"})

	report, err := migrate(f, false)
	s.Require().NoError(err, "record failures do not abort the batch")
	s.Equal(1, report.Users.Errors)
	s.Equal(1, report.Accounts.Migrated)
	s.Require().Len(report.Mismatches, 1)
	s.Equal(domain.MembershipMismatch{UserID: "u1", AccountID: "acct1", MembershipCount: 0}, report.Mismatches[0])
}

func (s *MigratorServiceTestSuite) TestMigrate_ScanFailureReturnsPartialReport() {
	f := newFixtureWithRepos(s.T(), func(repos *portsrepo.RepositoryProvider) {
		repos.LegacyAccountRepo = brokenAccountScan{LegacyAccountRepository: repos.LegacyAccountRepo}
	})
	f.store.SeedLegacyUsers(domain.LegacyUser{UserID: "u1", AccountID: "acct1"})

	report, err := migrate(f, false)
	s.Require().Error(err)
	s.Require().NotNil(report)
	s.Equal(1, report.Users.Migrated)
	s.Zero(report.Accounts.Processed)
}

// refusingMemberships fails every membership insert.
type refusingMemberships struct {
	portsrepo.MembershipRepository
}

func (refusingMemberships) CreateMembershipIfAbsent(context.Context, domain.UserAccountMembership) (bool, error) {
	return false, errors.New("write rejected")
}

type brokenAccountScan struct {
	portsrepo.LegacyAccountRepository
}

func (brokenAccountScan) ScanLegacyAccounts(context.Context, string, int) ([]domain.LegacyAccount, string, error) {
	return nil, "", errors.New("connection reset")
}
