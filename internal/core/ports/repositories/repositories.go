package repositories

// RepositoryProvider holds all repository interfaces needed by services.
// This makes passing dependencies to the service container constructor cleaner.
type RepositoryProvider struct {
	AccountRepo       AccountRepositoryFacade
	MembershipRepo    MembershipRepository
	JobRepo           JobRepositoryFacade
	RunRepo           RunRepositoryFacade
	RunQueue          RunQueue
	ActivityRepo      ActivityRepository
	LegacyUserRepo    LegacyUserReader
	LegacyAccountRepo LegacyAccountRepository
}
