package pgsql

import (
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/jackc/pgx/v5/pgxpool"
)

func NewRepositoryProvider(dbPool *pgxpool.Pool) portsrepo.RepositoryProvider {
	legacyRepo := newPgxLegacyRepository(dbPool)

	return portsrepo.RepositoryProvider{
		AccountRepo:       newPgxAccountRepository(dbPool),
		MembershipRepo:    newPgxMembershipRepository(dbPool),
		JobRepo:           newPgxJobRepository(dbPool),
		RunRepo:           newPgxRunRepository(dbPool),
		RunQueue:          newPgxRunQueue(dbPool),
		ActivityRepo:      newPgxActivityRepository(dbPool),
		LegacyUserRepo:    legacyRepo,
		LegacyAccountRepo: legacyRepo,
	}
}
