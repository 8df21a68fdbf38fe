package pgsql

import (
	"context"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/SscSPs/backup_orchestrator/internal/utils/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxLegacyRepository scans the flat users and accounts tables for the hierarchy migrator.
type PgxLegacyRepository struct {
	BaseRepository
}

func newPgxLegacyRepository(pool *pgxpool.Pool) *PgxLegacyRepository {
	return &PgxLegacyRepository{BaseRepository: BaseRepository{Pool: pool}}
}

var (
	_ portsrepo.LegacyUserReader        = (*PgxLegacyRepository)(nil)
	_ portsrepo.LegacyAccountRepository = (*PgxLegacyRepository)(nil)
)

type legacyUserRow struct {
	UserID    string `db:"user_id"`
	Email     string `db:"email"`
	AccountID string `db:"account_id"`
}

type legacyAccountRow struct {
	AccountID   string  `db:"account_id"`
	Name        string  `db:"name"`
	AccountPath *string `db:"account_path"`
	Level       *int    `db:"level"`
	OwnerUserID string  `db:"owner_user_id"`
	UserID      string  `db:"user_id"`
	CreatedBy   string  `db:"created_by"`
}

// scanKeyset runs a keyset-paged query. It fetches one extra row to learn whether another page exists.
func scanKeyset[T any](ctx context.Context, pool *pgxpool.Pool, query, pageToken string, limit int, key func(T) string) ([]T, string, error) {
	after, err := pagination.DecodeKeyToken(pageToken)
	if err != nil {
		return nil, "", apperrors.NewValidationFailedError(err.Error())
	}
	var fetch *int
	if limit > 0 {
		n := limit + 1
		fetch = &n
	}
	rows, err := pool.Query(ctx, query, after, fetch)
	if err != nil {
		return nil, "", dbError("failed to scan legacy records", err)
	}
	page, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, "", dbError("failed to collect legacy records", err)
	}
	if limit <= 0 || len(page) <= limit {
		return page, "", nil
	}
	page = page[:limit]
	return page, pagination.EncodeKeyToken(key(page[len(page)-1])), nil
}

func (r *PgxLegacyRepository) ScanLegacyUsers(ctx context.Context, pageToken string, limit int) ([]domain.LegacyUser, string, error) {
	rows, next, err := scanKeyset(ctx, r.Pool, `
		SELECT user_id, email, COALESCE(account_id, '') AS account_id
		FROM users
		WHERE user_id > $1
		ORDER BY user_id
		LIMIT $2`,
		pageToken, limit, func(u legacyUserRow) string { return u.UserID })
	if err != nil {
		return nil, "", err
	}
	users := make([]domain.LegacyUser, 0, len(rows))
	for _, row := range rows {
		users = append(users, domain.LegacyUser(row))
	}
	return users, next, nil
}

func (r *PgxLegacyRepository) ScanLegacyAccounts(ctx context.Context, pageToken string, limit int) ([]domain.LegacyAccount, string, error) {
	rows, next, err := scanKeyset(ctx, r.Pool, `
		SELECT account_id, name, account_path, level,
			COALESCE(owner_user_id, '') AS owner_user_id,
			COALESCE(user_id, '') AS user_id,
			created_by
		FROM accounts
		WHERE account_id > $1
		ORDER BY account_id
		LIMIT $2`,
		pageToken, limit, func(a legacyAccountRow) string { return a.AccountID })
	if err != nil {
		return nil, "", err
	}
	accounts := make([]domain.LegacyAccount, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, domain.LegacyAccount(row))
	}
	return accounts, next, nil
}

// ApplyHierarchyDefaults only touches rows that still lack both path and level, so a concurrent
// or repeated migration never overwrites a hierarchy written in between.
func (r *PgxLegacyRepository) ApplyHierarchyDefaults(ctx context.Context, upgrade portsrepo.HierarchyUpgrade) (bool, error) {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE accounts SET
			account_path = $2,
			level = $3,
			owner_user_id = $4,
			settings = $5,
			parent_account_id = NULL,
			status = COALESCE(NULLIF(status, ''), $6),
			version = version + 1
		WHERE account_id = $1 AND (account_path IS NULL OR account_path = '') AND level IS NULL`,
		upgrade.AccountID, upgrade.AccountPath, upgrade.Level, upgrade.OwnerUserID, upgrade.Settings,
		string(domain.AccountActive))
	if err != nil {
		if isUniqueViolation(err) {
			return false, duplicateError("account path", upgrade.AccountPath)
		}
		return false, dbError("failed to upgrade account "+upgrade.AccountID, err)
	}
	return tag.RowsAffected() == 1, nil
}
