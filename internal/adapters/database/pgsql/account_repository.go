package pgsql

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxAccountRepository struct {
	BaseRepository
}

func newPgxAccountRepository(pool *pgxpool.Pool) *PgxAccountRepository {
	return &PgxAccountRepository{BaseRepository: BaseRepository{Pool: pool}}
}

var _ portsrepo.AccountRepositoryFacade = (*PgxAccountRepository)(nil)

const accountSelect = `
SELECT
	account_id, name, parent_account_id, account_path, level, owner_user_id, status, settings,
	version, created_at, created_by, last_updated_at, last_updated_by
FROM accounts
`

type accountRow struct {
	AccountID       string                  `db:"account_id"`
	Name            string                  `db:"name"`
	ParentAccountID *string                 `db:"parent_account_id"`
	AccountPath     *string                 `db:"account_path"`
	Level           *int                    `db:"level"`
	OwnerUserID     *string                 `db:"owner_user_id"`
	Status          string                  `db:"status"`
	Settings        *domain.AccountSettings `db:"settings"`
	Version         int64                   `db:"version"`
	CreatedAt       time.Time               `db:"created_at"`
	CreatedBy       string                  `db:"created_by"`
	LastUpdatedAt   time.Time               `db:"last_updated_at"`
	LastUpdatedBy   string                  `db:"last_updated_by"`
}

func (row accountRow) toDomain() domain.Account {
	a := domain.Account{
		AccountID:       row.AccountID,
		Name:            row.Name,
		ParentAccountID: row.ParentAccountID,
		Status:          domain.AccountStatus(row.Status),
		Version:         row.Version,
		AuditFields: domain.AuditFields{
			CreatedAt:     row.CreatedAt,
			CreatedBy:     row.CreatedBy,
			LastUpdatedAt: row.LastUpdatedAt,
			LastUpdatedBy: row.LastUpdatedBy,
		},
	}
	if row.AccountPath != nil {
		a.AccountPath = *row.AccountPath
	}
	if row.Level != nil {
		a.Level = *row.Level
	}
	if row.OwnerUserID != nil {
		a.OwnerUserID = *row.OwnerUserID
	}
	if row.Settings != nil {
		a.Settings = *row.Settings
	}
	return a
}

func (r *PgxAccountRepository) getAccounts(ctx context.Context, filterQuery string, args ...any) ([]domain.Account, error) {
	rows, err := r.Pool.Query(ctx, accountSelect+filterQuery, args...)
	if err != nil {
		return nil, dbError("failed to query accounts", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[accountRow])
	if err != nil {
		return nil, dbError("failed to collect account rows", err)
	}
	accounts := make([]domain.Account, 0, len(collected))
	for _, row := range collected {
		accounts = append(accounts, row.toDomain())
	}
	return accounts, nil
}

func (r *PgxAccountRepository) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	accounts, err := r.getAccounts(ctx, `WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &accounts[0], nil
}

func (r *PgxAccountRepository) FindAccountsByIDs(ctx context.Context, accountIDs []string) (map[string]domain.Account, error) {
	out := make(map[string]domain.Account, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}
	accounts, err := r.getAccounts(ctx, `WHERE account_id = ANY($1)`, accountIDs)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		out[a.AccountID] = a
	}
	return out, nil
}

func (r *PgxAccountRepository) ListSubtree(ctx context.Context, rootPath string) ([]domain.Account, error) {
	return r.getAccounts(ctx, `WHERE account_path = $1 OR account_path LIKE $2 ESCAPE '\' ORDER BY level, account_path`,
		rootPath, subtreePattern(rootPath))
}

func (r *PgxAccountRepository) CountChildren(ctx context.Context, parentAccountID string) (int, error) {
	return countChildren(ctx, r.Pool, parentAccountID)
}

func countChildren(ctx context.Context, q querier, parentAccountID string) (int, error) {
	var n int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM accounts WHERE parent_account_id = $1`, parentAccountID).Scan(&n); err != nil {
		return 0, dbError("failed to count sub-accounts", err)
	}
	return n, nil
}

const insertAccount = `
INSERT INTO accounts (
	account_id, name, parent_account_id, account_path, level, owner_user_id, status, settings,
	version, created_at, created_by, last_updated_at, last_updated_by
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10, $11, $12)
`

func insertAccountWithOwner(ctx context.Context, tx pgx.Tx, account domain.Account, owner domain.UserAccountMembership) error {
	parentID := account.ParentAccountID
	if account.IsRoot() {
		parentID = nil
	}
	_, err := tx.Exec(ctx, insertAccount,
		account.AccountID,
		account.Name,
		parentID,
		account.AccountPath,
		account.Level,
		account.OwnerUserID,
		string(account.Status),
		account.Settings,
		account.CreatedAt,
		account.CreatedBy,
		account.LastUpdatedAt,
		account.LastUpdatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicateError("account", account.AccountID)
		}
		return dbError("failed to save account "+account.AccountID, err)
	}
	if _, err := saveMembership(ctx, tx, owner, false); err != nil {
		return err
	}
	return nil
}

func (r *PgxAccountRepository) SaveAccount(ctx context.Context, account domain.Account, owner domain.UserAccountMembership) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return insertAccountWithOwner(ctx, tx, account, owner)
	})
}

func (r *PgxAccountRepository) SaveSubAccount(ctx context.Context, child domain.Account, owner domain.UserAccountMembership) error {
	if child.ParentAccountID == nil {
		return apperrors.NewValidationFailedError("sub-account without parent")
	}
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		parent, err := lockAccount(ctx, tx, *child.ParentAccountID)
		if err != nil {
			return err
		}
		if err := checkChildPolicy(ctx, tx, parent); err != nil {
			return err
		}
		return insertAccountWithOwner(ctx, tx, child, owner)
	})
}

type lockedAccount struct {
	accountID string
	parentID  *string
	path      string
	settings  domain.AccountSettings
}

// lockAccount takes the row lock that serializes every writer touching the account's children.
func lockAccount(ctx context.Context, tx pgx.Tx, accountID string) (lockedAccount, error) {
	locked := lockedAccount{accountID: accountID}
	var path *string
	var settings *domain.AccountSettings
	err := tx.QueryRow(ctx,
		`SELECT parent_account_id, account_path, settings FROM accounts WHERE account_id = $1 FOR UPDATE`,
		accountID,
	).Scan(&locked.parentID, &path, &settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return locked, apperrors.ErrNotFound
	}
	if err != nil {
		return locked, dbError("failed to lock account "+accountID, err)
	}
	if path != nil {
		locked.path = *path
	}
	if settings != nil {
		locked.settings = *settings
	}
	return locked, nil
}

func checkChildPolicy(ctx context.Context, tx pgx.Tx, parent lockedAccount) error {
	if !parent.settings.AllowSubAccounts {
		return apperrors.NewPolicyViolationError(fmt.Sprintf("account %s does not allow sub-accounts", parent.accountID))
	}
	n, err := countChildren(ctx, tx, parent.accountID)
	if err != nil {
		return err
	}
	if n >= parent.settings.MaxSubAccounts {
		return apperrors.NewPolicyViolationError(fmt.Sprintf("account %s reached its sub-account limit", parent.accountID))
	}
	return nil
}

func (r *PgxAccountRepository) MoveSubtree(ctx context.Context, move portsrepo.SubtreeMove) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		account, err := lockAccount(ctx, tx, move.AccountID)
		if err != nil {
			return err
		}
		if account.path != move.OldPath || !sameParentID(account.parentID, move.ExpectedParent) {
			return apperrors.NewConflictError(fmt.Sprintf("account %s moved concurrently", move.AccountID))
		}
		if move.NewParentID != nil {
			parent, err := lockAccount(ctx, tx, *move.NewParentID)
			if err != nil {
				return err
			}
			if domain.IsSubtreePath(parent.path, move.OldPath) {
				return apperrors.NewCycleError(fmt.Sprintf("account %s is a descendant of %s", parent.accountID, move.AccountID))
			}
			if err := checkChildPolicy(ctx, tx, parent); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET account_path = $2::text || substr(account_path, length($1::text) + 1),
				level = level + $3,
				version = version + 1,
				last_updated_at = $4,
				last_updated_by = $5
			WHERE account_path = $1::text OR account_path LIKE $6 ESCAPE '\'`,
			move.OldPath, move.NewPath, move.LevelDelta, move.At, move.UpdatedBy, subtreePattern(move.OldPath),
		)
		if err != nil {
			return dbError("failed to rebase subtree of "+move.AccountID, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE accounts SET parent_account_id = $2 WHERE account_id = $1`,
			move.AccountID, move.NewParentID); err != nil {
			return dbError("failed to re-parent account "+move.AccountID, err)
		}
		return nil
	})
}

func sameParentID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *PgxAccountRepository) SetSubtreeStatus(ctx context.Context, rootPath string, status domain.AccountStatus, updatedBy string, at time.Time) ([]string, error) {
	rows, err := r.Pool.Query(ctx, `
		UPDATE accounts
		SET status = $3, version = version + 1, last_updated_at = $4, last_updated_by = $5
		WHERE account_path = $1 OR account_path LIKE $2 ESCAPE '\'
		RETURNING account_id`,
		rootPath, subtreePattern(rootPath), string(status), at, updatedBy,
	)
	if err != nil {
		return nil, dbError("failed to update subtree status", err)
	}
	touched, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, dbError("failed to collect updated accounts", err)
	}
	if len(touched) == 0 {
		return nil, apperrors.ErrNotFound
	}
	slices.Sort(touched)
	return touched, nil
}
