package pgsql

import (
	"context"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/apperrors"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgxMembershipRepository struct {
	BaseRepository
}

func newPgxMembershipRepository(pool *pgxpool.Pool) *PgxMembershipRepository {
	return &PgxMembershipRepository{BaseRepository: BaseRepository{Pool: pool}}
}

var _ portsrepo.MembershipRepository = (*PgxMembershipRepository)(nil)

const membershipSelect = `
SELECT user_id, account_id, role, permissions, status, joined_at
FROM user_account_memberships
`

type membershipRow struct {
	UserID      string    `db:"user_id"`
	AccountID   string    `db:"account_id"`
	Role        string    `db:"role"`
	Permissions []string  `db:"permissions"`
	Status      string    `db:"status"`
	JoinedAt    time.Time `db:"joined_at"`
}

func (row membershipRow) toDomain() domain.UserAccountMembership {
	permissions := make([]domain.Capability, 0, len(row.Permissions))
	for _, p := range row.Permissions {
		permissions = append(permissions, domain.Capability(p))
	}
	return domain.UserAccountMembership{
		UserID:      row.UserID,
		AccountID:   row.AccountID,
		Role:        domain.MembershipRole(row.Role),
		Permissions: permissions,
		Status:      domain.MembershipStatus(row.Status),
		JoinedAt:    row.JoinedAt,
	}
}

func (r *PgxMembershipRepository) getMemberships(ctx context.Context, filterQuery string, args ...any) ([]domain.UserAccountMembership, error) {
	rows, err := r.Pool.Query(ctx, membershipSelect+filterQuery, args...)
	if err != nil {
		return nil, dbError("failed to query memberships", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[membershipRow])
	if err != nil {
		return nil, dbError("failed to collect membership rows", err)
	}
	out := make([]domain.UserAccountMembership, 0, len(collected))
	for _, row := range collected {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *PgxMembershipRepository) FindMembership(ctx context.Context, userID, accountID string) (*domain.UserAccountMembership, error) {
	found, err := r.getMemberships(ctx, `WHERE user_id = $1 AND account_id = $2`, userID, accountID)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &found[0], nil
}

func (r *PgxMembershipRepository) FindUserMemberships(ctx context.Context, userID string, accountIDs []string) ([]domain.UserAccountMembership, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	return r.getMemberships(ctx, `WHERE user_id = $1 AND account_id = ANY($2)`, userID, accountIDs)
}

func (r *PgxMembershipRepository) ListAccountMemberships(ctx context.Context, accountID string) ([]domain.UserAccountMembership, error) {
	return r.getMemberships(ctx, `WHERE account_id = $1 ORDER BY user_id`, accountID)
}

func (r *PgxMembershipRepository) SaveMembership(ctx context.Context, membership domain.UserAccountMembership) error {
	_, err := saveMembership(ctx, r.Pool, membership, false)
	return err
}

func (r *PgxMembershipRepository) CreateMembershipIfAbsent(ctx context.Context, membership domain.UserAccountMembership) (bool, error) {
	return saveMembership(ctx, r.Pool, membership, true)
}

func (r *PgxMembershipRepository) CountMemberships(ctx context.Context, userID, accountID string) (int, error) {
	var n int
	err := r.Pool.QueryRow(ctx,
		`SELECT count(*) FROM user_account_memberships WHERE user_id = $1 AND account_id = $2`,
		userID, accountID,
	).Scan(&n)
	if err != nil {
		return 0, dbError("failed to count memberships", err)
	}
	return n, nil
}

// saveMembership inserts the membership. An existing row for the pair is left untouched when
// ifAbsent is set and otherwise has its role, permissions and status replaced.
func saveMembership(ctx context.Context, q querier, m domain.UserAccountMembership, ifAbsent bool) (bool, error) {
	conflict := `ON CONFLICT (user_id, account_id) DO UPDATE
		SET role = EXCLUDED.role, permissions = EXCLUDED.permissions, status = EXCLUDED.status`
	if ifAbsent {
		conflict = `ON CONFLICT (user_id, account_id) DO NOTHING`
	}
	permissions := make([]string, 0, len(m.Permissions))
	for _, p := range m.Permissions {
		permissions = append(permissions, string(p))
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO user_account_memberships (user_id, account_id, role, permissions, status, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6) `+conflict,
		m.UserID, m.AccountID, string(m.Role), permissions, string(m.Status), m.JoinedAt,
	)
	if err != nil {
		if code, _ := pgErrorCode(err); code == foreignKeyViolation {
			return false, apperrors.NewNotFoundError("account " + m.AccountID + " not found")
		}
		return false, dbError("failed to save membership", err)
	}
	return tag.RowsAffected() == 1, nil
}
