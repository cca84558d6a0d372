package usage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisure/tpa/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const usageCols = `id, member_id, benefit_id, year, used_amount, used_count,
	remaining_amount, remaining_count, last_usage_date, created_at, updated_at`

func (r *repoPG) scanUsage(row pgx.Row) (*BenefitUsage, error) {
	var u BenefitUsage
	err := row.Scan(&u.ID, &u.MemberID, &u.BenefitID, &u.Year, &u.UsedAmount, &u.UsedCount,
		&u.RemainingAmount, &u.RemainingCount, &u.LastUsageDate, &u.CreatedAt, &u.UpdatedAt)
	return &u, err
}

func (r *repoPG) Get(ctx context.Context, memberID, benefitID uuid.UUID, year int) (*BenefitUsage, error) {
	return r.scanUsage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+usageCols+` FROM benefit_usage WHERE member_id = $1 AND benefit_id = $2 AND year = $3`,
		memberID, benefitID, year))
}

// GetForUpdate takes the row lock that serializes concurrent debits against
// the same balance. Only meaningful inside a transaction.
func (r *repoPG) GetForUpdate(ctx context.Context, memberID, benefitID uuid.UUID, year int) (*BenefitUsage, error) {
	return r.scanUsage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+usageCols+` FROM benefit_usage WHERE member_id = $1 AND benefit_id = $2 AND year = $3 FOR UPDATE`,
		memberID, benefitID, year))
}

func (r *repoPG) Insert(ctx context.Context, u *BenefitUsage) error {
	u.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO benefit_usage (id, member_id, benefit_id, year, used_amount, used_count,
			remaining_amount, remaining_count, last_usage_date, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (member_id, benefit_id, year) DO NOTHING`,
		u.ID, u.MemberID, u.BenefitID, u.Year, u.UsedAmount, u.UsedCount,
		u.RemainingAmount, u.RemainingCount, u.LastUsageDate, u.CreatedAt, u.UpdatedAt)
	return err
}

func (r *repoPG) Update(ctx context.Context, u *BenefitUsage) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE benefit_usage SET used_amount=$2, used_count=$3, remaining_amount=$4,
			remaining_count=$5, last_usage_date=$6, updated_at=NOW()
		WHERE id = $1`,
		u.ID, u.UsedAmount, u.UsedCount, u.RemainingAmount, u.RemainingCount, u.LastUsageDate)
	return err
}

func (r *repoPG) ListByMember(ctx context.Context, memberID uuid.UUID, year int) ([]*BenefitUsage, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+usageCols+` FROM benefit_usage WHERE member_id = $1 AND year = $2 ORDER BY created_at`,
		memberID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BenefitUsage
	for rows.Next() {
		u, err := r.scanUsage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}
