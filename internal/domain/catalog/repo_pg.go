package catalog

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

// =========== Policy Repository ===========

type policyRepoPG struct{ pool *pgxpool.Pool }

func NewPolicyRepoPG(pool *pgxpool.Pool) PolicyRepository { return &policyRepoPG{pool: pool} }

func (r *policyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const policyCols = `id, name, annual_limit, per_member_limit, per_family_limit,
	coverage_type, start_date, end_date, active, created_at, updated_at`

func (r *policyRepoPG) scanPolicy(row pgx.Row) (*Policy, error) {
	var p Policy
	err := row.Scan(&p.ID, &p.Name, &p.AnnualLimit, &p.PerMemberLimit, &p.PerFamilyLimit,
		&p.CoverageType, &p.StartDate, &p.EndDate, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *policyRepoPG) Create(ctx context.Context, p *Policy) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO policy (id, name, annual_limit, per_member_limit, per_family_limit,
			coverage_type, start_date, end_date, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.Name, p.AnnualLimit, p.PerMemberLimit, p.PerFamilyLimit,
		p.CoverageType, p.StartDate, p.EndDate, p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *policyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Policy, error) {
	return r.scanPolicy(r.conn(ctx).QueryRow(ctx, `SELECT `+policyCols+` FROM policy WHERE id = $1`, id))
}

func (r *policyRepoPG) Update(ctx context.Context, p *Policy) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE policy SET name=$2, annual_limit=$3, per_member_limit=$4, per_family_limit=$5,
			coverage_type=$6, start_date=$7, end_date=$8, active=$9, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.AnnualLimit, p.PerMemberLimit, p.PerFamilyLimit,
		p.CoverageType, p.StartDate, p.EndDate, p.Active)
	return err
}

func (r *policyRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE policy SET active=false, updated_at=NOW() WHERE id = $1`, id)
	return err
}

func (r *policyRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Policy, int, error) {
	where := ``
	if activeOnly {
		where = ` WHERE active`
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM policy`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+policyCols+` FROM policy`+where+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Policy
	for rows.Next() {
		p, err := r.scanPolicy(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Benefit Repository ===========

type benefitRepoPG struct{ pool *pgxpool.Pool }

func NewBenefitRepoPG(pool *pgxpool.Pool) BenefitRepository { return &benefitRepoPG{pool: pool} }

func (r *benefitRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const benefitCols = `id, policy_id, service_code, name, category, unit_price,
	coverage_percentage, member_contribution, annual_monetary_limit, annual_count_limit,
	requires_pre_approval, active, created_at, updated_at`

func (r *benefitRepoPG) scanBenefit(row pgx.Row) (*BenefitDefinition, error) {
	var b BenefitDefinition
	err := row.Scan(&b.ID, &b.PolicyID, &b.ServiceCode, &b.Name, &b.Category, &b.UnitPrice,
		&b.CoveragePercentage, &b.MemberContribution, &b.AnnualMonetaryLimit, &b.AnnualCountLimit,
		&b.RequiresPreApproval, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *benefitRepoPG) Create(ctx context.Context, b *BenefitDefinition) error {
	b.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO benefit_definition (id, policy_id, service_code, name, category, unit_price,
			coverage_percentage, member_contribution, annual_monetary_limit, annual_count_limit,
			requires_pre_approval, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		b.ID, b.PolicyID, b.ServiceCode, b.Name, b.Category, b.UnitPrice,
		b.CoveragePercentage, b.MemberContribution, b.AnnualMonetaryLimit, b.AnnualCountLimit,
		b.RequiresPreApproval, b.Active, b.CreatedAt, b.UpdatedAt)
	return err
}

func (r *benefitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BenefitDefinition, error) {
	return r.scanBenefit(r.conn(ctx).QueryRow(ctx, `SELECT `+benefitCols+` FROM benefit_definition WHERE id = $1`, id))
}

func (r *benefitRepoPG) GetByServiceCode(ctx context.Context, policyID uuid.UUID, serviceCode string) (*BenefitDefinition, error) {
	return r.scanBenefit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+benefitCols+` FROM benefit_definition WHERE policy_id = $1 AND service_code = $2`,
		policyID, serviceCode))
}

func (r *benefitRepoPG) Update(ctx context.Context, b *BenefitDefinition) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE benefit_definition SET service_code=$2, name=$3, category=$4, unit_price=$5,
			coverage_percentage=$6, member_contribution=$7, annual_monetary_limit=$8,
			annual_count_limit=$9, requires_pre_approval=$10, active=$11, updated_at=NOW()
		WHERE id = $1`,
		b.ID, b.ServiceCode, b.Name, b.Category, b.UnitPrice,
		b.CoveragePercentage, b.MemberContribution, b.AnnualMonetaryLimit,
		b.AnnualCountLimit, b.RequiresPreApproval, b.Active)
	return err
}

func (r *benefitRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE benefit_definition SET active=false, updated_at=NOW() WHERE id = $1`, id)
	return err
}

func (r *benefitRepoPG) ListByPolicy(ctx context.Context, policyID uuid.UUID, activeOnly bool) ([]*BenefitDefinition, error) {
	q := `SELECT ` + benefitCols + ` FROM benefit_definition WHERE policy_id = $1`
	if activeOnly {
		q += ` AND active`
	}
	q += ` ORDER BY service_code`
	rows, err := r.conn(ctx).Query(ctx, q, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BenefitDefinition
	for rows.Next() {
		b, err := r.scanBenefit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}
