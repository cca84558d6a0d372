package preapproval

import (
	"context"
	"time"

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

// -- Rules --

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewRuleRepoPG(pool *pgxpool.Pool) RuleRepository { return &ruleRepoPG{pool: pool} }

func (r *ruleRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const ruleCols = `id, priority, service_code, provider_type, chronic_condition_id,
	min_amount, required_level, auto_approvable, active, created_at, updated_at`

func scanRule(row pgx.Row) (*Rule, error) {
	var ru Rule
	err := row.Scan(&ru.ID, &ru.Priority, &ru.ServiceCode, &ru.ProviderType, &ru.ChronicConditionID,
		&ru.MinAmount, &ru.RequiredLevel, &ru.AutoApprovable, &ru.Active, &ru.CreatedAt, &ru.UpdatedAt)
	return &ru, err
}

func (r *ruleRepoPG) Create(ctx context.Context, ru *Rule) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pre_approval_rule (priority, service_code, provider_type, chronic_condition_id,
			min_amount, required_level, auto_approvable, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		ru.Priority, ru.ServiceCode, ru.ProviderType, ru.ChronicConditionID,
		ru.MinAmount, ru.RequiredLevel, ru.AutoApprovable, ru.Active, ru.CreatedAt, ru.UpdatedAt).
		Scan(&ru.ID)
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id int64) (*Rule, error) {
	return scanRule(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ruleCols+` FROM pre_approval_rule WHERE id = $1`, id))
}

func (r *ruleRepoPG) Update(ctx context.Context, ru *Rule) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE pre_approval_rule SET priority=$2, service_code=$3, provider_type=$4,
			chronic_condition_id=$5, min_amount=$6, required_level=$7, auto_approvable=$8,
			updated_at=NOW()
		WHERE id = $1`,
		ru.ID, ru.Priority, ru.ServiceCode, ru.ProviderType, ru.ChronicConditionID,
		ru.MinAmount, ru.RequiredLevel, ru.AutoApprovable)
	return err
}

func (r *ruleRepoPG) Deactivate(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE pre_approval_rule SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *ruleRepoPG) ListActive(ctx context.Context) ([]*Rule, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+ruleCols+` FROM pre_approval_rule WHERE active = TRUE ORDER BY priority DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Rule
	for rows.Next() {
		ru, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ru)
	}
	return items, rows.Err()
}

func (r *ruleRepoPG) List(ctx context.Context, limit, offset int) ([]*Rule, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pre_approval_rule`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+ruleCols+` FROM pre_approval_rule ORDER BY priority DESC, id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Rule
	for rows.Next() {
		ru, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ru)
	}
	return items, total, rows.Err()
}

// -- Pre-approvals --

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const preApprovalCols = `id, member_id, provider_id, benefit_id, service_code,
	requested_amount, approved_amount, status, required_level, reviewer_id, reviewed_at,
	valid_from, valid_until, rejection_reason, notes, active, created_at, updated_at`

func scanPreApproval(row pgx.Row) (*PreApproval, error) {
	var p PreApproval
	err := row.Scan(&p.ID, &p.MemberID, &p.ProviderID, &p.BenefitID, &p.ServiceCode,
		&p.RequestedAmount, &p.ApprovedAmount, &p.Status, &p.RequiredLevel, &p.ReviewerID, &p.ReviewedAt,
		&p.ValidFrom, &p.ValidUntil, &p.RejectionReason, &p.Notes, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *PreApproval) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pre_approval (id, member_id, provider_id, benefit_id, service_code,
			requested_amount, approved_amount, status, required_level, reviewer_id, reviewed_at,
			valid_from, valid_until, rejection_reason, notes, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		p.ID, p.MemberID, p.ProviderID, p.BenefitID, p.ServiceCode,
		p.RequestedAmount, p.ApprovedAmount, p.Status, p.RequiredLevel, p.ReviewerID, p.ReviewedAt,
		p.ValidFrom, p.ValidUntil, p.RejectionReason, p.Notes, p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*PreApproval, error) {
	return scanPreApproval(r.conn(ctx).QueryRow(ctx,
		`SELECT `+preApprovalCols+` FROM pre_approval WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *PreApproval) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE pre_approval SET approved_amount=$2, status=$3, reviewer_id=$4, reviewed_at=$5,
			valid_from=$6, valid_until=$7, rejection_reason=$8, notes=$9, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.ApprovedAmount, p.Status, p.ReviewerID, p.ReviewedAt,
		p.ValidFrom, p.ValidUntil, p.RejectionReason, p.Notes)
	return err
}

func (r *repoPG) ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*PreApproval, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM pre_approval WHERE member_id = $1`, memberID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+preApprovalCols+` FROM pre_approval WHERE member_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		memberID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*PreApproval, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM pre_approval WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+preApprovalCols+` FROM pre_approval WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collect(rows)
	return items, total, err
}

func collect(rows pgx.Rows) ([]*PreApproval, error) {
	var items []*PreApproval
	for rows.Next() {
		p, err := scanPreApproval(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) SweepExpired(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pre_approval SET status = $1, updated_at = NOW()
		WHERE status = $2 AND valid_until < $3`,
		StatusExpired, StatusApproved, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
