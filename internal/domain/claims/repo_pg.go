package claims

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

const claimCols = `id, member_id, provider_id, benefit_id, service_code, pre_approval_id,
	status, requested_amount, covered_amount, approved_amount, reviewer_id, reviewer_comment,
	submitted_at, decided_at, active, created_at, updated_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.MemberID, &c.ProviderID, &c.BenefitID, &c.ServiceCode, &c.PreApprovalID,
		&c.Status, &c.RequestedAmount, &c.CoveredAmount, &c.ApprovedAmount, &c.ReviewerID, &c.ReviewerComment,
		&c.SubmittedAt, &c.DecidedAt, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Claim) error {
	c.ID = uuid.New()
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO claim (id, member_id, provider_id, benefit_id, service_code, pre_approval_id,
			status, requested_amount, covered_amount, approved_amount, reviewer_id, reviewer_comment,
			submitted_at, decided_at, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		c.ID, c.MemberID, c.ProviderID, c.BenefitID, c.ServiceCode, c.PreApprovalID,
		c.Status, c.RequestedAmount, c.CoveredAmount, c.ApprovedAmount, c.ReviewerID, c.ReviewerComment,
		c.SubmittedAt, c.DecidedAt, c.Active, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	for _, l := range c.Lines {
		l.ID = uuid.New()
		l.ClaimID = c.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO claim_line (id, claim_id, service_code, description, quantity, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			l.ID, l.ClaimID, l.ServiceCode, l.Description, l.Quantity, l.UnitPrice, l.LineTotal); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claim WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, service_code, description, quantity, unit_price, line_total
		FROM claim_line WHERE claim_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ClaimLine
		if err := rows.Scan(&l.ID, &l.ClaimID, &l.ServiceCode, &l.Description,
			&l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return nil, err
		}
		c.Lines = append(c.Lines, &l)
	}
	return c, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, c *Claim) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE claim SET status=$2, approved_amount=$3, reviewer_id=$4, reviewer_comment=$5,
			decided_at=$6, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Status, c.ApprovedAmount, c.ReviewerID, c.ReviewerComment, c.DecidedAt)
	return err
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE claim SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *repoPG) ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Claim, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM claim WHERE member_id = $1 AND active = TRUE`, memberID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+claimCols+` FROM claim WHERE member_id = $1 AND active = TRUE
		 ORDER BY submitted_at DESC LIMIT $2 OFFSET $3`,
		memberID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectClaims(rows)
	return items, total, err
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*Claim, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM claim WHERE active = TRUE AND ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+claimCols+` FROM claim WHERE active = TRUE AND ($1 = '' OR status = $1)
		 ORDER BY submitted_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectClaims(rows)
	return items, total, err
}

func collectClaims(rows pgx.Rows) ([]*Claim, error) {
	var items []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
