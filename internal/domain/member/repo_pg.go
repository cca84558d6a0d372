package member

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

const memberCols = `id, policy_id, first_name, last_name, email, phone, date_of_birth,
	active, created_at, updated_at`

func (r *repoPG) scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.PolicyID, &m.FirstName, &m.LastName, &m.Email, &m.Phone,
		&m.DateOfBirth, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *repoPG) Create(ctx context.Context, m *Member) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO member (id, policy_id, first_name, last_name, email, phone, date_of_birth,
			active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		m.ID, m.PolicyID, m.FirstName, m.LastName, m.Email, m.Phone, m.DateOfBirth,
		m.Active, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Member, error) {
	return r.scanMember(r.conn(ctx).QueryRow(ctx, `SELECT `+memberCols+` FROM member WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, m *Member) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE member SET policy_id=$2, first_name=$3, last_name=$4, email=$5, phone=$6,
			date_of_birth=$7, active=$8, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.PolicyID, m.FirstName, m.LastName, m.Email, m.Phone, m.DateOfBirth, m.Active)
	return err
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE member SET active=false, updated_at=NOW() WHERE id = $1`, id)
	return err
}

func (r *repoPG) ListByPolicy(ctx context.Context, policyID uuid.UUID, limit, offset int) ([]*Member, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM member WHERE policy_id = $1 AND active`, policyID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+memberCols+` FROM member WHERE policy_id = $1 AND active ORDER BY last_name, first_name LIMIT $2 OFFSET $3`,
		policyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Member
	for rows.Next() {
		m, err := r.scanMember(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

// =========== Condition Repository ===========

type conditionRepoPG struct{ pool *pgxpool.Pool }

func NewConditionRepoPG(pool *pgxpool.Pool) ConditionRepository { return &conditionRepoPG{pool: pool} }

func (r *conditionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const conditionCols = `id, code, name, active, created_at, updated_at`

func (r *conditionRepoPG) scanCondition(row pgx.Row) (*ChronicCondition, error) {
	var c ChronicCondition
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *conditionRepoPG) Create(ctx context.Context, c *ChronicCondition) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO chronic_condition (id, code, name, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.Code, c.Name, c.Active, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *conditionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ChronicCondition, error) {
	return r.scanCondition(r.conn(ctx).QueryRow(ctx, `SELECT `+conditionCols+` FROM chronic_condition WHERE id = $1`, id))
}

func (r *conditionRepoPG) List(ctx context.Context) ([]*ChronicCondition, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+conditionCols+` FROM chronic_condition WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ChronicCondition
	for rows.Next() {
		c, err := r.scanCondition(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *conditionRepoPG) Link(ctx context.Context, link *MemberCondition) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO member_chronic_condition (member_id, condition_id, diagnosed_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (member_id, condition_id) DO NOTHING`,
		link.MemberID, link.ConditionID, link.DiagnosedAt)
	return err
}

func (r *conditionRepoPG) ListByMember(ctx context.Context, memberID uuid.UUID) ([]*ChronicCondition, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT c.id, c.code, c.name, c.active, c.created_at, c.updated_at
		FROM chronic_condition c
		JOIN member_chronic_condition mc ON mc.condition_id = c.id
		WHERE mc.member_id = $1 AND c.active
		ORDER BY c.code`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ChronicCondition
	for rows.Next() {
		c, err := r.scanCondition(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
