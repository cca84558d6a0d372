package provider

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const providerCols = `id, name, type, active, created_at, updated_at`

func (r *repoPG) scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Provider) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO provider (id, name, type, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.Name, p.Type, p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return r.scanProvider(r.conn(ctx).QueryRow(ctx, `SELECT `+providerCols+` FROM provider WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Provider) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE provider SET name=$2, type=$3, active=$4, updated_at=NOW() WHERE id = $1`,
		p.ID, p.Name, p.Type, p.Active)
	return err
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE provider SET active=false, updated_at=NOW() WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Provider, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM provider WHERE active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+providerCols+` FROM provider WHERE active ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Provider
	for rows.Next() {
		p, err := r.scanProvider(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Contract Repository ===========

type contractRepoPG struct{ pool *pgxpool.Pool }

func NewContractRepoPG(pool *pgxpool.Pool) ContractRepository { return &contractRepoPG{pool: pool} }

func (r *contractRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const contractCols = `id, policy_id, provider_id, start_date, end_date, active, created_at, updated_at`

func (r *contractRepoPG) scanContract(row pgx.Row) (*Contract, error) {
	var c Contract
	err := row.Scan(&c.ID, &c.PolicyID, &c.ProviderID, &c.StartDate, &c.EndDate,
		&c.Active, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *contractRepoPG) Create(ctx context.Context, c *Contract) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO provider_contract (id, policy_id, provider_id, start_date, end_date,
			active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.PolicyID, c.ProviderID, c.StartDate, c.EndDate,
		c.Active, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *contractRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Contract, error) {
	return r.scanContract(r.conn(ctx).QueryRow(ctx, `SELECT `+contractCols+` FROM provider_contract WHERE id = $1`, id))
}

func (r *contractRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE provider_contract SET active=false, updated_at=NOW() WHERE id = $1`, id)
	return err
}

func (r *contractRepoPG) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*Contract, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+contractCols+` FROM provider_contract WHERE provider_id = $1 ORDER BY start_date DESC`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Contract
	for rows.Next() {
		c, err := r.scanContract(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *contractRepoPG) HasActive(ctx context.Context, policyID, providerID uuid.UUID, at time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM provider_contract
			WHERE policy_id = $1 AND provider_id = $2 AND active
			  AND start_date <= $3 AND end_date >= $3
		)`, policyID, providerID, at).Scan(&exists)
	return exists, err
}
