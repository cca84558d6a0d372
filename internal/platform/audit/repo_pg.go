package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) Insert(ctx context.Context, e *Entry) error {
	var details []byte
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = b
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, action, entity_type, entity_id, actor_id, details, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.Action, e.EntityType, e.EntityID, e.ActorID, details, e.RecordedAt)
	return err
}
