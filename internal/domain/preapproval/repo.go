package preapproval

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RuleRepository interface {
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id int64) (*Rule, error)
	Update(ctx context.Context, r *Rule) error
	Deactivate(ctx context.Context, id int64) error
	// ListActive returns every active rule; the engine matches in memory.
	ListActive(ctx context.Context) ([]*Rule, error)
	List(ctx context.Context, limit, offset int) ([]*Rule, int, error)
}

type Repository interface {
	Create(ctx context.Context, p *PreApproval) error
	GetByID(ctx context.Context, id uuid.UUID) (*PreApproval, error)
	Update(ctx context.Context, p *PreApproval) error
	ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*PreApproval, int, error)
	List(ctx context.Context, status string, limit, offset int) ([]*PreApproval, int, error)
	// SweepExpired marks APPROVED rows whose validity window has passed as
	// EXPIRED and returns how many were updated.
	SweepExpired(ctx context.Context, asOf time.Time) (int64, error)
}
