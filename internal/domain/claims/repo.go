package claims

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists the claim and its lines.
	Create(ctx context.Context, c *Claim) error
	// GetByID loads the claim with its lines.
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	Update(ctx context.Context, c *Claim) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Claim, int, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Claim, int, error)
}
