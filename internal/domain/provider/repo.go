package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists providers.
type Repository interface {
	Create(ctx context.Context, p *Provider) error
	GetByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	Update(ctx context.Context, p *Provider) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Provider, int, error)
}

// ContractRepository persists provider contracts.
type ContractRepository interface {
	Create(ctx context.Context, c *Contract) error
	GetByID(ctx context.Context, id uuid.UUID) (*Contract, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*Contract, error)
	HasActive(ctx context.Context, policyID, providerID uuid.UUID, at time.Time) (bool, error)
}
