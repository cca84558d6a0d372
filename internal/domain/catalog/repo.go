package catalog

import (
	"context"

	"github.com/google/uuid"
)

// PolicyRepository persists policies.
type PolicyRepository interface {
	Create(ctx context.Context, p *Policy) error
	GetByID(ctx context.Context, id uuid.UUID) (*Policy, error)
	Update(ctx context.Context, p *Policy) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Policy, int, error)
}

// BenefitRepository persists benefit definitions.
type BenefitRepository interface {
	Create(ctx context.Context, b *BenefitDefinition) error
	GetByID(ctx context.Context, id uuid.UUID) (*BenefitDefinition, error)
	GetByServiceCode(ctx context.Context, policyID uuid.UUID, serviceCode string) (*BenefitDefinition, error)
	Update(ctx context.Context, b *BenefitDefinition) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	ListByPolicy(ctx context.Context, policyID uuid.UUID, activeOnly bool) ([]*BenefitDefinition, error)
}
