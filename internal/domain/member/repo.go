package member

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists members.
type Repository interface {
	Create(ctx context.Context, m *Member) error
	GetByID(ctx context.Context, id uuid.UUID) (*Member, error)
	Update(ctx context.Context, m *Member) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	ListByPolicy(ctx context.Context, policyID uuid.UUID, limit, offset int) ([]*Member, int, error)
}

// ConditionRepository persists the chronic condition registry and the
// member links.
type ConditionRepository interface {
	Create(ctx context.Context, c *ChronicCondition) error
	GetByID(ctx context.Context, id uuid.UUID) (*ChronicCondition, error)
	List(ctx context.Context) ([]*ChronicCondition, error)
	Link(ctx context.Context, link *MemberCondition) error
	ListByMember(ctx context.Context, memberID uuid.UUID) ([]*ChronicCondition, error)
}
