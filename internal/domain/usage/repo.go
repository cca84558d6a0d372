package usage

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists ledger rows. GetForUpdate must lock the row for the
// remainder of the ambient transaction so concurrent debits serialize.
type Repository interface {
	Get(ctx context.Context, memberID, benefitID uuid.UUID, year int) (*BenefitUsage, error)
	GetForUpdate(ctx context.Context, memberID, benefitID uuid.UUID, year int) (*BenefitUsage, error)
	Insert(ctx context.Context, u *BenefitUsage) error
	Update(ctx context.Context, u *BenefitUsage) error
	ListByMember(ctx context.Context, memberID uuid.UUID, year int) ([]*BenefitUsage, error)
}
