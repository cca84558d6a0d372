package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medisure/tpa/internal/domain/common"
)

// Coverage types for a policy.
const (
	CoverageIndividual = "individual"
	CoverageFamily     = "family"
	CoverageCompany    = "company"
)

// Policy maps to the policy table. Limits are nullable; a null limit means
// the policy does not cap that dimension.
type Policy struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	Name           string           `db:"name" json:"name"`
	AnnualLimit    *decimal.Decimal `db:"annual_limit" json:"annual_limit,omitempty"`
	PerMemberLimit *decimal.Decimal `db:"per_member_limit" json:"per_member_limit,omitempty"`
	PerFamilyLimit *decimal.Decimal `db:"per_family_limit" json:"per_family_limit,omitempty"`
	CoverageType   string           `db:"coverage_type" json:"coverage_type"`
	StartDate      time.Time        `db:"start_date" json:"start_date"`
	EndDate        time.Time        `db:"end_date" json:"end_date"`
	common.Audit
}

// BenefitDefinition maps to the benefit_definition table. A benefit is
// scoped to exactly one policy; ServiceCode is unique within the policy.
type BenefitDefinition struct {
	ID                  uuid.UUID        `db:"id" json:"id"`
	PolicyID            uuid.UUID        `db:"policy_id" json:"policy_id"`
	ServiceCode         string           `db:"service_code" json:"service_code"`
	Name                string           `db:"name" json:"name"`
	Category            *string          `db:"category" json:"category,omitempty"`
	UnitPrice           decimal.Decimal  `db:"unit_price" json:"unit_price"`
	CoveragePercentage  decimal.Decimal  `db:"coverage_percentage" json:"coverage_percentage"`
	MemberContribution  decimal.Decimal  `db:"member_contribution" json:"member_contribution"`
	AnnualMonetaryLimit *decimal.Decimal `db:"annual_monetary_limit" json:"annual_monetary_limit,omitempty"`
	AnnualCountLimit    *int             `db:"annual_count_limit" json:"annual_count_limit,omitempty"`
	RequiresPreApproval bool             `db:"requires_pre_approval" json:"requires_pre_approval"`
	common.Audit
}

// Unlimited reports whether the benefit has no monetary cap.
func (b *BenefitDefinition) Unlimited() bool {
	return b.AnnualMonetaryLimit == nil
}
