package usage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BenefitUsage is one ledger row: the running balance for a
// (member, benefit, calendar year) triple. Remaining fields are null when
// the corresponding benefit limit is null (unlimited, tracked only).
type BenefitUsage struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	MemberID        uuid.UUID        `db:"member_id" json:"member_id"`
	BenefitID       uuid.UUID        `db:"benefit_id" json:"benefit_id"`
	Year            int              `db:"year" json:"year"`
	UsedAmount      decimal.Decimal  `db:"used_amount" json:"used_amount"`
	UsedCount       int              `db:"used_count" json:"used_count"`
	RemainingAmount *decimal.Decimal `db:"remaining_amount" json:"remaining_amount,omitempty"`
	RemainingCount  *int             `db:"remaining_count" json:"remaining_count,omitempty"`
	LastUsageDate   *time.Time       `db:"last_usage_date" json:"last_usage_date,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}
