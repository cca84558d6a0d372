package claims

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medisure/tpa/internal/domain/common"
)

// Claim lifecycle states.
const (
	StatusPendingReview     = "PENDING_REVIEW"
	StatusPreApproved       = "PREAPPROVED"
	StatusApproved          = "APPROVED"
	StatusPartiallyApproved = "PARTIALLY_APPROVED"
	StatusRejected          = "REJECTED"
	StatusReturnedForInfo   = "RETURNED_FOR_INFO"
	StatusCancelled         = "CANCELLED"
)

// transitions is the adjudication state machine. Absent keys are terminal.
var transitions = map[string]map[string]bool{
	StatusPendingReview: {
		StatusPreApproved:       true,
		StatusApproved:          true,
		StatusPartiallyApproved: true,
		StatusRejected:          true,
		StatusReturnedForInfo:   true,
		StatusCancelled:         true,
	},
	StatusPreApproved: {
		StatusApproved:          true,
		StatusPartiallyApproved: true,
		StatusRejected:          true,
	},
	StatusReturnedForInfo: {
		StatusPendingReview: true,
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// Terminal reports whether no further transition leaves the status.
func Terminal(status string) bool {
	return len(transitions[status]) == 0
}

// ClaimLine maps to the claim_line table. LineTotal is always recomputed
// server-side from quantity and unit price; client-supplied totals are
// ignored.
type ClaimLine struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	ClaimID     uuid.UUID       `db:"claim_id" json:"claim_id"`
	ServiceCode string          `db:"service_code" json:"service_code"`
	Description *string         `db:"description" json:"description,omitempty"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal   decimal.Decimal `db:"line_total" json:"line_total"`
}

// Claim maps to the claim table. RequestedAmount is the sum of the line
// totals; CoveredAmount is what the policy pays for it after coverage
// percentage and member contribution.
type Claim struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	MemberID        uuid.UUID        `db:"member_id" json:"member_id"`
	ProviderID      uuid.UUID        `db:"provider_id" json:"provider_id"`
	BenefitID       uuid.UUID        `db:"benefit_id" json:"benefit_id"`
	ServiceCode     string           `db:"service_code" json:"service_code"`
	PreApprovalID   *uuid.UUID       `db:"pre_approval_id" json:"pre_approval_id,omitempty"`
	Status          string           `db:"status" json:"status"`
	RequestedAmount decimal.Decimal  `db:"requested_amount" json:"requested_amount"`
	CoveredAmount   decimal.Decimal  `db:"covered_amount" json:"covered_amount"`
	ApprovedAmount  *decimal.Decimal `db:"approved_amount" json:"approved_amount,omitempty"`
	ReviewerID      *string          `db:"reviewer_id" json:"reviewer_id,omitempty"`
	ReviewerComment *string          `db:"reviewer_comment" json:"reviewer_comment,omitempty"`
	SubmittedAt     time.Time        `db:"submitted_at" json:"submitted_at"`
	DecidedAt       *time.Time       `db:"decided_at" json:"decided_at,omitempty"`
	Lines           []*ClaimLine     `db:"-" json:"lines"`
	common.Audit
}

// TotalQuantity sums line quantities; it is the count debited against the
// benefit's annual count limit.
func (c *Claim) TotalQuantity() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}
