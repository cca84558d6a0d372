package preapproval

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medisure/tpa/internal/domain/common"
)

// ApprovalLevel is the authority tier required to approve a request.
type ApprovalLevel string

const (
	LevelNone            ApprovalLevel = "NONE"
	LevelSupervisor      ApprovalLevel = "SUPERVISOR"
	LevelMedicalDirector ApprovalLevel = "MEDICAL_DIRECTOR"
)

// Escalate returns the next tier up; MEDICAL_DIRECTOR is the ceiling.
func (l ApprovalLevel) Escalate() ApprovalLevel {
	switch l {
	case LevelNone:
		return LevelSupervisor
	default:
		return LevelMedicalDirector
	}
}

// Pre-approval lifecycle states.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
	StatusExpired  = "EXPIRED"
)

// SystemActor is recorded as the reviewer on auto-approved requests.
const SystemActor = "system"

// Rule maps to the pre_approval_rule table. Nil filter fields are
// wildcards; MinAmount matches requests strictly above the threshold.
// Rules carry a serial id so priority ties break deterministically.
type Rule struct {
	ID                 int64            `db:"id" json:"id"`
	Priority           int              `db:"priority" json:"priority"`
	ServiceCode        *string          `db:"service_code" json:"service_code,omitempty"`
	ProviderType       *string          `db:"provider_type" json:"provider_type,omitempty"`
	ChronicConditionID *uuid.UUID       `db:"chronic_condition_id" json:"chronic_condition_id,omitempty"`
	MinAmount          *decimal.Decimal `db:"min_amount" json:"min_amount,omitempty"`
	RequiredLevel      ApprovalLevel    `db:"required_level" json:"required_level"`
	AutoApprovable     bool             `db:"auto_approvable" json:"auto_approvable"`
	common.Audit
}

// specificity counts populated filters; more specific rules win priority
// ties.
func (r *Rule) specificity() int {
	n := 0
	if r.ServiceCode != nil {
		n++
	}
	if r.ProviderType != nil {
		n++
	}
	if r.ChronicConditionID != nil {
		n++
	}
	if r.MinAmount != nil {
		n++
	}
	return n
}

// PreApproval maps to the pre_approval table.
type PreApproval struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	MemberID        uuid.UUID        `db:"member_id" json:"member_id"`
	ProviderID      uuid.UUID        `db:"provider_id" json:"provider_id"`
	BenefitID       uuid.UUID        `db:"benefit_id" json:"benefit_id"`
	ServiceCode     string           `db:"service_code" json:"service_code"`
	RequestedAmount decimal.Decimal  `db:"requested_amount" json:"requested_amount"`
	ApprovedAmount  *decimal.Decimal `db:"approved_amount" json:"approved_amount,omitempty"`
	Status          string           `db:"status" json:"status"`
	RequiredLevel   ApprovalLevel    `db:"required_level" json:"required_level"`
	ReviewerID      *string          `db:"reviewer_id" json:"reviewer_id,omitempty"`
	ReviewedAt      *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ValidFrom       *time.Time       `db:"valid_from" json:"valid_from,omitempty"`
	ValidUntil      *time.Time       `db:"valid_until" json:"valid_until,omitempty"`
	RejectionReason *string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	Notes           *string          `db:"notes" json:"notes,omitempty"`
	common.Audit
}

// Usable reports whether the approval can back a claim at the given time.
func (p *PreApproval) Usable(at time.Time) bool {
	if p.Status != StatusApproved {
		return false
	}
	if p.ValidUntil == nil {
		return false
	}
	return !p.ValidUntil.Before(at)
}
