package member

import (
	"time"

	"github.com/google/uuid"

	"github.com/medisure/tpa/internal/domain/common"
)

// Member maps to the member table.
type Member struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PolicyID    uuid.UUID  `db:"policy_id" json:"policy_id"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	Email       *string    `db:"email" json:"email,omitempty"`
	Phone       *string    `db:"phone" json:"phone,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	common.Audit
}

// ChronicCondition maps to the chronic_condition table.
type ChronicCondition struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Code string    `db:"code" json:"code"`
	Name string    `db:"name" json:"name"`
	common.Audit
}

// MemberCondition links a member to a chronic condition.
type MemberCondition struct {
	MemberID    uuid.UUID `db:"member_id" json:"member_id"`
	ConditionID uuid.UUID `db:"condition_id" json:"condition_id"`
	DiagnosedAt time.Time `db:"diagnosed_at" json:"diagnosed_at"`
}
