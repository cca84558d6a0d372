package provider

import (
	"time"

	"github.com/google/uuid"

	"github.com/medisure/tpa/internal/domain/common"
)

// Provider types recognized by the pre-approval rules.
const (
	TypeHospital   = "hospital"
	TypeClinic     = "clinic"
	TypePharmacy   = "pharmacy"
	TypeLaboratory = "laboratory"
)

// Provider maps to the provider table.
type Provider struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
	Type string    `db:"type" json:"type"`
	common.Audit
}

// Contract maps to the provider_contract table. A contract binds a provider
// to a policy for a date range; claims outside an active contract are
// refused.
type Contract struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PolicyID   uuid.UUID `db:"policy_id" json:"policy_id"`
	ProviderID uuid.UUID `db:"provider_id" json:"provider_id"`
	StartDate  time.Time `db:"start_date" json:"start_date"`
	EndDate    time.Time `db:"end_date" json:"end_date"`
	common.Audit
}
