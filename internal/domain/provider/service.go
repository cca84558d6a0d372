package provider

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medisure/tpa/internal/domain/common"
	"github.com/medisure/tpa/internal/platform/apperr"
	"github.com/medisure/tpa/internal/platform/audit"
)

var validTypes = map[string]bool{
	TypeHospital:   true,
	TypeClinic:     true,
	TypePharmacy:   true,
	TypeLaboratory: true,
}

type Service struct {
	providers Repository
	contracts ContractRepository
	auditor   audit.Recorder
}

func NewService(providers Repository, contracts ContractRepository, auditor audit.Recorder) *Service {
	return &Service{providers: providers, contracts: contracts, auditor: auditor}
}

func (s *Service) Create(ctx context.Context, actorID string, p *Provider) error {
	if p.Name == "" {
		return apperr.Validation("provider name is required").WithPath("name")
	}
	if !validTypes[p.Type] {
		return apperr.Validation("invalid provider type: %s", p.Type).WithPath("type")
	}
	p.Audit = common.NewAudit()
	if err := s.providers.Create(ctx, p); err != nil {
		return err
	}
	s.auditor.Record("provider.create", "provider", p.ID, actorID, nil)
	return nil
}

// Find returns the provider or NOT_FOUND.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := s.providers.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("provider %s not found", id)
	}
	return p, err
}

func (s *Service) Update(ctx context.Context, actorID string, p *Provider) error {
	if p.Name == "" {
		return apperr.Validation("provider name is required").WithPath("name")
	}
	if !validTypes[p.Type] {
		return apperr.Validation("invalid provider type: %s", p.Type).WithPath("type")
	}
	existing, err := s.Find(ctx, p.ID)
	if err != nil {
		return err
	}
	p.Audit = existing.Audit
	p.Touch()
	if err := s.providers.Update(ctx, p); err != nil {
		return err
	}
	s.auditor.Record("provider.update", "provider", p.ID, actorID, nil)
	return nil
}

func (s *Service) Deactivate(ctx context.Context, actorID string, id uuid.UUID) error {
	if _, err := s.Find(ctx, id); err != nil {
		return err
	}
	if err := s.providers.Deactivate(ctx, id); err != nil {
		return err
	}
	s.auditor.Record("provider.deactivate", "provider", id, actorID, nil)
	return nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Provider, int, error) {
	return s.providers.List(ctx, limit, offset)
}

// -- Contracts --

func (s *Service) CreateContract(ctx context.Context, actorID string, c *Contract) error {
	if c.PolicyID == uuid.Nil {
		return apperr.Validation("policy id is required").WithPath("policy_id")
	}
	if c.EndDate.Before(c.StartDate) {
		return apperr.Validation("end date precedes start date").WithPath("end_date")
	}
	if _, err := s.Find(ctx, c.ProviderID); err != nil {
		return err
	}
	c.Audit = common.NewAudit()
	if err := s.contracts.Create(ctx, c); err != nil {
		return err
	}
	s.auditor.Record("contract.create", "provider_contract", c.ID, actorID,
		map[string]interface{}{"provider_id": c.ProviderID.String(), "policy_id": c.PolicyID.String()})
	return nil
}

func (s *Service) DeactivateContract(ctx context.Context, actorID string, id uuid.UUID) error {
	if _, err := s.contracts.GetByID(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("contract %s not found", id)
		}
		return err
	}
	if err := s.contracts.Deactivate(ctx, id); err != nil {
		return err
	}
	s.auditor.Record("contract.deactivate", "provider_contract", id, actorID, nil)
	return nil
}

func (s *Service) ListContracts(ctx context.Context, providerID uuid.UUID) ([]*Contract, error) {
	if _, err := s.Find(ctx, providerID); err != nil {
		return nil, err
	}
	return s.contracts.ListByProvider(ctx, providerID)
}

// HasActiveContract reports whether the provider holds a contract covering
// today for the given policy.
func (s *Service) HasActiveContract(ctx context.Context, policyID, providerID uuid.UUID) (bool, error) {
	return s.contracts.HasActive(ctx, policyID, providerID, time.Now().UTC())
}
