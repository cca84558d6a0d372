package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/medisure/tpa/internal/domain/common"
	"github.com/medisure/tpa/internal/platform/apperr"
	"github.com/medisure/tpa/internal/platform/audit"
)

type Service struct {
	policies PolicyRepository
	benefits BenefitRepository
	auditor  audit.Recorder
}

func NewService(policies PolicyRepository, benefits BenefitRepository, auditor audit.Recorder) *Service {
	return &Service{policies: policies, benefits: benefits, auditor: auditor}
}

var validCoverageTypes = map[string]bool{
	CoverageIndividual: true,
	CoverageFamily:     true,
	CoverageCompany:    true,
}

// -- Policy --

func guardPolicy(p *Policy) error {
	if p.Name == "" {
		return apperr.Validation("policy name is required").WithPath("name")
	}
	if !validCoverageTypes[p.CoverageType] {
		return apperr.Validation("invalid coverage type: %s", p.CoverageType).WithPath("coverage_type")
	}
	if p.EndDate.Before(p.StartDate) {
		return apperr.Validation("end date precedes start date").WithPath("end_date")
	}
	if p.AnnualLimit != nil && p.AnnualLimit.IsNegative() {
		return apperr.Validation("limit must not be negative").WithPath("annual_limit")
	}
	if p.PerMemberLimit != nil && p.PerMemberLimit.IsNegative() {
		return apperr.Validation("limit must not be negative").WithPath("per_member_limit")
	}
	if p.PerFamilyLimit != nil && p.PerFamilyLimit.IsNegative() {
		return apperr.Validation("limit must not be negative").WithPath("per_family_limit")
	}
	return nil
}

func (s *Service) CreatePolicy(ctx context.Context, actorID string, p *Policy) error {
	if err := guardPolicy(p); err != nil {
		return err
	}
	p.Audit = common.NewAudit()
	if err := s.policies.Create(ctx, p); err != nil {
		return err
	}
	s.auditor.Record("policy.create", "policy", p.ID, actorID, nil)
	return nil
}

func (s *Service) GetPolicy(ctx context.Context, id uuid.UUID) (*Policy, error) {
	p, err := s.policies.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("policy %s not found", id)
	}
	return p, err
}

// PolicyExists reports NOT_FOUND when the policy is unknown.
func (s *Service) PolicyExists(ctx context.Context, id uuid.UUID) error {
	_, err := s.GetPolicy(ctx, id)
	return err
}

func (s *Service) UpdatePolicy(ctx context.Context, actorID string, p *Policy) error {
	if err := guardPolicy(p); err != nil {
		return err
	}
	existing, err := s.GetPolicy(ctx, p.ID)
	if err != nil {
		return err
	}
	p.Audit = existing.Audit
	p.Touch()
	if err := s.policies.Update(ctx, p); err != nil {
		return err
	}
	s.auditor.Record("policy.update", "policy", p.ID, actorID, nil)
	return nil
}

func (s *Service) DeactivatePolicy(ctx context.Context, actorID string, id uuid.UUID) error {
	if _, err := s.GetPolicy(ctx, id); err != nil {
		return err
	}
	if err := s.policies.Deactivate(ctx, id); err != nil {
		return err
	}
	s.auditor.Record("policy.deactivate", "policy", id, actorID, nil)
	return nil
}

func (s *Service) ListPolicies(ctx context.Context, activeOnly bool, limit, offset int) ([]*Policy, int, error) {
	return s.policies.List(ctx, activeOnly, limit, offset)
}

// -- BenefitDefinition --

var hundred = decimal.NewFromInt(100)

func guardBenefit(b *BenefitDefinition) error {
	if b.ServiceCode == "" {
		return apperr.Validation("service code is required").WithPath("service_code")
	}
	if b.Name == "" {
		return apperr.Validation("benefit name is required").WithPath("name")
	}
	if b.UnitPrice.IsNegative() {
		return apperr.Validation("unit price must not be negative").WithPath("unit_price")
	}
	if b.CoveragePercentage.IsNegative() || b.CoveragePercentage.GreaterThan(hundred) {
		return apperr.Validation("coverage percentage must be between 0 and 100").WithPath("coverage_percentage")
	}
	if b.MemberContribution.IsNegative() {
		return apperr.Validation("member contribution must not be negative").WithPath("member_contribution")
	}
	if b.AnnualMonetaryLimit != nil && b.AnnualMonetaryLimit.IsNegative() {
		return apperr.Validation("annual monetary limit must not be negative").WithPath("annual_monetary_limit")
	}
	if b.AnnualCountLimit != nil && *b.AnnualCountLimit < 0 {
		return apperr.Validation("annual count limit must not be negative").WithPath("annual_count_limit")
	}
	return nil
}

func (s *Service) CreateBenefit(ctx context.Context, actorID string, b *BenefitDefinition) error {
	if err := guardBenefit(b); err != nil {
		return err
	}
	if _, err := s.GetPolicy(ctx, b.PolicyID); err != nil {
		return err
	}
	// Service codes are unique within a policy
	_, err := s.benefits.GetByServiceCode(ctx, b.PolicyID, b.ServiceCode)
	if err == nil {
		return apperr.Validation("service code %s already exists for this policy", b.ServiceCode).WithPath("service_code")
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	b.Audit = common.NewAudit()
	if err := s.benefits.Create(ctx, b); err != nil {
		return err
	}
	s.auditor.Record("benefit.create", "benefit_definition", b.ID, actorID,
		map[string]interface{}{"service_code": b.ServiceCode})
	return nil
}

func (s *Service) GetBenefit(ctx context.Context, id uuid.UUID) (*BenefitDefinition, error) {
	b, err := s.benefits.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("benefit %s not found", id)
	}
	return b, err
}

// GetBenefitByServiceCode resolves a policy's benefit by service code.
func (s *Service) GetBenefitByServiceCode(ctx context.Context, policyID uuid.UUID, serviceCode string) (*BenefitDefinition, error) {
	b, err := s.benefits.GetByServiceCode(ctx, policyID, serviceCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("benefit %s not found for policy %s", serviceCode, policyID)
	}
	return b, err
}

func (s *Service) UpdateBenefit(ctx context.Context, actorID string, b *BenefitDefinition) error {
	if err := guardBenefit(b); err != nil {
		return err
	}
	existing, err := s.GetBenefit(ctx, b.ID)
	if err != nil {
		return err
	}
	if b.ServiceCode != existing.ServiceCode {
		_, err := s.benefits.GetByServiceCode(ctx, existing.PolicyID, b.ServiceCode)
		if err == nil {
			return apperr.Validation("service code %s already exists for this policy", b.ServiceCode).WithPath("service_code")
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	}
	b.PolicyID = existing.PolicyID
	b.Audit = existing.Audit
	b.Touch()
	if err := s.benefits.Update(ctx, b); err != nil {
		return err
	}
	s.auditor.Record("benefit.update", "benefit_definition", b.ID, actorID,
		map[string]interface{}{"service_code": b.ServiceCode})
	return nil
}

func (s *Service) DeactivateBenefit(ctx context.Context, actorID string, id uuid.UUID) error {
	if _, err := s.GetBenefit(ctx, id); err != nil {
		return err
	}
	if err := s.benefits.Deactivate(ctx, id); err != nil {
		return err
	}
	s.auditor.Record("benefit.deactivate", "benefit_definition", id, actorID, nil)
	return nil
}

func (s *Service) ListBenefitsByPolicy(ctx context.Context, policyID uuid.UUID, activeOnly bool) ([]*BenefitDefinition, error) {
	if _, err := s.GetPolicy(ctx, policyID); err != nil {
		return nil, err
	}
	return s.benefits.ListByPolicy(ctx, policyID, activeOnly)
}

// FindActiveBenefitsByPolicy returns the policy's active benefit set.
func (s *Service) FindActiveBenefitsByPolicy(ctx context.Context, policyID uuid.UUID) ([]*BenefitDefinition, error) {
	return s.benefits.ListByPolicy(ctx, policyID, true)
}
