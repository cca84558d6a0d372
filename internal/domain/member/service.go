package member

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

// PolicySource resolves the policy a member enrolls into.
type PolicySource interface {
	PolicyExists(ctx context.Context, id uuid.UUID) error
}

// LedgerInitializer seeds ledger rows for a member's policy benefits.
// Implemented by the usage service; nil disables initialization (tests).
type LedgerInitializer interface {
	InitForMember(ctx context.Context, memberID, policyID uuid.UUID, year int) error
}

type Service struct {
	members    Repository
	conditions ConditionRepository
	policies   PolicySource
	ledger     LedgerInitializer
	auditor    audit.Recorder
}

func NewService(members Repository, conditions ConditionRepository, policies PolicySource, ledger LedgerInitializer, auditor audit.Recorder) *Service {
	return &Service{members: members, conditions: conditions, policies: policies, ledger: ledger, auditor: auditor}
}

// SetLedger binds the ledger initializer after construction. The usage
// service consumes this service for policy lookups, so the two are wired
// in two steps.
func (s *Service) SetLedger(l LedgerInitializer) { s.ledger = l }

func guardMember(m *Member) error {
	if m.FirstName == "" {
		return apperr.Validation("first name is required").WithPath("first_name")
	}
	if m.LastName == "" {
		return apperr.Validation("last name is required").WithPath("last_name")
	}
	if m.PolicyID == uuid.Nil {
		return apperr.Validation("policy id is required").WithPath("policy_id")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actorID string, m *Member) error {
	if err := guardMember(m); err != nil {
		return err
	}
	if err := s.policies.PolicyExists(ctx, m.PolicyID); err != nil {
		return err
	}
	m.Audit = common.NewAudit()
	if err := s.members.Create(ctx, m); err != nil {
		return err
	}
	// Seed the current year's ledger rows for the policy's active benefits.
	if s.ledger != nil {
		if err := s.ledger.InitForMember(ctx, m.ID, m.PolicyID, time.Now().Year()); err != nil {
			return err
		}
	}
	s.auditor.Record("member.create", "member", m.ID, actorID, nil)
	return nil
}

// Find returns the member or NOT_FOUND.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (*Member, error) {
	m, err := s.members.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("member %s not found", id)
	}
	return m, err
}

func (s *Service) Update(ctx context.Context, actorID string, m *Member) error {
	if err := guardMember(m); err != nil {
		return err
	}
	existing, err := s.Find(ctx, m.ID)
	if err != nil {
		return err
	}
	if m.PolicyID != existing.PolicyID {
		if err := s.policies.PolicyExists(ctx, m.PolicyID); err != nil {
			return err
		}
		// Re-enrollment on a new policy needs fresh ledger rows.
		if s.ledger != nil {
			if err := s.ledger.InitForMember(ctx, m.ID, m.PolicyID, time.Now().Year()); err != nil {
				return err
			}
		}
	}
	m.Audit = existing.Audit
	m.Touch()
	if err := s.members.Update(ctx, m); err != nil {
		return err
	}
	s.auditor.Record("member.update", "member", m.ID, actorID, nil)
	return nil
}

func (s *Service) Deactivate(ctx context.Context, actorID string, id uuid.UUID) error {
	if _, err := s.Find(ctx, id); err != nil {
		return err
	}
	if err := s.members.Deactivate(ctx, id); err != nil {
		return err
	}
	s.auditor.Record("member.deactivate", "member", id, actorID, nil)
	return nil
}

func (s *Service) ListByPolicy(ctx context.Context, policyID uuid.UUID, limit, offset int) ([]*Member, int, error) {
	return s.members.ListByPolicy(ctx, policyID, limit, offset)
}

// -- Chronic conditions --

func (s *Service) CreateCondition(ctx context.Context, actorID string, c *ChronicCondition) error {
	if c.Code == "" {
		return apperr.Validation("condition code is required").WithPath("code")
	}
	if c.Name == "" {
		return apperr.Validation("condition name is required").WithPath("name")
	}
	c.Audit = common.NewAudit()
	if err := s.conditions.Create(ctx, c); err != nil {
		return err
	}
	s.auditor.Record("condition.create", "chronic_condition", c.ID, actorID, nil)
	return nil
}

func (s *Service) ListConditions(ctx context.Context) ([]*ChronicCondition, error) {
	return s.conditions.List(ctx)
}

// LinkCondition records a chronic condition diagnosis for a member.
func (s *Service) LinkCondition(ctx context.Context, actorID string, memberID, conditionID uuid.UUID) error {
	if _, err := s.Find(ctx, memberID); err != nil {
		return err
	}
	if _, err := s.conditions.GetByID(ctx, conditionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("chronic condition %s not found", conditionID)
		}
		return err
	}
	link := &MemberCondition{MemberID: memberID, ConditionID: conditionID, DiagnosedAt: time.Now().UTC()}
	if err := s.conditions.Link(ctx, link); err != nil {
		return err
	}
	s.auditor.Record("condition.link", "member", memberID, actorID,
		map[string]interface{}{"condition_id": conditionID.String()})
	return nil
}

// ListMemberConditions returns the member's diagnosed chronic conditions.
func (s *Service) ListMemberConditions(ctx context.Context, memberID uuid.UUID) ([]*ChronicCondition, error) {
	if _, err := s.Find(ctx, memberID); err != nil {
		return nil, err
	}
	return s.conditions.ListByMember(ctx, memberID)
}

// PolicyOf returns the id of the policy the member is enrolled in. Inactive
// members resolve like active ones; claims against archived members are
// rejected elsewhere.
func (s *Service) PolicyOf(ctx context.Context, memberID uuid.UUID) (uuid.UUID, error) {
	m, err := s.Find(ctx, memberID)
	if err != nil {
		return uuid.Nil, err
	}
	return m.PolicyID, nil
}
