package preapproval

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/medisure/tpa/internal/domain/catalog"
	"github.com/medisure/tpa/internal/domain/common"
	"github.com/medisure/tpa/internal/domain/member"
	"github.com/medisure/tpa/internal/domain/provider"
	"github.com/medisure/tpa/internal/platform/apperr"
	"github.com/medisure/tpa/internal/platform/audit"
)

// TxRunner executes fn inside a database transaction; the transaction is
// made visible to repositories through the context.
type TxRunner func(ctx context.Context, fn func(context.Context) error) error

// BenefitSource resolves benefits from the catalog.
type BenefitSource interface {
	GetBenefitByServiceCode(ctx context.Context, policyID uuid.UUID, serviceCode string) (*catalog.BenefitDefinition, error)
}

// MemberSource resolves a member's enrollment and diagnoses.
type MemberSource interface {
	PolicyOf(ctx context.Context, memberID uuid.UUID) (uuid.UUID, error)
	ListMemberConditions(ctx context.Context, memberID uuid.UUID) ([]*member.ChronicCondition, error)
}

// ProviderSource resolves providers and their contract standing.
type ProviderSource interface {
	Find(ctx context.Context, id uuid.UUID) (*provider.Provider, error)
	HasActiveContract(ctx context.Context, policyID, providerID uuid.UUID) (bool, error)
}

// Ledger reports remaining benefit balances.
type Ledger interface {
	Remaining(ctx context.Context, memberID, benefitID uuid.UUID, year int) (*decimal.Decimal, error)
}

type Service struct {
	rules        RuleRepository
	approvals    Repository
	benefits     BenefitSource
	members      MemberSource
	providers    ProviderSource
	ledger       Ledger
	run          TxRunner
	auditor      audit.Recorder
	validityDays int
}

func NewService(rules RuleRepository, approvals Repository, benefits BenefitSource,
	members MemberSource, providers ProviderSource, ledger Ledger,
	run TxRunner, auditor audit.Recorder, validityDays int) *Service {
	if validityDays <= 0 {
		validityDays = 30
	}
	return &Service{
		rules:        rules,
		approvals:    approvals,
		benefits:     benefits,
		members:      members,
		providers:    providers,
		ledger:       ledger,
		run:          run,
		auditor:      auditor,
		validityDays: validityDays,
	}
}

var validLevels = map[ApprovalLevel]bool{
	LevelNone:            true,
	LevelSupervisor:      true,
	LevelMedicalDirector: true,
}

// -- Rules --

func guardRule(r *Rule) error {
	if !validLevels[r.RequiredLevel] {
		return apperr.Validation("invalid approval level: %s", r.RequiredLevel).WithPath("required_level")
	}
	if r.Priority < 0 {
		return apperr.Validation("priority must not be negative").WithPath("priority")
	}
	if r.MinAmount != nil && r.MinAmount.IsNegative() {
		return apperr.Validation("minimum amount must not be negative").WithPath("min_amount")
	}
	return nil
}

func (s *Service) CreateRule(ctx context.Context, actorID string, r *Rule) error {
	if err := guardRule(r); err != nil {
		return err
	}
	r.Audit = common.NewAudit()
	if err := s.rules.Create(ctx, r); err != nil {
		return err
	}
	s.auditor.Record("preapproval_rule.create", "pre_approval_rule", uuid.Nil, actorID,
		map[string]interface{}{"rule_id": r.ID})
	return nil
}

func (s *Service) UpdateRule(ctx context.Context, actorID string, r *Rule) error {
	if err := guardRule(r); err != nil {
		return err
	}
	existing, err := s.rules.GetByID(ctx, r.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("pre-approval rule %d not found", r.ID)
	}
	if err != nil {
		return err
	}
	r.Audit = existing.Audit
	r.Touch()
	if err := s.rules.Update(ctx, r); err != nil {
		return err
	}
	s.auditor.Record("preapproval_rule.update", "pre_approval_rule", uuid.Nil, actorID,
		map[string]interface{}{"rule_id": r.ID})
	return nil
}

func (s *Service) DeactivateRule(ctx context.Context, actorID string, id int64) error {
	if _, err := s.rules.GetByID(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("pre-approval rule %d not found", id)
		}
		return err
	}
	if err := s.rules.Deactivate(ctx, id); err != nil {
		return err
	}
	s.auditor.Record("preapproval_rule.deactivate", "pre_approval_rule", uuid.Nil, actorID,
		map[string]interface{}{"rule_id": id})
	return nil
}

func (s *Service) ListRules(ctx context.Context, limit, offset int) ([]*Rule, int, error) {
	return s.rules.List(ctx, limit, offset)
}

// -- Requests --

// SubmitInput is the request payload for a new pre-approval.
type SubmitInput struct {
	MemberID        uuid.UUID       `json:"member_id"`
	ProviderID      uuid.UUID       `json:"provider_id"`
	ServiceCode     string          `json:"service_code"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Notes           *string         `json:"notes,omitempty"`
}

// Submit evaluates the rule set and files the request. Evaluations that
// need no review, or that a rule marks auto-approvable, are approved at
// submission with "system" as the reviewer, provided the amount fits the
// member's remaining balance.
func (s *Service) Submit(ctx context.Context, actorID string, in SubmitInput) (*PreApproval, error) {
	if !in.RequestedAmount.IsPositive() {
		return nil, apperr.Validation("requested amount must be positive").WithPath("requested_amount")
	}
	if in.ServiceCode == "" {
		return nil, apperr.Validation("service code is required").WithPath("service_code")
	}

	policyID, err := s.members.PolicyOf(ctx, in.MemberID)
	if err != nil {
		return nil, err
	}
	prov, err := s.providers.Find(ctx, in.ProviderID)
	if err != nil {
		return nil, err
	}
	contracted, err := s.providers.HasActiveContract(ctx, policyID, in.ProviderID)
	if err != nil {
		return nil, err
	}
	if !contracted {
		return nil, apperr.ProviderNotContracted("provider %s has no active contract for the member's policy", in.ProviderID)
	}
	benefit, err := s.benefits.GetBenefitByServiceCode(ctx, policyID, in.ServiceCode)
	if err != nil {
		return nil, err
	}
	if !benefit.Active {
		return nil, apperr.NotFound("benefit %s is not active", in.ServiceCode)
	}

	conditions, err := s.members.ListMemberConditions(ctx, in.MemberID)
	if err != nil {
		return nil, err
	}
	conditionIDs := make([]uuid.UUID, 0, len(conditions))
	for _, c := range conditions {
		conditionIDs = append(conditionIDs, c.ID)
	}
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	amount := in.RequestedAmount.Round(2)
	ev := Evaluate(rules, EvalInput{
		ServiceCode:       in.ServiceCode,
		ProviderType:      prov.Type,
		ChronicConditions: conditionIDs,
		Amount:            amount,
		BenefitLimit:      benefit.AnnualMonetaryLimit,
	})

	p := &PreApproval{
		MemberID:        in.MemberID,
		ProviderID:      in.ProviderID,
		BenefitID:       benefit.ID,
		ServiceCode:     in.ServiceCode,
		RequestedAmount: amount,
		Status:          StatusPending,
		RequiredLevel:   ev.Level,
		Notes:           in.Notes,
		Audit:           common.NewAudit(),
	}

	err = s.run(ctx, func(ctx context.Context) error {
		if err := s.approvals.Create(ctx, p); err != nil {
			return err
		}
		if !ev.Required || ev.AutoApprovable {
			remaining, err := s.ledger.Remaining(ctx, in.MemberID, benefit.ID, time.Now().Year())
			if err != nil {
				return err
			}
			if remaining == nil || !amount.GreaterThan(*remaining) {
				s.autoApprove(p)
				return s.approvals.Update(ctx, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditor.Record("preapproval.submit", "pre_approval", p.ID, actorID, map[string]interface{}{
		"service_code": in.ServiceCode,
		"amount":       amount.String(),
		"status":       p.Status,
		"level":        string(ev.Level),
	})
	return p, nil
}

func (s *Service) autoApprove(p *PreApproval) {
	now := time.Now().UTC()
	until := now.AddDate(0, 0, s.validityDays)
	approved := p.RequestedAmount
	reviewer := SystemActor
	p.Status = StatusApproved
	p.ApprovedAmount = &approved
	p.ReviewerID = &reviewer
	p.ReviewedAt = &now
	p.ValidFrom = &now
	p.ValidUntil = &until
}

// Find returns the pre-approval or NOT_FOUND.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (*PreApproval, error) {
	p, err := s.approvals.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("pre-approval %s not found", id)
	}
	return p, err
}

// Approve moves a pending request to APPROVED. The approved amount must be
// positive and must fit the member's remaining balance for the benefit.
func (s *Service) Approve(ctx context.Context, actorID string, id uuid.UUID, approvedAmount decimal.Decimal, notes *string) (*PreApproval, error) {
	var p *PreApproval
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.Find(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusPending {
			return apperr.Validation("pre-approval %s is %s, only PENDING requests can be approved", id, p.Status)
		}
		if !approvedAmount.IsPositive() {
			return apperr.Validation("approved amount must be positive").WithPath("approved_amount")
		}
		approvedAmount = approvedAmount.Round(2)
		remaining, err := s.ledger.Remaining(ctx, p.MemberID, p.BenefitID, time.Now().Year())
		if err != nil {
			return err
		}
		if remaining != nil && approvedAmount.GreaterThan(*remaining) {
			return apperr.Validation("approved amount %s exceeds remaining balance %s",
				approvedAmount, remaining).WithPath("approved_amount")
		}
		now := time.Now().UTC()
		until := now.AddDate(0, 0, s.validityDays)
		p.Status = StatusApproved
		p.ApprovedAmount = &approvedAmount
		p.ReviewerID = &actorID
		p.ReviewedAt = &now
		p.ValidFrom = &now
		p.ValidUntil = &until
		if notes != nil {
			p.Notes = notes
		}
		return s.approvals.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.auditor.Record("preapproval.approve", "pre_approval", p.ID, actorID,
		map[string]interface{}{"approved_amount": approvedAmount.String()})
	return p, nil
}

// Reject moves a pending request to REJECTED. A reason is mandatory.
func (s *Service) Reject(ctx context.Context, actorID string, id uuid.UUID, reason string) (*PreApproval, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("rejection reason is required").WithPath("rejection_reason")
	}
	var p *PreApproval
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.Find(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusPending {
			return apperr.Validation("pre-approval %s is %s, only PENDING requests can be rejected", id, p.Status)
		}
		now := time.Now().UTC()
		p.Status = StatusRejected
		p.ReviewerID = &actorID
		p.ReviewedAt = &now
		p.RejectionReason = &reason
		return s.approvals.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.auditor.Record("preapproval.reject", "pre_approval", p.ID, actorID,
		map[string]interface{}{"reason": reason})
	return p, nil
}

// SweepExpired expires approved requests whose validity window has passed.
// Safe to run repeatedly; an empty sweep is a no-op.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.approvals.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.auditor.Record("preapproval.sweep", "pre_approval", uuid.Nil, SystemActor,
			map[string]interface{}{"expired": n})
	}
	return n, nil
}

func (s *Service) ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*PreApproval, int, error) {
	return s.approvals.ListByMember(ctx, memberID, limit, offset)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*PreApproval, int, error) {
	return s.approvals.List(ctx, status, limit, offset)
}
