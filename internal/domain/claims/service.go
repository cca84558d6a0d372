package claims

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
	"github.com/medisure/tpa/internal/domain/preapproval"
	"github.com/medisure/tpa/internal/domain/usage"
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

// MemberSource resolves a member's enrollment.
type MemberSource interface {
	PolicyOf(ctx context.Context, memberID uuid.UUID) (uuid.UUID, error)
}

// ProviderSource checks contract standing.
type ProviderSource interface {
	HasActiveContract(ctx context.Context, policyID, providerID uuid.UUID) (bool, error)
}

// PreApprovalSource resolves pre-approvals referenced by claims.
type PreApprovalSource interface {
	Find(ctx context.Context, id uuid.UUID) (*preapproval.PreApproval, error)
}

// Ledger debits benefit usage. Record must run inside the ambient
// transaction so a failed decision leaves the balance untouched.
type Ledger interface {
	Record(ctx context.Context, actorID string, memberID, benefitID uuid.UUID, year int, amount decimal.Decimal, count int) (*usage.BenefitUsage, error)
}

type Service struct {
	claims       Repository
	benefits     BenefitSource
	members      MemberSource
	providers    ProviderSource
	preApprovals PreApprovalSource
	ledger       Ledger
	run          TxRunner
	auditor      audit.Recorder
}

func NewService(claims Repository, benefits BenefitSource, members MemberSource,
	providers ProviderSource, preApprovals PreApprovalSource, ledger Ledger,
	run TxRunner, auditor audit.Recorder) *Service {
	return &Service{
		claims:       claims,
		benefits:     benefits,
		members:      members,
		providers:    providers,
		preApprovals: preApprovals,
		ledger:       ledger,
		run:          run,
		auditor:      auditor,
	}
}

// LineInput is one service line of a submitted claim. Totals are computed
// server-side.
type LineInput struct {
	ServiceCode string          `json:"service_code"`
	Description *string         `json:"description,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// SubmitInput is the request payload for a new claim.
type SubmitInput struct {
	MemberID      uuid.UUID   `json:"member_id"`
	ProviderID    uuid.UUID   `json:"provider_id"`
	PreApprovalID *uuid.UUID  `json:"pre_approval_id,omitempty"`
	Lines         []LineInput `json:"lines"`
}

func guardLines(lines []LineInput) (string, error) {
	if len(lines) == 0 {
		return "", apperr.Validation("a claim needs at least one line").WithPath("lines")
	}
	code := lines[0].ServiceCode
	for i, l := range lines {
		if l.ServiceCode == "" {
			return "", apperr.Validation("line %d: service code is required", i).WithPath("lines")
		}
		if l.ServiceCode != code {
			return "", apperr.Validation("all claim lines must share one service code").WithPath("lines")
		}
		if l.Quantity <= 0 {
			return "", apperr.Validation("line %d: quantity must be positive", i).WithPath("lines")
		}
		if l.UnitPrice.IsNegative() {
			return "", apperr.Validation("line %d: unit price must not be negative", i).WithPath("lines")
		}
	}
	return code, nil
}

// coveredAmount is what the policy pays: the covered percentage of the
// requested total minus the member's contribution, floored at zero.
func coveredAmount(b *catalog.BenefitDefinition, requested decimal.Decimal) decimal.Decimal {
	covered := requested.Mul(b.CoveragePercentage).Div(decimal.NewFromInt(100)).Sub(b.MemberContribution)
	if covered.IsNegative() {
		return decimal.Zero
	}
	if covered.GreaterThan(requested) {
		return requested
	}
	return covered.Round(2)
}

// checkPreApproval verifies the referenced pre-approval still backs the
// claim: right member and benefit, currently valid, and an approved amount
// covering what is being claimed.
func (s *Service) checkPreApproval(ctx context.Context, c *Claim, amount decimal.Decimal, at time.Time) error {
	if c.PreApprovalID == nil {
		return nil
	}
	pa, err := s.preApprovals.Find(ctx, *c.PreApprovalID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return apperr.PreApprovalMismatch("pre-approval %s not found", *c.PreApprovalID)
		}
		return err
	}
	if pa.MemberID != c.MemberID {
		return apperr.PreApprovalMismatch("pre-approval %s belongs to another member", pa.ID)
	}
	if pa.BenefitID != c.BenefitID {
		return apperr.PreApprovalMismatch("pre-approval %s covers a different benefit", pa.ID)
	}
	if !pa.Usable(at) {
		return apperr.PreApprovalMismatch("pre-approval %s is %s or expired", pa.ID, pa.Status)
	}
	if pa.ApprovedAmount == nil || amount.GreaterThan(*pa.ApprovedAmount) {
		return apperr.PreApprovalMismatch("pre-approval %s does not cover %s", pa.ID, amount)
	}
	return nil
}

// Submit files a claim. Line totals and the requested amount are computed
// from quantity and unit price; a valid pre-approval reference moves the
// claim straight to PREAPPROVED.
func (s *Service) Submit(ctx context.Context, actorID string, in SubmitInput) (*Claim, error) {
	code, err := guardLines(in.Lines)
	if err != nil {
		return nil, err
	}

	policyID, err := s.members.PolicyOf(ctx, in.MemberID)
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
	benefit, err := s.benefits.GetBenefitByServiceCode(ctx, policyID, code)
	if err != nil {
		return nil, err
	}
	if !benefit.Active {
		return nil, apperr.NotFound("benefit %s is not active", code)
	}

	now := time.Now().UTC()
	c := &Claim{
		MemberID:    in.MemberID,
		ProviderID:  in.ProviderID,
		BenefitID:   benefit.ID,
		ServiceCode: code,
		Status:      StatusPendingReview,
		SubmittedAt: now,
		Audit:       common.NewAudit(),
	}
	requested := decimal.Zero
	for _, l := range in.Lines {
		line := &ClaimLine{
			ServiceCode: l.ServiceCode,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.Round(2),
		}
		line.LineTotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
		requested = requested.Add(line.LineTotal)
		c.Lines = append(c.Lines, line)
	}
	if !requested.IsPositive() {
		return nil, apperr.Validation("claim total must be positive").WithPath("lines")
	}
	c.RequestedAmount = requested
	c.CoveredAmount = coveredAmount(benefit, requested)

	if benefit.RequiresPreApproval && in.PreApprovalID == nil {
		return nil, apperr.PreApprovalMismatch("benefit %s requires a pre-approval", code)
	}
	if in.PreApprovalID != nil {
		c.PreApprovalID = in.PreApprovalID
		if err := s.checkPreApproval(ctx, c, requested, now); err != nil {
			return nil, err
		}
		c.Status = StatusPreApproved
	}

	if err := s.run(ctx, func(ctx context.Context) error {
		return s.claims.Create(ctx, c)
	}); err != nil {
		return nil, err
	}
	s.auditor.Record("claim.submit", "claim", c.ID, actorID, map[string]interface{}{
		"service_code": code,
		"amount":       requested.String(),
		"status":       c.Status,
	})
	return c, nil
}

// Find returns the claim with its lines or NOT_FOUND.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := s.claims.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("claim %s not found", id)
	}
	return c, err
}

// DecisionInput carries an adjudication decision.
type DecisionInput struct {
	Status          string           `json:"status"`
	ApprovedAmount  *decimal.Decimal `json:"approved_amount,omitempty"`
	ReviewerComment *string          `json:"reviewer_comment,omitempty"`
	PreApprovalID   *uuid.UUID       `json:"pre_approval_id,omitempty"`
}

var knownStatuses = map[string]bool{
	StatusPendingReview:     true,
	StatusPreApproved:       true,
	StatusApproved:          true,
	StatusPartiallyApproved: true,
	StatusRejected:          true,
	StatusReturnedForInfo:   true,
	StatusCancelled:         true,
}

func commentRequired(in DecisionInput) error {
	if in.ReviewerComment == nil || strings.TrimSpace(*in.ReviewerComment) == "" {
		return apperr.Validation("a reviewer comment is required for %s", in.Status).WithPath("reviewer_comment")
	}
	return nil
}

// Decide applies a state transition. Approvals debit the benefit usage
// ledger inside the same transaction, so a limit breach rolls the whole
// decision back.
func (s *Service) Decide(ctx context.Context, actorID string, id uuid.UUID, in DecisionInput) (*Claim, error) {
	if !knownStatuses[in.Status] {
		return nil, apperr.Validation("unknown claim status: %s", in.Status).WithPath("status")
	}

	var c *Claim
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.Find(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(c.Status, in.Status) {
			return apperr.Validation("claim cannot move from %s to %s", c.Status, in.Status)
		}

		now := time.Now().UTC()
		switch in.Status {
		case StatusApproved, StatusPartiallyApproved:
			amount := c.CoveredAmount
			if in.ApprovedAmount != nil {
				amount = in.ApprovedAmount.Round(2)
			}
			if !amount.IsPositive() {
				return apperr.Validation("approved amount must be positive").WithPath("approved_amount")
			}
			if in.Status == StatusPartiallyApproved {
				if in.ApprovedAmount == nil {
					return apperr.Validation("a partial approval needs an explicit amount").WithPath("approved_amount")
				}
				if !amount.LessThan(c.RequestedAmount) {
					return apperr.Validation("a partial approval must be below the requested amount %s",
						c.RequestedAmount).WithPath("approved_amount")
				}
			} else if amount.GreaterThan(c.RequestedAmount) {
				return apperr.Validation("approved amount exceeds requested amount %s",
					c.RequestedAmount).WithPath("approved_amount")
			}
			if err := s.checkPreApproval(ctx, c, amount, now); err != nil {
				return err
			}
			if _, err := s.ledger.Record(ctx, actorID, c.MemberID, c.BenefitID,
				c.SubmittedAt.Year(), amount, c.TotalQuantity()); err != nil {
				return err
			}
			c.ApprovedAmount = &amount
			c.DecidedAt = &now

		case StatusRejected:
			if err := commentRequired(in); err != nil {
				return err
			}
			c.DecidedAt = &now

		case StatusReturnedForInfo:
			if err := commentRequired(in); err != nil {
				return err
			}

		case StatusCancelled:
			c.DecidedAt = &now

		case StatusPreApproved:
			if in.PreApprovalID != nil {
				c.PreApprovalID = in.PreApprovalID
			}
			if c.PreApprovalID == nil {
				return apperr.Validation("a pre-approval reference is required").WithPath("pre_approval_id")
			}
			if err := s.checkPreApproval(ctx, c, c.RequestedAmount, now); err != nil {
				return err
			}
		}

		c.Status = in.Status
		c.ReviewerID = &actorID
		if in.ReviewerComment != nil {
			c.ReviewerComment = in.ReviewerComment
		}
		c.Touch()
		return s.claims.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.auditor.Record("claim.decide", "claim", c.ID, actorID, map[string]interface{}{
		"status": c.Status,
	})
	return c, nil
}

// Delete soft-deletes a settled claim. Open claims must be cancelled
// through the state machine first.
func (s *Service) Delete(ctx context.Context, actorID string, id uuid.UUID) error {
	c, err := s.Find(ctx, id)
	if err != nil {
		return err
	}
	if !Terminal(c.Status) {
		return apperr.Validation("claim %s is still %s, cancel it before deleting", id, c.Status)
	}
	if err := s.claims.Deactivate(ctx, id); err != nil {
		return err
	}
	s.auditor.Record("claim.delete", "claim", id, actorID, nil)
	return nil
}

func (s *Service) ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Claim, int, error) {
	return s.claims.ListByMember(ctx, memberID, limit, offset)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Claim, int, error) {
	return s.claims.List(ctx, status, limit, offset)
}
