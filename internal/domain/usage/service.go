package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/medisure/tpa/internal/domain/catalog"
	"github.com/medisure/tpa/internal/platform/apperr"
	"github.com/medisure/tpa/internal/platform/audit"
)

// BenefitSource resolves benefit definitions from the catalog.
type BenefitSource interface {
	GetBenefit(ctx context.Context, id uuid.UUID) (*catalog.BenefitDefinition, error)
	FindActiveBenefitsByPolicy(ctx context.Context, policyID uuid.UUID) ([]*catalog.BenefitDefinition, error)
}

// MemberSource resolves a member's policy enrollment.
type MemberSource interface {
	PolicyOf(ctx context.Context, memberID uuid.UUID) (uuid.UUID, error)
}

type Service struct {
	usages   Repository
	benefits BenefitSource
	members  MemberSource
	auditor  audit.Recorder
}

func NewService(usages Repository, benefits BenefitSource, members MemberSource, auditor audit.Recorder) *Service {
	return &Service{usages: usages, benefits: benefits, members: members, auditor: auditor}
}

// resolveBenefit loads the benefit and checks it is active and belongs to
// the member's policy. Inactive or unlinked benefits surface as NOT_FOUND.
func (s *Service) resolveBenefit(ctx context.Context, memberID, benefitID uuid.UUID) (*catalog.BenefitDefinition, error) {
	b, err := s.benefits.GetBenefit(ctx, benefitID)
	if err != nil {
		return nil, err
	}
	if !b.Active {
		return nil, apperr.NotFound("benefit %s is not active", benefitID)
	}
	policyID, err := s.members.PolicyOf(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if b.PolicyID != policyID {
		return nil, apperr.NotFound("benefit %s is not covered by the member's policy", benefitID)
	}
	return b, nil
}

func seedRow(b *catalog.BenefitDefinition, memberID uuid.UUID, year int) *BenefitUsage {
	now := time.Now().UTC()
	u := &BenefitUsage{
		MemberID:   memberID,
		BenefitID:  b.ID,
		Year:       year,
		UsedAmount: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if b.AnnualMonetaryLimit != nil {
		remaining := *b.AnnualMonetaryLimit
		u.RemainingAmount = &remaining
	}
	if b.AnnualCountLimit != nil {
		remaining := *b.AnnualCountLimit
		u.RemainingCount = &remaining
	}
	return u
}

// GetOrInit returns the ledger row for (member, benefit, year), creating it
// seeded from the benefit's limits on first touch. A year rollover gets a
// fresh row rather than reusing the previous year's.
func (s *Service) GetOrInit(ctx context.Context, memberID, benefitID uuid.UUID, year int) (*BenefitUsage, error) {
	b, err := s.resolveBenefit(ctx, memberID, benefitID)
	if err != nil {
		return nil, err
	}
	u, err := s.usages.Get(ctx, memberID, benefitID, year)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	u = seedRow(b, memberID, year)
	if err := s.usages.Insert(ctx, u); err != nil {
		return nil, err
	}
	// A concurrent insert may have won; the stored row is authoritative.
	return s.usages.Get(ctx, memberID, benefitID, year)
}

// Record debits the ledger: adds amount and count to the row's used fields
// and recomputes the remaining balance. It must run inside the caller's
// transaction; the FOR UPDATE read serializes concurrent debits so a
// non-null limit can never be driven negative.
func (s *Service) Record(ctx context.Context, actorID string, memberID, benefitID uuid.UUID, year int, amount decimal.Decimal, count int) (*BenefitUsage, error) {
	if amount.IsNegative() {
		return nil, apperr.Validation("usage amount must not be negative").WithPath("amount")
	}
	if count < 0 {
		return nil, apperr.Validation("usage count must not be negative").WithPath("count")
	}
	b, err := s.resolveBenefit(ctx, memberID, benefitID)
	if err != nil {
		return nil, err
	}
	amount = amount.Round(2)

	u, err := s.usages.GetForUpdate(ctx, memberID, benefitID, year)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.usages.Insert(ctx, seedRow(b, memberID, year)); err != nil {
			return nil, err
		}
		u, err = s.usages.GetForUpdate(ctx, memberID, benefitID, year)
	}
	if err != nil {
		return nil, err
	}

	newUsedAmount := u.UsedAmount.Add(amount)
	newUsedCount := u.UsedCount + count

	if b.AnnualMonetaryLimit != nil {
		remaining := b.AnnualMonetaryLimit.Sub(newUsedAmount)
		if remaining.IsNegative() {
			return nil, apperr.LimitExceeded(
				"benefit %s annual limit %s would be exceeded (used %s, requested %s)",
				b.ServiceCode, b.AnnualMonetaryLimit, u.UsedAmount, amount)
		}
		u.RemainingAmount = &remaining
	}
	if b.AnnualCountLimit != nil {
		remaining := *b.AnnualCountLimit - newUsedCount
		if remaining < 0 {
			return nil, apperr.LimitExceeded(
				"benefit %s annual count limit %d would be exceeded", b.ServiceCode, *b.AnnualCountLimit)
		}
		u.RemainingCount = &remaining
	}

	u.UsedAmount = newUsedAmount
	u.UsedCount = newUsedCount
	now := time.Now().UTC()
	u.LastUsageDate = &now

	if err := s.usages.Update(ctx, u); err != nil {
		return nil, err
	}
	s.auditor.Record("usage.record", "benefit_usage", u.ID, actorID, map[string]interface{}{
		"amount": amount.String(),
		"count":  count,
		"year":   year,
	})
	return u, nil
}

// Remaining reports the member's remaining monetary balance for a benefit
// year. Nil means the benefit is unlimited.
func (s *Service) Remaining(ctx context.Context, memberID, benefitID uuid.UUID, year int) (*decimal.Decimal, error) {
	u, err := s.GetOrInit(ctx, memberID, benefitID, year)
	if err != nil {
		return nil, err
	}
	return u.RemainingAmount, nil
}

// InitForMember seeds ledger rows for every active benefit of the policy.
// Implements member.LedgerInitializer.
func (s *Service) InitForMember(ctx context.Context, memberID, policyID uuid.UUID, year int) error {
	benefits, err := s.benefits.FindActiveBenefitsByPolicy(ctx, policyID)
	if err != nil {
		return err
	}
	for _, b := range benefits {
		if err := s.usages.Insert(ctx, seedRow(b, memberID, year)); err != nil {
			return err
		}
	}
	return nil
}

// ListByMember returns the member's ledger rows for a year.
func (s *Service) ListByMember(ctx context.Context, memberID uuid.UUID, year int) ([]*BenefitUsage, error) {
	if _, err := s.members.PolicyOf(ctx, memberID); err != nil {
		return nil, err
	}
	return s.usages.ListByMember(ctx, memberID, year)
}
