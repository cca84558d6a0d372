package claims

import (
	"context"
	"testing"
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

type mockClaimRepo struct {
	rows map[uuid.UUID]*Claim
}

func newMockClaimRepo() *mockClaimRepo {
	return &mockClaimRepo{rows: make(map[uuid.UUID]*Claim)}
}

func copyClaim(c *Claim) *Claim {
	cp := *c
	cp.Lines = make([]*ClaimLine, len(c.Lines))
	for i, l := range c.Lines {
		lcp := *l
		cp.Lines[i] = &lcp
	}
	return &cp
}

func (m *mockClaimRepo) Create(_ context.Context, c *Claim) error {
	c.ID = uuid.New()
	for _, l := range c.Lines {
		l.ID = uuid.New()
		l.ClaimID = c.ID
	}
	m.rows[c.ID] = copyClaim(c)
	return nil
}

func (m *mockClaimRepo) GetByID(_ context.Context, id uuid.UUID) (*Claim, error) {
	c, ok := m.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyClaim(c), nil
}

func (m *mockClaimRepo) Update(_ context.Context, c *Claim) error {
	if _, ok := m.rows[c.ID]; !ok {
		return pgx.ErrNoRows
	}
	m.rows[c.ID] = copyClaim(c)
	return nil
}

func (m *mockClaimRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	c, ok := m.rows[id]
	if !ok {
		return pgx.ErrNoRows
	}
	c.Active = false
	return nil
}

func (m *mockClaimRepo) ListByMember(_ context.Context, memberID uuid.UUID, _, _ int) ([]*Claim, int, error) {
	var items []*Claim
	for _, c := range m.rows {
		if c.MemberID == memberID && c.Active {
			items = append(items, c)
		}
	}
	return items, len(items), nil
}

func (m *mockClaimRepo) List(_ context.Context, status string, _, _ int) ([]*Claim, int, error) {
	var items []*Claim
	for _, c := range m.rows {
		if c.Active && (status == "" || c.Status == status) {
			items = append(items, c)
		}
	}
	return items, len(items), nil
}

type mockBenefitSource struct {
	benefits map[string]*catalog.BenefitDefinition
}

func (m *mockBenefitSource) GetBenefitByServiceCode(_ context.Context, policyID uuid.UUID, code string) (*catalog.BenefitDefinition, error) {
	b, ok := m.benefits[code]
	if !ok || b.PolicyID != policyID {
		return nil, apperr.NotFound("benefit %s not found", code)
	}
	return b, nil
}

type mockMemberSource struct {
	policies map[uuid.UUID]uuid.UUID
}

func (m *mockMemberSource) PolicyOf(_ context.Context, memberID uuid.UUID) (uuid.UUID, error) {
	p, ok := m.policies[memberID]
	if !ok {
		return uuid.Nil, apperr.NotFound("member %s not found", memberID)
	}
	return p, nil
}

type mockProviderSource struct {
	contracted bool
}

func (m *mockProviderSource) HasActiveContract(_ context.Context, _, _ uuid.UUID) (bool, error) {
	return m.contracted, nil
}

type mockPreApprovalSource struct {
	rows map[uuid.UUID]*preapproval.PreApproval
}

func (m *mockPreApprovalSource) Find(_ context.Context, id uuid.UUID) (*preapproval.PreApproval, error) {
	p, ok := m.rows[id]
	if !ok {
		return nil, apperr.NotFound("pre-approval %s not found", id)
	}
	return p, nil
}

// mockLedger enforces a single monetary limit like the real usage service.
type mockLedger struct {
	limit      *decimal.Decimal
	usedAmount decimal.Decimal
	usedCount  int
	calls      int
}

func (m *mockLedger) Record(_ context.Context, _ string, _, _ uuid.UUID, _ int, amount decimal.Decimal, count int) (*usage.BenefitUsage, error) {
	if m.limit != nil && m.usedAmount.Add(amount).GreaterThan(*m.limit) {
		return nil, apperr.LimitExceeded("annual limit %s would be exceeded", m.limit)
	}
	m.usedAmount = m.usedAmount.Add(amount)
	m.usedCount += count
	m.calls++
	return &usage.BenefitUsage{UsedAmount: m.usedAmount, UsedCount: m.usedCount}, nil
}

func passthroughTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc          *Service
	repo         *mockClaimRepo
	ledger       *mockLedger
	providers    *mockProviderSource
	preApprovals *mockPreApprovalSource
	benefit      *catalog.BenefitDefinition
	policyID     uuid.UUID
	memberID     uuid.UUID
	providerID   uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		repo:         newMockClaimRepo(),
		ledger:       &mockLedger{},
		providers:    &mockProviderSource{contracted: true},
		preApprovals: &mockPreApprovalSource{rows: make(map[uuid.UUID]*preapproval.PreApproval)},
		policyID:     uuid.New(),
		memberID:     uuid.New(),
		providerID:   uuid.New(),
	}
	f.benefit = &catalog.BenefitDefinition{
		ID:                 uuid.New(),
		PolicyID:           f.policyID,
		ServiceCode:        "LAB001",
		Name:               "Blood panel",
		UnitPrice:          decimal.NewFromInt(100),
		CoveragePercentage: decimal.NewFromInt(100),
		Audit:              common.NewAudit(),
	}
	f.svc = NewService(f.repo,
		&mockBenefitSource{benefits: map[string]*catalog.BenefitDefinition{"LAB001": f.benefit}},
		&mockMemberSource{policies: map[uuid.UUID]uuid.UUID{f.memberID: f.policyID}},
		f.providers, f.preApprovals, f.ledger, passthroughTx, audit.Nop{})
	return f
}

func (f *fixture) submit(t *testing.T, lines ...LineInput) *Claim {
	t.Helper()
	c, err := f.svc.Submit(context.Background(), "intake", SubmitInput{
		MemberID:   f.memberID,
		ProviderID: f.providerID,
		Lines:      lines,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return c
}

func line(code string, qty int, unitPrice int64) LineInput {
	return LineInput{ServiceCode: code, Quantity: qty, UnitPrice: decimal.NewFromInt(unitPrice)}
}

func (f *fixture) addPreApproval(amount int64, validDays int) *preapproval.PreApproval {
	now := time.Now().UTC()
	until := now.AddDate(0, 0, validDays)
	approved := decimal.NewFromInt(amount)
	reviewer := "dr-lee"
	pa := &preapproval.PreApproval{
		ID:              uuid.New(),
		MemberID:        f.memberID,
		ProviderID:      f.providerID,
		BenefitID:       f.benefit.ID,
		ServiceCode:     "LAB001",
		RequestedAmount: approved,
		ApprovedAmount:  &approved,
		Status:          preapproval.StatusApproved,
		ReviewerID:      &reviewer,
		ValidFrom:       &now,
		ValidUntil:      &until,
		Audit:           common.NewAudit(),
	}
	f.preApprovals.rows[pa.ID] = pa
	return pa
}

func TestSubmit_ComputesTotalsServerSide(t *testing.T) {
	f := newFixture()
	c := f.submit(t,
		LineInput{ServiceCode: "LAB001", Quantity: 2, UnitPrice: decimal.RequireFromString("100.505")},
		line("LAB001", 1, 50))

	if !c.Lines[0].LineTotal.Equal(decimal.RequireFromString("201.02")) {
		t.Fatalf("line total = %s, want 201.02", c.Lines[0].LineTotal)
	}
	if !c.RequestedAmount.Equal(decimal.RequireFromString("251.02")) {
		t.Fatalf("requested = %s, want 251.02", c.RequestedAmount)
	}
	if c.Status != StatusPendingReview {
		t.Fatalf("status = %s, want PENDING_REVIEW", c.Status)
	}
}

func TestSubmit_CoveredAmountAppliesPolicyTerms(t *testing.T) {
	f := newFixture()
	f.benefit.CoveragePercentage = decimal.NewFromInt(80)
	f.benefit.MemberContribution = decimal.NewFromInt(10)

	c := f.submit(t, line("LAB001", 3, 100))
	// 80% of 300 minus the 10 contribution.
	if !c.CoveredAmount.Equal(decimal.NewFromInt(230)) {
		t.Fatalf("covered = %s, want 230", c.CoveredAmount)
	}
}

func TestSubmit_MixedServiceCodesRejected(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Submit(context.Background(), "intake", SubmitInput{
		MemberID:   f.memberID,
		ProviderID: f.providerID,
		Lines:      []LineInput{line("LAB001", 1, 100), line("XRAY01", 1, 100)},
	})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION", err)
	}
}

func TestSubmit_NonContractedProviderRejected(t *testing.T) {
	f := newFixture()
	f.providers.contracted = false
	_, err := f.svc.Submit(context.Background(), "intake", SubmitInput{
		MemberID:   f.memberID,
		ProviderID: f.providerID,
		Lines:      []LineInput{line("LAB001", 1, 100)},
	})
	if !apperr.IsCode(err, apperr.CodeProviderNotContracted) {
		t.Fatalf("err = %v, want PROVIDER_NOT_CONTRACTED", err)
	}
}

func TestSubmit_MissingRequiredPreApproval(t *testing.T) {
	f := newFixture()
	f.benefit.RequiresPreApproval = true
	_, err := f.svc.Submit(context.Background(), "intake", SubmitInput{
		MemberID:   f.memberID,
		ProviderID: f.providerID,
		Lines:      []LineInput{line("LAB001", 1, 100)},
	})
	if !apperr.IsCode(err, apperr.CodePreApprovalMismatch) {
		t.Fatalf("err = %v, want PRE_APPROVAL_MISMATCH", err)
	}
}

func TestSubmit_ValidPreApprovalMovesToPreApproved(t *testing.T) {
	f := newFixture()
	pa := f.addPreApproval(500, 30)
	c, err := f.svc.Submit(context.Background(), "intake", SubmitInput{
		MemberID:      f.memberID,
		ProviderID:    f.providerID,
		PreApprovalID: &pa.ID,
		Lines:         []LineInput{line("LAB001", 4, 100)},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if c.Status != StatusPreApproved {
		t.Fatalf("status = %s, want PREAPPROVED", c.Status)
	}
}

func TestSubmit_ExpiredPreApprovalMismatch(t *testing.T) {
	f := newFixture()
	pa := f.addPreApproval(500, -1)
	_, err := f.svc.Submit(context.Background(), "intake", SubmitInput{
		MemberID:      f.memberID,
		ProviderID:    f.providerID,
		PreApprovalID: &pa.ID,
		Lines:         []LineInput{line("LAB001", 1, 100)},
	})
	if !apperr.IsCode(err, apperr.CodePreApprovalMismatch) {
		t.Fatalf("err = %v, want PRE_APPROVAL_MISMATCH", err)
	}
}

func TestDecide_ApproveDebitsLedger(t *testing.T) {
	f := newFixture()
	c := f.submit(t, line("LAB001", 4, 100))

	decided, err := f.svc.Decide(context.Background(), "reviewer", c.ID, DecisionInput{Status: StatusApproved})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != StatusApproved {
		t.Fatalf("status = %s, want APPROVED", decided.Status)
	}
	if decided.ApprovedAmount == nil || !decided.ApprovedAmount.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("approved = %v, want the covered amount 400", decided.ApprovedAmount)
	}
	if !f.ledger.usedAmount.Equal(decimal.NewFromInt(400)) || f.ledger.usedCount != 4 {
		t.Fatalf("ledger debit = %s/%d, want 400/4", f.ledger.usedAmount, f.ledger.usedCount)
	}
	if decided.DecidedAt == nil {
		t.Fatal("decided_at not set")
	}
}

func TestDecide_LimitBreachAbortsDecision(t *testing.T) {
	f := newFixture()
	limit := decimal.NewFromInt(300)
	f.ledger.limit = &limit
	c := f.submit(t, line("LAB001", 4, 100))

	_, err := f.svc.Decide(context.Background(), "reviewer", c.ID, DecisionInput{Status: StatusApproved})
	if !apperr.IsCode(err, apperr.CodeLimitExceeded) {
		t.Fatalf("err = %v, want LIMIT_EXCEEDED", err)
	}
	stored, _ := f.repo.GetByID(context.Background(), c.ID)
	if stored.Status != StatusPendingReview {
		t.Fatalf("status = %s, claim must stay PENDING_REVIEW after a failed debit", stored.Status)
	}
}

func TestDecide_PartialApproval(t *testing.T) {
	f := newFixture()
	c := f.submit(t, line("LAB001", 4, 100))

	amount := decimal.NewFromInt(250)
	decided, err := f.svc.Decide(context.Background(), "reviewer", c.ID,
		DecisionInput{Status: StatusPartiallyApproved, ApprovedAmount: &amount})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != StatusPartiallyApproved {
		t.Fatalf("status = %s, want PARTIALLY_APPROVED", decided.Status)
	}
	if !f.ledger.usedAmount.Equal(amount) {
		t.Fatalf("ledger debit = %s, want 250", f.ledger.usedAmount)
	}
}

func TestDecide_PartialEqualToRequestedRejected(t *testing.T) {
	f := newFixture()
	c := f.submit(t, line("LAB001", 4, 100))

	amount := decimal.NewFromInt(400)
	_, err := f.svc.Decide(context.Background(), "reviewer", c.ID,
		DecisionInput{Status: StatusPartiallyApproved, ApprovedAmount: &amount})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION for partial == requested", err)
	}
}

func TestDecide_RejectNeedsComment(t *testing.T) {
	f := newFixture()
	c := f.submit(t, line("LAB001", 1, 100))

	_, err := f.svc.Decide(context.Background(), "reviewer", c.ID, DecisionInput{Status: StatusRejected})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION for missing comment", err)
	}

	blank := "   "
	_, err = f.svc.Decide(context.Background(), "reviewer", c.ID,
		DecisionInput{Status: StatusRejected, ReviewerComment: &blank})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION for whitespace-only comment", err)
	}
	stored, _ := f.repo.GetByID(context.Background(), c.ID)
	if stored.Status != StatusPendingReview {
		t.Fatalf("status = %s, want PENDING_REVIEW after refused rejection", stored.Status)
	}

	comment := "duplicate submission"
	decided, err := f.svc.Decide(context.Background(), "reviewer", c.ID,
		DecisionInput{Status: StatusRejected, ReviewerComment: &comment})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != StatusRejected {
		t.Fatalf("status = %s, want REJECTED", decided.Status)
	}
}

func TestDecide_TerminalClaimsAreFrozen(t *testing.T) {
	f := newFixture()
	c := f.submit(t, line("LAB001", 1, 100))
	if _, err := f.svc.Decide(context.Background(), "reviewer", c.ID, DecisionInput{Status: StatusApproved}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	_, err := f.svc.Decide(context.Background(), "reviewer", c.ID, DecisionInput{Status: StatusCancelled})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION for transition out of APPROVED", err)
	}
}

func TestDecide_CancelOnlyFromPendingReview(t *testing.T) {
	f := newFixture()
	c := f.submit(t, line("LAB001", 1, 100))

	comment := "need the lab report"
	if _, err := f.svc.Decide(context.Background(), "reviewer", c.ID,
		DecisionInput{Status: StatusReturnedForInfo, ReviewerComment: &comment}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	_, err := f.svc.Decide(context.Background(), "reviewer", c.ID, DecisionInput{Status: StatusCancelled})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION for cancel out of RETURNED_FOR_INFO", err)
	}

	// Resubmission reopens the claim, then it can be cancelled.
	if _, err := f.svc.Decide(context.Background(), "claimant", c.ID, DecisionInput{Status: StatusPendingReview}); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	decided, err := f.svc.Decide(context.Background(), "claimant", c.ID, DecisionInput{Status: StatusCancelled})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", decided.Status)
	}
}

func TestDecide_ExpiredPreApprovalAtDecisionTime(t *testing.T) {
	f := newFixture()
	pa := f.addPreApproval(500, 30)
	c, err := f.svc.Submit(context.Background(), "intake", SubmitInput{
		MemberID:      f.memberID,
		ProviderID:    f.providerID,
		PreApprovalID: &pa.ID,
		Lines:         []LineInput{line("LAB001", 4, 100)},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The approval lapses between submission and review.
	past := time.Now().UTC().AddDate(0, 0, -1)
	pa.ValidUntil = &past

	_, err = f.svc.Decide(context.Background(), "reviewer", c.ID, DecisionInput{Status: StatusApproved})
	if !apperr.IsCode(err, apperr.CodePreApprovalMismatch) {
		t.Fatalf("err = %v, want PRE_APPROVAL_MISMATCH", err)
	}
	if f.ledger.calls != 0 {
		t.Fatal("ledger must not be debited when the pre-approval check fails")
	}
}

func TestDelete_OpenClaimRejected(t *testing.T) {
	f := newFixture()
	c := f.submit(t, line("LAB001", 1, 100))

	err := f.svc.Delete(context.Background(), "admin", c.ID)
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION", err)
	}
}

func TestDelete_SettledClaimSoftDeleted(t *testing.T) {
	f := newFixture()
	c := f.submit(t, line("LAB001", 1, 100))
	comment := "not covered"
	if _, err := f.svc.Decide(context.Background(), "reviewer", c.ID,
		DecisionInput{Status: StatusRejected, ReviewerComment: &comment}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if err := f.svc.Delete(context.Background(), "admin", c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.repo.rows[c.ID].Active {
		t.Fatal("claim still active after delete")
	}
}
