package usage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/medisure/tpa/internal/domain/catalog"
	"github.com/medisure/tpa/internal/domain/common"
	"github.com/medisure/tpa/internal/platform/apperr"
	"github.com/medisure/tpa/internal/platform/audit"
)

type usageKey struct {
	member, benefit uuid.UUID
	year            int
}

type mockUsageRepo struct {
	rows map[usageKey]*BenefitUsage
}

func newMockUsageRepo() *mockUsageRepo {
	return &mockUsageRepo{rows: make(map[usageKey]*BenefitUsage)}
}

func (m *mockUsageRepo) Get(_ context.Context, memberID, benefitID uuid.UUID, year int) (*BenefitUsage, error) {
	u, ok := m.rows[usageKey{memberID, benefitID, year}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *mockUsageRepo) GetForUpdate(ctx context.Context, memberID, benefitID uuid.UUID, year int) (*BenefitUsage, error) {
	return m.Get(ctx, memberID, benefitID, year)
}

func (m *mockUsageRepo) Insert(_ context.Context, u *BenefitUsage) error {
	key := usageKey{u.MemberID, u.BenefitID, u.Year}
	if _, exists := m.rows[key]; exists {
		return nil // mirrors ON CONFLICT DO NOTHING
	}
	u.ID = uuid.New()
	cp := *u
	m.rows[key] = &cp
	return nil
}

func (m *mockUsageRepo) Update(_ context.Context, u *BenefitUsage) error {
	for key, row := range m.rows {
		if row.ID == u.ID {
			cp := *u
			m.rows[key] = &cp
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (m *mockUsageRepo) ListByMember(_ context.Context, memberID uuid.UUID, year int) ([]*BenefitUsage, error) {
	var items []*BenefitUsage
	for _, u := range m.rows {
		if u.MemberID == memberID && u.Year == year {
			items = append(items, u)
		}
	}
	return items, nil
}

type mockBenefitSource struct {
	benefits map[uuid.UUID]*catalog.BenefitDefinition
}

func (m *mockBenefitSource) GetBenefit(_ context.Context, id uuid.UUID) (*catalog.BenefitDefinition, error) {
	b, ok := m.benefits[id]
	if !ok {
		return nil, apperr.NotFound("benefit %s not found", id)
	}
	return b, nil
}

func (m *mockBenefitSource) FindActiveBenefitsByPolicy(_ context.Context, policyID uuid.UUID) ([]*catalog.BenefitDefinition, error) {
	var items []*catalog.BenefitDefinition
	for _, b := range m.benefits {
		if b.PolicyID == policyID && b.Active {
			items = append(items, b)
		}
	}
	return items, nil
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

type fixture struct {
	svc      *Service
	repo     *mockUsageRepo
	benefits *mockBenefitSource
	members  *mockMemberSource
	policyID uuid.UUID
	memberID uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newMockUsageRepo(),
		benefits: &mockBenefitSource{benefits: make(map[uuid.UUID]*catalog.BenefitDefinition)},
		members:  &mockMemberSource{policies: make(map[uuid.UUID]uuid.UUID)},
		policyID: uuid.New(),
		memberID: uuid.New(),
	}
	f.members.policies[f.memberID] = f.policyID
	f.svc = NewService(f.repo, f.benefits, f.members, audit.Nop{})
	return f
}

func (f *fixture) addBenefit(code string, monetaryLimit *float64, countLimit *int) *catalog.BenefitDefinition {
	b := &catalog.BenefitDefinition{
		ID:          uuid.New(),
		PolicyID:    f.policyID,
		ServiceCode: code,
		Name:        code,
		UnitPrice:   decimal.NewFromInt(100),
		Audit:       common.NewAudit(),
	}
	if monetaryLimit != nil {
		d := decimal.NewFromFloat(*monetaryLimit)
		b.AnnualMonetaryLimit = &d
	}
	if countLimit != nil {
		c := *countLimit
		b.AnnualCountLimit = &c
	}
	f.benefits.benefits[b.ID] = b
	return b
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func TestGetOrInit_SeedsFromLimits(t *testing.T) {
	f := newFixture()
	b := f.addBenefit("LAB001", fptr(1000), iptr(12))

	u, err := f.svc.GetOrInit(context.Background(), f.memberID, b.ID, 2026)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.UsedAmount.IsZero() || u.UsedCount != 0 {
		t.Error("expected zero usage on init")
	}
	if u.RemainingAmount == nil || !u.RemainingAmount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected remaining 1000, got %v", u.RemainingAmount)
	}
	if u.RemainingCount == nil || *u.RemainingCount != 12 {
		t.Errorf("expected remaining count 12, got %v", u.RemainingCount)
	}
}

func TestGetOrInit_InactiveBenefit(t *testing.T) {
	f := newFixture()
	b := f.addBenefit("LAB001", fptr(1000), nil)
	b.Active = false

	_, err := f.svc.GetOrInit(context.Background(), f.memberID, b.ID, 2026)
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestGetOrInit_BenefitFromOtherPolicy(t *testing.T) {
	f := newFixture()
	b := f.addBenefit("LAB001", fptr(1000), nil)
	b.PolicyID = uuid.New()

	_, err := f.svc.GetOrInit(context.Background(), f.memberID, b.ID, 2026)
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

// The ledger invariant: remaining == limit - used after every debit.
func TestRecord_RemainingInvariant(t *testing.T) {
	f := newFixture()
	b := f.addBenefit("LAB001", fptr(1000), nil)
	limit := decimal.NewFromInt(1000)

	amounts := []float64{100, 250.50, 0.49, 149.01}
	ctx := context.Background()
	for _, a := range amounts {
		u, err := f.svc.Record(ctx, "tester", f.memberID, b.ID, 2026, decimal.NewFromFloat(a), 1)
		if err != nil {
			t.Fatalf("record %v: %v", a, err)
		}
		want := limit.Sub(u.UsedAmount)
		if u.RemainingAmount == nil || !u.RemainingAmount.Equal(want) {
			t.Fatalf("invariant broken after %v: remaining %v, want %v", a, u.RemainingAmount, want)
		}
	}
}

// Scenario: limit 1000, a 400 debit lands, a 700 debit must fail and leave
// the balance untouched.
func TestRecord_OverdraftRejected(t *testing.T) {
	f := newFixture()
	b := f.addBenefit("LAB001", fptr(1000), nil)
	ctx := context.Background()

	u, err := f.svc.Record(ctx, "tester", f.memberID, b.ID, 2026, decimal.NewFromInt(400), 1)
	if err != nil {
		t.Fatalf("first debit: %v", err)
	}
	if !u.UsedAmount.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected used 400, got %s", u.UsedAmount)
	}

	_, err = f.svc.Record(ctx, "tester", f.memberID, b.ID, 2026, decimal.NewFromInt(700), 1)
	if !apperr.IsCode(err, apperr.CodeLimitExceeded) {
		t.Fatalf("expected LIMIT_EXCEEDED, got %v", err)
	}

	after, err := f.svc.GetOrInit(ctx, f.memberID, b.ID, 2026)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !after.UsedAmount.Equal(decimal.NewFromInt(400)) {
		t.Errorf("failed debit must not change used amount, got %s", after.UsedAmount)
	}
	if !after.RemainingAmount.Equal(decimal.NewFromInt(600)) {
		t.Errorf("expected remaining 600, got %s", after.RemainingAmount)
	}
}

func TestRecord_ExactLimitAllowed(t *testing.T) {
	f := newFixture()
	b := f.addBenefit("LAB001", fptr(1000), nil)

	u, err := f.svc.Record(context.Background(), "tester", f.memberID, b.ID, 2026, decimal.NewFromInt(1000), 1)
	if err != nil {
		t.Fatalf("debit to exactly the limit must succeed: %v", err)
	}
	if !u.RemainingAmount.IsZero() {
		t.Errorf("expected remaining 0, got %s", u.RemainingAmount)
	}
}

func TestRecord_NullLimitNeverBlocks(t *testing.T) {
	f := newFixture()
	b := f.addBenefit("CONSULT", nil, nil)

	u, err := f.svc.Record(context.Background(), "tester", f.memberID, b.ID, 2026, decimal.NewFromInt(1000000), 5)
	if err != nil {
		t.Fatalf("unlimited benefit must never block: %v", err)
	}
	if u.RemainingAmount != nil || u.RemainingCount != nil {
		t.Error("expected nil remaining fields for unlimited benefit")
	}
	if !u.UsedAmount.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("usage must still be tracked, got %s", u.UsedAmount)
	}
}

func TestRecord_CountLimit(t *testing.T) {
	f := newFixture()
	b := f.addBenefit("PHYSIO", nil, iptr(3))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Record(ctx, "tester", f.memberID, b.ID, 2026, decimal.NewFromInt(50), 1); err != nil {
			t.Fatalf("debit %d: %v", i+1, err)
		}
	}
	_, err := f.svc.Record(ctx, "tester", f.memberID, b.ID, 2026, decimal.NewFromInt(50), 1)
	if !apperr.IsCode(err, apperr.CodeLimitExceeded) {
		t.Fatalf("expected LIMIT_EXCEEDED on count, got %v", err)
	}
}

func TestRecord_NegativeAmount(t *testing.T) {
	f := newFixture()
	b := f.addBenefit("LAB001", fptr(1000), nil)
	_, err := f.svc.Record(context.Background(), "tester", f.memberID, b.ID, 2026, decimal.NewFromInt(-5), 0)
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestRecord_YearRolloverGetsFreshRow(t *testing.T) {
	f := newFixture()
	b := f.addBenefit("LAB001", fptr(1000), nil)
	ctx := context.Background()

	if _, err := f.svc.Record(ctx, "tester", f.memberID, b.ID, 2025, decimal.NewFromInt(900), 1); err != nil {
		t.Fatalf("2025 debit: %v", err)
	}
	u, err := f.svc.Record(ctx, "tester", f.memberID, b.ID, 2026, decimal.NewFromInt(900), 1)
	if err != nil {
		t.Fatalf("2026 debit must start from a fresh balance: %v", err)
	}
	if !u.RemainingAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected remaining 100 in new year, got %s", u.RemainingAmount)
	}
}

func TestInitForMember_SeedsActiveBenefits(t *testing.T) {
	f := newFixture()
	f.addBenefit("LAB001", fptr(1000), nil)
	f.addBenefit("CONSULT", nil, nil)
	inactive := f.addBenefit("OLD", fptr(10), nil)
	inactive.Active = false

	if err := f.svc.InitForMember(context.Background(), f.memberID, f.policyID, 2026); err != nil {
		t.Fatalf("init: %v", err)
	}
	items, err := f.svc.ListByMember(context.Background(), f.memberID, 2026)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 seeded rows, got %d", len(items))
	}
}

func TestRemaining(t *testing.T) {
	f := newFixture()
	b := f.addBenefit("LAB001", fptr(1000), nil)

	if _, err := f.svc.Record(context.Background(), "tester", f.memberID, b.ID, 2026, decimal.NewFromInt(300), 1); err != nil {
		t.Fatalf("record: %v", err)
	}
	rem, err := f.svc.Remaining(context.Background(), f.memberID, b.ID, 2026)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if rem == nil || !rem.Equal(decimal.NewFromInt(700)) {
		t.Errorf("expected 700, got %v", rem)
	}
}
