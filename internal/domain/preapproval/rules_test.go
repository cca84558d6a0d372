package preapproval

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medisure/tpa/internal/domain/common"
)

func rule(id int64, priority int, level ApprovalLevel) *Rule {
	return &Rule{ID: id, Priority: priority, RequiredLevel: level, Audit: common.NewAudit()}
}

func strp(s string) *string { return &s }

func decp(v int64) *decimal.Decimal { d := decimal.NewFromInt(v); return &d }

func TestEvaluate_NoRulesMeansNoApproval(t *testing.T) {
	ev := Evaluate(nil, EvalInput{ServiceCode: "LAB001", Amount: decimal.NewFromInt(100)})
	if ev.Required {
		t.Fatal("expected no approval required")
	}
	if ev.Level != LevelNone {
		t.Fatalf("level = %s, want NONE", ev.Level)
	}
}

func TestEvaluate_AmountThreshold(t *testing.T) {
	r := rule(1, 10, LevelMedicalDirector)
	r.MinAmount = decp(3000)
	rules := []*Rule{r}

	ev := Evaluate(rules, EvalInput{ServiceCode: "SRG100", Amount: decimal.NewFromInt(5000)})
	if !ev.Required || ev.Level != LevelMedicalDirector {
		t.Fatalf("5000 should need MEDICAL_DIRECTOR, got required=%v level=%s", ev.Required, ev.Level)
	}

	// The threshold is strict: exactly 3000 does not trip the rule.
	ev = Evaluate(rules, EvalInput{ServiceCode: "SRG100", Amount: decimal.NewFromInt(3000)})
	if ev.Required {
		t.Fatalf("3000 should not match a >3000 rule, got level=%s", ev.Level)
	}
}

func TestEvaluate_HighestPriorityWins(t *testing.T) {
	low := rule(1, 1, LevelSupervisor)
	high := rule(2, 5, LevelMedicalDirector)
	ev := Evaluate([]*Rule{low, high}, EvalInput{Amount: decimal.NewFromInt(10)})
	if ev.Level != LevelMedicalDirector {
		t.Fatalf("level = %s, want MEDICAL_DIRECTOR", ev.Level)
	}
	if ev.RuleID == nil || *ev.RuleID != 2 {
		t.Fatalf("rule id = %v, want 2", ev.RuleID)
	}
}

func TestEvaluate_SpecificityBreaksPriorityTie(t *testing.T) {
	wildcard := rule(1, 5, LevelSupervisor)
	scoped := rule(2, 5, LevelMedicalDirector)
	scoped.ServiceCode = strp("LAB001")
	scoped.ProviderType = strp("laboratory")

	in := EvalInput{ServiceCode: "LAB001", ProviderType: "laboratory", Amount: decimal.NewFromInt(10)}
	ev := Evaluate([]*Rule{wildcard, scoped}, in)
	if ev.RuleID == nil || *ev.RuleID != 2 {
		t.Fatalf("rule id = %v, want the more specific rule 2", ev.RuleID)
	}
}

func TestEvaluate_LowestIDBreaksFullTie(t *testing.T) {
	a := rule(7, 5, LevelSupervisor)
	b := rule(3, 5, LevelMedicalDirector)
	in := EvalInput{Amount: decimal.NewFromInt(10)}

	ev := Evaluate([]*Rule{a, b}, in)
	if ev.RuleID == nil || *ev.RuleID != 3 {
		t.Fatalf("rule id = %v, want 3", ev.RuleID)
	}
	// Same verdict regardless of slice order.
	ev2 := Evaluate([]*Rule{b, a}, in)
	if ev2.RuleID == nil || *ev2.RuleID != *ev.RuleID || ev2.Level != ev.Level {
		t.Fatalf("evaluation depends on rule ordering: %+v vs %+v", ev, ev2)
	}
}

func TestEvaluate_InactiveRuleIgnored(t *testing.T) {
	r := rule(1, 10, LevelMedicalDirector)
	r.Active = false
	ev := Evaluate([]*Rule{r}, EvalInput{Amount: decimal.NewFromInt(10)})
	if ev.Required {
		t.Fatal("inactive rule should not match")
	}
}

func TestEvaluate_ConditionFilter(t *testing.T) {
	condition := uuid.New()
	r := rule(1, 5, LevelSupervisor)
	r.ChronicConditionID = &condition

	ev := Evaluate([]*Rule{r}, EvalInput{Amount: decimal.NewFromInt(10)})
	if ev.Required {
		t.Fatal("rule should not match a member without the condition")
	}
	ev = Evaluate([]*Rule{r}, EvalInput{
		Amount:            decimal.NewFromInt(10),
		ChronicConditions: []uuid.UUID{uuid.New(), condition},
	})
	if !ev.Required || ev.Level != LevelSupervisor {
		t.Fatalf("rule should match a diagnosed member, got %+v", ev)
	}
}

func TestEvaluate_OverLimitEscalates(t *testing.T) {
	r := rule(1, 5, LevelSupervisor)
	r.AutoApprovable = true
	limit := decimal.NewFromInt(1000)

	ev := Evaluate([]*Rule{r}, EvalInput{Amount: decimal.NewFromInt(1500), BenefitLimit: &limit})
	if ev.Level != LevelMedicalDirector {
		t.Fatalf("level = %s, want escalation to MEDICAL_DIRECTOR", ev.Level)
	}
	if ev.AutoApprovable {
		t.Fatal("escalated requests must never be auto-approvable")
	}
	if !ev.Escalated {
		t.Fatal("escalated flag not set")
	}
}

func TestEvaluate_OverLimitWithNoMatchStillEscalates(t *testing.T) {
	limit := decimal.NewFromInt(1000)
	ev := Evaluate(nil, EvalInput{Amount: decimal.NewFromInt(1500), BenefitLimit: &limit})
	if !ev.Required || ev.Level != LevelSupervisor {
		t.Fatalf("got required=%v level=%s, want SUPERVISOR", ev.Required, ev.Level)
	}
}

func TestEvaluate_MedicalDirectorIsCeiling(t *testing.T) {
	r := rule(1, 5, LevelMedicalDirector)
	limit := decimal.NewFromInt(1000)
	ev := Evaluate([]*Rule{r}, EvalInput{Amount: decimal.NewFromInt(1500), BenefitLimit: &limit})
	if ev.Level != LevelMedicalDirector {
		t.Fatalf("level = %s, want MEDICAL_DIRECTOR", ev.Level)
	}
}
