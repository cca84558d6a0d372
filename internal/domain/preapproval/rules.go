package preapproval

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EvalInput carries the request facts the rule engine matches against.
type EvalInput struct {
	ServiceCode       string
	ProviderType      string
	ChronicConditions []uuid.UUID
	Amount            decimal.Decimal
	// BenefitLimit is the benefit's annual monetary limit; nil when the
	// benefit is unlimited.
	BenefitLimit *decimal.Decimal
}

// Evaluation is the rule engine's verdict for a request.
type Evaluation struct {
	Required       bool          `json:"required"`
	Level          ApprovalLevel `json:"level"`
	AutoApprovable bool          `json:"auto_approvable"`
	RuleID         *int64        `json:"rule_id,omitempty"`
	Escalated      bool          `json:"escalated"`
}

func (r *Rule) matches(in EvalInput) bool {
	if !r.Active {
		return false
	}
	if r.ServiceCode != nil && *r.ServiceCode != in.ServiceCode {
		return false
	}
	if r.ProviderType != nil && *r.ProviderType != in.ProviderType {
		return false
	}
	if r.ChronicConditionID != nil {
		found := false
		for _, id := range in.ChronicConditions {
			if id == *r.ChronicConditionID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if r.MinAmount != nil && !in.Amount.GreaterThan(*r.MinAmount) {
		return false
	}
	return true
}

// Evaluate runs the rule set against a request. The winning rule is the
// matching one with the highest priority; ties go to the rule with more
// populated filters, then to the lowest id, so the outcome is
// deterministic for any rule ordering. A request exceeding the benefit's
// annual limit escalates one level above the matched requirement and is
// never auto-approvable.
func Evaluate(rules []*Rule, in EvalInput) Evaluation {
	var best *Rule
	for _, r := range rules {
		if !r.matches(in) {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		switch {
		case r.Priority > best.Priority:
			best = r
		case r.Priority == best.Priority && r.specificity() > best.specificity():
			best = r
		case r.Priority == best.Priority && r.specificity() == best.specificity() && r.ID < best.ID:
			best = r
		}
	}

	ev := Evaluation{Level: LevelNone}
	if best != nil {
		ev.Level = best.RequiredLevel
		ev.Required = best.RequiredLevel != LevelNone
		ev.AutoApprovable = best.AutoApprovable
		id := best.ID
		ev.RuleID = &id
	}
	if in.BenefitLimit != nil && in.Amount.GreaterThan(*in.BenefitLimit) {
		ev.Level = ev.Level.Escalate()
		ev.Required = true
		ev.AutoApprovable = false
		ev.Escalated = true
	}
	return ev
}
