package distribution

import (
	"github.com/shopspring/decimal"

	"github.com/educhain/educhain/core/institution"
	"github.com/educhain/educhain/core/settings"
)

type Decision string

const (
	DecisionAutoApprove  Decision = "auto_approve"
	DecisionManualReview Decision = "manual_review"
)

// Gate decides whether a planned distribution may skip human review.
type Gate struct {
	Ceiling    decimal.Decimal
	ScoreFloor int
}

func GateFor(p settings.Policy) Gate {
	return Gate{Ceiling: p.AutoApprovalCeiling, ScoreFloor: p.AutoApprovalScoreFloor}
}

// Evaluate is a pure function of the amount and the institution's score.
// Both bounds are inclusive.
func (g Gate) Evaluate(amount decimal.Decimal, inst institution.Institution) Decision {
	if amount.LessThanOrEqual(g.Ceiling) && inst.EligibilityScore >= g.ScoreFloor && inst.IsEligible() {
		return DecisionAutoApprove
	}
	return DecisionManualReview
}
