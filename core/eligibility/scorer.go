// Package eligibility maps monthly school metrics to an eligibility score.
// Scoring is a pure function of its inputs and the Policy; persisting the result is up to the caller.
package eligibility

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/educhain/educhain/core"
)

const (
	StatusEligible   = "eligible"
	StatusIneligible = "ineligible"

	maxScore = 100
)

var hundred = decimal.NewFromInt(maxScore)

// Weights are the percentage contribution of each sub-metric to the score. They must sum to 100.
type Weights struct {
	Attendance int `json:"attendance"`
	Nutrition  int `json:"nutrition"`
	Training   int `json:"training"`
	Community  int `json:"community"`
}

func DefaultWeights() Weights {
	return Weights{Attendance: 25, Nutrition: 20, Training: 15, Community: 40}
}

func (w Weights) Sum() int {
	return w.Attendance + w.Nutrition + w.Training + w.Community
}

func (w Weights) Validate() error {
	for _, fw := range []struct {
		field string
		val   int
	}{
		{"weight_attendance", w.Attendance},
		{"weight_nutrition", w.Nutrition},
		{"weight_training", w.Training},
		{"weight_community", w.Community},
	} {
		if fw.val < 0 {
			return core.NewValidationError(nil, core.FieldError{Field: fw.field, Error: "weight cannot be negative"})
		}
	}
	if w.Sum() != maxScore {
		return core.NewValidationError(nil, core.FieldError{
			Field: "weights",
			Error: fmt.Sprintf("weights must sum to %d (got %d)", maxScore, w.Sum()),
		})
	}
	return nil
}

// Policy holds the configurable scoring parameters.
type Policy struct {
	Weights Weights `json:"weights"`
	// MinScore is the lowest score considered eligible.
	MinScore int `json:"min_eligibility_score"`
	// TrainingHoursTarget is the monthly teacher training hours that count as 100%.
	TrainingHoursTarget float64 `json:"training_hours_target"`
}

func DefaultPolicy() Policy {
	return Policy{Weights: DefaultWeights(), MinScore: 60, TrainingHoursTarget: 20}
}

func (p Policy) Validate() error {
	if err := p.Weights.Validate(); err != nil {
		return err
	}
	if p.MinScore < 0 || p.MinScore > maxScore {
		return core.NewValidationError(nil, core.FieldError{Field: "min_eligibility_score", Error: "must be between 0 and 100"})
	}
	if p.TrainingHoursTarget <= 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "training_hours_target", Error: "must be greater than 0"})
	}
	return nil
}

// Input is a metrics record as seen by the scorer. Nil values are treated as 0.
type Input struct {
	AttendanceRate         *float64 `json:"attendance_rate"`
	NutritionParticipation *float64 `json:"nutrition_program_participation"`
	TeacherTrainingHours   *float64 `json:"teacher_training_hours"`
	CommunityEngagement    *float64 `json:"community_engagement_score"`
}

// Validate rejects values outside of their domain: percentages must be in [0, 100] and hours cannot be negative.
func (in Input) Validate() error {
	var flds []core.FieldError
	checkPct := func(field string, v *float64) {
		if v != nil && (*v < 0 || *v > maxScore) {
			flds = append(flds, core.FieldError{Field: field, Error: "must be between 0 and 100"})
		}
	}
	checkPct("attendance_rate", in.AttendanceRate)
	checkPct("nutrition_program_participation", in.NutritionParticipation)
	checkPct("community_engagement_score", in.CommunityEngagement)
	if in.TeacherTrainingHours != nil && *in.TeacherTrainingHours < 0 {
		flds = append(flds, core.FieldError{Field: "teacher_training_hours", Error: "cannot be negative"})
	}
	if flds != nil {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

type Result struct {
	Score  int    `json:"score"`
	Status string `json:"status"`
}

func (r Result) Eligible() bool { return r.Status == StatusEligible }

// Score computes the weighted eligibility score of in, rounded half-up to an integer in [0, 100].
// A suspended institution is never eligible, whatever its score.
func (p Policy) Score(in Input, suspended bool) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if err := in.Validate(); err != nil {
		return Result{}, err
	}

	training := decimal.Zero
	if in.TeacherTrainingHours != nil {
		training = decimal.NewFromFloat(*in.TeacherTrainingHours).
			Div(decimal.NewFromFloat(p.TrainingHoursTarget)).
			Mul(hundred)
	}

	total := weighted(pct(in.AttendanceRate), p.Weights.Attendance).
		Add(weighted(pct(in.NutritionParticipation), p.Weights.Nutrition)).
		Add(weighted(clamp(training), p.Weights.Training)).
		Add(weighted(pct(in.CommunityEngagement), p.Weights.Community))

	// values are non-negative so Round (half away from zero) is half-up
	score := int(clamp(total.Div(hundred)).Round(0).IntPart())
	return Result{Score: score, Status: p.Status(score, suspended)}, nil
}

// Status derives eligibility from a score.
func (p Policy) Status(score int, suspended bool) string {
	if !suspended && score >= p.MinScore {
		return StatusEligible
	}
	return StatusIneligible
}

func pct(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return clamp(decimal.NewFromFloat(*v))
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(hundred) {
		return hundred
	}
	return d
}

func weighted(d decimal.Decimal, weight int) decimal.Decimal {
	return d.Mul(decimal.NewFromInt(int64(weight)))
}
