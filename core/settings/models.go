package settings

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/eligibility"
)

// Setting keys
const (
	KeyMinEligibilityScore    = "min_eligibility_score"
	KeyAutoApprovalCeiling    = "auto_approval_ceiling"
	KeyAutoApprovalScoreFloor = "auto_approval_score_floor"
	KeyMaxDistributionAmount  = "max_distribution_amount"
	KeyPeriodPool             = "period_pool"
	KeyInstallmentsPerCycle   = "installments_per_cycle"
	KeyTrainingHoursTarget    = "training_hours_target"
	KeyWeightAttendance       = "weight_attendance"
	KeyWeightNutrition        = "weight_nutrition"
	KeyWeightTraining         = "weight_training"
	KeyWeightCommunity        = "weight_community"

	CategoryEligibility  = "eligibility"
	CategoryDistribution = "distribution"
	CategoryApproval     = "approval"
)

// Policy is the funding policy in effect: configuration defaults overridden by active foundation settings.
type Policy struct {
	Eligibility            eligibility.Policy `json:"eligibility"`
	AutoApprovalCeiling    decimal.Decimal    `json:"auto_approval_ceiling"`
	AutoApprovalScoreFloor int                `json:"auto_approval_score_floor"`
	MaxDistributionAmount  decimal.Decimal    `json:"max_distribution_amount"`
	PeriodPool             decimal.Decimal    `json:"period_pool"`
	InstallmentsPerCycle   int                `json:"installments_per_cycle"`
}

// DefaultPolicy builds the policy from configuration only.
func DefaultPolicy(fd core.FundingDefaults) Policy {
	return Policy{
		Eligibility: eligibility.Policy{
			Weights: eligibility.Weights{
				Attendance: fd.WeightAttendance,
				Nutrition:  fd.WeightNutrition,
				Training:   fd.WeightTraining,
				Community:  fd.WeightCommunity,
			},
			MinScore:            fd.MinEligibilityScore,
			TrainingHoursTarget: fd.TrainingHoursTarget,
		},
		AutoApprovalCeiling:    fd.AutoApprovalCeiling,
		AutoApprovalScoreFloor: fd.AutoApprovalScoreFloor,
		MaxDistributionAmount:  fd.MaxDistributionAmount,
		PeriodPool:             fd.PeriodPool,
		InstallmentsPerCycle:   fd.InstallmentsPerCycle,
	}
}

func (p Policy) Validate() error {
	if err := p.Eligibility.Validate(); err != nil {
		return err
	}
	var flds []core.FieldError
	if p.AutoApprovalCeiling.IsNegative() {
		flds = append(flds, core.FieldError{Field: KeyAutoApprovalCeiling, Error: "cannot be negative"})
	}
	if p.AutoApprovalScoreFloor < 0 || p.AutoApprovalScoreFloor > 100 {
		flds = append(flds, core.FieldError{Field: KeyAutoApprovalScoreFloor, Error: "must be between 0 and 100"})
	}
	if !p.MaxDistributionAmount.IsPositive() {
		flds = append(flds, core.FieldError{Field: KeyMaxDistributionAmount, Error: "must be greater than 0"})
	}
	if p.PeriodPool.IsNegative() {
		flds = append(flds, core.FieldError{Field: KeyPeriodPool, Error: "cannot be negative"})
	}
	if p.InstallmentsPerCycle < 1 {
		flds = append(flds, core.FieldError{Field: KeyInstallmentsPerCycle, Error: "must be at least 1"})
	}
	if flds != nil {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

type keyDef struct {
	category    string
	description string
	apply       func(p *Policy, val string) error
	value       func(p Policy) string
}

func intSetter(set func(p *Policy, v int)) func(*Policy, string) error {
	return func(p *Policy, val string) error {
		v, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%q is not an integer", val)
		}
		set(p, v)
		return nil
	}
}

func decimalSetter(set func(p *Policy, v decimal.Decimal)) func(*Policy, string) error {
	return func(p *Policy, val string) error {
		v, err := decimal.NewFromString(val)
		if err != nil {
			return fmt.Errorf("%q is not a number", val)
		}
		set(p, v)
		return nil
	}
}

var keyDefs = map[string]keyDef{
	KeyMinEligibilityScore: {
		category:    CategoryEligibility,
		description: "Lowest eligibility score (0-100) that makes an institution eligible",
		apply:       intSetter(func(p *Policy, v int) { p.Eligibility.MinScore = v }),
		value:       func(p Policy) string { return strconv.Itoa(p.Eligibility.MinScore) },
	},
	KeyTrainingHoursTarget: {
		category:    CategoryEligibility,
		description: "Monthly teacher training hours counted as 100%",
		apply: func(p *Policy, val string) error {
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("%q is not a number", val)
			}
			p.Eligibility.TrainingHoursTarget = v
			return nil
		},
		value: func(p Policy) string { return strconv.FormatFloat(p.Eligibility.TrainingHoursTarget, 'f', -1, 64) },
	},
	KeyWeightAttendance: {
		category:    CategoryEligibility,
		description: "Weight of the attendance rate in the eligibility score",
		apply:       intSetter(func(p *Policy, v int) { p.Eligibility.Weights.Attendance = v }),
		value:       func(p Policy) string { return strconv.Itoa(p.Eligibility.Weights.Attendance) },
	},
	KeyWeightNutrition: {
		category:    CategoryEligibility,
		description: "Weight of the nutrition program participation in the eligibility score",
		apply:       intSetter(func(p *Policy, v int) { p.Eligibility.Weights.Nutrition = v }),
		value:       func(p Policy) string { return strconv.Itoa(p.Eligibility.Weights.Nutrition) },
	},
	KeyWeightTraining: {
		category:    CategoryEligibility,
		description: "Weight of the teacher training hours in the eligibility score",
		apply:       intSetter(func(p *Policy, v int) { p.Eligibility.Weights.Training = v }),
		value:       func(p Policy) string { return strconv.Itoa(p.Eligibility.Weights.Training) },
	},
	KeyWeightCommunity: {
		category:    CategoryEligibility,
		description: "Weight of the community engagement score in the eligibility score",
		apply:       intSetter(func(p *Policy, v int) { p.Eligibility.Weights.Community = v }),
		value:       func(p Policy) string { return strconv.Itoa(p.Eligibility.Weights.Community) },
	},
	KeyAutoApprovalCeiling: {
		category:    CategoryApproval,
		description: "Distributions up to this amount may be approved automatically",
		apply:       decimalSetter(func(p *Policy, v decimal.Decimal) { p.AutoApprovalCeiling = v }),
		value:       func(p Policy) string { return p.AutoApprovalCeiling.String() },
	},
	KeyAutoApprovalScoreFloor: {
		category:    CategoryApproval,
		description: "Lowest institution score for automatic approval",
		apply:       intSetter(func(p *Policy, v int) { p.AutoApprovalScoreFloor = v }),
		value:       func(p Policy) string { return strconv.Itoa(p.AutoApprovalScoreFloor) },
	},
	KeyMaxDistributionAmount: {
		category:    CategoryDistribution,
		description: "Default per-period cap of a single institution",
		apply:       decimalSetter(func(p *Policy, v decimal.Decimal) { p.MaxDistributionAmount = v }),
		value:       func(p Policy) string { return p.MaxDistributionAmount.String() },
	},
	KeyPeriodPool: {
		category:    CategoryDistribution,
		description: "Funds available for distribution in each period",
		apply:       decimalSetter(func(p *Policy, v decimal.Decimal) { p.PeriodPool = v }),
		value:       func(p Policy) string { return p.PeriodPool.String() },
	},
	KeyInstallmentsPerCycle: {
		category:    CategoryDistribution,
		description: "Default number of installments an institution's cycle total is split into",
		apply:       intSetter(func(p *Policy, v int) { p.InstallmentsPerCycle = v }),
		value:       func(p Policy) string { return strconv.Itoa(p.InstallmentsPerCycle) },
	},
}

// Keys returns the known setting keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(keyDefs))
	for k := range keyDefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Setting is a stored foundation setting.
type Setting struct {
	ID          string    `json:"id,omitempty"`
	Key         string    `json:"setting_key"`
	Value       string    `json:"setting_value"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// UpdateSetting defines what may be provided to change a foundation setting.
type UpdateSetting struct {
	Key      string `json:"setting_key" validate:"required"`
	Value    string `json:"setting_value" validate:"required"`
	IsActive *bool  `json:"is_active"`
}

func (us *UpdateSetting) Validate(validate *validator.Validate) error {
	us.Key = core.CleanString(us.Key, true /* lower */)
	us.Value = core.CleanString(us.Value)
	if err := validate.Struct(us); err != nil {
		return err
	}
	if _, ok := keyDefs[us.Key]; !ok {
		return core.NewValidationError(nil, core.FieldError{Field: "setting_key", Error: "unknown setting"})
	}
	return nil
}
