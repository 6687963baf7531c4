package institution

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/eligibility"
)

// Institution types
const (
	TypeCommunitySchool = "community_school"
	TypeQuilombola      = "quilombola"
	TypeIndigenous      = "indigenous"
)

// infrastructurePointsPerItem is the score of each infrastructure item; five items make 100.
const infrastructurePointsPerItem = 20

var Types = []string{TypeCommunitySchool, TypeQuilombola, TypeIndigenous}

type Infrastructure struct {
	HasKitchen   bool `json:"has_kitchen"`
	HasLibrary   bool `json:"has_library"`
	HasInternet  bool `json:"has_internet"`
	HasSafeWater bool `json:"has_safe_water"`
	HasComputers bool `json:"has_computers"`
}

// Score is the infrastructure score in [0, 100].
func (inf Infrastructure) Score() int {
	score := 0
	for _, has := range []bool{inf.HasKitchen, inf.HasLibrary, inf.HasInternet, inf.HasSafeWater, inf.HasComputers} {
		if has {
			score += infrastructurePointsPerItem
		}
	}
	return score
}

type Institution struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	FullAddress string `json:"full_address"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`

	StudentCount     int             `json:"student_count"`
	UnitValue        decimal.Decimal `json:"unit_value"`
	SchoolDays       int             `json:"school_days"`
	InstallmentCount int             `json:"installment_count"`
	TotalValue       decimal.Decimal `json:"total_value"`
	InstallmentValue decimal.Decimal `json:"installment_value"`

	Infrastructure
	InfrastructureScore int `json:"infrastructure_score"`

	EligibilityScore int                 `json:"eligibility_score"`
	Status           string              `json:"status"`
	Suspended        bool                `json:"suspended"`
	PeriodCap        decimal.NullDecimal `json:"period_cap"`
	SettlementWallet string              `json:"settlement_wallet,omitempty"`
	ManagerID        string              `json:"manager_id,omitempty"`
	TotalDistributed decimal.Decimal     `json:"total_distributed"`
	Version          int                 `json:"version"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// Derive recomputes the values derived from the funding parameters and infrastructure flags.
func (inst *Institution) Derive() {
	inst.TotalValue = inst.UnitValue.
		Mul(decimal.NewFromInt(int64(inst.StudentCount))).
		Mul(decimal.NewFromInt(int64(inst.SchoolDays))).
		Round(2)
	if inst.InstallmentCount > 0 {
		inst.InstallmentValue = inst.TotalValue.Div(decimal.NewFromInt(int64(inst.InstallmentCount))).Round(2)
	} else {
		inst.InstallmentValue = decimal.Zero
	}
	inst.InfrastructureScore = inst.Infrastructure.Score()
}

// Cap is the most the institution may receive in a single period.
func (inst Institution) Cap(defaultCap decimal.Decimal) decimal.Decimal {
	if inst.PeriodCap.Valid {
		return inst.PeriodCap.Decimal
	}
	return defaultCap
}

func (inst Institution) IsEligible() bool {
	return inst.Status == eligibility.StatusEligible && !inst.Suspended
}

// NewInstitution contains information needed to register a new Institution.
type NewInstitution struct {
	Name             string           `json:"name" validate:"required"`
	Type             string           `json:"type" validate:"required,oneof=community_school quilombola indigenous"`
	FullAddress      string           `json:"full_address"`
	City             string           `json:"city" validate:"required"`
	State            string           `json:"state" validate:"required"`
	PostalCode       string           `json:"postal_code"`
	Country          string           `json:"country"`
	StudentCount     int              `json:"student_count" validate:"gt=0"`
	UnitValue        decimal.Decimal  `json:"unit_value" validate:"gt=0"`
	SchoolDays       int              `json:"school_days" validate:"gt=0,lte=366"`
	InstallmentCount int              `json:"installment_count" validate:"omitempty,gte=1,lte=366"`
	PeriodCap        *decimal.Decimal `json:"period_cap" validate:"omitempty,gt=0"`
	SettlementWallet string           `json:"settlement_wallet" validate:"omitempty,wallet"`
	ManagerID        string           `json:"manager_id" validate:"omitempty,uuid"`
	Infrastructure
}

func (ni *NewInstitution) Validate(validate *validator.Validate) error {
	ni.Name = core.CleanString(ni.Name)
	ni.Type = core.CleanString(ni.Type, true /* lower */)
	ni.FullAddress = core.CleanString(ni.FullAddress)
	ni.City = core.CleanString(ni.City)
	ni.State = core.CleanString(ni.State)
	ni.PostalCode = core.CleanString(ni.PostalCode)
	ni.Country = core.CleanString(ni.Country)
	ni.SettlementWallet = core.CleanString(ni.SettlementWallet)
	ni.ManagerID = core.CleanString(ni.ManagerID, true /* lower */)
	if ni.Country == "" {
		ni.Country = "Brasil"
	}
	return validate.Struct(ni)
}

// UpdateInstitution defines what may be changed on a registered Institution. Nil fields are left untouched.
type UpdateInstitution struct {
	Name             *string          `json:"name" validate:"omitempty,min=1"`
	FullAddress      *string          `json:"full_address"`
	City             *string          `json:"city" validate:"omitempty,min=1"`
	State            *string          `json:"state" validate:"omitempty,min=1"`
	PostalCode       *string          `json:"postal_code"`
	StudentCount     *int             `json:"student_count" validate:"omitempty,gt=0"`
	UnitValue        *decimal.Decimal `json:"unit_value" validate:"omitempty,gt=0"`
	SchoolDays       *int             `json:"school_days" validate:"omitempty,gt=0,lte=366"`
	InstallmentCount *int             `json:"installment_count" validate:"omitempty,gte=1,lte=366"`
	PeriodCap        *decimal.Decimal `json:"period_cap" validate:"omitempty,gt=0"`
	SettlementWallet *string          `json:"settlement_wallet" validate:"omitempty,wallet"`
	ManagerID        *string          `json:"manager_id" validate:"omitempty,uuid"`
	Infrastructure   *Infrastructure  `json:"infrastructure"`
}

func (ui *UpdateInstitution) Validate(validate *validator.Validate) error {
	for _, s := range []*string{ui.Name, ui.FullAddress, ui.City, ui.State, ui.PostalCode, ui.SettlementWallet, ui.ManagerID} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	return validate.Struct(ui)
}

type QueryFilter struct {
	Search    string `query:"search"`
	Type      string `query:"type"`
	Status    string `query:"status"`
	State     string `query:"state"`
	Suspended *bool  `query:"suspended"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Type == "" && qf.Status == "" && qf.State == "" && qf.Suspended == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Type = core.CleanString(qf.Type, true /* lower */)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	qf.State = core.CleanString(qf.State)
}
