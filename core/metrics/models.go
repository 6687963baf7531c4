package metrics

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/eligibility"
)

// Validation statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// MonthlyMetrics is what a school reports for one month. Records are never edited once reviewed.
type MonthlyMetrics struct {
	ID                     string     `json:"id"`
	InstitutionID          string     `json:"institution_id"`
	Year                   int        `json:"year"`
	Month                  int        `json:"month"`
	AttendanceRate         *float64   `json:"attendance_rate"`
	NutritionParticipation *float64   `json:"nutrition_program_participation"`
	TeacherTrainingHours   *float64   `json:"teacher_training_hours"`
	CommunityEngagement    *float64   `json:"community_engagement_score"`
	EligibilityScore       int        `json:"eligibility_score"`
	ValidationStatus       string     `json:"validation_status"`
	ValidatedBy            string     `json:"validated_by,omitempty"`
	ValidatedAt            *time.Time `json:"validated_at"`
	ReviewComment          string     `json:"review_comment,omitempty"`
	Notes                  string     `json:"notes,omitempty"`
	SubmittedBy            string     `json:"submitted_by,omitempty"`
	CreatedAt              time.Time  `json:"created_at"` // UTC
	UpdatedAt              time.Time  `json:"updated_at"` // UTC
}

func (m MonthlyMetrics) Period() core.Period {
	return core.Period{Year: m.Year, Month: m.Month}
}

func (m MonthlyMetrics) Input() eligibility.Input {
	return eligibility.Input{
		AttendanceRate:         m.AttendanceRate,
		NutritionParticipation: m.NutritionParticipation,
		TeacherTrainingHours:   m.TeacherTrainingHours,
		CommunityEngagement:    m.CommunityEngagement,
	}
}

func (m MonthlyMetrics) IsPending() bool { return m.ValidationStatus == StatusPending }

// NewMetrics contains what a school manager submits for a month.
type NewMetrics struct {
	Year                   int      `json:"year" validate:"gte=2000,lte=2100"`
	Month                  int      `json:"month" validate:"gte=1,lte=12"`
	AttendanceRate         *float64 `json:"attendance_rate" validate:"omitempty,gte=0,lte=100"`
	NutritionParticipation *float64 `json:"nutrition_program_participation" validate:"omitempty,gte=0,lte=100"`
	TeacherTrainingHours   *float64 `json:"teacher_training_hours" validate:"omitempty,gte=0"`
	CommunityEngagement    *float64 `json:"community_engagement_score" validate:"omitempty,gte=0,lte=100"`
	Notes                  string   `json:"notes" validate:"max=2000"`
}

func (nm *NewMetrics) Validate(validate *validator.Validate) error {
	nm.Notes = core.CleanString(nm.Notes)
	return validate.Struct(nm)
}

func (nm NewMetrics) Period() core.Period {
	return core.Period{Year: nm.Year, Month: nm.Month}
}

func (nm NewMetrics) Input() eligibility.Input {
	return eligibility.Input{
		AttendanceRate:         nm.AttendanceRate,
		NutritionParticipation: nm.NutritionParticipation,
		TeacherTrainingHours:   nm.TeacherTrainingHours,
		CommunityEngagement:    nm.CommunityEngagement,
	}
}

// Review is a foundation manager's decision on a pending record.
type Review struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Comment  string `json:"comment" validate:"max=2000"`
}

func (r *Review) Validate(validate *validator.Validate) error {
	r.Decision = core.CleanString(r.Decision, true /* lower */)
	r.Comment = core.CleanString(r.Comment)
	return validate.Struct(r)
}

type QueryFilter struct {
	InstitutionID    string `query:"institution_id"`
	ValidationStatus string `query:"validation_status"`
	YearFrom         int    `query:"year_from"`
	YearTo           int    `query:"year_to"`
	Month            int    `query:"month"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.InstitutionID == "" && qf.ValidationStatus == "" && qf.YearFrom == 0 && qf.YearTo == 0 && qf.Month == 0
}

func (qf *QueryFilter) Clean() {
	qf.InstitutionID = core.CleanString(qf.InstitutionID, true /* lower */)
	qf.ValidationStatus = core.CleanString(qf.ValidationStatus, true /* lower */)
}
