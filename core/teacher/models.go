package teacher

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/educhain/educhain/core"
)

// Certification levels
const (
	LevelHighSchool   = "high_school"
	LevelTeaching     = "teaching_degree"
	LevelBachelor     = "bachelor"
	LevelPostgraduate = "postgraduate"
	LevelIndigenousEd = "indigenous_education"
	LevelNotCertified = "not_certified"
)

var Levels = []string{LevelHighSchool, LevelTeaching, LevelBachelor, LevelPostgraduate, LevelIndigenousEd, LevelNotCertified}

type Teacher struct {
	ID                 string    `json:"id"`
	InstitutionID      string    `json:"institution_id"`
	Name               string    `json:"name"`
	Email              string    `json:"email,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	CertificationLevel string    `json:"certification_level"`
	SubjectAreas       []string  `json:"subject_areas"`
	TrainingHours      float64   `json:"training_hours"`
	YearsExperience    int       `json:"years_experience"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"` // UTC
	UpdatedAt          time.Time `json:"updated_at"` // UTC
}

type NewTeacher struct {
	Name               string   `json:"name" validate:"required"`
	Email              string   `json:"email" validate:"omitempty,email"`
	Phone              string   `json:"phone" validate:"max=30"`
	CertificationLevel string   `json:"certification_level" validate:"required,oneof=high_school teaching_degree bachelor postgraduate indigenous_education not_certified"`
	SubjectAreas       []string `json:"subject_areas" validate:"dive,required"`
	TrainingHours      float64  `json:"training_hours" validate:"gte=0"`
	YearsExperience    int      `json:"years_experience" validate:"gte=0,lte=80"`
}

func (nt *NewTeacher) Validate(validate *validator.Validate) error {
	nt.Name = core.CleanString(nt.Name)
	nt.Email = core.CleanString(nt.Email, true /* lower */)
	nt.Phone = core.CleanString(nt.Phone)
	nt.CertificationLevel = core.CleanString(nt.CertificationLevel, true /* lower */)
	for i, s := range nt.SubjectAreas {
		nt.SubjectAreas[i] = core.CleanString(s, true /* lower */)
	}
	return validate.Struct(nt)
}

type QueryFilter struct {
	InstitutionID      string `query:"institution_id"`
	CertificationLevel string `query:"certification_level"`
	IsActive           *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.InstitutionID = core.CleanString(qf.InstitutionID, true /* lower */)
	qf.CertificationLevel = core.CleanString(qf.CertificationLevel, true /* lower */)
}
