package profile

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/educhain/educhain/core"
)

// Roles
const (
	RoleFoundationManager = "foundation_manager"
	RoleSchoolManager     = "school_manager"
)

var Roles = []Role{
	{Name: "Foundation Manager", Value: RoleFoundationManager},
	{Name: "School Manager", Value: RoleSchoolManager},
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Profile struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	InstitutionID    string    `json:"institution_id,omitempty"`
	Permissions      []string  `json:"permissions"`
	SettlementWallet string    `json:"settlement_wallet,omitempty"`
	IsActive         bool      `json:"is_active"`
	PasswordHash     []byte    `json:"-"`
	CreatedAt        time.Time `json:"created_at"` // UTC
	UpdatedAt        time.Time `json:"updated_at"` // UTC
	LastLogin        time.Time `json:"last_login"` // UTC
}

func (p *Profile) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	return nil
}

func (p *Profile) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(p.PasswordHash, []byte(pwd))
}

func (p Profile) IsFoundationManager() bool { return p.Role == RoleFoundationManager }

func (p Profile) IsSchoolManager() bool { return p.Role == RoleSchoolManager }

// CanAccessInstitution reports whether the profile may read or act on behalf of the institution.
func (p Profile) CanAccessInstitution(institutionID string) bool {
	return p.IsFoundationManager() || (p.IsSchoolManager() && p.InstitutionID != "" && p.InstitutionID == institutionID)
}

func (p Profile) Person() core.Person {
	return core.Person{ID: p.ID, Name: p.Name, Email: p.Email}
}

// NewProfile contains information needed to create a new Profile.
type NewProfile struct {
	Name             string   `json:"name" validate:"required"`
	Email            string   `json:"email" validate:"required,email"`
	Role             string   `json:"role" validate:"required,oneof=foundation_manager school_manager"`
	InstitutionID    string   `json:"institution_id" validate:"omitempty,uuid"`
	Permissions      []string `json:"permissions"`
	SettlementWallet string   `json:"settlement_wallet" validate:"omitempty,wallet"`
	Password         string   `json:"password" validate:"required"`
	PasswordConfirm  string   `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (np *NewProfile) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	np.Name = core.CleanString(np.Name)
	np.Email = core.CleanString(np.Email, true /* lower */)
	np.Role = core.CleanString(np.Role, true /* lower */)
	np.InstitutionID = core.CleanString(np.InstitutionID, true /* lower */)
	np.SettlementWallet = core.CleanString(np.SettlementWallet)

	if err := validate.Struct(np); err != nil {
		return err
	}
	return svc.CheckEmailUniqueness(ctx, np.Email)
}

// UpdateProfile defines what information may be provided to modify an existing Profile.
type UpdateProfile struct {
	Name             string   `json:"name"`
	IsActive         *bool    `json:"is_active"`
	Permissions      []string `json:"permissions"`
	SettlementWallet string   `json:"settlement_wallet" validate:"omitempty,wallet"`
	Password         string   `json:"password" validate:"omitempty"`
	PasswordConfirm  string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`

	// set from the original profile, used by the password policy
	email string
}

func (up *UpdateProfile) Validate(orig Profile, validate *validator.Validate) error {
	if name := core.CleanString(up.Name); name != "" {
		up.Name = name
	} else {
		up.Name = orig.Name
	}
	up.SettlementWallet = core.CleanString(up.SettlementWallet)
	up.email = orig.Email
	return validate.Struct(up)
}

type QueryFilter struct {
	Search        string `query:"search"`
	Role          string `query:"role"`
	InstitutionID string `query:"institution_id"`
	IsActive      *bool  `query:"is_active"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Role == "" && qf.InstitutionID == "" && qf.IsActive == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Role = core.CleanString(qf.Role, true /* lower */)
	qf.InstitutionID = core.CleanString(qf.InstitutionID, true /* lower */)
}

type GetFilter struct {
	ID    string
	Email string
}
