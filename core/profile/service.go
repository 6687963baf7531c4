package profile

import (
	"context"

	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type (
	Repository interface {
		// CreateProfile returns a DuplicateError when the email is taken.
		CreateProfile(ctx context.Context, p Profile) (Profile, error)
		// GetProfile returns a NotFoundError when no profile matches filter.
		GetProfile(ctx context.Context, filter GetFilter) (Profile, error)
		QueryProfiles(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Profile, error)
		EmailExists(ctx context.Context, email string, excludedIDs ...string) (bool, error)
		UpdateProfile(ctx context.Context, p Profile) (Profile, error)
	}

	Service interface {
		CheckEmailUniqueness(ctx context.Context, email string, excludedIDs ...string) error
		Create(ctx context.Context, np NewProfile) (Profile, error)
		GetByID(ctx context.Context, id string) (Profile, error)
		GetByEmail(ctx context.Context, email string) (Profile, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Profile, error)
		Update(ctx context.Context, id string, up UpdateProfile) (Profile, error)
		// Authenticate checks the credentials of an active profile and records the login.
		Authenticate(ctx context.Context, email, pwd string) (Profile, error)
		SetPassword(ctx context.Context, email, pwd string) (Profile, error)
		// FoundationManagers returns the active foundation managers, e.g. to notify them.
		FoundationManagers(ctx context.Context) ([]Profile, error)
		// InstitutionManagers returns the active school managers of an institution.
		InstitutionManagers(ctx context.Context, institutionID string) ([]Profile, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) CheckEmailUniqueness(ctx context.Context, email string, excludedIDs ...string) error {
	exists, err := svc.repo.EmailExists(ctx, core.CleanString(email, true /* lower */), excludedIDs...)
	if err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return core.NewValidationError(nil, core.FieldError{Field: "email", Error: "a profile with this email already exists"})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, np NewProfile) (Profile, error) {
	now := core.NowFunc()
	p := Profile{
		Name:             np.Name,
		Email:            np.Email,
		Role:             np.Role,
		InstitutionID:    np.InstitutionID,
		Permissions:      np.Permissions,
		SettlementWallet: np.SettlementWallet,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if p.Permissions == nil {
		p.Permissions = []string{}
	}
	if err := p.SetPassword(np.Password); err != nil {
		return Profile{}, errors.Wrap(err, "hashing password")
	}
	p, err := svc.repo.CreateProfile(ctx, p)
	return p, errors.Wrap(err, "creating profile")
}

func (svc *service) GetByID(ctx context.Context, id string) (Profile, error) {
	p, err := svc.repo.GetProfile(ctx, GetFilter{ID: id})
	return p, errors.Wrap(err, "finding profile by ID")
}

func (svc *service) GetByEmail(ctx context.Context, email string) (Profile, error) {
	p, err := svc.repo.GetProfile(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
	return p, errors.Wrap(err, "finding profile by email")
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Profile, error) {
	ordering = core.AllowedOrderings(ordering, "name", "email", "role", "created_at", "last_login")
	profiles, err := svc.repo.QueryProfiles(ctx, filter, ordering)
	return profiles, errors.Wrap(err, "querying profiles")
}

func (svc *service) Update(ctx context.Context, id string, up UpdateProfile) (Profile, error) {
	p, err := svc.GetByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	p.Name = up.Name
	if up.IsActive != nil {
		p.IsActive = *up.IsActive
	}
	if up.Permissions != nil {
		p.Permissions = up.Permissions
	}
	if up.SettlementWallet != "" {
		p.SettlementWallet = up.SettlementWallet
	}
	if up.Password != "" {
		if err = p.SetPassword(up.Password); err != nil {
			return Profile{}, errors.Wrap(err, "hashing password")
		}
	}
	p.UpdatedAt = core.NowFunc()
	p, err = svc.repo.UpdateProfile(ctx, p)
	return p, errors.Wrap(err, "updating profile")
}

func (svc *service) Authenticate(ctx context.Context, email, pwd string) (Profile, error) {
	p, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if core.IsNotFound(err) {
			return Profile{}, ErrInvalidCredentials
		}
		return Profile{}, err
	}
	if err = p.CheckPassword(pwd); err != nil {
		return Profile{}, ErrInvalidCredentials
	}
	if !p.IsActive {
		return p, nil // the caller decides how to report deactivated accounts
	}
	p.LastLogin = core.NowFunc()
	p, err = svc.repo.UpdateProfile(ctx, p)
	return p, errors.Wrap(err, "setting last login")
}

func (svc *service) SetPassword(ctx context.Context, email, pwd string) (Profile, error) {
	p, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return Profile{}, err
	}
	if err = CheckPasswordPolicy(pwd, p.Name, p.Email); err != nil {
		return Profile{}, err
	}
	if err = p.SetPassword(pwd); err != nil {
		return Profile{}, errors.Wrap(err, "hashing password")
	}
	p.UpdatedAt = core.NowFunc()
	p, err = svc.repo.UpdateProfile(ctx, p)
	return p, errors.Wrap(err, "updating password")
}

func (svc *service) FoundationManagers(ctx context.Context) ([]Profile, error) {
	active := true
	return svc.Query(ctx, &QueryFilter{Role: RoleFoundationManager, IsActive: &active}, nil)
}

func (svc *service) InstitutionManagers(ctx context.Context, institutionID string) ([]Profile, error) {
	active := true
	return svc.Query(ctx, &QueryFilter{Role: RoleSchoolManager, InstitutionID: institutionID, IsActive: &active}, nil)
}
