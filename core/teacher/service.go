package teacher

import (
	"context"

	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/institution"
)

type (
	Repository interface {
		CreateTeacher(ctx context.Context, t Teacher) (Teacher, error)
		GetTeacher(ctx context.Context, id string) (Teacher, error)
		QueryTeachers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Teacher, error)
		UpdateTeacher(ctx context.Context, t Teacher) (Teacher, error)
	}

	Service interface {
		Register(ctx context.Context, institutionID string, nt NewTeacher) (Teacher, error)
		GetByID(ctx context.Context, id string) (Teacher, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Teacher, error)
		Deactivate(ctx context.Context, id string) (Teacher, error)
	}

	service struct {
		repo           Repository
		institutionSvc institution.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, institutionSvc institution.Service) Service {
	return &service{repo: repo, institutionSvc: institutionSvc}
}

func (svc *service) Register(ctx context.Context, institutionID string, nt NewTeacher) (Teacher, error) {
	inst, err := svc.institutionSvc.GetByID(ctx, institutionID)
	if err != nil {
		return Teacher{}, err
	}

	now := core.NowFunc()
	t := Teacher{
		InstitutionID:      inst.ID,
		Name:               nt.Name,
		Email:              nt.Email,
		Phone:              nt.Phone,
		CertificationLevel: nt.CertificationLevel,
		SubjectAreas:       nt.SubjectAreas,
		TrainingHours:      nt.TrainingHours,
		YearsExperience:    nt.YearsExperience,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if t.SubjectAreas == nil {
		t.SubjectAreas = []string{}
	}
	t, err = svc.repo.CreateTeacher(ctx, t)
	return t, errors.Wrap(err, "creating teacher")
}

func (svc *service) GetByID(ctx context.Context, id string) (Teacher, error) {
	t, err := svc.repo.GetTeacher(ctx, id)
	return t, errors.Wrap(err, "finding teacher by ID")
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Teacher, error) {
	ordering = core.AllowedOrderings(ordering, "name", "certification_level", "training_hours", "years_experience", "created_at")
	ts, err := svc.repo.QueryTeachers(ctx, filter, ordering)
	return ts, errors.Wrap(err, "querying teachers")
}

func (svc *service) Deactivate(ctx context.Context, id string) (Teacher, error) {
	t, err := svc.GetByID(ctx, id)
	if err != nil {
		return Teacher{}, err
	}
	if !t.IsActive {
		return t, nil
	}
	t.IsActive = false
	t.UpdatedAt = core.NowFunc()
	t, err = svc.repo.UpdateTeacher(ctx, t)
	return t, errors.Wrap(err, "deactivating teacher")
}
