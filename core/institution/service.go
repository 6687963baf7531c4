package institution

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/eligibility"
	"github.com/educhain/educhain/core/settings"
)

// attempts made before giving up on a contended record
const maxAttempts = 5

type (
	Repository interface {
		CreateInstitution(ctx context.Context, inst Institution) (Institution, error)
		// GetInstitution returns a NotFoundError when id is unknown.
		GetInstitution(ctx context.Context, id string) (Institution, error)
		QueryInstitutions(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Institution, error)
		// UpdateInstitution stores inst if the stored version still equals inst.Version and bumps the version.
		// It returns core.ErrConflict otherwise. TotalDistributed is never written.
		UpdateInstitution(ctx context.Context, inst Institution) (Institution, error)
	}

	Service interface {
		Register(ctx context.Context, ni NewInstitution) (Institution, error)
		GetByID(ctx context.Context, id string) (Institution, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Institution, error)
		Update(ctx context.Context, id string, ui UpdateInstitution) (Institution, error)
		// SetSuspended suspends or reinstates an institution; a suspended institution is ineligible whatever its score.
		SetSuspended(ctx context.Context, id string, suspended bool) (Institution, error)
		// ApplyScore records an approved eligibility score and re-derives the eligibility status.
		ApplyScore(ctx context.Context, id string, score int) (Institution, error)
	}

	service struct {
		repo        Repository
		settingsSvc settings.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, settingsSvc settings.Service) Service {
	return &service{repo: repo, settingsSvc: settingsSvc}
}

func (svc *service) Register(ctx context.Context, ni NewInstitution) (Institution, error) {
	policy, err := svc.settingsSvc.Policy(ctx)
	if err != nil {
		return Institution{}, errors.Wrap(err, "loading funding policy")
	}

	now := core.NowFunc()
	inst := Institution{
		Name:             ni.Name,
		Type:             ni.Type,
		FullAddress:      ni.FullAddress,
		City:             ni.City,
		State:            ni.State,
		PostalCode:       ni.PostalCode,
		Country:          ni.Country,
		StudentCount:     ni.StudentCount,
		UnitValue:        ni.UnitValue,
		SchoolDays:       ni.SchoolDays,
		InstallmentCount: ni.InstallmentCount,
		Infrastructure:   ni.Infrastructure,
		SettlementWallet: ni.SettlementWallet,
		ManagerID:        ni.ManagerID,
		Status:           eligibility.StatusIneligible, // until metrics are approved
		TotalDistributed: decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if inst.InstallmentCount == 0 {
		inst.InstallmentCount = policy.InstallmentsPerCycle
	}
	if ni.PeriodCap != nil {
		inst.PeriodCap = decimal.NewNullDecimal(*ni.PeriodCap)
	}
	inst.Derive()

	inst, err = svc.repo.CreateInstitution(ctx, inst)
	return inst, errors.Wrap(err, "creating institution")
}

func (svc *service) GetByID(ctx context.Context, id string) (Institution, error) {
	inst, err := svc.repo.GetInstitution(ctx, id)
	return inst, errors.Wrap(err, "finding institution by ID")
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Institution, error) {
	ordering = core.AllowedOrderings(ordering, "name", "type", "state", "city", "status", "eligibility_score", "student_count", "total_distributed", "created_at")
	insts, err := svc.repo.QueryInstitutions(ctx, filter, ordering)
	return insts, errors.Wrap(err, "querying institutions")
}

func (svc *service) Update(ctx context.Context, id string, ui UpdateInstitution) (Institution, error) {
	return svc.mutate(ctx, id, func(inst *Institution) {
		if ui.Name != nil {
			inst.Name = *ui.Name
		}
		if ui.FullAddress != nil {
			inst.FullAddress = *ui.FullAddress
		}
		if ui.City != nil {
			inst.City = *ui.City
		}
		if ui.State != nil {
			inst.State = *ui.State
		}
		if ui.PostalCode != nil {
			inst.PostalCode = *ui.PostalCode
		}
		if ui.StudentCount != nil {
			inst.StudentCount = *ui.StudentCount
		}
		if ui.UnitValue != nil {
			inst.UnitValue = *ui.UnitValue
		}
		if ui.SchoolDays != nil {
			inst.SchoolDays = *ui.SchoolDays
		}
		if ui.InstallmentCount != nil {
			inst.InstallmentCount = *ui.InstallmentCount
		}
		if ui.PeriodCap != nil {
			inst.PeriodCap = decimal.NewNullDecimal(*ui.PeriodCap)
		}
		if ui.SettlementWallet != nil {
			inst.SettlementWallet = *ui.SettlementWallet
		}
		if ui.ManagerID != nil {
			inst.ManagerID = *ui.ManagerID
		}
		if ui.Infrastructure != nil {
			inst.Infrastructure = *ui.Infrastructure
		}
		inst.Derive()
	})
}

// mutate re-reads the institution, applies fn and re-derives its eligibility status
// until the compare-and-set write wins.
func (svc *service) mutate(ctx context.Context, id string, fn func(inst *Institution)) (Institution, error) {
	policy, err := svc.settingsSvc.Policy(ctx)
	if err != nil {
		return Institution{}, errors.Wrap(err, "loading funding policy")
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		inst, err := svc.GetByID(ctx, id)
		if err != nil {
			return Institution{}, err
		}
		fn(&inst)
		inst.Status = policy.Eligibility.Status(inst.EligibilityScore, inst.Suspended)
		inst.UpdatedAt = core.NowFunc()

		saved, err := svc.repo.UpdateInstitution(ctx, inst)
		if errors.Cause(err) == core.ErrConflict {
			continue
		}
		if err != nil {
			return Institution{}, errors.Wrap(err, "updating institution")
		}
		return saved, nil
	}
	return Institution{}, errors.Wrap(core.ErrConflict, "updating institution")
}

func (svc *service) SetSuspended(ctx context.Context, id string, suspended bool) (Institution, error) {
	return svc.mutate(ctx, id, func(inst *Institution) {
		inst.Suspended = suspended
	})
}

func (svc *service) ApplyScore(ctx context.Context, id string, score int) (Institution, error) {
	if score < 0 || score > 100 {
		return Institution{}, core.NewValidationError(nil, core.FieldError{Field: "eligibility_score", Error: "must be between 0 and 100"})
	}
	return svc.mutate(ctx, id, func(inst *Institution) {
		inst.EligibilityScore = score
	})
}
