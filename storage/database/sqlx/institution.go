package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/institution"
)

const institutionTable = "institution"

var institutionColumns = []string{
	"id", "name", "type", "full_address", "city", "state", "postal_code", "country",
	"student_count", "unit_value", "school_days", "installment_count", "total_value", "installment_value",
	"has_kitchen", "has_library", "has_internet", "has_safe_water", "has_computers", "infrastructure_score",
	"eligibility_score", "status", "suspended", "period_cap", "settlement_wallet", "manager_id",
	"total_distributed", "version", "created_at", "updated_at",
}

type institutionRow struct {
	ID                  string              `db:"id"`
	Name                string              `db:"name"`
	Type                string              `db:"type"`
	FullAddress         string              `db:"full_address"`
	City                string              `db:"city"`
	State               string              `db:"state"`
	PostalCode          string              `db:"postal_code"`
	Country             string              `db:"country"`
	StudentCount        int                 `db:"student_count"`
	UnitValue           decimal.Decimal     `db:"unit_value"`
	SchoolDays          int                 `db:"school_days"`
	InstallmentCount    int                 `db:"installment_count"`
	TotalValue          decimal.Decimal     `db:"total_value"`
	InstallmentValue    decimal.Decimal     `db:"installment_value"`
	HasKitchen          bool                `db:"has_kitchen"`
	HasLibrary          bool                `db:"has_library"`
	HasInternet         bool                `db:"has_internet"`
	HasSafeWater        bool                `db:"has_safe_water"`
	HasComputers        bool                `db:"has_computers"`
	InfrastructureScore int                 `db:"infrastructure_score"`
	EligibilityScore    int                 `db:"eligibility_score"`
	Status              string              `db:"status"`
	Suspended           bool                `db:"suspended"`
	PeriodCap           decimal.NullDecimal `db:"period_cap"`
	SettlementWallet    null.String         `db:"settlement_wallet"`
	ManagerID           null.String         `db:"manager_id"`
	TotalDistributed    decimal.Decimal     `db:"total_distributed"`
	Version             int                 `db:"version"`
	CreatedAt           time.Time           `db:"created_at"`
	UpdatedAt           time.Time           `db:"updated_at"`
}

func (r institutionRow) values() map[string]interface{} {
	return map[string]interface{}{
		"id":                   r.ID,
		"name":                 r.Name,
		"type":                 r.Type,
		"full_address":         r.FullAddress,
		"city":                 r.City,
		"state":                r.State,
		"postal_code":          r.PostalCode,
		"country":              r.Country,
		"student_count":        r.StudentCount,
		"unit_value":           r.UnitValue,
		"school_days":          r.SchoolDays,
		"installment_count":    r.InstallmentCount,
		"total_value":          r.TotalValue,
		"installment_value":    r.InstallmentValue,
		"has_kitchen":          r.HasKitchen,
		"has_library":          r.HasLibrary,
		"has_internet":         r.HasInternet,
		"has_safe_water":       r.HasSafeWater,
		"has_computers":        r.HasComputers,
		"infrastructure_score": r.InfrastructureScore,
		"eligibility_score":    r.EligibilityScore,
		"status":               r.Status,
		"suspended":            r.Suspended,
		"period_cap":           r.PeriodCap,
		"settlement_wallet":    r.SettlementWallet,
		"manager_id":           r.ManagerID,
		"total_distributed":    r.TotalDistributed,
		"version":              r.Version,
		"created_at":           r.CreatedAt,
		"updated_at":           r.UpdatedAt,
	}
}

func toInstitutionRow(inst institution.Institution) institutionRow {
	return institutionRow{
		ID:                  inst.ID,
		Name:                inst.Name,
		Type:                inst.Type,
		FullAddress:         inst.FullAddress,
		City:                inst.City,
		State:               inst.State,
		PostalCode:          inst.PostalCode,
		Country:             inst.Country,
		StudentCount:        inst.StudentCount,
		UnitValue:           inst.UnitValue,
		SchoolDays:          inst.SchoolDays,
		InstallmentCount:    inst.InstallmentCount,
		TotalValue:          inst.TotalValue,
		InstallmentValue:    inst.InstallmentValue,
		HasKitchen:          inst.HasKitchen,
		HasLibrary:          inst.HasLibrary,
		HasInternet:         inst.HasInternet,
		HasSafeWater:        inst.HasSafeWater,
		HasComputers:        inst.HasComputers,
		InfrastructureScore: inst.InfrastructureScore,
		EligibilityScore:    inst.EligibilityScore,
		Status:              inst.Status,
		Suspended:           inst.Suspended,
		PeriodCap:           inst.PeriodCap,
		SettlementWallet:    null.NewString(inst.SettlementWallet, inst.SettlementWallet != ""),
		ManagerID:           null.NewString(inst.ManagerID, inst.ManagerID != ""),
		TotalDistributed:    inst.TotalDistributed,
		Version:             inst.Version,
		CreatedAt:           inst.CreatedAt.UTC(),
		UpdatedAt:           inst.UpdatedAt.UTC(),
	}
}

func (r institutionRow) institution() institution.Institution {
	return institution.Institution{
		ID:               r.ID,
		Name:             r.Name,
		Type:             r.Type,
		FullAddress:      r.FullAddress,
		City:             r.City,
		State:            r.State,
		PostalCode:       r.PostalCode,
		Country:          r.Country,
		StudentCount:     r.StudentCount,
		UnitValue:        r.UnitValue,
		SchoolDays:       r.SchoolDays,
		InstallmentCount: r.InstallmentCount,
		TotalValue:       r.TotalValue,
		InstallmentValue: r.InstallmentValue,
		Infrastructure: institution.Infrastructure{
			HasKitchen:   r.HasKitchen,
			HasLibrary:   r.HasLibrary,
			HasInternet:  r.HasInternet,
			HasSafeWater: r.HasSafeWater,
			HasComputers: r.HasComputers,
		},
		InfrastructureScore: r.InfrastructureScore,
		EligibilityScore:    r.EligibilityScore,
		Status:              r.Status,
		Suspended:           r.Suspended,
		PeriodCap:           r.PeriodCap,
		SettlementWallet:    r.SettlementWallet.String,
		ManagerID:           r.ManagerID.String,
		TotalDistributed:    r.TotalDistributed,
		Version:             r.Version,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

type institutionRepository struct {
	db *sqlx.DB
}

var _ institution.Repository = (*institutionRepository)(nil) // interface compliance check

func NewInstitutionRepository(db *sqlx.DB) institution.Repository {
	return &institutionRepository{db: db}
}

func (repo *institutionRepository) CreateInstitution(ctx context.Context, inst institution.Institution) (institution.Institution, error) {
	inst.ID = uuid.New().String()
	inst.Version = 1
	row := toInstitutionRow(inst)
	if _, err := exec(ctx, repo.db, psql.Insert(institutionTable).SetMap(row.values())); err != nil {
		return institution.Institution{}, errors.Wrap(err, "inserting institution")
	}
	return row.institution(), nil
}

func (repo *institutionRepository) GetInstitution(ctx context.Context, id string) (institution.Institution, error) {
	if !isUUID(id) {
		return institution.Institution{}, core.NewNotFoundError("institution", id)
	}
	var row institutionRow
	err := selectOne(ctx, repo.db, &row, psql.Select(institutionColumns...).From(institutionTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return institution.Institution{}, trapNoRowsErr(err, "institution", id, "finding institution")
	}
	return row.institution(), nil
}

func (repo *institutionRepository) QueryInstitutions(ctx context.Context, filter *institution.QueryFilter, ordering []core.DBOrdering) ([]institution.Institution, error) {
	b := psql.Select(institutionColumns...).From(institutionTable)
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			b = b.Where(sq.Or{sq.ILike{"name": val}, sq.ILike{"city": val}})
		}
		if filter.Type != "" {
			b = b.Where(sq.Eq{"type": filter.Type})
		}
		if filter.Status != "" {
			b = b.Where(sq.Eq{"status": filter.Status})
		}
		if filter.State != "" {
			b = b.Where(sq.Eq{"state": filter.State})
		}
		if filter.Suspended != nil {
			b = b.Where(sq.Eq{"suspended": *filter.Suspended})
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}

	var rows []institutionRow
	if err := selectAll(ctx, repo.db, &rows, orderBy(b, ordering)); err != nil {
		return nil, errors.Wrap(err, "querying institutions")
	}
	insts := make([]institution.Institution, 0, len(rows))
	for _, r := range rows {
		insts = append(insts, r.institution())
	}
	return insts, nil
}

func (repo *institutionRepository) UpdateInstitution(ctx context.Context, inst institution.Institution) (institution.Institution, error) {
	row := toInstitutionRow(inst)
	vals := row.values()
	delete(vals, "id")
	delete(vals, "created_at")
	delete(vals, "total_distributed") // only moved by completed distributions
	vals["version"] = sq.Expr("version + 1")

	n, err := exec(ctx, repo.db, psql.Update(institutionTable).SetMap(vals).Where(sq.Eq{"id": inst.ID, "version": inst.Version}))
	if err != nil {
		return institution.Institution{}, errors.Wrap(err, "updating institution")
	}
	if n == 0 {
		if _, err = repo.GetInstitution(ctx, inst.ID); err != nil {
			return institution.Institution{}, err
		}
		return institution.Institution{}, core.ErrConflict
	}
	return repo.GetInstitution(ctx, inst.ID)
}
