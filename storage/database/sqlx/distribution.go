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
	"github.com/educhain/educhain/core/distribution"
)

const distributionTable = "distribution"

var distributionColumns = []string{
	"id", "institution_id", "amount", "installment_number", "period_year", "period_month",
	"distribution_date", "status", "approved_by", "approved_at", "auto_approved", "rejected_by",
	"rejected_at", "processed_at", "transaction_hash", "settlement_operation_id", "notes", "version",
	"created_at", "updated_at",
}

type distributionRow struct {
	ID                    string          `db:"id"`
	InstitutionID         string          `db:"institution_id"`
	Amount                decimal.Decimal `db:"amount"`
	InstallmentNumber     int             `db:"installment_number"`
	PeriodYear            int             `db:"period_year"`
	PeriodMonth           int             `db:"period_month"`
	DistributionDate      time.Time       `db:"distribution_date"`
	Status                string          `db:"status"`
	ApprovedBy            null.String     `db:"approved_by"`
	ApprovedAt            null.Time       `db:"approved_at"`
	AutoApproved          bool            `db:"auto_approved"`
	RejectedBy            null.String     `db:"rejected_by"`
	RejectedAt            null.Time       `db:"rejected_at"`
	ProcessedAt           null.Time       `db:"processed_at"`
	TransactionHash       null.String     `db:"transaction_hash"`
	SettlementOperationID null.String     `db:"settlement_operation_id"`
	Notes                 string          `db:"notes"`
	Version               int             `db:"version"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

func nullString(s string) null.String { return null.NewString(s, s != "") }

func toDistributionRow(d distribution.Distribution) distributionRow {
	return distributionRow{
		ID:                    d.ID,
		InstitutionID:         d.InstitutionID,
		Amount:                d.Amount,
		InstallmentNumber:     d.InstallmentNumber,
		PeriodYear:            d.PeriodYear,
		PeriodMonth:           d.PeriodMonth,
		DistributionDate:      d.DistributionDate.UTC(),
		Status:                string(d.Status),
		ApprovedBy:            nullString(d.ApprovedBy),
		ApprovedAt:            null.TimeFromPtr(d.ApprovedAt),
		AutoApproved:          d.AutoApproved,
		RejectedBy:            nullString(d.RejectedBy),
		RejectedAt:            null.TimeFromPtr(d.RejectedAt),
		ProcessedAt:           null.TimeFromPtr(d.ProcessedAt),
		TransactionHash:       nullString(d.TransactionHash),
		SettlementOperationID: nullString(d.SettlementOperationID),
		Notes:                 d.Notes,
		Version:               d.Version,
		CreatedAt:             d.CreatedAt.UTC(),
		UpdatedAt:             d.UpdatedAt.UTC(),
	}
}

func (r distributionRow) values() map[string]interface{} {
	return map[string]interface{}{
		"id":                      r.ID,
		"institution_id":          r.InstitutionID,
		"amount":                  r.Amount,
		"installment_number":      r.InstallmentNumber,
		"period_year":             r.PeriodYear,
		"period_month":            r.PeriodMonth,
		"distribution_date":       r.DistributionDate,
		"status":                  r.Status,
		"approved_by":             r.ApprovedBy,
		"approved_at":             r.ApprovedAt,
		"auto_approved":           r.AutoApproved,
		"rejected_by":             r.RejectedBy,
		"rejected_at":             r.RejectedAt,
		"processed_at":            r.ProcessedAt,
		"transaction_hash":        r.TransactionHash,
		"settlement_operation_id": r.SettlementOperationID,
		"notes":                   r.Notes,
		"version":                 r.Version,
		"created_at":              r.CreatedAt,
		"updated_at":              r.UpdatedAt,
	}
}

func (r distributionRow) distribution() distribution.Distribution {
	return distribution.Distribution{
		ID:                    r.ID,
		InstitutionID:         r.InstitutionID,
		Amount:                r.Amount,
		InstallmentNumber:     r.InstallmentNumber,
		PeriodYear:            r.PeriodYear,
		PeriodMonth:           r.PeriodMonth,
		DistributionDate:      r.DistributionDate.UTC(),
		Status:                distribution.Status(r.Status),
		ApprovedBy:            r.ApprovedBy.String,
		ApprovedAt:            r.ApprovedAt.Ptr(),
		AutoApproved:          r.AutoApproved,
		RejectedBy:            r.RejectedBy.String,
		RejectedAt:            r.RejectedAt.Ptr(),
		ProcessedAt:           r.ProcessedAt.Ptr(),
		TransactionHash:       r.TransactionHash.String,
		SettlementOperationID: r.SettlementOperationID.String,
		Notes:                 r.Notes,
		Version:               r.Version,
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
}

type distributionRepository struct {
	db *sqlx.DB
}

var _ distribution.Repository = (*distributionRepository)(nil) // interface compliance check

func NewDistributionRepository(db *sqlx.DB) distribution.Repository {
	return &distributionRepository{db: db}
}

func activeInPeriod(period core.Period) sq.Sqlizer {
	return sq.And{
		sq.Eq{"period_year": period.Year, "period_month": period.Month},
		sq.NotEq{"status": string(distribution.StatusFailed)},
	}
}

func periodTotal(ctx context.Context, q sqlx.QueryerContext, period core.Period) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := selectOne(ctx, q, &total, psql.Select("COALESCE(SUM(amount), 0)").From(distributionTable).Where(activeInPeriod(period)))
	return total, errors.Wrap(err, "summing period distributions")
}

func (repo *distributionRepository) CreateDistribution(ctx context.Context, d distribution.Distribution, pool decimal.Decimal) (distribution.Distribution, error) {
	d.ID = uuid.New().String()
	d.Version = 1
	row := toDistributionRow(d)

	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		// plans of the same period are serialized so the pool check and the insert see the same total
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", int64(d.PeriodYear*100+d.PeriodMonth)); err != nil {
			return errors.Wrap(err, "locking period")
		}
		used, err := periodTotal(ctx, tx, d.Period())
		if err != nil {
			return err
		}
		if used.Add(d.Amount).GreaterThan(pool) {
			return distribution.ErrPoolExceeded
		}
		if _, err = exec(ctx, tx, psql.Insert(distributionTable).SetMap(row.values())); err != nil {
			if uniqueViolationOn(err, "uq_distribution_period") {
				return core.NewDuplicateError("distribution", d.InstitutionID+" "+d.Period().String())
			}
			if uniqueViolationOn(err, "uq_distribution_installment") {
				return distribution.ErrInstallmentTaken
			}
			return errors.Wrap(err, "inserting distribution")
		}
		return nil
	})
	if err != nil {
		return distribution.Distribution{}, err
	}
	return row.distribution(), nil
}

func (repo *distributionRepository) GetDistribution(ctx context.Context, id string) (distribution.Distribution, error) {
	if !isUUID(id) {
		return distribution.Distribution{}, core.NewNotFoundError("distribution", id)
	}
	var row distributionRow
	err := selectOne(ctx, repo.db, &row, psql.Select(distributionColumns...).From(distributionTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return distribution.Distribution{}, trapNoRowsErr(err, "distribution", id, "finding distribution")
	}
	return row.distribution(), nil
}

func (repo *distributionRepository) GetActiveDistribution(ctx context.Context, institutionID string, period core.Period) (distribution.Distribution, error) {
	key := institutionID + " " + period.String()
	if !isUUID(institutionID) {
		return distribution.Distribution{}, core.NewNotFoundError("distribution", key)
	}
	var row distributionRow
	err := selectOne(ctx, repo.db, &row, psql.Select(distributionColumns...).From(distributionTable).
		Where(sq.Eq{"institution_id": institutionID}).
		Where(activeInPeriod(period)))
	if err != nil {
		return distribution.Distribution{}, trapNoRowsErr(err, "distribution", key, "finding distribution for period")
	}
	return row.distribution(), nil
}

func (repo *distributionRepository) QueryDistributions(ctx context.Context, filter *distribution.QueryFilter, ordering []core.DBOrdering) ([]distribution.Distribution, error) {
	b := psql.Select(distributionColumns...).From(distributionTable)
	if filter != nil {
		if filter.InstitutionID != "" {
			if !isUUID(filter.InstitutionID) {
				return []distribution.Distribution{}, nil
			}
			b = b.Where(sq.Eq{"institution_id": filter.InstitutionID})
		}
		if filter.Status != "" {
			b = b.Where(sq.Eq{"status": filter.Status})
		}
		if filter.Year != 0 {
			b = b.Where(sq.Eq{"period_year": filter.Year})
		}
		if filter.Month != 0 {
			b = b.Where(sq.Eq{"period_month": filter.Month})
		}
		if !filter.From.IsZero() {
			b = b.Where(sq.GtOrEq{"distribution_date": filter.From.UTC()})
		}
		if !filter.To.IsZero() {
			b = b.Where(sq.LtOrEq{"distribution_date": filter.To.UTC()})
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "distribution_date"}}
	}

	var rows []distributionRow
	if err := selectAll(ctx, repo.db, &rows, orderBy(b, ordering)); err != nil {
		return nil, errors.Wrap(err, "querying distributions")
	}
	ds := make([]distribution.Distribution, 0, len(rows))
	for _, r := range rows {
		ds = append(ds, r.distribution())
	}
	return ds, nil
}

func (repo *distributionRepository) PeriodTotal(ctx context.Context, period core.Period) (decimal.Decimal, error) {
	return periodTotal(ctx, repo.db, period)
}

func (repo *distributionRepository) CountActive(ctx context.Context, institutionID string) (int, error) {
	if !isUUID(institutionID) {
		return 0, nil
	}
	var n int
	err := selectOne(ctx, repo.db, &n, psql.Select("COUNT(*)").From(distributionTable).
		Where(sq.Eq{"institution_id": institutionID}).
		Where(sq.NotEq{"status": string(distribution.StatusFailed)}))
	return n, errors.Wrap(err, "counting distributions")
}

// compareAndSet writes d over the row still at d.Version.
func compareAndSet(ctx context.Context, e sqlx.ExecerContext, d distribution.Distribution) (distribution.Distribution, error) {
	row := toDistributionRow(d)
	vals := row.values()
	delete(vals, "id")
	delete(vals, "created_at")
	vals["version"] = sq.Expr("version + 1")

	n, err := exec(ctx, e, psql.Update(distributionTable).SetMap(vals).Where(sq.Eq{"id": d.ID, "version": d.Version}))
	if err != nil {
		return distribution.Distribution{}, errors.Wrap(err, "updating distribution")
	}
	if n == 0 {
		return distribution.Distribution{}, core.ErrConflict
	}
	d.Version++
	return d, nil
}

func (repo *distributionRepository) UpdateDistribution(ctx context.Context, d distribution.Distribution) (distribution.Distribution, error) {
	return compareAndSet(ctx, repo.db, d)
}

func (repo *distributionRepository) CompleteDistribution(ctx context.Context, d distribution.Distribution) (distribution.Distribution, error) {
	var saved distribution.Distribution
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var err error
		if saved, err = compareAndSet(ctx, tx, d); err != nil {
			return err
		}
		_, err = exec(ctx, tx, psql.Update(institutionTable).
			Set("total_distributed", sq.Expr("total_distributed + ?", d.Amount)).
			Set("updated_at", d.UpdatedAt.UTC()).
			Where(sq.Eq{"id": d.InstitutionID}))
		return errors.Wrap(err, "adding to institution total")
	})
	if err != nil {
		return distribution.Distribution{}, err
	}
	return saved, nil
}
