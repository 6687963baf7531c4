package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/metrics"
)

const metricsTable = "monthly_metrics"

var metricsColumns = []string{
	"id", "institution_id", "year", "month", "attendance_rate", "nutrition_program_participation",
	"teacher_training_hours", "community_engagement_score", "eligibility_score", "validation_status",
	"validated_by", "validated_at", "review_comment", "notes", "submitted_by", "created_at", "updated_at",
}

type metricsRow struct {
	ID                     string       `db:"id"`
	InstitutionID          string       `db:"institution_id"`
	Year                   int          `db:"year"`
	Month                  int          `db:"month"`
	AttendanceRate         null.Float64 `db:"attendance_rate"`
	NutritionParticipation null.Float64 `db:"nutrition_program_participation"`
	TeacherTrainingHours   null.Float64 `db:"teacher_training_hours"`
	CommunityEngagement    null.Float64 `db:"community_engagement_score"`
	EligibilityScore       int          `db:"eligibility_score"`
	ValidationStatus       string       `db:"validation_status"`
	ValidatedBy            null.String  `db:"validated_by"`
	ValidatedAt            null.Time    `db:"validated_at"`
	ReviewComment          string       `db:"review_comment"`
	Notes                  string       `db:"notes"`
	SubmittedBy            null.String  `db:"submitted_by"`
	CreatedAt              time.Time    `db:"created_at"`
	UpdatedAt              time.Time    `db:"updated_at"`
}

func toMetricsRow(m metrics.MonthlyMetrics) metricsRow {
	return metricsRow{
		ID:                     m.ID,
		InstitutionID:          m.InstitutionID,
		Year:                   m.Year,
		Month:                  m.Month,
		AttendanceRate:         null.Float64FromPtr(m.AttendanceRate),
		NutritionParticipation: null.Float64FromPtr(m.NutritionParticipation),
		TeacherTrainingHours:   null.Float64FromPtr(m.TeacherTrainingHours),
		CommunityEngagement:    null.Float64FromPtr(m.CommunityEngagement),
		EligibilityScore:       m.EligibilityScore,
		ValidationStatus:       m.ValidationStatus,
		ValidatedBy:            null.NewString(m.ValidatedBy, m.ValidatedBy != ""),
		ValidatedAt:            null.TimeFromPtr(m.ValidatedAt),
		ReviewComment:          m.ReviewComment,
		Notes:                  m.Notes,
		SubmittedBy:            null.NewString(m.SubmittedBy, m.SubmittedBy != ""),
		CreatedAt:              m.CreatedAt.UTC(),
		UpdatedAt:              m.UpdatedAt.UTC(),
	}
}

func (r metricsRow) values() map[string]interface{} {
	return map[string]interface{}{
		"id":                              r.ID,
		"institution_id":                  r.InstitutionID,
		"year":                            r.Year,
		"month":                           r.Month,
		"attendance_rate":                 r.AttendanceRate,
		"nutrition_program_participation": r.NutritionParticipation,
		"teacher_training_hours":          r.TeacherTrainingHours,
		"community_engagement_score":      r.CommunityEngagement,
		"eligibility_score":               r.EligibilityScore,
		"validation_status":               r.ValidationStatus,
		"validated_by":                    r.ValidatedBy,
		"validated_at":                    r.ValidatedAt,
		"review_comment":                  r.ReviewComment,
		"notes":                           r.Notes,
		"submitted_by":                    r.SubmittedBy,
		"created_at":                      r.CreatedAt,
		"updated_at":                      r.UpdatedAt,
	}
}

func (r metricsRow) metrics() metrics.MonthlyMetrics {
	return metrics.MonthlyMetrics{
		ID:                     r.ID,
		InstitutionID:          r.InstitutionID,
		Year:                   r.Year,
		Month:                  r.Month,
		AttendanceRate:         r.AttendanceRate.Ptr(),
		NutritionParticipation: r.NutritionParticipation.Ptr(),
		TeacherTrainingHours:   r.TeacherTrainingHours.Ptr(),
		CommunityEngagement:    r.CommunityEngagement.Ptr(),
		EligibilityScore:       r.EligibilityScore,
		ValidationStatus:       r.ValidationStatus,
		ValidatedBy:            r.ValidatedBy.String,
		ValidatedAt:            r.ValidatedAt.Ptr(),
		ReviewComment:          r.ReviewComment,
		Notes:                  r.Notes,
		SubmittedBy:            r.SubmittedBy.String,
		CreatedAt:              r.CreatedAt.UTC(),
		UpdatedAt:              r.UpdatedAt.UTC(),
	}
}

type metricsRepository struct {
	db *sqlx.DB
}

var _ metrics.Repository = (*metricsRepository)(nil) // interface compliance check

func NewMetricsRepository(db *sqlx.DB) metrics.Repository {
	return &metricsRepository{db: db}
}

func (repo *metricsRepository) CreateMetrics(ctx context.Context, m metrics.MonthlyMetrics) (metrics.MonthlyMetrics, error) {
	m.ID = uuid.New().String()
	row := toMetricsRow(m)
	if _, err := exec(ctx, repo.db, psql.Insert(metricsTable).SetMap(row.values())); err != nil {
		if uniqueViolationOn(err, "uq_monthly_metrics_period") {
			return metrics.MonthlyMetrics{}, core.NewDuplicateError("metrics", m.InstitutionID+" "+m.Period().String())
		}
		return metrics.MonthlyMetrics{}, errors.Wrap(err, "inserting metrics")
	}
	return row.metrics(), nil
}

func (repo *metricsRepository) GetMetrics(ctx context.Context, id string) (metrics.MonthlyMetrics, error) {
	if !isUUID(id) {
		return metrics.MonthlyMetrics{}, core.NewNotFoundError("metrics", id)
	}
	var row metricsRow
	err := selectOne(ctx, repo.db, &row, psql.Select(metricsColumns...).From(metricsTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return metrics.MonthlyMetrics{}, trapNoRowsErr(err, "metrics", id, "finding metrics")
	}
	return row.metrics(), nil
}

func (repo *metricsRepository) GetMetricsForPeriod(ctx context.Context, institutionID string, period core.Period) (metrics.MonthlyMetrics, error) {
	key := institutionID + " " + period.String()
	if !isUUID(institutionID) {
		return metrics.MonthlyMetrics{}, core.NewNotFoundError("metrics", key)
	}
	var row metricsRow
	err := selectOne(ctx, repo.db, &row, psql.Select(metricsColumns...).From(metricsTable).
		Where(sq.Eq{"institution_id": institutionID, "year": period.Year, "month": period.Month}))
	if err != nil {
		return metrics.MonthlyMetrics{}, trapNoRowsErr(err, "metrics", key, "finding metrics for period")
	}
	return row.metrics(), nil
}

func (repo *metricsRepository) QueryMetrics(ctx context.Context, filter *metrics.QueryFilter, ordering []core.DBOrdering) ([]metrics.MonthlyMetrics, error) {
	b := psql.Select(metricsColumns...).From(metricsTable)
	if filter != nil {
		if filter.InstitutionID != "" {
			if !isUUID(filter.InstitutionID) {
				return []metrics.MonthlyMetrics{}, nil
			}
			b = b.Where(sq.Eq{"institution_id": filter.InstitutionID})
		}
		if filter.ValidationStatus != "" {
			b = b.Where(sq.Eq{"validation_status": filter.ValidationStatus})
		}
		if filter.YearFrom != 0 {
			b = b.Where(sq.GtOrEq{"year": filter.YearFrom})
		}
		if filter.YearTo != 0 {
			b = b.Where(sq.LtOrEq{"year": filter.YearTo})
		}
		if filter.Month != 0 {
			b = b.Where(sq.Eq{"month": filter.Month})
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "year"}, {Field: "month"}}
	}

	var rows []metricsRow
	if err := selectAll(ctx, repo.db, &rows, orderBy(b, ordering)); err != nil {
		return nil, errors.Wrap(err, "querying metrics")
	}
	ms := make([]metrics.MonthlyMetrics, 0, len(rows))
	for _, r := range rows {
		ms = append(ms, r.metrics())
	}
	return ms, nil
}

func (repo *metricsRepository) ReviewMetrics(ctx context.Context, m metrics.MonthlyMetrics) (metrics.MonthlyMetrics, error) {
	row := toMetricsRow(m)
	n, err := exec(ctx, repo.db, psql.Update(metricsTable).
		SetMap(map[string]interface{}{
			"eligibility_score": row.EligibilityScore,
			"validation_status": row.ValidationStatus,
			"validated_by":      row.ValidatedBy,
			"validated_at":      row.ValidatedAt,
			"review_comment":    row.ReviewComment,
			"updated_at":        row.UpdatedAt,
		}).
		Where(sq.Eq{"id": m.ID, "validation_status": metrics.StatusPending}))
	if err != nil {
		return metrics.MonthlyMetrics{}, errors.Wrap(err, "reviewing metrics")
	}
	if n == 0 {
		current, err := repo.GetMetrics(ctx, m.ID)
		if err != nil {
			return metrics.MonthlyMetrics{}, err
		}
		return metrics.MonthlyMetrics{}, core.NewInvalidStateError("metrics", current.ValidationStatus, "validate", "metrics were already reviewed")
	}
	return repo.GetMetrics(ctx, m.ID)
}
