package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/teacher"
)

const teacherTable = "teacher"

var teacherColumns = []string{
	"id", "institution_id", "name", "email", "phone", "certification_level", "subject_areas",
	"training_hours", "years_experience", "is_active", "created_at", "updated_at",
}

type teacherRow struct {
	ID                 string         `db:"id"`
	InstitutionID      string         `db:"institution_id"`
	Name               string         `db:"name"`
	Email              string         `db:"email"`
	Phone              string         `db:"phone"`
	CertificationLevel string         `db:"certification_level"`
	SubjectAreas       pq.StringArray `db:"subject_areas"`
	TrainingHours      float64        `db:"training_hours"`
	YearsExperience    int            `db:"years_experience"`
	IsActive           bool           `db:"is_active"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func toTeacherRow(t teacher.Teacher) teacherRow {
	areas := pq.StringArray(t.SubjectAreas)
	if areas == nil {
		areas = pq.StringArray{}
	}
	return teacherRow{
		ID:                 t.ID,
		InstitutionID:      t.InstitutionID,
		Name:               t.Name,
		Email:              t.Email,
		Phone:              t.Phone,
		CertificationLevel: t.CertificationLevel,
		SubjectAreas:       areas,
		TrainingHours:      t.TrainingHours,
		YearsExperience:    t.YearsExperience,
		IsActive:           t.IsActive,
		CreatedAt:          t.CreatedAt.UTC(),
		UpdatedAt:          t.UpdatedAt.UTC(),
	}
}

func (r teacherRow) values() map[string]interface{} {
	return map[string]interface{}{
		"id":                  r.ID,
		"institution_id":      r.InstitutionID,
		"name":                r.Name,
		"email":               r.Email,
		"phone":               r.Phone,
		"certification_level": r.CertificationLevel,
		"subject_areas":       r.SubjectAreas,
		"training_hours":      r.TrainingHours,
		"years_experience":    r.YearsExperience,
		"is_active":           r.IsActive,
		"created_at":          r.CreatedAt,
		"updated_at":          r.UpdatedAt,
	}
}

func (r teacherRow) teacher() teacher.Teacher {
	return teacher.Teacher{
		ID:                 r.ID,
		InstitutionID:      r.InstitutionID,
		Name:               r.Name,
		Email:              r.Email,
		Phone:              r.Phone,
		CertificationLevel: r.CertificationLevel,
		SubjectAreas:       []string(r.SubjectAreas),
		TrainingHours:      r.TrainingHours,
		YearsExperience:    r.YearsExperience,
		IsActive:           r.IsActive,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

type teacherRepository struct {
	db *sqlx.DB
}

var _ teacher.Repository = (*teacherRepository)(nil) // interface compliance check

func NewTeacherRepository(db *sqlx.DB) teacher.Repository {
	return &teacherRepository{db: db}
}

func (repo *teacherRepository) CreateTeacher(ctx context.Context, t teacher.Teacher) (teacher.Teacher, error) {
	t.ID = uuid.New().String()
	row := toTeacherRow(t)
	if _, err := exec(ctx, repo.db, psql.Insert(teacherTable).SetMap(row.values())); err != nil {
		return teacher.Teacher{}, errors.Wrap(err, "inserting teacher")
	}
	return row.teacher(), nil
}

func (repo *teacherRepository) GetTeacher(ctx context.Context, id string) (teacher.Teacher, error) {
	if !isUUID(id) {
		return teacher.Teacher{}, core.NewNotFoundError("teacher", id)
	}
	var row teacherRow
	err := selectOne(ctx, repo.db, &row, psql.Select(teacherColumns...).From(teacherTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return teacher.Teacher{}, trapNoRowsErr(err, "teacher", id, "finding teacher")
	}
	return row.teacher(), nil
}

func (repo *teacherRepository) QueryTeachers(ctx context.Context, filter *teacher.QueryFilter, ordering []core.DBOrdering) ([]teacher.Teacher, error) {
	b := psql.Select(teacherColumns...).From(teacherTable)
	if filter != nil {
		if filter.InstitutionID != "" {
			if !isUUID(filter.InstitutionID) {
				return []teacher.Teacher{}, nil
			}
			b = b.Where(sq.Eq{"institution_id": filter.InstitutionID})
		}
		if filter.CertificationLevel != "" {
			b = b.Where(sq.Eq{"certification_level": filter.CertificationLevel})
		}
		if filter.IsActive != nil {
			b = b.Where(sq.Eq{"is_active": *filter.IsActive})
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}

	var rows []teacherRow
	if err := selectAll(ctx, repo.db, &rows, orderBy(b, ordering)); err != nil {
		return nil, errors.Wrap(err, "querying teachers")
	}
	ts := make([]teacher.Teacher, 0, len(rows))
	for _, r := range rows {
		ts = append(ts, r.teacher())
	}
	return ts, nil
}

func (repo *teacherRepository) UpdateTeacher(ctx context.Context, t teacher.Teacher) (teacher.Teacher, error) {
	row := toTeacherRow(t)
	vals := row.values()
	delete(vals, "id")
	delete(vals, "created_at")

	n, err := exec(ctx, repo.db, psql.Update(teacherTable).SetMap(vals).Where(sq.Eq{"id": t.ID}))
	if err != nil {
		return teacher.Teacher{}, errors.Wrap(err, "updating teacher")
	}
	if n == 0 {
		return teacher.Teacher{}, core.NewNotFoundError("teacher", t.ID)
	}
	return row.teacher(), nil
}
