package inmemdb

import (
	"context"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/teacher"
)

var teacherOrdering = map[string]func(a, b teacher.Teacher) int{
	"name":                func(a, b teacher.Teacher) int { return cmpString(a.Name, b.Name) },
	"certification_level": func(a, b teacher.Teacher) int { return cmpString(a.CertificationLevel, b.CertificationLevel) },
	"years_experience":    func(a, b teacher.Teacher) int { return cmpInt(a.YearsExperience, b.YearsExperience) },
	"created_at":          func(a, b teacher.Teacher) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"training_hours": func(a, b teacher.Teacher) int {
		switch {
		case a.TrainingHours < b.TrainingHours:
			return -1
		case a.TrainingHours > b.TrainingHours:
			return 1
		}
		return 0
	},
}

type teacherRepository struct {
	db *DB
}

var _ teacher.Repository = (*teacherRepository)(nil) // interface compliance check

func NewTeacherRepository(db *DB) teacher.Repository {
	return &teacherRepository{db: db}
}

func (repo *teacherRepository) CreateTeacher(_ context.Context, t teacher.Teacher) (teacher.Teacher, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	t.ID = newID()
	repo.db.teachers[t.ID] = t
	return t, nil
}

func (repo *teacherRepository) GetTeacher(_ context.Context, id string) (teacher.Teacher, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if t, ok := repo.db.teachers[id]; ok {
		return t, nil
	}
	return teacher.Teacher{}, core.NewNotFoundError("teacher", id)
}

func (repo *teacherRepository) QueryTeachers(_ context.Context, filter *teacher.QueryFilter, ordering []core.DBOrdering) ([]teacher.Teacher, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	ts := make([]teacher.Teacher, 0, len(repo.db.teachers))
	for _, t := range repo.db.teachers {
		if filter != nil {
			if filter.InstitutionID != "" && t.InstitutionID != filter.InstitutionID {
				continue
			}
			if filter.CertificationLevel != "" && t.CertificationLevel != filter.CertificationLevel {
				continue
			}
			if filter.IsActive != nil && t.IsActive != *filter.IsActive {
				continue
			}
		}
		ts = append(ts, t)
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}
	sortBy(ts, ordering, teacherOrdering)
	return ts, nil
}

func (repo *teacherRepository) UpdateTeacher(_ context.Context, t teacher.Teacher) (teacher.Teacher, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.teachers[t.ID]; !ok {
		return teacher.Teacher{}, core.NewNotFoundError("teacher", t.ID)
	}
	repo.db.teachers[t.ID] = t
	return t, nil
}
