package inmemdb

import (
	"context"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/institution"
)

var institutionOrdering = map[string]func(a, b institution.Institution) int{
	"name":              func(a, b institution.Institution) int { return cmpString(a.Name, b.Name) },
	"type":              func(a, b institution.Institution) int { return cmpString(a.Type, b.Type) },
	"state":             func(a, b institution.Institution) int { return cmpString(a.State, b.State) },
	"city":              func(a, b institution.Institution) int { return cmpString(a.City, b.City) },
	"status":            func(a, b institution.Institution) int { return cmpString(a.Status, b.Status) },
	"eligibility_score": func(a, b institution.Institution) int { return cmpInt(a.EligibilityScore, b.EligibilityScore) },
	"student_count":     func(a, b institution.Institution) int { return cmpInt(a.StudentCount, b.StudentCount) },
	"total_distributed": func(a, b institution.Institution) int { return a.TotalDistributed.Cmp(b.TotalDistributed) },
	"created_at":        func(a, b institution.Institution) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

type institutionRepository struct {
	db *DB
}

var _ institution.Repository = (*institutionRepository)(nil) // interface compliance check

func NewInstitutionRepository(db *DB) institution.Repository {
	return &institutionRepository{db: db}
}

func (repo *institutionRepository) CreateInstitution(_ context.Context, inst institution.Institution) (institution.Institution, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	inst.ID = newID()
	inst.Version = 1
	repo.db.institutions[inst.ID] = inst
	return inst, nil
}

func (repo *institutionRepository) GetInstitution(_ context.Context, id string) (institution.Institution, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if inst, ok := repo.db.institutions[id]; ok {
		return inst, nil
	}
	return institution.Institution{}, core.NewNotFoundError("institution", id)
}

func (repo *institutionRepository) QueryInstitutions(_ context.Context, filter *institution.QueryFilter, ordering []core.DBOrdering) ([]institution.Institution, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	insts := make([]institution.Institution, 0, len(repo.db.institutions))
	for _, inst := range repo.db.institutions {
		if filter != nil {
			if filter.Search != "" && !contains(inst.Name, filter.Search) && !contains(inst.City, filter.Search) {
				continue
			}
			if filter.Type != "" && inst.Type != filter.Type {
				continue
			}
			if filter.Status != "" && inst.Status != filter.Status {
				continue
			}
			if filter.State != "" && inst.State != filter.State {
				continue
			}
			if filter.Suspended != nil && inst.Suspended != *filter.Suspended {
				continue
			}
		}
		insts = append(insts, inst)
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}
	sortBy(insts, ordering, institutionOrdering)
	return insts, nil
}

func (repo *institutionRepository) UpdateInstitution(_ context.Context, inst institution.Institution) (institution.Institution, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.institutions[inst.ID]
	if !ok {
		return institution.Institution{}, core.NewNotFoundError("institution", inst.ID)
	}
	if orig.Version != inst.Version {
		return institution.Institution{}, core.ErrConflict
	}
	inst.Version++
	inst.TotalDistributed = orig.TotalDistributed // only moved by completed distributions
	inst.CreatedAt = orig.CreatedAt
	repo.db.institutions[inst.ID] = inst
	return inst, nil
}
