package inmemdb

import (
	"context"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/profile"
)

var profileOrdering = map[string]func(a, b profile.Profile) int{
	"name":       func(a, b profile.Profile) int { return cmpString(a.Name, b.Name) },
	"email":      func(a, b profile.Profile) int { return cmpString(a.Email, b.Email) },
	"role":       func(a, b profile.Profile) int { return cmpString(a.Role, b.Role) },
	"created_at": func(a, b profile.Profile) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"last_login": func(a, b profile.Profile) int { return a.LastLogin.Compare(b.LastLogin) },
}

type profileRepository struct {
	db *DB
}

var _ profile.Repository = (*profileRepository)(nil) // interface compliance check

func NewProfileRepository(db *DB) profile.Repository {
	return &profileRepository{db: db}
}

func (repo *profileRepository) emailTaken(email string, excludedIDs ...string) bool {
	for _, p := range repo.db.profiles {
		if p.Email == email && !core.StringInSlice(p.ID, excludedIDs) {
			return true
		}
	}
	return false
}

func (repo *profileRepository) CreateProfile(_ context.Context, p profile.Profile) (profile.Profile, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if repo.emailTaken(p.Email) {
		return profile.Profile{}, core.NewDuplicateError("profile", p.Email)
	}
	p.ID = newID()
	repo.db.profiles[p.ID] = p
	return p, nil
}

func (repo *profileRepository) GetProfile(_ context.Context, filter profile.GetFilter) (profile.Profile, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter.ID != "" {
		if p, ok := repo.db.profiles[filter.ID]; ok {
			return p, nil
		}
		return profile.Profile{}, core.NewNotFoundError("profile", filter.ID)
	}
	if filter.Email != "" {
		for _, p := range repo.db.profiles {
			if p.Email == filter.Email {
				return p, nil
			}
		}
	}
	return profile.Profile{}, core.NewNotFoundError("profile", filter.Email)
}

func (repo *profileRepository) QueryProfiles(_ context.Context, filter *profile.QueryFilter, ordering []core.DBOrdering) ([]profile.Profile, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	profiles := make([]profile.Profile, 0, len(repo.db.profiles))
	for _, p := range repo.db.profiles {
		if filter != nil {
			if filter.Search != "" && !contains(p.Name, filter.Search) && !contains(p.Email, filter.Search) {
				continue
			}
			if filter.Role != "" && p.Role != filter.Role {
				continue
			}
			if filter.InstitutionID != "" && p.InstitutionID != filter.InstitutionID {
				continue
			}
			if filter.IsActive != nil && p.IsActive != *filter.IsActive {
				continue
			}
		}
		profiles = append(profiles, p)
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}
	sortBy(profiles, ordering, profileOrdering)
	return profiles, nil
}

func (repo *profileRepository) EmailExists(_ context.Context, email string, excludedIDs ...string) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.emailTaken(email, excludedIDs...), nil
}

func (repo *profileRepository) UpdateProfile(_ context.Context, p profile.Profile) (profile.Profile, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.profiles[p.ID]; !ok {
		return profile.Profile{}, core.NewNotFoundError("profile", p.ID)
	}
	if repo.emailTaken(p.Email, p.ID) {
		return profile.Profile{}, core.NewDuplicateError("profile", p.Email)
	}
	repo.db.profiles[p.ID] = p
	return p, nil
}
