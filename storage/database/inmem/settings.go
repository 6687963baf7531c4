package inmemdb

import (
	"context"
	"sort"

	"github.com/educhain/educhain/core/settings"
)

type settingsRepository struct {
	db *DB
}

var _ settings.Repository = (*settingsRepository)(nil) // interface compliance check

func NewSettingsRepository(db *DB) settings.Repository {
	return &settingsRepository{db: db}
}

func (repo *settingsRepository) ListSettings(_ context.Context) ([]settings.Setting, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	all := make([]settings.Setting, 0, len(repo.db.settings))
	for _, s := range repo.db.settings {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	return all, nil
}

func (repo *settingsRepository) UpsertSettings(_ context.Context, ss ...settings.Setting) ([]settings.Setting, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	saved := make([]settings.Setting, 0, len(ss))
	for _, s := range ss {
		if current, ok := repo.db.settings[s.Key]; ok {
			s.ID = current.ID
			s.CreatedAt = current.CreatedAt
		} else {
			s.ID = newID()
			if s.CreatedAt.IsZero() {
				s.CreatedAt = s.UpdatedAt
			}
		}
		repo.db.settings[s.Key] = s
		saved = append(saved, s)
	}
	return saved, nil
}
