package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/educhain/educhain/core/settings"
)

const settingTable = "foundation_setting"

var settingColumns = []string{
	"id", "setting_key", "setting_value", "category", "description", "is_active", "updated_by", "created_at", "updated_at",
}

type settingRow struct {
	ID          string      `db:"id"`
	Key         string      `db:"setting_key"`
	Value       string      `db:"setting_value"`
	Category    string      `db:"category"`
	Description string      `db:"description"`
	IsActive    bool        `db:"is_active"`
	UpdatedBy   null.String `db:"updated_by"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func (r settingRow) setting() settings.Setting {
	return settings.Setting{
		ID:          r.ID,
		Key:         r.Key,
		Value:       r.Value,
		Category:    r.Category,
		Description: r.Description,
		IsActive:    r.IsActive,
		UpdatedBy:   r.UpdatedBy.String,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type settingsRepository struct {
	db *sqlx.DB
}

var _ settings.Repository = (*settingsRepository)(nil) // interface compliance check

func NewSettingsRepository(db *sqlx.DB) settings.Repository {
	return &settingsRepository{db: db}
}

func (repo *settingsRepository) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	var rows []settingRow
	if err := selectAll(ctx, repo.db, &rows, psql.Select(settingColumns...).From(settingTable).OrderBy("setting_key ASC")); err != nil {
		return nil, errors.Wrap(err, "listing settings")
	}
	all := make([]settings.Setting, 0, len(rows))
	for _, r := range rows {
		all = append(all, r.setting())
	}
	return all, nil
}

func (repo *settingsRepository) UpsertSettings(ctx context.Context, ss ...settings.Setting) ([]settings.Setting, error) {
	saved := make([]settings.Setting, 0, len(ss))
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		for _, s := range ss {
			b := psql.Insert(settingTable).
				SetMap(map[string]interface{}{
					"id":            uuid.New().String(),
					"setting_key":   s.Key,
					"setting_value": s.Value,
					"category":      s.Category,
					"description":   s.Description,
					"is_active":     s.IsActive,
					"updated_by":    nullString(s.UpdatedBy),
					"created_at":    s.UpdatedAt.UTC(),
					"updated_at":    s.UpdatedAt.UTC(),
				}).
				Suffix("ON CONFLICT (setting_key) DO UPDATE SET " +
					"setting_value = EXCLUDED.setting_value, category = EXCLUDED.category, " +
					"description = EXCLUDED.description, is_active = EXCLUDED.is_active, " +
					"updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at " +
					"RETURNING " + strings.Join(settingColumns, ", "))

			var row settingRow
			if err := selectOne(ctx, tx, &row, b); err != nil {
				return errors.Wrapf(err, "saving setting %s", s.Key)
			}
			saved = append(saved, row.setting())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}
