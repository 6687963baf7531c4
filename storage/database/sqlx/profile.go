package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/profile"
)

const profileTable = "profile"

var profileColumns = []string{
	"id", "name", "email", "role", "institution_id", "permissions", "settlement_wallet",
	"is_active", "password_hash", "created_at", "updated_at", "last_login",
}

type profileRow struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Email            string         `db:"email"`
	Role             string         `db:"role"`
	InstitutionID    null.String    `db:"institution_id"`
	Permissions      pq.StringArray `db:"permissions"`
	SettlementWallet null.String    `db:"settlement_wallet"`
	IsActive         bool           `db:"is_active"`
	PasswordHash     []byte         `db:"password_hash"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	LastLogin        null.Time      `db:"last_login"`
}

func toProfileRow(p profile.Profile) profileRow {
	perms := pq.StringArray(p.Permissions)
	if perms == nil {
		perms = pq.StringArray{}
	}
	return profileRow{
		ID:               p.ID,
		Name:             p.Name,
		Email:            p.Email,
		Role:             p.Role,
		InstitutionID:    null.NewString(p.InstitutionID, p.InstitutionID != ""),
		Permissions:      perms,
		SettlementWallet: null.NewString(p.SettlementWallet, p.SettlementWallet != ""),
		IsActive:         p.IsActive,
		PasswordHash:     p.PasswordHash,
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
		LastLogin:        null.NewTime(p.LastLogin.UTC(), !p.LastLogin.IsZero()),
	}
}

func (r profileRow) values() map[string]interface{} {
	return map[string]interface{}{
		"id":                r.ID,
		"name":              r.Name,
		"email":             r.Email,
		"role":              r.Role,
		"institution_id":    r.InstitutionID,
		"permissions":       r.Permissions,
		"settlement_wallet": r.SettlementWallet,
		"is_active":         r.IsActive,
		"password_hash":     append([]byte{}, r.PasswordHash...),
		"created_at":        r.CreatedAt,
		"updated_at":        r.UpdatedAt,
		"last_login":        r.LastLogin,
	}
}

func (r profileRow) profile() profile.Profile {
	p := profile.Profile{
		ID:               r.ID,
		Name:             r.Name,
		Email:            r.Email,
		Role:             r.Role,
		InstitutionID:    r.InstitutionID.String,
		Permissions:      []string(r.Permissions),
		SettlementWallet: r.SettlementWallet.String,
		IsActive:         r.IsActive,
		PasswordHash:     r.PasswordHash,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if r.LastLogin.Valid {
		p.LastLogin = r.LastLogin.Time.UTC()
	}
	return p
}

type profileRepository struct {
	db *sqlx.DB
}

var _ profile.Repository = (*profileRepository)(nil) // interface compliance check

func NewProfileRepository(db *sqlx.DB) profile.Repository {
	return &profileRepository{db: db}
}

func (repo *profileRepository) CreateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	p.ID = uuid.New().String()
	row := toProfileRow(p)
	if _, err := exec(ctx, repo.db, psql.Insert(profileTable).SetMap(row.values())); err != nil {
		if uniqueViolationOn(err) {
			return profile.Profile{}, core.NewDuplicateError("profile", p.Email)
		}
		return profile.Profile{}, errors.Wrap(err, "inserting profile")
	}
	return row.profile(), nil
}

func (repo *profileRepository) GetProfile(ctx context.Context, filter profile.GetFilter) (profile.Profile, error) {
	b := psql.Select(profileColumns...).From(profileTable)
	key := filter.Email
	switch {
	case filter.ID != "":
		if !isUUID(filter.ID) {
			return profile.Profile{}, core.NewNotFoundError("profile", filter.ID)
		}
		key = filter.ID
		b = b.Where(sq.Eq{"id": filter.ID})
	case filter.Email != "":
		b = b.Where(sq.Eq{"email": filter.Email})
	default:
		return profile.Profile{}, core.NewNotFoundError("profile", "")
	}

	var row profileRow
	if err := selectOne(ctx, repo.db, &row, b); err != nil {
		return profile.Profile{}, trapNoRowsErr(err, "profile", key, "finding profile")
	}
	return row.profile(), nil
}

func (repo *profileRepository) QueryProfiles(ctx context.Context, filter *profile.QueryFilter, ordering []core.DBOrdering) ([]profile.Profile, error) {
	b := psql.Select(profileColumns...).From(profileTable)
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			b = b.Where(sq.Or{sq.ILike{"name": val}, sq.ILike{"email": val}})
		}
		if filter.Role != "" {
			b = b.Where(sq.Eq{"role": filter.Role})
		}
		if filter.InstitutionID != "" {
			if !isUUID(filter.InstitutionID) {
				return []profile.Profile{}, nil
			}
			b = b.Where(sq.Eq{"institution_id": filter.InstitutionID})
		}
		if filter.IsActive != nil {
			b = b.Where(sq.Eq{"is_active": *filter.IsActive})
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}

	var rows []profileRow
	if err := selectAll(ctx, repo.db, &rows, orderBy(b, ordering)); err != nil {
		return nil, errors.Wrap(err, "querying profiles")
	}
	profiles := make([]profile.Profile, 0, len(rows))
	for _, r := range rows {
		profiles = append(profiles, r.profile())
	}
	return profiles, nil
}

func (repo *profileRepository) EmailExists(ctx context.Context, email string, excludedIDs ...string) (bool, error) {
	sub := psql.Select("1").From(profileTable).Where(sq.Eq{"email": email})
	if len(excludedIDs) > 0 {
		sub = sub.Where(sq.NotEq{"id": excludedIDs})
	}
	b := sub.Prefix("SELECT EXISTS (").Suffix(")")

	var exists bool
	if err := selectOne(ctx, repo.db, &exists, b); err != nil {
		return false, errors.Wrap(err, "checking email")
	}
	return exists, nil
}

func (repo *profileRepository) UpdateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	row := toProfileRow(p)
	vals := row.values()
	delete(vals, "id")
	delete(vals, "created_at")

	n, err := exec(ctx, repo.db, psql.Update(profileTable).SetMap(vals).Where(sq.Eq{"id": p.ID}))
	if err != nil {
		if uniqueViolationOn(err) {
			return profile.Profile{}, core.NewDuplicateError("profile", p.Email)
		}
		return profile.Profile{}, errors.Wrap(err, "updating profile")
	}
	if n == 0 {
		return profile.Profile{}, core.NewNotFoundError("profile", p.ID)
	}
	return row.profile(), nil
}
