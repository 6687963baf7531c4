package settings

import (
	"context"

	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
)

type (
	Repository interface {
		ListSettings(ctx context.Context) ([]Setting, error)
		// UpsertSettings inserts the settings or updates the rows with the same keys, atomically.
		UpsertSettings(ctx context.Context, settings ...Setting) ([]Setting, error)
	}

	Service interface {
		// Policy returns the funding policy in effect.
		Policy(ctx context.Context) (Policy, error)
		// List returns every known setting with its effective value.
		List(ctx context.Context) ([]Setting, error)
		// Set changes several settings at once; the resulting policy must be valid.
		Set(ctx context.Context, updatedBy string, updates ...UpdateSetting) ([]Setting, error)
	}

	service struct {
		repo     Repository
		defaults Policy
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, conf *core.Config) Service {
	return &service{repo: repo, defaults: DefaultPolicy(conf.Funding)}
}

func (svc *service) apply(policy Policy, stored []Setting) (Policy, error) {
	for _, s := range stored {
		if !s.IsActive {
			continue
		}
		def, ok := keyDefs[s.Key]
		if !ok {
			continue // retired key
		}
		if err := def.apply(&policy, s.Value); err != nil {
			return Policy{}, core.NewValidationError(err, core.FieldError{Field: s.Key, Error: err.Error()})
		}
	}
	return policy, nil
}

func (svc *service) Policy(ctx context.Context) (Policy, error) {
	stored, err := svc.repo.ListSettings(ctx)
	if err != nil {
		return Policy{}, errors.Wrap(err, "listing settings")
	}
	policy, err := svc.apply(svc.defaults, stored)
	if err != nil {
		return Policy{}, errors.Wrap(err, "applying stored settings")
	}
	if err = policy.Validate(); err != nil {
		return Policy{}, errors.Wrap(err, "validating funding policy")
	}
	return policy, nil
}

func (svc *service) List(ctx context.Context) ([]Setting, error) {
	stored, err := svc.repo.ListSettings(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing settings")
	}
	byKey := make(map[string]Setting, len(stored))
	for _, s := range stored {
		byKey[s.Key] = s
	}

	policy, err := svc.apply(svc.defaults, stored)
	if err != nil {
		return nil, errors.Wrap(err, "applying stored settings")
	}

	all := make([]Setting, 0, len(keyDefs))
	for _, key := range Keys() {
		def := keyDefs[key]
		s, ok := byKey[key]
		if !ok {
			s = Setting{Key: key, IsActive: true}
		}
		s.Category = def.category
		s.Description = def.description
		if s.IsActive {
			s.Value = def.value(policy)
		}
		all = append(all, s)
	}
	return all, nil
}

func (svc *service) Set(ctx context.Context, updatedBy string, updates ...UpdateSetting) ([]Setting, error) {
	if len(updates) == 0 {
		return nil, core.NewValidationError(errors.New("no settings provided"))
	}

	stored, err := svc.repo.ListSettings(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing settings")
	}
	byKey := make(map[string]Setting, len(stored))
	for _, s := range stored {
		byKey[s.Key] = s
	}

	now := core.NowFunc()
	changed := make([]Setting, 0, len(updates))
	for _, us := range updates {
		def, ok := keyDefs[us.Key]
		if !ok {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "setting_key", Error: "unknown setting " + us.Key})
		}
		setting, ok := byKey[us.Key]
		if !ok {
			setting = Setting{Key: us.Key, IsActive: true, CreatedAt: now}
		}
		setting.Value = us.Value
		if us.IsActive != nil {
			setting.IsActive = *us.IsActive
		}
		setting.Category = def.category
		setting.Description = def.description
		setting.UpdatedBy = updatedBy
		setting.UpdatedAt = now
		byKey[us.Key] = setting
		changed = append(changed, setting)
	}

	// the resulting policy must stay valid, e.g. weights still sum to 100
	candidate := make([]Setting, 0, len(byKey))
	for _, s := range byKey {
		candidate = append(candidate, s)
	}
	policy, err := svc.apply(svc.defaults, candidate)
	if err != nil {
		return nil, err
	}
	if err = policy.Validate(); err != nil {
		return nil, err
	}

	saved, err := svc.repo.UpsertSettings(ctx, changed...)
	return saved, errors.Wrap(err, "saving settings")
}
