package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/distribution"
	"github.com/educhain/educhain/core/institution"
	"github.com/educhain/educhain/core/metrics"
	"github.com/educhain/educhain/core/profile"
	"github.com/educhain/educhain/core/settings"
)

// Repos are the storage implementations checked by the contracts below.
type Repos struct {
	Institutions  institution.Repository
	Profiles      profile.Repository
	Metrics       metrics.Repository
	Distributions distribution.Repository
	Settings      settings.Repository
}

func newDistribution(instID string, period core.Period, installment int, amount string) distribution.Distribution {
	now := core.NowFunc()
	return distribution.Distribution{
		InstitutionID:     instID,
		Amount:            decimal.RequireFromString(amount),
		InstallmentNumber: installment,
		PeriodYear:        period.Year,
		PeriodMonth:       period.Month,
		DistributionDate:  now,
		Status:            distribution.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// InstitutionRepositoryContract checks the compare-and-set updates and that they leave the distributed total alone.
func InstitutionRepositoryContract(t *testing.T, repos Repos) {
	ctx := context.Background()
	inst := CreateInstitution(t, repos.Institutions, "Aurora")
	assert.Equal(t, 1, inst.Version)

	stale := inst
	inst.Suspended = true
	inst.TotalDistributed = decimal.NewFromInt(999)
	updated, err := repos.Institutions.UpdateInstitution(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.True(t, updated.Suspended)
	assert.True(t, updated.TotalDistributed.IsZero(), "the total only moves with completed distributions")

	stale.EligibilityScore = 40
	_, err = repos.Institutions.UpdateInstitution(ctx, stale)
	assert.Equal(t, core.ErrConflict, errors.Cause(err))

	got, err := repos.Institutions.GetInstitution(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, got.Suspended)
	assert.Equal(t, 85, got.EligibilityScore)
	assert.Equal(t, 2, got.Version)

	stale.ID = "0f0e4d1c-1b2a-4c3d-8e9f-a0b1c2d3e4f5"
	_, err = repos.Institutions.UpdateInstitution(ctx, stale)
	assert.True(t, core.IsNotFound(err), "got %v", err)
}

// DistributionRepositoryContract checks the pool guard, the period uniqueness and the compare-and-set updates.
func DistributionRepositoryContract(t *testing.T, repos Repos) {
	ctx := context.Background()
	pool := decimal.NewFromInt(5000)
	march := core.Period{Year: 2024, Month: 3}
	inst := CreateInstitution(t, repos.Institutions, "Aurora")
	other := CreateInstitution(t, repos.Institutions, "Estrela")
	fm := CreateProfile(t, repos.Profiles, "Ana", "ana@foundation.org", "", profile.RoleFoundationManager, "")

	d, err := repos.Distributions.CreateDistribution(ctx, newDistribution(inst.ID, march, 1, "2000"), pool)
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, 1, d.Version)

	t.Run("one active distribution per period", func(t *testing.T) {
		_, err := repos.Distributions.CreateDistribution(ctx, newDistribution(inst.ID, march, 2, "100"), pool)
		assert.True(t, core.IsDuplicate(err), "got %v", err)
	})

	t.Run("installment numbers are not shared between periods", func(t *testing.T) {
		_, err := repos.Distributions.CreateDistribution(ctx, newDistribution(inst.ID, core.Period{Year: 2024, Month: 4}, 1, "100"), pool)
		assert.Equal(t, distribution.ErrInstallmentTaken, errors.Cause(err))
		assert.False(t, core.IsDuplicate(err))
	})

	t.Run("pool", func(t *testing.T) {
		_, err := repos.Distributions.CreateDistribution(ctx, newDistribution(other.ID, march, 1, "3000.01"), pool)
		assert.Equal(t, distribution.ErrPoolExceeded, errors.Cause(err))

		total, err := repos.Distributions.PeriodTotal(ctx, march)
		require.NoError(t, err)
		assert.Equal(t, "2000", total.String())
	})

	t.Run("active lookups", func(t *testing.T) {
		got, err := repos.Distributions.GetActiveDistribution(ctx, inst.ID, march)
		require.NoError(t, err)
		assert.Equal(t, d.ID, got.ID)
		assert.True(t, got.Amount.Equal(d.Amount))

		_, err = repos.Distributions.GetActiveDistribution(ctx, inst.ID, core.Period{Year: 2024, Month: 4})
		assert.True(t, core.IsNotFound(err), "got %v", err)

		n, err := repos.Distributions.CountActive(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("compare and set", func(t *testing.T) {
		stale := d
		now := core.NowFunc()
		d.Status = distribution.StatusProcessing
		d.ApprovedAt = &now
		d.ApprovedBy = fm.ID
		updated, err := repos.Distributions.UpdateDistribution(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)

		stale.Status = distribution.StatusFailed
		_, err = repos.Distributions.UpdateDistribution(ctx, stale)
		assert.Equal(t, core.ErrConflict, errors.Cause(err))

		got, err := repos.Distributions.GetDistribution(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, distribution.StatusProcessing, got.Status)
		assert.Equal(t, fm.ID, got.ApprovedBy)
		assert.Equal(t, 2, got.Version)
		d = got
	})

	t.Run("completion adds to the institution total", func(t *testing.T) {
		now := core.NowFunc()
		d.Status = distribution.StatusCompleted
		d.ProcessedAt = &now
		d.TransactionHash = "tx"
		done, err := repos.Distributions.CompleteDistribution(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, 3, done.Version)

		_, err = repos.Distributions.CompleteDistribution(ctx, d)
		assert.Equal(t, core.ErrConflict, errors.Cause(err), "a completion is applied once")

		got, err := repos.Institutions.GetInstitution(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "2000", got.TotalDistributed.String())
	})

	t.Run("failed distributions free the period", func(t *testing.T) {
		f, err := repos.Distributions.CreateDistribution(ctx, newDistribution(other.ID, march, 1, "3000"), pool)
		require.NoError(t, err)
		f.Status = distribution.StatusFailed
		_, err = repos.Distributions.UpdateDistribution(ctx, f)
		require.NoError(t, err)

		total, err := repos.Distributions.PeriodTotal(ctx, march)
		require.NoError(t, err)
		assert.Equal(t, "2000", total.String())

		_, err = repos.Distributions.CreateDistribution(ctx, newDistribution(other.ID, march, 1, "3000"), pool)
		assert.NoError(t, err)
	})

	t.Run("query", func(t *testing.T) {
		ds, err := repos.Distributions.QueryDistributions(ctx, &distribution.QueryFilter{Year: 2024, Month: 3, Status: "failed"}, nil)
		require.NoError(t, err)
		require.Len(t, ds, 1)
		assert.Equal(t, other.ID, ds[0].InstitutionID)

		ds, err = repos.Distributions.QueryDistributions(ctx, &distribution.QueryFilter{InstitutionID: "nope"}, nil)
		require.NoError(t, err)
		assert.Empty(t, ds)

		_, err = repos.Distributions.GetDistribution(ctx, "nope")
		assert.True(t, core.IsNotFound(err), "got %v", err)
	})
}

// ConcurrentPlanningContract races inserts against a small pool, which must never be exceeded.
func ConcurrentPlanningContract(t *testing.T, repos Repos) {
	ctx := context.Background()
	pool := decimal.NewFromInt(5000)
	april := core.Period{Year: 2024, Month: 4}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		inst := CreateInstitution(t, repos.Institutions, "School")
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Distributions.CreateDistribution(ctx, newDistribution(inst.ID, april, 1, "2000"), pool)
			if err != nil {
				assert.Equal(t, distribution.ErrPoolExceeded, errors.Cause(err))
			}
		}()
	}
	wg.Wait()

	total, err := repos.Distributions.PeriodTotal(ctx, april)
	require.NoError(t, err)
	assert.Equal(t, "4000", total.String())
}

// MetricsRepositoryContract checks period uniqueness and that reviews are final.
func MetricsRepositoryContract(t *testing.T, repos Repos) {
	ctx := context.Background()
	inst := CreateInstitution(t, repos.Institutions, "Aurora")
	fm := CreateProfile(t, repos.Profiles, "Ana", "ana@foundation.org", "", profile.RoleFoundationManager, "")
	rate := 90.0
	now := core.NowFunc()
	m := metrics.MonthlyMetrics{
		InstitutionID:    inst.ID,
		Year:             2024,
		Month:            3,
		AttendanceRate:   &rate,
		EligibilityScore: 23,
		ValidationStatus: metrics.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	m, err := repos.Metrics.CreateMetrics(ctx, m)
	require.NoError(t, err)
	_, err = repos.Metrics.CreateMetrics(ctx, m)
	assert.True(t, core.IsDuplicate(err), "got %v", err)

	got, err := repos.Metrics.GetMetricsForPeriod(ctx, inst.ID, core.Period{Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	require.NotNil(t, got.AttendanceRate)
	assert.Equal(t, 90.0, *got.AttendanceRate)
	assert.Nil(t, got.CommunityEngagement)

	m.ValidationStatus = metrics.StatusApproved
	m.ValidatedBy = fm.ID
	m.ValidatedAt = &now
	reviewed, err := repos.Metrics.ReviewMetrics(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, metrics.StatusApproved, reviewed.ValidationStatus)

	m.ValidationStatus = metrics.StatusRejected
	_, err = repos.Metrics.ReviewMetrics(ctx, m)
	assert.True(t, core.IsInvalidState(err), "got %v", err)

	ms, err := repos.Metrics.QueryMetrics(ctx, &metrics.QueryFilter{InstitutionID: inst.ID, ValidationStatus: metrics.StatusApproved}, nil)
	require.NoError(t, err)
	assert.Len(t, ms, 1)
}

// ProfileRepositoryContract checks email uniqueness and lookups.
func ProfileRepositoryContract(t *testing.T, repos Repos) {
	ctx := context.Background()
	inst := CreateInstitution(t, repos.Institutions, "Aurora")
	p := CreateProfile(t, repos.Profiles, "Rui", "rui@aurora.edu", Password, profile.RoleSchoolManager, inst.ID)

	_, err := repos.Profiles.CreateProfile(ctx, profile.Profile{Name: "Other", Email: "rui@aurora.edu", Role: profile.RoleFoundationManager})
	assert.True(t, core.IsDuplicate(err), "got %v", err)

	exists, err := repos.Profiles.EmailExists(ctx, "rui@aurora.edu")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repos.Profiles.EmailExists(ctx, "rui@aurora.edu", p.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := repos.Profiles.GetProfile(ctx, profile.GetFilter{Email: "rui@aurora.edu"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, inst.ID, got.InstitutionID)
	assert.NoError(t, got.CheckPassword(Password))

	_, err = repos.Profiles.GetProfile(ctx, profile.GetFilter{ID: "nope"})
	assert.True(t, core.IsNotFound(err), "got %v", err)
}

// SettingsRepositoryContract checks that upserts replace settings by key.
func SettingsRepositoryContract(t *testing.T, repos Repos) {
	ctx := context.Background()
	now := core.NowFunc()
	fm := CreateProfile(t, repos.Profiles, "Ana", "ana@foundation.org", "", profile.RoleFoundationManager, "")

	_, err := repos.Settings.UpsertSettings(ctx,
		settings.Setting{Key: settings.KeyPeriodPool, Value: "1000", Category: settings.CategoryDistribution, IsActive: true, UpdatedAt: now},
		settings.Setting{Key: settings.KeyAutoApprovalCeiling, Value: "10", Category: settings.CategoryApproval, IsActive: true, UpdatedAt: now},
	)
	require.NoError(t, err)
	_, err = repos.Settings.UpsertSettings(ctx,
		settings.Setting{Key: settings.KeyPeriodPool, Value: "2000", Category: settings.CategoryDistribution, IsActive: false, UpdatedBy: fm.ID, UpdatedAt: now},
	)
	require.NoError(t, err)

	all, err := repos.Settings.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	byKey := map[string]settings.Setting{all[0].Key: all[0], all[1].Key: all[1]}
	assert.Equal(t, "2000", byKey[settings.KeyPeriodPool].Value)
	assert.False(t, byKey[settings.KeyPeriodPool].IsActive)
	assert.Equal(t, fm.ID, byKey[settings.KeyPeriodPool].UpdatedBy)
	assert.Equal(t, "10", byKey[settings.KeyAutoApprovalCeiling].Value)
}
