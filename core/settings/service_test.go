package settings_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/settings"
	testutil "github.com/educhain/educhain/tests"
)

func TestService_Policy(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	policy, err := env.SettingsSvc.Policy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, policy.Eligibility.MinScore)
	assert.Equal(t, 100, policy.Eligibility.Weights.Sum())
	assert.Equal(t, "5000", policy.AutoApprovalCeiling.String())
	assert.Equal(t, 80, policy.AutoApprovalScoreFloor)
	assert.Equal(t, "50000", policy.MaxDistributionAmount.String())
	assert.Equal(t, "250000", policy.PeriodPool.String())

	_, err = env.SettingsSvc.Set(ctx, "fm-1",
		settings.UpdateSetting{Key: settings.KeyAutoApprovalCeiling, Value: "1200.50"},
		settings.UpdateSetting{Key: settings.KeyMinEligibilityScore, Value: "70"},
	)
	require.NoError(t, err)

	policy, err = env.SettingsSvc.Policy(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1200.5", policy.AutoApprovalCeiling.String())
	assert.Equal(t, 70, policy.Eligibility.MinScore)

	// an inactive setting falls back to the default
	off := false
	_, err = env.SettingsSvc.Set(ctx, "fm-1", settings.UpdateSetting{Key: settings.KeyMinEligibilityScore, Value: "70", IsActive: &off})
	require.NoError(t, err)
	policy, err = env.SettingsSvc.Policy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, policy.Eligibility.MinScore)
}

func TestService_Set(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		updates []settings.UpdateSetting
		wantErr bool
	}{
		{name: "nothing to set", wantErr: true},
		{name: "unknown key", updates: []settings.UpdateSetting{{Key: "coffee_budget", Value: "1"}}, wantErr: true},
		{name: "not a number", updates: []settings.UpdateSetting{{Key: settings.KeyPeriodPool, Value: "lots"}}, wantErr: true},
		{name: "negative pool", updates: []settings.UpdateSetting{{Key: settings.KeyPeriodPool, Value: "-1"}}, wantErr: true},
		{name: "floor over 100", updates: []settings.UpdateSetting{{Key: settings.KeyAutoApprovalScoreFloor, Value: "101"}}, wantErr: true},
		{
			name:    "weights no longer sum to 100",
			updates: []settings.UpdateSetting{{Key: settings.KeyWeightAttendance, Value: "30"}},
			wantErr: true,
		},
		{
			name: "weights moved together",
			updates: []settings.UpdateSetting{
				{Key: settings.KeyWeightAttendance, Value: "30"},
				{Key: settings.KeyWeightCommunity, Value: "35"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testutil.NewEnv(t)
			saved, err := env.SettingsSvc.Set(ctx, "fm-1", tt.updates...)
			if tt.wantErr {
				assert.True(t, core.IsValidation(err), "got %v", err)

				stored, err := env.SettingsRepo.ListSettings(ctx)
				require.NoError(t, err)
				assert.Empty(t, stored, "a rejected change stores nothing")
				return
			}
			require.NoError(t, err)
			require.Len(t, saved, len(tt.updates))
			for _, s := range saved {
				assert.Equal(t, "fm-1", s.UpdatedBy)
				assert.NotEmpty(t, s.Category)
			}
		})
	}
}

func TestService_List(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	_, err := env.SettingsSvc.Set(ctx, "fm-1", settings.UpdateSetting{Key: settings.KeyPeriodPool, Value: "100000"})
	require.NoError(t, err)

	all, err := env.SettingsSvc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, len(settings.Keys()))

	byKey := make(map[string]settings.Setting, len(all))
	for _, s := range all {
		byKey[s.Key] = s
	}
	assert.Equal(t, "100000", byKey[settings.KeyPeriodPool].Value)
	assert.Equal(t, "fm-1", byKey[settings.KeyPeriodPool].UpdatedBy)
	assert.Equal(t, "5000", byKey[settings.KeyAutoApprovalCeiling].Value, "defaults are listed too")
	assert.Equal(t, "20", byKey[settings.KeyTrainingHoursTarget].Value)
}
