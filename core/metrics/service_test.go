package metrics_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/eligibility"
	"github.com/educhain/educhain/core/metrics"
	"github.com/educhain/educhain/core/profile"
	emailsvc "github.com/educhain/educhain/services/email"
	testutil "github.com/educhain/educhain/tests"
)

func fptr(f float64) *float64 { return &f }

func goodMonth() metrics.NewMetrics {
	return metrics.NewMetrics{
		Year:                   2024,
		Month:                  3,
		AttendanceRate:         fptr(90),
		NutritionParticipation: fptr(85),
		TeacherTrainingHours:   fptr(20),
		CommunityEngagement:    fptr(95),
	}
}

func TestService_Submit(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(0))

	m, err := env.MetricsSvc.Submit(ctx, inst.ID, goodMonth(), "sm-1")
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, metrics.StatusPending, m.ValidationStatus)
	assert.Equal(t, 93, m.EligibilityScore)
	assert.Equal(t, "sm-1", m.SubmittedBy)

	// submitting does not touch the institution
	got, err := env.InstitutionSvc.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.EligibilityScore)

	_, err = env.MetricsSvc.Submit(ctx, inst.ID, goodMonth(), "sm-1")
	assert.True(t, core.IsDuplicate(err), "got %v", err)

	tests := []struct {
		name   string
		mutate func(nm *metrics.NewMetrics)
	}{
		{name: "month out of range", mutate: func(nm *metrics.NewMetrics) { nm.Month = 0 }},
		{name: "rate over 100", mutate: func(nm *metrics.NewMetrics) { nm.AttendanceRate = fptr(101) }},
		{name: "negative hours", mutate: func(nm *metrics.NewMetrics) { nm.TeacherTrainingHours = fptr(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nm := goodMonth()
			nm.Month = 4
			tt.mutate(&nm)
			_, err := env.MetricsSvc.Submit(ctx, inst.ID, nm, "sm-1")
			assert.True(t, core.IsValidation(err), "got %v", err)
		})
	}

	t.Run("unknown institution", func(t *testing.T) {
		_, err := env.MetricsSvc.Submit(ctx, "7c1b8e58-2a3e-4d62-a1c4-f0b2d3e4a5b6", goodMonth(), "sm-1")
		assert.True(t, core.IsNotFound(err), "got %v", err)
	})
}

func TestService_Validate(t *testing.T) {
	ctx := context.Background()

	t.Run("approval updates the institution and notifies its managers", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(0))
		testutil.CreateProfile(t, env.ProfileRepo, "Rui", "rui@aurora.edu", "", profile.RoleSchoolManager, inst.ID)
		m, err := env.MetricsSvc.Submit(ctx, inst.ID, goodMonth(), "sm-1")
		require.NoError(t, err)

		m, err = env.MetricsSvc.Validate(ctx, m.ID, "fm-1", metrics.Review{Decision: metrics.StatusApproved, Comment: "ok"})
		require.NoError(t, err)
		assert.Equal(t, metrics.StatusApproved, m.ValidationStatus)
		assert.Equal(t, "fm-1", m.ValidatedBy)
		assert.NotNil(t, m.ValidatedAt)

		got, err := env.InstitutionSvc.GetByID(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, 93, got.EligibilityScore)
		assert.Equal(t, eligibility.StatusEligible, got.Status)

		sent := emailsvc.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "metrics_reviewed", sent[0].TemplateName)
		assert.Equal(t, "rui@aurora.edu", sent[0].To[0].Address)

		_, err = env.MetricsSvc.Validate(ctx, m.ID, "fm-2", metrics.Review{Decision: metrics.StatusRejected})
		assert.True(t, core.IsInvalidState(err), "reviewed metrics are final, got %v", err)
	})

	t.Run("rejection leaves the institution alone", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(70))
		m, err := env.MetricsSvc.Submit(ctx, inst.ID, goodMonth(), "sm-1")
		require.NoError(t, err)

		m, err = env.MetricsSvc.Validate(ctx, m.ID, "fm-1", metrics.Review{Decision: metrics.StatusRejected, Comment: "no evidence"})
		require.NoError(t, err)
		assert.Equal(t, metrics.StatusRejected, m.ValidationStatus)
		assert.Equal(t, "no evidence", m.ReviewComment)

		got, err := env.InstitutionSvc.GetByID(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, 70, got.EligibilityScore)
	})

	t.Run("suspended institution stays ineligible", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.Suspended())
		m, err := env.MetricsSvc.Submit(ctx, inst.ID, goodMonth(), "sm-1")
		require.NoError(t, err)

		_, err = env.MetricsSvc.Validate(ctx, m.ID, "fm-1", metrics.Review{Decision: metrics.StatusApproved})
		require.NoError(t, err)

		got, err := env.InstitutionSvc.GetByID(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, 93, got.EligibilityScore)
		assert.Equal(t, eligibility.StatusIneligible, got.Status)
	})

	t.Run("older period does not replace a newer score", func(t *testing.T) {
		february := metrics.NewMetrics{
			Year:                   2024,
			Month:                  2,
			AttendanceRate:         fptr(10),
			NutritionParticipation: fptr(10),
			TeacherTrainingHours:   fptr(1),
			CommunityEngagement:    fptr(10),
		}
		tests := []struct {
			name      string
			order     []metrics.NewMetrics
			wantMonth int
		}{
			{name: "newer approved first", order: []metrics.NewMetrics{goodMonth(), february}, wantMonth: 3},
			{name: "older approved first", order: []metrics.NewMetrics{february, goodMonth()}, wantMonth: 3},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				env := testutil.NewEnv(t)
				inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(0))

				scores := make(map[int]int)
				for _, nm := range tc.order {
					m, err := env.MetricsSvc.Submit(ctx, inst.ID, nm, "sm-1")
					require.NoError(t, err)
					m, err = env.MetricsSvc.Validate(ctx, m.ID, "fm-1", metrics.Review{Decision: metrics.StatusApproved})
					require.NoError(t, err)
					assert.Equal(t, metrics.StatusApproved, m.ValidationStatus)
					scores[m.Month] = m.EligibilityScore
				}
				require.NotEqual(t, scores[2], scores[3])

				got, err := env.InstitutionSvc.GetByID(ctx, inst.ID)
				require.NoError(t, err)
				assert.Equal(t, scores[tc.wantMonth], got.EligibilityScore)
				assert.Equal(t, eligibility.StatusEligible, got.Status)
			})
		}
	})

	t.Run("bad decision", func(t *testing.T) {
		env := testutil.NewEnv(t)
		_, err := env.MetricsSvc.Validate(ctx, "whatever", "fm-1", metrics.Review{Decision: metrics.StatusPending})
		assert.True(t, core.IsValidation(err), "got %v", err)
	})
}

func TestService_Score(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")

	res, err := env.MetricsSvc.Score(ctx, inst.ID, goodMonth().Input())
	require.NoError(t, err)
	assert.Equal(t, 93, res.Score)
	assert.True(t, res.Eligible())

	ms, err := env.MetricsSvc.Query(ctx, &metrics.QueryFilter{InstitutionID: inst.ID}, nil)
	require.NoError(t, err)
	assert.Empty(t, ms, "scoring stores nothing")
}

func TestService_Get(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")
	m, err := env.MetricsSvc.Submit(ctx, inst.ID, goodMonth(), "sm-1")
	require.NoError(t, err)

	got, err := env.MetricsSvc.Get(ctx, inst.ID, core.Period{Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = env.MetricsSvc.Get(ctx, inst.ID, core.Period{Year: 2024, Month: 4})
	assert.True(t, core.IsNotFound(err), "got %v", err)
}
