package institution_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/eligibility"
	"github.com/educhain/educhain/core/institution"
	testutil "github.com/educhain/educhain/tests"
)

func TestNewInstitution_Validate(t *testing.T) {
	validate, _ := testutil.Validator()
	valid := func() institution.NewInstitution {
		return institution.NewInstitution{
			Name:             "  Escola Aurora ",
			Type:             "Community_School",
			City:             "Salvador",
			State:            "BA",
			StudentCount:     120,
			UnitValue:        decimal.NewFromInt(8),
			SchoolDays:       200,
			SettlementWallet: testutil.Wallet,
		}
	}

	ni := valid()
	require.NoError(t, ni.Validate(validate))
	assert.Equal(t, "Escola Aurora", ni.Name)
	assert.Equal(t, institution.TypeCommunitySchool, ni.Type)
	assert.Equal(t, "Brasil", ni.Country)

	tests := []struct {
		name   string
		mutate func(ni *institution.NewInstitution)
	}{
		{name: "unknown type", mutate: func(ni *institution.NewInstitution) { ni.Type = "university" }},
		{name: "no students", mutate: func(ni *institution.NewInstitution) { ni.StudentCount = 0 }},
		{name: "free meals", mutate: func(ni *institution.NewInstitution) { ni.UnitValue = decimal.Zero }},
		{name: "bad wallet", mutate: func(ni *institution.NewInstitution) { ni.SettlementWallet = "not-a-wallet" }},
		{name: "negative cap", mutate: func(ni *institution.NewInstitution) {
			c := decimal.NewFromInt(-1)
			ni.PeriodCap = &c
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ni := valid()
			tt.mutate(&ni)
			assert.Error(t, ni.Validate(validate))
		})
	}
}

func TestService_Register(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	inst, err := env.InstitutionSvc.Register(ctx, institution.NewInstitution{
		Name:           "Escola Aurora",
		Type:           institution.TypeQuilombola,
		City:           "Salvador",
		State:          "BA",
		StudentCount:   120,
		UnitValue:      decimal.RequireFromString("8.50"),
		SchoolDays:     200,
		Infrastructure: institution.Infrastructure{HasKitchen: true, HasSafeWater: true},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, "204000", inst.TotalValue.String())
	assert.Equal(t, 10, inst.InstallmentCount, "installments default to the policy")
	assert.Equal(t, "20400", inst.InstallmentValue.String())
	assert.Equal(t, 40, inst.InfrastructureScore)
	assert.Equal(t, eligibility.StatusIneligible, inst.Status, "not eligible before any metrics are approved")
	assert.True(t, inst.TotalDistributed.IsZero())
}

func TestService_Update(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")

	students := 50
	name := "Escola Aurora do Norte"
	got, err := env.InstitutionSvc.Update(ctx, inst.ID, institution.UpdateInstitution{Name: &name, StudentCount: &students})
	require.NoError(t, err)
	assert.Equal(t, name, got.Name)
	assert.Equal(t, "1000", got.InstallmentValue.String(), "derived values follow the funding parameters")
	assert.Equal(t, inst.City, got.City)

	_, err = env.InstitutionSvc.Update(ctx, "0f0e4d1c-1b2a-4c3d-8e9f-a0b1c2d3e4f5", institution.UpdateInstitution{Name: &name})
	assert.True(t, core.IsNotFound(err), "got %v", err)
}

func TestService_ApplyScore(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(0))

	tests := []struct {
		score      int
		wantStatus string
	}{
		{score: 59, wantStatus: eligibility.StatusIneligible},
		{score: 60, wantStatus: eligibility.StatusEligible},
		{score: 100, wantStatus: eligibility.StatusEligible},
	}
	for _, tt := range tests {
		got, err := env.InstitutionSvc.ApplyScore(ctx, inst.ID, tt.score)
		require.NoError(t, err)
		assert.Equal(t, tt.score, got.EligibilityScore)
		assert.Equal(t, tt.wantStatus, got.Status, "score %d", tt.score)
	}

	_, err := env.InstitutionSvc.ApplyScore(ctx, inst.ID, 101)
	assert.True(t, core.IsValidation(err), "got %v", err)
}

func TestService_SetSuspended(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(90))

	got, err := env.InstitutionSvc.SetSuspended(ctx, inst.ID, true)
	require.NoError(t, err)
	assert.True(t, got.Suspended)
	assert.Equal(t, eligibility.StatusIneligible, got.Status)
	assert.False(t, got.IsEligible())

	got, err = env.InstitutionSvc.SetSuspended(ctx, inst.ID, false)
	require.NoError(t, err)
	assert.Equal(t, eligibility.StatusEligible, got.Status)
	assert.Equal(t, 90, got.EligibilityScore)
}

// interleavedRepo runs between once, right before the first write reaches the store.
type interleavedRepo struct {
	institution.Repository
	between func()
}

func (r *interleavedRepo) UpdateInstitution(ctx context.Context, inst institution.Institution) (institution.Institution, error) {
	if between := r.between; between != nil {
		r.between = nil
		between()
	}
	return r.Repository.UpdateInstitution(ctx, inst)
}

func TestService_interleavedWrites(t *testing.T) {
	ctx := context.Background()
	newName := "Escola Aurora do Norte"
	suspend := func(svc institution.Service, id string) error {
		_, err := svc.SetSuspended(ctx, id, true)
		return err
	}
	reinstate := func(svc institution.Service, id string) error {
		_, err := svc.SetSuspended(ctx, id, false)
		return err
	}
	score := func(svc institution.Service, id string) error {
		_, err := svc.ApplyScore(ctx, id, 90)
		return err
	}
	rename := func(svc institution.Service, id string) error {
		_, err := svc.Update(ctx, id, institution.UpdateInstitution{Name: &newName})
		return err
	}

	tests := []struct {
		name          string
		opts          []testutil.InstitutionOption
		first         func(svc institution.Service, id string) error
		second        func(svc institution.Service, id string) error
		wantSuspended bool
		wantScore     int
		wantStatus    string
		wantName      string
	}{
		{
			name: "suspension lands during a score update", first: score, second: suspend,
			wantSuspended: true, wantScore: 90, wantStatus: eligibility.StatusIneligible, wantName: "Aurora",
		},
		{
			name: "score update lands during a suspension", first: suspend, second: score,
			wantSuspended: true, wantScore: 90, wantStatus: eligibility.StatusIneligible, wantName: "Aurora",
		},
		{
			name: "reinstatement lands during an edit", opts: []testutil.InstitutionOption{testutil.Suspended()},
			first: rename, second: reinstate,
			wantScore: 85, wantStatus: eligibility.StatusEligible, wantName: newName,
		},
		{
			name: "edit lands during a suspension", first: suspend, second: rename,
			wantSuspended: true, wantScore: 85, wantStatus: eligibility.StatusIneligible, wantName: newName,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := testutil.NewEnv(t)
			inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", tc.opts...)
			repo := &interleavedRepo{Repository: env.InstitutionRepo}
			svc := institution.NewService(repo, env.SettingsSvc)
			repo.between = func() {
				require.NoError(t, tc.second(svc, inst.ID))
			}

			require.NoError(t, tc.first(svc, inst.ID))

			got, err := env.InstitutionSvc.GetByID(ctx, inst.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantSuspended, got.Suspended)
			assert.Equal(t, tc.wantScore, got.EligibilityScore)
			assert.Equal(t, tc.wantStatus, got.Status)
			assert.Equal(t, tc.wantName, got.Name)
			assert.Equal(t, 3, got.Version, "both writes were stored")
		})
	}
}

func TestService_Query(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.CreateInstitution(t, env.InstitutionRepo, "Escola Aurora", testutil.WithScore(90))
	testutil.CreateInstitution(t, env.InstitutionRepo, "Escola Estrela", testutil.WithScore(70))
	testutil.CreateInstitution(t, env.InstitutionRepo, "Escola Lua", testutil.Suspended())

	suspended := false
	insts, err := env.InstitutionSvc.Query(ctx,
		&institution.QueryFilter{Status: eligibility.StatusEligible, Suspended: &suspended},
		[]core.DBOrdering{{Field: "eligibility_score"}})
	require.NoError(t, err)
	require.Len(t, insts, 2)
	assert.Equal(t, "Escola Aurora", insts[0].Name)
	assert.Equal(t, "Escola Estrela", insts[1].Name)

	insts, err = env.InstitutionSvc.Query(ctx, &institution.QueryFilter{Search: "lua"}, nil)
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.True(t, insts[0].Suspended)
}
