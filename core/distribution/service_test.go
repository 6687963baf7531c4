package distribution_test

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
	"github.com/educhain/educhain/core/profile"
	"github.com/educhain/educhain/core/settings"
	emailsvc "github.com/educhain/educhain/services/email"
	settlementsvc "github.com/educhain/educhain/services/settlement"
	testutil "github.com/educhain/educhain/tests"
)

var march = core.Period{Year: 2024, Month: 3}

func setPolicy(t *testing.T, env *testutil.Env, kv ...string) {
	t.Helper()
	updates := make([]settings.UpdateSetting, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		updates = append(updates, settings.UpdateSetting{Key: kv[i], Value: kv[i+1]})
	}
	_, err := env.SettingsSvc.Set(context.Background(), "", updates...)
	require.NoError(t, err)
}

func sentTemplates() []string {
	var names []string
	for _, msg := range emailsvc.Sent() {
		names = append(names, msg.TemplateName)
	}
	return names
}

// planned plans march for inst and fails the test when nothing was planned.
func planned(t *testing.T, env *testutil.Env, institutionID string) distribution.Distribution {
	t.Helper()
	res, err := env.DistributionSvc.Plan(context.Background(), institutionID, march)
	require.NoError(t, err)
	require.NotNil(t, res.Distribution, "skipped: %s", res.Skipped)
	return *res.Distribution
}

func TestService_Plan(t *testing.T) {
	ctx := context.Background()

	t.Run("eligible institution under the ceiling is auto approved", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")

		res, err := env.DistributionSvc.Plan(ctx, inst.ID, march)
		require.NoError(t, err)
		require.NotNil(t, res.Distribution)
		d := res.Distribution
		assert.Equal(t, distribution.DecisionAutoApprove, res.Decision)
		assert.Equal(t, "2000", d.Amount.String())
		assert.Equal(t, 1, d.InstallmentNumber)
		assert.Equal(t, distribution.StatusPending, d.Status)
		assert.True(t, d.AutoApproved)
		assert.True(t, d.IsApproved())
		assert.Equal(t, march, d.Period())
	})

	t.Run("amount over the ceiling needs review and managers are told", func(t *testing.T) {
		env := testutil.NewEnv(t)
		testutil.CreateProfile(t, env.ProfileRepo, "Ana", "ana@foundation.org", "", profile.RoleFoundationManager, "")
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithFunding("10", 100, 20, 2))

		res, err := env.DistributionSvc.Plan(ctx, inst.ID, march)
		require.NoError(t, err)
		require.NotNil(t, res.Distribution)
		assert.Equal(t, distribution.DecisionManualReview, res.Decision)
		assert.Equal(t, "10000", res.Distribution.Amount.String())
		assert.False(t, res.Distribution.IsApproved())
		assert.Contains(t, sentTemplates(), "distribution_review")
	})

	t.Run("score under the floor needs review", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(70))

		res, err := env.DistributionSvc.Plan(ctx, inst.ID, march)
		require.NoError(t, err)
		assert.Equal(t, distribution.DecisionManualReview, res.Decision)
	})

	t.Run("period cap limits the amount", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithPeriodCap("1500.50"))

		d := planned(t, env, inst.ID)
		assert.Equal(t, "1500.5", d.Amount.String())
	})

	t.Run("ineligible and suspended institutions are skipped", func(t *testing.T) {
		env := testutil.NewEnv(t)
		low := testutil.CreateInstitution(t, env.InstitutionRepo, "Low", testutil.WithScore(40))
		suspended := testutil.CreateInstitution(t, env.InstitutionRepo, "Suspended", testutil.Suspended())

		for _, id := range []string{low.ID, suspended.ID} {
			res, err := env.DistributionSvc.Plan(ctx, id, march)
			require.NoError(t, err)
			assert.Nil(t, res.Distribution)
			assert.Equal(t, distribution.SkipIneligible, res.Skipped)
		}
	})

	t.Run("institution without funding parameters is skipped", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithFunding("0", 100, 20, 10))

		res, err := env.DistributionSvc.Plan(ctx, inst.ID, march)
		require.NoError(t, err)
		assert.Equal(t, distribution.SkipNoInstallment, res.Skipped)
	})

	t.Run("second plan for the same period is a duplicate", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")
		planned(t, env, inst.ID)

		_, err := env.DistributionSvc.Plan(ctx, inst.ID, march)
		assert.True(t, core.IsDuplicate(err), "got %v", err)
	})

	t.Run("a rejected distribution frees the period", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(70))
		d := planned(t, env, inst.ID)
		_, err := env.DistributionSvc.Reject(ctx, d.ID, "fm", "wrong figures")
		require.NoError(t, err)

		again := planned(t, env, inst.ID)
		assert.NotEqual(t, d.ID, again.ID)
		assert.Equal(t, 1, again.InstallmentNumber)
	})

	t.Run("failed period is retried after later periods", func(t *testing.T) {
		jan, feb, mar := core.Period{Year: 2024, Month: 1}, core.Period{Year: 2024, Month: 2}, core.Period{Year: 2024, Month: 3}
		plan := func(t *testing.T, env *testutil.Env, instID string, p core.Period) distribution.Distribution {
			t.Helper()
			res, err := env.DistributionSvc.Plan(ctx, instID, p)
			require.NoError(t, err)
			require.NotNil(t, res.Distribution, "skipped: %s", res.Skipped)
			return *res.Distribution
		}
		fail := func(t *testing.T, env *testutil.Env, d distribution.Distribution) {
			t.Helper()
			env.Settler.SetOutcome(settlementsvc.Failing("destination account closed"))
			got, err := env.DistributionSvc.Execute(ctx, d.ID)
			require.NoError(t, err)
			require.Equal(t, distribution.StatusFailed, got.Status)
			env.Settler.SetOutcome(settlementsvc.Settled)
		}

		tests := []struct {
			name            string
			run             func(t *testing.T, env *testutil.Env, instID string) distribution.Distribution
			wantInstallment int
		}{
			{
				name: "keeps its installment number",
				run: func(t *testing.T, env *testutil.Env, instID string) distribution.Distribution {
					first := plan(t, env, instID, jan)
					assert.Equal(t, 2, plan(t, env, instID, feb).InstallmentNumber)
					fail(t, env, first)
					return plan(t, env, instID, jan)
				},
				wantInstallment: 1,
			},
			{
				name: "takes the next number when a later period holds its own",
				run: func(t *testing.T, env *testutil.Env, instID string) distribution.Distribution {
					fail(t, env, plan(t, env, instID, jan))
					assert.Equal(t, 1, plan(t, env, instID, feb).InstallmentNumber)
					return plan(t, env, instID, jan)
				},
				wantInstallment: 2,
			},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				env := testutil.NewEnv(t)
				inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")

				retried := tc.run(t, env, inst.ID)
				assert.Equal(t, jan, retried.Period())
				assert.Equal(t, tc.wantInstallment, retried.InstallmentNumber)
				assert.Equal(t, 3, plan(t, env, inst.ID, mar).InstallmentNumber)
			})
		}
	})

	t.Run("cycle ends after the last installment", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithFunding("10", 100, 20, 2))

		for i, month := range []int{1, 2} {
			res, err := env.DistributionSvc.Plan(ctx, inst.ID, core.Period{Year: 2024, Month: month})
			require.NoError(t, err)
			require.NotNil(t, res.Distribution)
			assert.Equal(t, i+1, res.Distribution.InstallmentNumber)
		}
		res, err := env.DistributionSvc.Plan(ctx, inst.ID, core.Period{Year: 2024, Month: 3})
		require.NoError(t, err)
		assert.Nil(t, res.Distribution)
		assert.Equal(t, distribution.SkipCycleComplete, res.Skipped)
	})

	t.Run("pool is shared by the period", func(t *testing.T) {
		env := testutil.NewEnv(t)
		setPolicy(t, env, settings.KeyPeriodPool, "3000")
		a := testutil.CreateInstitution(t, env.InstitutionRepo, "A")
		b := testutil.CreateInstitution(t, env.InstitutionRepo, "B")
		c := testutil.CreateInstitution(t, env.InstitutionRepo, "C")

		assert.Equal(t, "2000", planned(t, env, a.ID).Amount.String())
		assert.Equal(t, "1000", planned(t, env, b.ID).Amount.String())

		res, err := env.DistributionSvc.Plan(ctx, c.ID, march)
		require.NoError(t, err)
		assert.Equal(t, distribution.SkipPoolExhausted, res.Skipped)

		// another period has its own pool
		res, err = env.DistributionSvc.Plan(ctx, c.ID, core.Period{Year: 2024, Month: 4})
		require.NoError(t, err)
		assert.NotNil(t, res.Distribution)
	})

	t.Run("invalid input", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")

		_, err := env.DistributionSvc.Plan(ctx, inst.ID, core.Period{Year: 2024, Month: 13})
		assert.True(t, core.IsValidation(err), "got %v", err)

		_, err = env.DistributionSvc.Plan(ctx, "2bd3b9c4-5e38-4f7c-9a0e-3a44a06b1f21", march)
		assert.True(t, core.IsNotFound(err), "got %v", err)
	})
}

func TestService_Plan_concurrent(t *testing.T) {
	env := testutil.NewEnv(t)
	setPolicy(t, env, settings.KeyPeriodPool, "5000")

	ids := make([]string, 6)
	for i := range ids {
		ids[i] = testutil.CreateInstitution(t, env.InstitutionRepo, "School").ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.DistributionSvc.Plan(context.Background(), id, march)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	total, err := env.DistributionRepo.PeriodTotal(context.Background(), march)
	require.NoError(t, err)
	assert.Equal(t, "5000", total.String(), "the pool is used up but never exceeded")
}

func TestService_PlanPeriod(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.CreateInstitution(t, env.InstitutionRepo, "A")
	testutil.CreateInstitution(t, env.InstitutionRepo, "B", testutil.WithScore(95))
	testutil.CreateInstitution(t, env.InstitutionRepo, "C", testutil.WithScore(30))
	testutil.CreateInstitution(t, env.InstitutionRepo, "D", testutil.Suspended())

	results, err := env.DistributionSvc.PlanPeriod(ctx, march)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.NotNil(t, res.Distribution)
	}

	results, err = env.DistributionSvc.PlanPeriod(ctx, march)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Nil(t, res.Distribution)
		assert.Equal(t, distribution.SkipAlreadyPlanned, res.Skipped)
	}

	_, err = env.DistributionSvc.PlanPeriod(ctx, core.Period{})
	assert.True(t, core.IsValidation(err))
}

// brokenRepo fails every insert for one institution.
type brokenRepo struct {
	distribution.Repository
	institutionID string
}

func (r brokenRepo) CreateDistribution(ctx context.Context, d distribution.Distribution, pool decimal.Decimal) (distribution.Distribution, error) {
	if d.InstitutionID == r.institutionID {
		return distribution.Distribution{}, errors.New("connection reset by peer")
	}
	return r.Repository.CreateDistribution(ctx, d, pool)
}

func TestService_PlanPeriod_failingInstitution(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	broken := testutil.CreateInstitution(t, env.InstitutionRepo, "A", testutil.WithScore(99))
	b := testutil.CreateInstitution(t, env.InstitutionRepo, "B", testutil.WithScore(90))
	c := testutil.CreateInstitution(t, env.InstitutionRepo, "C")

	svc := distribution.NewService(brokenRepo{Repository: env.DistributionRepo, institutionID: broken.ID},
		env.InstitutionSvc, env.SettingsSvc, env.ProfileSvc, env.Settler, env.MailSvc, env.Logger, env.Conf)

	results, err := svc.PlanPeriod(ctx, march)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byInstitution := make(map[string]distribution.PlanResult)
	for _, res := range results {
		byInstitution[res.InstitutionID] = res
	}
	tests := []struct {
		name        string
		id          string
		wantPlanned bool
		wantErr     string
	}{
		{name: "failure is reported", id: broken.ID, wantErr: "connection reset by peer"},
		{name: "next institution is planned", id: b.ID, wantPlanned: true},
		{name: "last institution is planned", id: c.ID, wantPlanned: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, ok := byInstitution[tc.id]
			require.True(t, ok)
			assert.Equal(t, tc.wantPlanned, res.Distribution != nil)
			if tc.wantErr == "" {
				assert.Empty(t, res.Error)
			} else {
				assert.Contains(t, res.Error, tc.wantErr)
			}
		})
	}
}

func TestService_Evaluate(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")
	d := planned(t, env, inst.ID)

	decision, err := env.DistributionSvc.Evaluate(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, distribution.DecisionAutoApprove, decision)

	// the gate follows the current policy
	setPolicy(t, env, settings.KeyAutoApprovalCeiling, "1999.99")
	decision, err = env.DistributionSvc.Evaluate(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, distribution.DecisionManualReview, decision)
}

func TestService_Approve(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(70))
	d := planned(t, env, inst.ID)

	approved, err := env.DistributionSvc.Approve(ctx, d.ID, "fm-1")
	require.NoError(t, err)
	assert.Equal(t, "fm-1", approved.ApprovedBy)
	assert.NotNil(t, approved.ApprovedAt)
	assert.False(t, approved.AutoApproved)
	assert.Equal(t, d.Version+1, approved.Version)

	again, err := env.DistributionSvc.Approve(ctx, d.ID, "fm-1")
	require.NoError(t, err, "approving twice is a no-op")
	assert.Equal(t, approved.Version, again.Version)

	_, err = env.DistributionSvc.Approve(ctx, d.ID, "fm-2")
	assert.True(t, core.IsInvalidState(err), "got %v", err)

	_, err = env.DistributionSvc.Execute(ctx, d.ID)
	require.NoError(t, err)
	_, err = env.DistributionSvc.Approve(ctx, d.ID, "fm-1")
	assert.True(t, core.IsInvalidState(err), "got %v", err)

	_, err = env.DistributionSvc.Approve(ctx, "5b0e3f3e-8c55-4c8a-b3c1-5b8e0f6f51a2", "fm-1")
	assert.True(t, core.IsNotFound(err), "got %v", err)
}

func TestService_Reject(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(70))
	d := planned(t, env, inst.ID)

	_, err := env.DistributionSvc.Reject(ctx, d.ID, "fm-1", "  ")
	assert.True(t, core.IsValidation(err), "got %v", err)

	rejected, err := env.DistributionSvc.Reject(ctx, d.ID, "fm-1", "figures under review")
	require.NoError(t, err)
	assert.Equal(t, distribution.StatusFailed, rejected.Status)
	assert.Equal(t, "fm-1", rejected.RejectedBy)
	assert.Equal(t, "figures under review", rejected.Notes)

	again, err := env.DistributionSvc.Reject(ctx, d.ID, "fm-1", "figures under review")
	require.NoError(t, err, "rejecting twice is a no-op")
	assert.Equal(t, rejected.Version, again.Version)

	_, err = env.DistributionSvc.Reject(ctx, d.ID, "fm-2", "other reason")
	assert.True(t, core.IsInvalidState(err), "got %v", err)

	t.Run("approved distributions cannot be rejected", func(t *testing.T) {
		other := testutil.CreateInstitution(t, env.InstitutionRepo, "Estrela")
		d := planned(t, env, other.ID) // auto approved
		_, err := env.DistributionSvc.Reject(ctx, d.ID, "fm-1", "too late")
		assert.True(t, core.IsInvalidState(err), "got %v", err)
	})
}

func TestService_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("settled", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")
		d := planned(t, env, inst.ID)

		done, err := env.DistributionSvc.Execute(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, distribution.StatusCompleted, done.Status)
		assert.NotEmpty(t, done.TransactionHash)
		assert.NotEmpty(t, done.SettlementOperationID)
		assert.NotNil(t, done.ProcessedAt)

		inst, err = env.InstitutionSvc.GetByID(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "2000", inst.TotalDistributed.String())
		assert.Equal(t, 1, env.Cache.Deletes, "summary cache dropped")

		_, err = env.DistributionSvc.Execute(ctx, d.ID)
		assert.True(t, core.IsInvalidState(err), "got %v", err)
		assert.Equal(t, 1, env.Settler.Calls())
	})

	t.Run("failed", func(t *testing.T) {
		env := testutil.NewEnv(t)
		env.Settler.SetOutcome(settlementsvc.Failing("destination account closed"))
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")
		d := planned(t, env, inst.ID)

		failed, err := env.DistributionSvc.Execute(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, distribution.StatusFailed, failed.Status)
		assert.Contains(t, failed.Notes, "destination account closed")

		inst, err = env.InstitutionSvc.GetByID(ctx, inst.ID)
		require.NoError(t, err)
		assert.True(t, inst.TotalDistributed.IsZero())
	})

	t.Run("timeout leaves the distribution reconciling", func(t *testing.T) {
		env := testutil.NewEnv(t)
		testutil.CreateProfile(t, env.ProfileRepo, "Ana", "ana@foundation.org", "", profile.RoleFoundationManager, "")
		env.Settler.SetOutcome(settlementsvc.TimingOut(false))
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")
		d := planned(t, env, inst.ID)

		pending, err := env.DistributionSvc.Execute(ctx, d.ID)
		require.Error(t, err)
		assert.True(t, core.IsSettlementTimeout(err), "got %v", err)
		assert.Equal(t, distribution.StatusReconciling, pending.Status)
		assert.Contains(t, sentTemplates(), "settlement_pending")

		stored, err := env.DistributionSvc.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, distribution.StatusReconciling, stored.Status)
		assert.Nil(t, stored.ProcessedAt)

		_, err = env.DistributionSvc.Execute(ctx, d.ID)
		assert.True(t, core.IsInvalidState(err), "a reconciling distribution is never paid again")
		assert.Equal(t, 1, env.Settler.Calls())
	})

	t.Run("unapproved", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(70))
		d := planned(t, env, inst.ID)

		_, err := env.DistributionSvc.Execute(ctx, d.ID)
		assert.True(t, core.IsInvalidState(err), "got %v", err)
		assert.Equal(t, 0, env.Settler.Calls())
	})

	t.Run("rejected", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithScore(70))
		d := planned(t, env, inst.ID)
		_, err := env.DistributionSvc.Reject(ctx, d.ID, "fm", "no")
		require.NoError(t, err)

		_, err = env.DistributionSvc.Execute(ctx, d.ID)
		assert.True(t, core.IsInvalidState(err), "got %v", err)
	})

	t.Run("institution without wallet", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora", testutil.WithWallet(""))
		d := planned(t, env, inst.ID)

		_, err := env.DistributionSvc.Execute(ctx, d.ID)
		assert.True(t, core.IsValidation(err), "got %v", err)

		stored, err := env.DistributionSvc.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, distribution.StatusPending, stored.Status)
	})
}

func TestService_Execute_concurrent(t *testing.T) {
	env := testutil.NewEnv(t)
	inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")
	d := planned(t, env, inst.ID)

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.DistributionSvc.Execute(context.Background(), d.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.True(t, core.IsInvalidState(err), "got %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, env.Settler.Calls())
	inst, err := env.InstitutionSvc.GetByID(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "2000", inst.TotalDistributed.String())
}

func TestService_Reconcile(t *testing.T) {
	ctx := context.Background()

	reconciling := func(t *testing.T, env *testutil.Env) distribution.Distribution {
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")
		d := planned(t, env, inst.ID)
		env.Settler.SetOutcome(settlementsvc.TimingOut(false))
		d, err := env.DistributionSvc.Execute(ctx, d.ID)
		require.True(t, core.IsSettlementTimeout(err))
		return d
	}

	t.Run("no answer yet", func(t *testing.T) {
		env := testutil.NewEnv(t)
		d := reconciling(t, env)

		got, err := env.DistributionSvc.Reconcile(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, distribution.StatusReconciling, got.Status)
	})

	t.Run("settled", func(t *testing.T) {
		env := testutil.NewEnv(t)
		d := reconciling(t, env)
		env.Settler.Resolve(d.ID, distribution.SettlementReceipt{State: distribution.SettlementSettled, TransactionHash: "tx-1"})

		got, err := env.DistributionSvc.Reconcile(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, distribution.StatusCompleted, got.Status)
		assert.Equal(t, "tx-1", got.TransactionHash)
	})

	t.Run("failed", func(t *testing.T) {
		env := testutil.NewEnv(t)
		d := reconciling(t, env)
		env.Settler.Resolve(d.ID, distribution.SettlementReceipt{State: distribution.SettlementFailed, Reason: "bounced"})

		got, err := env.DistributionSvc.Reconcile(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, distribution.StatusFailed, got.Status)
		assert.Contains(t, got.Notes, "bounced")
	})

	t.Run("only reconciling distributions", func(t *testing.T) {
		env := testutil.NewEnv(t)
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")
		d := planned(t, env, inst.ID)

		_, err := env.DistributionSvc.Reconcile(ctx, d.ID)
		assert.True(t, core.IsInvalidState(err), "got %v", err)
	})

	t.Run("pending batch", func(t *testing.T) {
		env := testutil.NewEnv(t)
		a := reconciling(t, env)
		b := reconciling(t, env)
		env.Settler.Resolve(a.ID, distribution.SettlementReceipt{State: distribution.SettlementSettled, TransactionHash: "tx-a"})

		n, err := env.DistributionSvc.ReconcilePending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := env.DistributionSvc.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, distribution.StatusReconciling, got.Status)
	})
}

func TestService_Reconcile_stalledClaim(t *testing.T) {
	ctx := context.Background()

	// claimed leaves a distribution processing as if the process died after claiming it.
	claimed := func(t *testing.T, env *testutil.Env) distribution.Distribution {
		t.Helper()
		inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")
		d := planned(t, env, inst.ID)
		d.Status = distribution.StatusProcessing
		d, err := env.DistributionRepo.UpdateDistribution(ctx, d)
		require.NoError(t, err)
		return d
	}
	reconcile := func(env *testutil.Env, d distribution.Distribution) (distribution.Distribution, error) {
		return env.DistributionSvc.Reconcile(ctx, d.ID)
	}

	tests := []struct {
		name       string
		stalled    bool
		receipt    *distribution.SettlementReceipt
		act        func(env *testutil.Env, d distribution.Distribution) (distribution.Distribution, error)
		wantErr    bool
		wantStatus distribution.Status
		wantTotal  string
	}{
		{
			name:       "settled payment completes it",
			stalled:    true,
			receipt:    &distribution.SettlementReceipt{State: distribution.SettlementSettled, TransactionHash: "tx-1"},
			act:        reconcile,
			wantStatus: distribution.StatusCompleted,
			wantTotal:  "2000",
		},
		{
			name:       "failed payment fails it",
			stalled:    true,
			receipt:    &distribution.SettlementReceipt{State: distribution.SettlementFailed, Reason: "bounced"},
			act:        reconcile,
			wantStatus: distribution.StatusFailed,
			wantTotal:  "0",
		},
		{
			name:       "unknown payment moves it to reconciling",
			stalled:    true,
			act:        reconcile,
			wantStatus: distribution.StatusReconciling,
			wantTotal:  "0",
		},
		{
			name:    "operator confirmation",
			stalled: true,
			act: func(env *testutil.Env, d distribution.Distribution) (distribution.Distribution, error) {
				return env.DistributionSvc.Confirm(ctx, d.ID, "op", distribution.SettlementConfirmation{Settled: true, TransactionHash: "tx-2"})
			},
			wantStatus: distribution.StatusCompleted,
			wantTotal:  "2000",
		},
		{
			name:    "pending batch",
			stalled: true,
			receipt: &distribution.SettlementReceipt{State: distribution.SettlementSettled, TransactionHash: "tx-3"},
			act: func(env *testutil.Env, d distribution.Distribution) (distribution.Distribution, error) {
				n, err := env.DistributionSvc.ReconcilePending(ctx)
				if err != nil {
					return d, err
				}
				if n != 1 {
					return d, errors.Errorf("resolved %d distributions", n)
				}
				return env.DistributionSvc.GetByID(ctx, d.ID)
			},
			wantStatus: distribution.StatusCompleted,
			wantTotal:  "2000",
		},
		{
			name:       "recent claim is left to its settlement",
			receipt:    &distribution.SettlementReceipt{State: distribution.SettlementSettled, TransactionHash: "tx-4"},
			act:        reconcile,
			wantErr:    true,
			wantStatus: distribution.StatusProcessing,
			wantTotal:  "0",
		},
		{
			name: "recent claim is not confirmed",
			act: func(env *testutil.Env, d distribution.Distribution) (distribution.Distribution, error) {
				return env.DistributionSvc.Confirm(ctx, d.ID, "op", distribution.SettlementConfirmation{Settled: true, TransactionHash: "tx-5"})
			},
			wantErr:    true,
			wantStatus: distribution.StatusProcessing,
			wantTotal:  "0",
		},
		{
			name: "recent claim is skipped by the batch",
			act: func(env *testutil.Env, d distribution.Distribution) (distribution.Distribution, error) {
				n, err := env.DistributionSvc.ReconcilePending(ctx)
				if err == nil && n != 0 {
					err = errors.Errorf("resolved %d distributions", n)
				}
				return d, err
			},
			wantStatus: distribution.StatusProcessing,
			wantTotal:  "0",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := testutil.NewEnv(t)
			d := claimed(t, env)
			if tc.receipt != nil {
				env.Settler.Resolve(d.ID, *tc.receipt)
			}
			if tc.stalled {
				testutil.PinNow(t, d.UpdatedAt.Add(2*env.Conf.Settlement.Timeout))
			}

			_, err := tc.act(env, d)
			if tc.wantErr {
				assert.True(t, core.IsInvalidState(err), "got %v", err)
			} else {
				require.NoError(t, err)
			}

			got, err := env.DistributionSvc.GetByID(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, got.Status)
			inst, err := env.InstitutionSvc.GetByID(ctx, d.InstitutionID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantTotal, inst.TotalDistributed.String())
		})
	}
}

func TestService_Confirm(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	inst := testutil.CreateInstitution(t, env.InstitutionRepo, "Aurora")
	d := planned(t, env, inst.ID)

	_, err := env.DistributionSvc.Confirm(ctx, d.ID, "op", distribution.SettlementConfirmation{Settled: true, TransactionHash: "tx"})
	assert.True(t, core.IsInvalidState(err), "only reconciling distributions are confirmed")

	env.Settler.SetOutcome(settlementsvc.TimingOut(false))
	_, err = env.DistributionSvc.Execute(ctx, d.ID)
	require.True(t, core.IsSettlementTimeout(err))

	_, err = env.DistributionSvc.Confirm(ctx, d.ID, "op", distribution.SettlementConfirmation{Settled: true})
	assert.True(t, core.IsValidation(err), "got %v", err)

	done, err := env.DistributionSvc.Confirm(ctx, d.ID, "op", distribution.SettlementConfirmation{Settled: true, TransactionHash: "tx-9"})
	require.NoError(t, err)
	assert.Equal(t, distribution.StatusCompleted, done.Status)
	assert.Equal(t, "tx-9", done.TransactionHash)

	again, err := env.DistributionSvc.Confirm(ctx, d.ID, "op", distribution.SettlementConfirmation{Settled: true, TransactionHash: "tx-9"})
	require.NoError(t, err, "confirming the same outcome twice is a no-op")
	assert.Equal(t, done.Version, again.Version)

	_, err = env.DistributionSvc.Confirm(ctx, d.ID, "op", distribution.SettlementConfirmation{Settled: false, Reason: "oops"})
	assert.True(t, core.IsInvalidState(err), "got %v", err)

	inst, err = env.InstitutionSvc.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "2000", inst.TotalDistributed.String())
}

func TestService_Query(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	a := testutil.CreateInstitution(t, env.InstitutionRepo, "A")
	b := testutil.CreateInstitution(t, env.InstitutionRepo, "B", testutil.WithScore(70))
	da := planned(t, env, a.ID)
	planned(t, env, b.ID)
	_, err := env.DistributionSvc.Execute(ctx, da.ID)
	require.NoError(t, err)

	ds, err := env.DistributionSvc.Query(ctx, &distribution.QueryFilter{Status: string(distribution.StatusCompleted)}, nil)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, da.ID, ds[0].ID)

	ds, err = env.DistributionSvc.Query(ctx, &distribution.QueryFilter{InstitutionID: b.ID}, nil)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, distribution.StatusPending, ds[0].Status)

	_, err = env.DistributionSvc.Query(ctx, &distribution.QueryFilter{Status: "paid"}, nil)
	assert.True(t, core.IsValidation(err))
}
