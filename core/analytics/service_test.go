package analytics_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/analytics"
	"github.com/educhain/educhain/core/distribution"
	emailsvc "github.com/educhain/educhain/services/email"
	settlementsvc "github.com/educhain/educhain/services/settlement"
	testutil "github.com/educhain/educhain/tests"
)

var march = core.Period{Year: 2024, Month: 3}

// seed plans march for a paid school, a school awaiting review and a school whose payment bounced.
func seed(t *testing.T, env *testutil.Env) {
	t.Helper()
	ctx := context.Background()

	paid := testutil.CreateInstitution(t, env.InstitutionRepo, "Escola Aurora, Sede")
	review := testutil.CreateInstitution(t, env.InstitutionRepo, "Escola Estrela", testutil.WithScore(70))
	bounced := testutil.CreateInstitution(t, env.InstitutionRepo, "Escola Lua", testutil.WithPeriodCap("750"))
	testutil.CreateInstitution(t, env.InstitutionRepo, "Escola Sol", testutil.Suspended())

	for _, id := range []string{paid.ID, review.ID, bounced.ID} {
		_, err := env.DistributionSvc.Plan(ctx, id, march)
		require.NoError(t, err)
	}
	ds, err := env.DistributionSvc.Query(ctx, &distribution.QueryFilter{InstitutionID: paid.ID}, nil)
	require.NoError(t, err)
	_, err = env.DistributionSvc.Execute(ctx, ds[0].ID)
	require.NoError(t, err)

	env.Settler.SetOutcome(settlementsvc.Failing("account closed"))
	ds, err = env.DistributionSvc.Query(ctx, &distribution.QueryFilter{InstitutionID: bounced.ID}, nil)
	require.NoError(t, err)
	_, err = env.DistributionSvc.Execute(ctx, ds[0].ID)
	require.NoError(t, err)
}

func TestService_Summary(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	seed(t, env)

	s, err := env.AnalyticsSvc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Institutions)
	assert.Equal(t, 3, s.EligibleInstitutions)
	assert.Equal(t, 1, s.SuspendedInstitutions)
	assert.Equal(t, 4, s.InstitutionsByType["community_school"])
	assert.Equal(t, 0, s.InstitutionsByType["indigenous"])
	assert.Equal(t, 300, s.ActiveStudents)
	assert.Equal(t, "2000", s.TotalDistributed.String())
	assert.Equal(t, 1, s.DistributionsByStatus["completed"])
	assert.Equal(t, 1, s.DistributionsByStatus["pending"])
	assert.Equal(t, 1, s.DistributionsByStatus["failed"])
	assert.Equal(t, 0, s.DistributionsByStatus["reconciling"])
	assert.True(t, env.Cache.Has("analytics:summary"))

	// served from the cache until a distribution is finalized
	other := testutil.CreateInstitution(t, env.InstitutionRepo, "Escola Nova")
	cached, err := env.AnalyticsSvc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, cached.Institutions)

	env.Settler.SetOutcome(settlementsvc.Settled)
	res, err := env.DistributionSvc.Plan(ctx, other.ID, march)
	require.NoError(t, err)
	_, err = env.DistributionSvc.Execute(ctx, res.Distribution.ID)
	require.NoError(t, err)
	assert.False(t, env.Cache.Has("analytics:summary"))

	fresh, err := env.AnalyticsSvc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, fresh.Institutions)
	assert.Equal(t, "4000", fresh.TotalDistributed.String())
}

func TestService_Summary_withoutCache(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := analytics.NewService(env.InstitutionRepo, env.DistributionRepo, nil, env.MailSvc, env.Conf, env.Logger)

	s, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, s.Institutions)
	assert.True(t, s.AverageScore.IsZero())

	// finalizing without a cache is a no-op
	svc.DistributionFinalized(context.Background(), distribution.Distribution{})
}

func TestService_DistributionReport(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	t.Run("empty report has the header only", func(t *testing.T) {
		var buf bytes.Buffer
		rep, err := env.AnalyticsSvc.DistributionReport(ctx, &buf, &distribution.QueryFilter{Year: 2024, Month: 3})
		require.NoError(t, err)
		assert.Equal(t, 0, rep.Rows)

		rows, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "id", rows[0][0])
	})

	seed(t, env)

	t.Run("rows", func(t *testing.T) {
		var buf bytes.Buffer
		rep, err := env.AnalyticsSvc.DistributionReport(ctx, &buf, &distribution.QueryFilter{Year: 2024, Month: 3})
		require.NoError(t, err)
		assert.Equal(t, 3, rep.Rows)
		assert.Equal(t, "4000", rep.Total.String(), "failed distributions are left out of the total")

		rows, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 4)

		byName := make(map[string][]string)
		for _, row := range rows[1:] {
			byName[row[2]] = row
		}
		paid := byName["Escola Aurora, Sede"]
		require.NotNil(t, paid, "names with commas survive the CSV encoding")
		assert.Equal(t, "2024-03", paid[3])
		assert.Equal(t, "2000.00", paid[5])
		assert.Equal(t, "completed", paid[6])
		assert.Equal(t, "true", paid[7])
		assert.NotEmpty(t, paid[9])
		assert.NotEmpty(t, paid[10])

		bounced := byName["Escola Lua"]
		assert.Equal(t, "750.00", bounced[5])
		assert.Equal(t, "failed", bounced[6])
	})

	t.Run("filtered by status", func(t *testing.T) {
		var buf bytes.Buffer
		rep, err := env.AnalyticsSvc.DistributionReport(ctx, &buf, &distribution.QueryFilter{Status: "pending"})
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Rows)
		assert.Equal(t, "2000", rep.Total.String())
	})
}

func TestService_SendDistributionReport(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	seed(t, env)
	emailsvc.ResetSent()

	to := mail.Address{Name: "Ana", Address: "ana@foundation.org"}
	rep, err := env.AnalyticsSvc.SendDistributionReport(ctx, march, to)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Rows)

	sent := emailsvc.Sent()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, "distributions_report", msg.TemplateName)
	assert.Equal(t, []mail.Address{to}, msg.To)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "distributions-2024-03.csv", msg.Attachments[0].Filename)

	raw, err := base64.StdEncoding.DecodeString(msg.Attachments[0].Content.String())
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	_, err = env.AnalyticsSvc.SendDistributionReport(ctx, march)
	assert.True(t, core.IsValidation(err), "got %v", err)
	_, err = env.AnalyticsSvc.SendDistributionReport(ctx, core.Period{Year: 2024}, to)
	assert.True(t, core.IsValidation(err), "got %v", err)
}
