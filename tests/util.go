package testutil

import (
	"context"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/analytics"
	"github.com/educhain/educhain/core/distribution"
	"github.com/educhain/educhain/core/eligibility"
	"github.com/educhain/educhain/core/institution"
	"github.com/educhain/educhain/core/metrics"
	"github.com/educhain/educhain/core/profile"
	"github.com/educhain/educhain/core/settings"
	"github.com/educhain/educhain/core/teacher"
	emailsvc "github.com/educhain/educhain/services/email"
	logsvc "github.com/educhain/educhain/services/logger"
	settlementsvc "github.com/educhain/educhain/services/settlement"
	"github.com/educhain/educhain/storage/database"
	inmemdb "github.com/educhain/educhain/storage/database/inmem"
)

// Wallet is a well-formed settlement wallet address.
const Wallet = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

// Password satisfies the password policy.
const Password = "Sup3r-Secr3t!"

func Config() *core.Config {
	return core.NewTestConfig()
}

// Logger returns a logger writing to the test log, with Rollbar reporting off.
func Logger(t *testing.T) core.Logger {
	conf := Config()
	l := logsvc.NewRollbarLogger(zaptest.NewLogger(t), conf)
	l.Enable(false)
	return l
}

func Validator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	profile.InitValidators(validate, translator)
	return validate, translator
}

// Env is the application wired on the in-memory database.
type Env struct {
	Conf     *core.Config
	Logger   core.Logger
	DB       *inmemdb.DB
	Settler  *settlementsvc.Dummy
	Cache    *MemoryCache
	MailSvc  core.EmailService
	Validate *validator.Validate

	InstitutionRepo  institution.Repository
	ProfileRepo      profile.Repository
	MetricsRepo      metrics.Repository
	DistributionRepo distribution.Repository
	TeacherRepo      teacher.Repository
	SettingsRepo     settings.Repository

	SettingsSvc     settings.Service
	ProfileSvc      profile.Service
	InstitutionSvc  institution.Service
	MetricsSvc      metrics.Service
	DistributionSvc distribution.Service
	TeacherSvc      teacher.Service
	AnalyticsSvc    analytics.Service
}

func NewEnv(t *testing.T) *Env {
	emailsvc.ResetSent()

	env := &Env{
		Conf:   Config(),
		Logger: Logger(t),
		DB:     inmemdb.Open(),
		Cache:  NewMemoryCache(),
	}
	env.Settler = settlementsvc.NewDummy(env.Logger)
	env.MailSvc = emailsvc.NewConsoleServiceMock(env.Conf, env.Logger)
	env.Validate, _ = Validator()
	core.ParseEmailTemplates(env.Conf, env.Logger)

	env.InstitutionRepo = inmemdb.NewInstitutionRepository(env.DB)
	env.ProfileRepo = inmemdb.NewProfileRepository(env.DB)
	env.MetricsRepo = inmemdb.NewMetricsRepository(env.DB)
	env.DistributionRepo = inmemdb.NewDistributionRepository(env.DB)
	env.TeacherRepo = inmemdb.NewTeacherRepository(env.DB)
	env.SettingsRepo = inmemdb.NewSettingsRepository(env.DB)

	env.SettingsSvc = settings.NewService(env.SettingsRepo, env.Conf)
	env.ProfileSvc = profile.NewService(env.ProfileRepo)
	env.InstitutionSvc = institution.NewService(env.InstitutionRepo, env.SettingsSvc)
	env.MetricsSvc = metrics.NewService(env.MetricsRepo, env.InstitutionSvc, env.SettingsSvc, env.ProfileSvc, env.MailSvc, env.Logger)
	env.TeacherSvc = teacher.NewService(env.TeacherRepo, env.InstitutionSvc)
	env.AnalyticsSvc = analytics.NewService(env.InstitutionRepo, env.DistributionRepo, env.Cache, env.MailSvc, env.Conf, env.Logger)
	env.DistributionSvc = distribution.NewService(
		env.DistributionRepo, env.InstitutionSvc, env.SettingsSvc, env.ProfileSvc,
		env.Settler, env.MailSvc, env.Logger, env.Conf, env.AnalyticsSvc,
	)
	return env
}

// CreateProfile stores an active profile. pwd may be empty.
func CreateProfile(t *testing.T, repo profile.Repository, name, email, pwd, role, institutionID string) profile.Profile {
	t.Helper()

	now := core.NowFunc()
	p := profile.Profile{
		Name:          name,
		Email:         email,
		Role:          role,
		InstitutionID: institutionID,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if pwd != "" {
		if err := p.SetPassword(pwd); err != nil {
			t.Fatalf("CreateProfile() failed: %v", err)
		}
	}
	p, err := repo.CreateProfile(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateProfile() failed: %v", err)
	}
	return p
}

// InstitutionOption tweaks an institution before CreateInstitution stores it.
type InstitutionOption func(inst *institution.Institution)

func WithScore(score int) InstitutionOption {
	return func(inst *institution.Institution) {
		inst.EligibilityScore = score
		if score >= eligibility.DefaultPolicy().MinScore {
			inst.Status = eligibility.StatusEligible
		} else {
			inst.Status = eligibility.StatusIneligible
		}
	}
}

// WithFunding sets the funding parameters; the installment value is unitValue*students*days/installments.
func WithFunding(unitValue string, students, days, installments int) InstitutionOption {
	return func(inst *institution.Institution) {
		inst.UnitValue = decimal.RequireFromString(unitValue)
		inst.StudentCount = students
		inst.SchoolDays = days
		inst.InstallmentCount = installments
	}
}

func WithPeriodCap(amount string) InstitutionOption {
	return func(inst *institution.Institution) {
		inst.PeriodCap = decimal.NewNullDecimal(decimal.RequireFromString(amount))
	}
}

func WithWallet(wallet string) InstitutionOption {
	return func(inst *institution.Institution) { inst.SettlementWallet = wallet }
}

func Suspended() InstitutionOption {
	return func(inst *institution.Institution) {
		inst.Suspended = true
		inst.Status = eligibility.StatusIneligible
	}
}

// CreateInstitution stores an eligible community school scoring 85, with a 2000.00 installment and a wallet.
func CreateInstitution(t *testing.T, repo institution.Repository, name string, opts ...InstitutionOption) institution.Institution {
	t.Helper()

	now := core.NowFunc()
	inst := institution.Institution{
		Name:             name,
		Type:             institution.TypeCommunitySchool,
		City:             "Salvador",
		State:            "BA",
		Country:          "Brasil",
		SettlementWallet: Wallet,
		TotalDistributed: decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	WithFunding("10", 100, 20, 10)(&inst)
	WithScore(85)(&inst)
	for _, opt := range opts {
		opt(&inst)
	}
	inst.Derive()

	inst, err := repo.CreateInstitution(context.Background(), inst)
	if err != nil {
		t.Fatalf("CreateInstitution() failed: %v", err)
	}
	return inst
}

// PinNow freezes core.NowFunc for the duration of the test.
func PinNow(t *testing.T, now time.Time) {
	orig := core.NowFunc
	core.NowFunc = func() time.Time { return now.UTC() }
	t.Cleanup(func() { core.NowFunc = orig })
}

// PrepareDB opens the test Postgres database and migrates it. The test is skipped when the database is unreachable.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	conf := Config()
	db, err := database.Open(conf)
	if err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	ctx := context.Background()
	if err = database.RunMigrations(ctx, "reset", db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if err = database.Migrate(ctx, db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
