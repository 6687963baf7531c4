package dig_container

import (
	"context"
	"log"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/educhain/educhain/apps/api/echo"
	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/analytics"
	"github.com/educhain/educhain/core/distribution"
	"github.com/educhain/educhain/core/institution"
	"github.com/educhain/educhain/core/metrics"
	"github.com/educhain/educhain/core/profile"
	"github.com/educhain/educhain/core/settings"
	"github.com/educhain/educhain/core/teacher"
	cachesvc "github.com/educhain/educhain/services/cache"
	emailsvc "github.com/educhain/educhain/services/email"
	logsvc "github.com/educhain/educhain/services/logger"
	settlementsvc "github.com/educhain/educhain/services/settlement"
	"github.com/educhain/educhain/storage/database"
	sqlxrepos "github.com/educhain/educhain/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type CronLoggerParam struct {
	dig.In
	Logger core.Logger `name:"cronLogger"`
}

func newZap(conf *core.Config) (*zap.Logger, error) {
	return logsvc.NewZap(conf)
}

func namedLogger(name string) func(zl *zap.Logger, conf *core.Config) core.Logger {
	return func(zl *zap.Logger, conf *core.Config) core.Logger {
		logger := logsvc.NewRollbarLogger(zl, conf).Named(name)
		logger.Enable(!(conf.Debug || conf.TestMode))
		return logger
	}
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		ctx := context.Background()
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(ctx, db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal("setting up database", err)
	}
	return db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

// newSettler falls back to the in-process settler when no gateway is configured outside production.
func newSettler(conf *core.Config, logger core.Logger) (distribution.Settler, error) {
	if conf.Settlement.GatewayURL == "" {
		if !(conf.Debug || conf.TestMode) {
			return nil, errors.New("settlement gateway URL is not set")
		}
		logger.Warn("settlement gateway URL not set, using the dummy settler")
		return settlementsvc.NewDummy(logger), nil
	}
	return settlementsvc.NewGateway(conf, logger)
}

func newRedisClient(conf *core.Config, logger core.Logger) *redis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cachesvc.NewRedisClient(ctx, conf, logger)
}

func newValidation() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	profile.InitValidators(validate, translator)
	return validate, translator
}

func newAnalyticsService(
	institutionRepo institution.Repository,
	distributionRepo distribution.Repository,
	client *redis.Client,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
) analytics.Service {
	var c analytics.Cache
	if client != nil {
		c = cachesvc.NewRedisCache(client)
	}
	return analytics.NewService(institutionRepo, distributionRepo, c, mailSvc, conf, logger)
}

func newDistributionService(
	repo distribution.Repository,
	institutionSvc institution.Service,
	settingsSvc settings.Service,
	profileSvc profile.Service,
	settler distribution.Settler,
	mailSvc core.EmailService,
	logger core.Logger,
	conf *core.Config,
	analyticsSvc analytics.Service,
) distribution.Service {
	return distribution.NewService(repo, institutionSvc, settingsSvc, profileSvc, settler, mailSvc, logger, conf, analyticsSvc)
}

type depsParam struct {
	dig.In
	ProfileSvc      profile.Service
	InstitutionSvc  institution.Service
	MetricsSvc      metrics.Service
	DistributionSvc distribution.Service
	SettingsSvc     settings.Service
	TeacherSvc      teacher.Service
	AnalyticsSvc    analytics.Service
}

func newDeps(p depsParam) *echoapi.Deps {
	return &echoapi.Deps{
		ProfileSvc:      p.ProfileSvc,
		InstitutionSvc:  p.InstitutionSvc,
		MetricsSvc:      p.MetricsSvc,
		DistributionSvc: p.DistributionSvc,
		SettingsSvc:     p.SettingsSvc,
		TeacherSvc:      p.TeacherSvc,
		AnalyticsSvc:    p.AnalyticsSvc,
	}
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, err)...)
}

// newScheduler schedules the reconciliation of distributions pending verification.
// The returned scheduler is not started.
func newScheduler(conf *core.Config, svc distribution.Service, loggerParam CronLoggerParam) (*cron.Cron, error) {
	logger := loggerParam.Logger
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err := c.AddFunc(conf.Settlement.ReconcileSchedule, func() {
		n, err := svc.ReconcilePending(context.Background())
		if err != nil {
			logger.Error("reconciling pending distributions", err)
			return
		}
		if n > 0 {
			logger.Info("pending distributions reconciled", "resolved", n)
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scheduling reconciliation %q", conf.Settlement.ReconcileSchedule)
	}
	return c, nil
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newZap))
	must(c.Provide(namedLogger("api")))
	must(c.Provide(namedLogger("db"), dig.Name("dbLogger")))
	must(c.Provide(namedLogger("cron"), dig.Name("cronLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRedisClient))
	must(c.Provide(newEmailService))
	must(c.Provide(newSettler))
	must(c.Provide(newValidation))

	// repositories
	must(c.Provide(sqlxrepos.NewSettingsRepository))
	must(c.Provide(sqlxrepos.NewProfileRepository))
	must(c.Provide(sqlxrepos.NewInstitutionRepository))
	must(c.Provide(sqlxrepos.NewMetricsRepository))
	must(c.Provide(sqlxrepos.NewDistributionRepository))
	must(c.Provide(sqlxrepos.NewTeacherRepository))

	// services
	must(c.Provide(settings.NewService))
	must(c.Provide(profile.NewService))
	must(c.Provide(institution.NewService))
	must(c.Provide(metrics.NewService))
	must(c.Provide(teacher.NewService))
	must(c.Provide(newAnalyticsService))
	must(c.Provide(newDistributionService))

	must(c.Provide(newDeps))
	must(c.Provide(echoapi.NewServer))
	must(c.Provide(newScheduler))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
