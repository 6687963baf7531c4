package main

import (
	"context"
	"fmt"
	"os"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/analytics"
	"github.com/educhain/educhain/core/distribution"
	"github.com/educhain/educhain/core/institution"
	"github.com/educhain/educhain/core/profile"
	"github.com/educhain/educhain/core/settings"
	cachesvc "github.com/educhain/educhain/services/cache"
	emailsvc "github.com/educhain/educhain/services/email"
	logsvc "github.com/educhain/educhain/services/logger"
	settlementsvc "github.com/educhain/educhain/services/settlement"
	"github.com/educhain/educhain/storage/database"
	sqlxrepos "github.com/educhain/educhain/storage/database/sqlx"
)

var logger core.Logger

func main() {
	conf := core.NewConfig()

	zl, err := logsvc.NewZap(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up logger: %v\n", err)
		os.Exit(1)
	}
	rl := logsvc.NewRollbarLogger(zl, conf).Named("admin")
	rl.Enable(!conf.Debug)
	logger = rl

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	core.ParseEmailTemplates(conf, logger)

	var settler distribution.Settler
	if conf.Settlement.GatewayURL == "" {
		settler = settlementsvc.NewDummy(logger)
	} else {
		settler, err = settlementsvc.NewGateway(conf, logger)
		errAndDie(err)
	}

	// completed distributions must drop the cached dashboard summary
	var cache analytics.Cache
	if client := cachesvc.NewRedisClient(context.Background(), conf, logger); client != nil {
		defer func() { _ = client.Close() }()
		cache = cachesvc.NewRedisCache(client)
	}

	settingsSvc := settings.NewService(sqlxrepos.NewSettingsRepository(db), conf)
	profileSvc := profile.NewService(sqlxrepos.NewProfileRepository(db))
	institutionSvc := institution.NewService(sqlxrepos.NewInstitutionRepository(db), settingsSvc)
	distributionRepo := sqlxrepos.NewDistributionRepository(db)
	analyticsSvc := analytics.NewService(sqlxrepos.NewInstitutionRepository(db), distributionRepo, cache, mailSvc, conf, logger)
	distributionSvc := distribution.NewService(
		distributionRepo, institutionSvc, settingsSvc, profileSvc,
		settler, mailSvc, logger, conf, analyticsSvc,
	)

	// start CLI
	cli := commandLine{
		db:              db,
		validate:        newValidation(),
		profileSvc:      profileSvc,
		distributionSvc: distributionSvc,
		out:             os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	rl.Sync()
	if err != nil {
		if err != errHelp {
			logger.Error("admin command failed", err)
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal("admin setup failed", err)
	}
}
