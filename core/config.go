package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		DisableReqLogs            bool
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MaxOpenConns  int
		MaxIdleConns  int
		MaxIdleTime   time.Duration
	}

	RedisConfig struct {
		Addr         string
		Password     string
		DB           int
		AnalyticsTTL time.Duration
	}

	SettlementConfig struct {
		GatewayURL           string
		APIKey               string
		SourceWallet         string
		Timeout              time.Duration
		MaxRetries           int
		RetryInitialInterval time.Duration
		ReconcileSchedule    string
	}

	// FundingDefaults are the funding policy values used when no foundation setting overrides them.
	FundingDefaults struct {
		MinEligibilityScore    int
		AutoApprovalCeiling    decimal.Decimal
		AutoApprovalScoreFloor int
		MaxDistributionAmount  decimal.Decimal
		PeriodPool             decimal.Decimal
		InstallmentsPerCycle   int
		TrainingHoursTarget    float64
		WeightAttendance       int
		WeightNutrition        int
		WeightTraining         int
		WeightCommunity        int
	}

	Config struct {
		AppName         string
		Env             string
		Build           string
		Debug           bool
		TestMode        bool
		SecretKey       string
		FrontendBaseURL string
		WorkDir         string
		RollbarToken    string
		SendgridApiKey  string
		Locale          string

		Server     ServerConfig
		Database   DatabaseConfig
		Redis      RedisConfig
		Settlement SettlementConfig
		Funding    FundingDefaults

		defaultFromEmail string
	}
)

func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, dc.Port)
}

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	return *addr
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("appName", "EduChain")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "t7w!q2-funds$9x=educhain&r3v8(m)#k0p^lz4c")
	v.SetDefault("frontendBaseURL", "http://localhost:5173")
	v.SetDefault("defaultFromEmail", "EduChain <noreply@localhost>")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("locale", "pt-BR")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.disableReqLogs", false)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "educhain")
	v.SetDefault("database.user", "educhain")
	v.SetDefault("database.password", "educhain")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 25)
	v.SetDefault("database.maxIdleTime", 15*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.analyticsTTL", 5*time.Minute)

	v.SetDefault("settlement.gatewayURL", "")
	v.SetDefault("settlement.apiKey", "")
	v.SetDefault("settlement.sourceWallet", "")
	v.SetDefault("settlement.timeout", 30*time.Second)
	v.SetDefault("settlement.maxRetries", 3)
	v.SetDefault("settlement.retryInitialInterval", 500*time.Millisecond)
	v.SetDefault("settlement.reconcileSchedule", "@every 5m")

	v.SetDefault("funding.minEligibilityScore", 60)
	v.SetDefault("funding.autoApprovalCeiling", "5000")
	v.SetDefault("funding.autoApprovalScoreFloor", 80)
	v.SetDefault("funding.maxDistributionAmount", "50000")
	v.SetDefault("funding.periodPool", "250000")
	v.SetDefault("funding.installmentsPerCycle", 10)
	v.SetDefault("funding.trainingHoursTarget", 20.0)
	v.SetDefault("funding.weightAttendance", 25)
	v.SetDefault("funding.weightNutrition", 20)
	v.SetDefault("funding.weightTraining", 15)
	v.SetDefault("funding.weightCommunity", 40)
}

// NewConfig reads the configuration from defaults, the optional `config/.env.<env>` file and the environment.
// Environment variables are prefixed with the value of ENV, e.g. PROD_DATABASE_HOST.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:          v.GetString("appName"),
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		WorkDir:          wd,
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		Locale:           v.GetString("locale"),
		defaultFromEmail: v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			DisableReqLogs:            v.GetBool("server.disableReqLogs"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			MaxOpenConns:  v.GetInt("database.maxOpenConns"),
			MaxIdleConns:  v.GetInt("database.maxIdleConns"),
			MaxIdleTime:   v.GetDuration("database.maxIdleTime"),
		},
		Redis: RedisConfig{
			Addr:         v.GetString("redis.addr"),
			Password:     v.GetString("redis.password"),
			DB:           v.GetInt("redis.db"),
			AnalyticsTTL: v.GetDuration("redis.analyticsTTL"),
		},
		Settlement: SettlementConfig{
			GatewayURL:           v.GetString("settlement.gatewayURL"),
			APIKey:               v.GetString("settlement.apiKey"),
			SourceWallet:         v.GetString("settlement.sourceWallet"),
			Timeout:              v.GetDuration("settlement.timeout"),
			MaxRetries:           v.GetInt("settlement.maxRetries"),
			RetryInitialInterval: v.GetDuration("settlement.retryInitialInterval"),
			ReconcileSchedule:    v.GetString("settlement.reconcileSchedule"),
		},
		Funding: FundingDefaults{
			MinEligibilityScore:    v.GetInt("funding.minEligibilityScore"),
			AutoApprovalCeiling:    mustDecimal(v, "funding.autoApprovalCeiling"),
			AutoApprovalScoreFloor: v.GetInt("funding.autoApprovalScoreFloor"),
			MaxDistributionAmount:  mustDecimal(v, "funding.maxDistributionAmount"),
			PeriodPool:             mustDecimal(v, "funding.periodPool"),
			InstallmentsPerCycle:   v.GetInt("funding.installmentsPerCycle"),
			TrainingHoursTarget:    v.GetFloat64("funding.trainingHoursTarget"),
			WeightAttendance:       v.GetInt("funding.weightAttendance"),
			WeightNutrition:        v.GetInt("funding.weightNutrition"),
			WeightTraining:         v.GetInt("funding.weightTraining"),
			WeightCommunity:        v.GetInt("funding.weightCommunity"),
		},
	}
}

func mustDecimal(v *viper.Viper, key string) decimal.Decimal {
	d, err := decimal.NewFromString(v.GetString(key))
	if err != nil {
		log.Fatalf("config.%s: %v", key, err)
	}
	return d
}

// NewTestConfig returns the configuration used by tests: debug off, test mode on and no external services.
func NewTestConfig() *Config {
	_ = os.Setenv("ENV", "TEST")
	conf := NewConfig()
	conf.Debug = false
	conf.TestMode = true
	conf.Server.DisableReqLogs = true
	conf.Redis.Addr = ""
	conf.Settlement.GatewayURL = ""
	return conf
}
