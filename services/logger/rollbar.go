package logsvc

import (
	"fmt"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"

	"github.com/educhain/educhain/core"
)

// RollbarLogger writes structured logs with zap and reports them to Rollbar.
type RollbarLogger struct {
	log *zap.SugaredLogger
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewZap builds the process logger: human readable in debug, JSON otherwise.
func NewZap(conf *core.Config) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if conf.Debug {
		cfg = zap.NewDevelopmentConfig()
	}
	if conf.TestMode {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return zl.With(zap.String("app", conf.AppName), zap.String("env", conf.Env)), nil
}

func NewRollbarLogger(zl *zap.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{log: zl.Sugar()}
}

// Named returns a logger sharing the Rollbar setup whose entries carry name.
func (l RollbarLogger) Named(name string) *RollbarLogger {
	return &RollbarLogger{log: l.log.Named(name)}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

func (l RollbarLogger) Sync() {
	_ = l.log.Sync()
}

// prepare splits args into Rollbar arguments and zap key/values.
// expected fmt: msg | error, map[string]interface{}, core.Person, "key", value
func (l RollbarLogger) prepare(msg string, args []interface{}) ([]interface{}, []interface{}) {
	var personSet bool
	extras := make(map[string]interface{})
	rbArgs := []interface{}{msg}
	kvs := make([]interface{}, 0, len(args)*2)

	for i := 0; i < len(args); i++ {
		switch arg := args[i].(type) {
		case core.Person:
			if !personSet { // only set one Person
				rollbar.SetPerson(arg.ID, arg.Name, arg.Email)
				kvs = append(kvs, "person_id", arg.ID)
				personSet = true
			}
		case error:
			rbArgs = append(rbArgs, arg)
			kvs = append(kvs, zap.Error(arg))
		case map[string]interface{}:
			for k, v := range arg {
				extras[k] = v
				kvs = append(kvs, k, v)
			}
		case string:
			if i+1 < len(args) {
				extras[arg] = args[i+1]
				kvs = append(kvs, arg, args[i+1])
				i++
			} else {
				kvs = append(kvs, "detail", arg)
			}
		default:
			kvs = append(kvs, fmt.Sprintf("arg%d", i), arg)
		}
	}
	if !personSet {
		rollbar.ClearPerson()
	}
	if len(extras) > 0 {
		rbArgs = append(rbArgs, extras)
	}
	return rbArgs, kvs
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rbArgs, kvs := l.prepare(msg, args)
	rollbar.Debug(rbArgs...)
	l.log.Debugw(msg, kvs...)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rbArgs, kvs := l.prepare(msg, args)
	rollbar.Info(rbArgs...)
	l.log.Infow(msg, kvs...)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rbArgs, kvs := l.prepare(msg, args)
	rollbar.Warning(rbArgs...)
	l.log.Warnw(msg, kvs...)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rbArgs, kvs := l.prepare(msg, args)
	rollbar.Error(rbArgs...)
	l.log.Errorw(msg, kvs...)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rbArgs, kvs := l.prepare(msg, args)
	rollbar.Critical(rbArgs...)
	rollbar.Wait()
	l.log.Fatalw(msg, kvs...)
}
