package logsvc

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
)

// ZapLogger is a structured core.Logger.
// args are turned into fields: errors as `error`, maps key by key, a matrix.Node as `user`.
type ZapLogger struct {
	log *zap.Logger
}

var _ core.Logger = (*ZapLogger)(nil)

func NewZapLogger(name string, debug bool) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, errors.Wrap(err, "building zap logger")
	}
	return &ZapLogger{log: l.Named(name)}, nil
}

// WrapZap adapts an existing zap logger (eg. one built by zaptest).
func WrapZap(l *zap.Logger) *ZapLogger {
	return &ZapLogger{log: l}
}

func (l *ZapLogger) Sync() error { return l.log.Sync() }

func fields(args []interface{}) []zap.Field {
	fs := make([]zap.Field, 0, len(args))
	var nerr int
	for i, arg := range args {
		switch v := arg.(type) {
		case nil:
		case error:
			if nerr == 0 {
				fs = append(fs, zap.Error(v))
			} else {
				fs = append(fs, zap.NamedError(fmt.Sprintf("error%d", nerr), v))
			}
			nerr++
		case map[string]interface{}:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fs = append(fs, zap.Any(k, v[k]))
			}
		case matrix.Node:
			fs = append(fs, zap.String("user", v.UserID), zap.String("path", v.Path))
		default:
			fs = append(fs, zap.Any(fmt.Sprintf("arg%d", i), v))
		}
	}
	return fs
}

func (l *ZapLogger) Debug(msg string, args ...interface{}) { l.log.Debug(msg, fields(args)...) }
func (l *ZapLogger) Info(msg string, args ...interface{})  { l.log.Info(msg, fields(args)...) }
func (l *ZapLogger) Warn(msg string, args ...interface{})  { l.log.Warn(msg, fields(args)...) }
func (l *ZapLogger) Error(msg string, args ...interface{}) { l.log.Error(msg, fields(args)...) }
func (l *ZapLogger) Fatal(msg string, args ...interface{}) { l.log.Fatal(msg, fields(args)...) }

// NopLogger discards everything.
type NopLogger struct{}

var _ core.Logger = NopLogger{}

func NewNopLogger() NopLogger { return NopLogger{} }

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}
