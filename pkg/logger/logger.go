package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/kronosdb/kronosdb/internal/log"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitZapLogger initializes the global zap logger with cfg.
func InitZapLogger(cfg *Config) error {
	gl, props, err := log.InitLogger(&cfg.Config, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return errors.Unwrap(err)
	}
	log.ReplaceGlobals(gl, props)

	return nil
}

// SetLevel sets the zap logger's level.
func SetLevel(level string) error {
	l := zap.NewAtomicLevel()
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return errors.Unwrap(err)
	}
	log.SetLevel(l.Level())
	return nil
}

type ctxLogKeyType struct{}

var ctxLogKey = ctxLogKeyType{}

// Logger gets a contextual logger from the current context.
// The contextual logger will output common fields from the context.
func Logger(ctx context.Context) *zap.Logger {
	if ctxlogger, ok := ctx.Value(ctxLogKey).(*zap.Logger); ok {
		return ctxlogger
	}
	return log.L()
}

// BgLogger returns the global background logger.
func BgLogger() *zap.Logger {
	return log.L()
}

// L is shorthand for BgLogger.
func L() *zap.Logger {
	return log.L()
}

// WithKeyValue attaches key/value to the context's logger.
func WithKeyValue(ctx context.Context, key, value string) context.Context {
	var logger *zap.Logger
	if ctxLogger, ok := ctx.Value(ctxLogKey).(*zap.Logger); ok {
		logger = ctxLogger
	} else {
		logger = log.L()
	}
	return context.WithValue(ctx, ctxLogKey, logger.With(zap.String(key, value)))
}

// Info logs on the global logger at info level.
func Info(msg string, fields ...zap.Field) {
	log.L().Info(msg, fields...)
}

// Error logs on the global logger at error level.
func Error(msg string, fields ...zap.Field) {
	log.L().Error(msg, fields...)
}

// Database returns a field for the database name.
func Database(name string) zap.Field {
	return zap.String("db", name)
}

// Series returns a field for a series name.
func Series(name string) zap.Field {
	return zap.String("series", name)
}

// Query returns a field for a query string.
func Query(q string) zap.Field {
	return zap.String("query", q)
}

// DurationLiteral returns a field formatting d as a literal such as 10s.
func DurationLiteral(key string, d time.Duration) zap.Field {
	return zap.String(key, d.String())
}

// NewOperation starts an instrumented operation: it logs a start message
// immediately and returns a function logging the end with elapsed time.
func NewOperation(l *zap.Logger, msg, name string, fields ...zap.Field) (*zap.Logger, func()) {
	ol := l.With(zap.String("op_name", name))
	ol.Info(msg+" (start)", fields...)
	start := time.Now()
	return ol, func() {
		ol.Info(fmt.Sprintf("%s (end)", msg), zap.String("op_elapsed", time.Since(start).String()))
	}
}
