// Package log owns the process-wide zap logger. Packages reach it
// through pkg/logger rather than importing this directly.
package log

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Properties exposes the pieces of an initialized logger that can be
// adjusted after installation.
type Properties struct {
	Core  zapcore.Core
	Level zap.AtomicLevel
}

// global guards the shared logger and its properties together.
var global = struct {
	sync.RWMutex
	logger *zap.Logger
	props  *Properties
}{logger: zap.NewNop()}

// InitLogger builds a zap logger from cfg. The caller decides whether
// to install it with ReplaceGlobals.
func InitLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, *Properties, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}

	sink := zapcore.AddSync(os.Stderr)
	if cfg.File.Filename != "" {
		f, err := os.OpenFile(cfg.File.Filename, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open log file")
		}
		sink = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(cfg.buildEncoder(), sink, level)
	lg := zap.New(core, append(cfg.buildOptions(sink), opts...)...)
	return lg, &Properties{Core: core, Level: level}, nil
}

// ReplaceGlobals installs logger as the process-wide logger.
func ReplaceGlobals(logger *zap.Logger, props *Properties) {
	global.Lock()
	global.logger = logger
	global.props = props
	global.Unlock()
}

// L returns the process-wide logger.
func L() *zap.Logger {
	global.RLock()
	defer global.RUnlock()
	return global.logger
}

// SetLevel adjusts the level of the process-wide logger.
func SetLevel(level zapcore.Level) {
	global.RLock()
	defer global.RUnlock()
	if global.props != nil {
		global.props.Level.SetLevel(level)
	}
}
