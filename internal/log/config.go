package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileConfig configures file-based log output.
type FileConfig struct {
	// Log filename, leave empty to log to stderr.
	Filename string `toml:"filename"`
}

// Config configures the global zap logger.
type Config struct {
	// Log level.
	Level string `toml:"level"`
	// Log format. One of json, text, or console.
	Format string `toml:"format"`
	// Disable automatic timestamps in output.
	DisableTimestamp bool `toml:"disable-timestamp"`
	// File log config.
	File FileConfig `toml:"file"`
	// Development puts the logger in development mode, which changes the
	// behavior of DPanicLevel and takes stacktraces more liberally.
	Development bool `toml:"development"`
	// DisableCaller stops annotating logs with the calling function's file
	// name and line number. By default, all logs are annotated.
	DisableCaller bool `toml:"disable-caller"`
	// DisableStacktrace completely disables automatic stacktrace capturing.
	DisableStacktrace bool `toml:"disable-stacktrace"`
}

func (cfg *Config) buildEncoder() zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	if cfg.DisableTimestamp {
		ec.TimeKey = ""
	}
	switch cfg.Format {
	case "json":
		return zapcore.NewJSONEncoder(ec)
	default: // "text", "console"
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
}

func (cfg *Config) buildOptions(errSink zapcore.WriteSyncer) []zap.Option {
	opts := []zap.Option{zap.ErrorOutput(errSink)}

	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	if !cfg.DisableCaller {
		opts = append(opts, zap.AddCaller())
	}

	stackLevel := zap.ErrorLevel
	if cfg.Development {
		stackLevel = zap.WarnLevel
	}
	if !cfg.DisableStacktrace {
		opts = append(opts, zap.AddStacktrace(stackLevel))
	}

	return opts
}
