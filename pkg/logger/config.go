package logger

import (
	"github.com/kronosdb/kronosdb/internal/log"
)

const (
	// DefaultLogFormat is the default format of the log.
	DefaultLogFormat = "text"
	DefaultLogLevel  = "INFO"
)

// Config wraps the low-level log configuration.
type Config struct {
	log.Config
}

// NewDefaultLogConfig returns a Config with reasonable defaults.
func NewDefaultLogConfig() *Config {
	return &Config{
		Config: log.Config{
			Level:            DefaultLogLevel,
			Format:           DefaultLogFormat,
			DisableTimestamp: false,
			File:             log.FileConfig{},
		},
	}
}
