package tsdb

import (
	"github.com/kronosdb/kronosdb/pkg/toml"
)

// Config holds the storage engine configuration.
type Config struct {
	// Dir is the root directory holding one subdirectory per database.
	Dir string `toml:"dir"`

	// WALFsyncDelay batches fsync calls; zero syncs on every write.
	WALFsyncDelay toml.Duration `toml:"wal-fsync-delay"`

	// TraceLoggingEnabled turns on verbose write logging.
	TraceLoggingEnabled bool `toml:"trace-logging-enabled"`
}

// NewConfig returns the default storage engine configuration.
func NewConfig() Config {
	return Config{}
}
