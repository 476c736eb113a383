package continuous_querier

import (
	"github.com/pkg/errors"

	"github.com/kronosdb/kronosdb/pkg/toml"
)

// DefaultRunInterval is how often registered queries are checked.
const DefaultRunInterval = toml.Duration(1e9)

// Config holds the continuous query service configuration.
type Config struct {
	Enabled     bool          `toml:"enabled"`
	RunInterval toml.Duration `toml:"run-interval"`
}

// NewConfig returns the default continuous query configuration.
func NewConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: DefaultRunInterval,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RunInterval <= 0 {
		return errors.New("continuous query run-interval must be positive")
	}
	return nil
}
