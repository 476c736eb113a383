package meta

// Config represents the meta configuration.
type Config struct {
	// Dir is where the metadata snapshot is stored.
	Dir string `toml:"dir"`
}

// NewConfig builds a new configuration with default values.
func NewConfig() *Config {
	return &Config{}
}
