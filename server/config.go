package server

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/kronosdb/kronosdb/meta"
	"github.com/kronosdb/kronosdb/pkg/logger"
	itoml "github.com/kronosdb/kronosdb/pkg/toml"
	"github.com/kronosdb/kronosdb/server/continuous_querier"
	"github.com/kronosdb/kronosdb/tsdb"
)

const (
	// DefaultTCPBindAddress is the default address for the TCP services
	// (snapshot backups).
	DefaultTCPBindAddress = "127.0.0.1:8088"
)

type Config struct {
	// BindAddress is the address that all TCP services use.
	BindAddress string `toml:"bind-address"`

	Meta *meta.Config `toml:"meta"`
	Data tsdb.Config  `toml:"data"`

	HTTPD           HTTPConfig                `toml:"http"`
	Log             *logger.Config            `toml:"log"`
	ContinuousQuery continuous_querier.Config `toml:"continuous-queries"`
}

// NewConfig returns an instance of Config with reasonable defaults.
func NewConfig() *Config {
	c := &Config{}
	c.BindAddress = DefaultTCPBindAddress
	c.Meta = meta.NewConfig()
	c.Data = tsdb.NewConfig()
	c.HTTPD = NewHTTPConfig()
	c.Log = logger.NewDefaultLogConfig()
	c.ContinuousQuery = continuous_querier.NewConfig()
	return c
}

// NewDemoConfig returns the config that runs when no config is specified.
func NewDemoConfig() (*Config, error) {
	c := NewConfig()

	var homeDir string
	// By default, store meta and data files in current users home directory
	u, err := user.Current()
	if err == nil {
		homeDir = u.HomeDir
	} else if os.Getenv("HOME") != "" {
		homeDir = os.Getenv("HOME")
	} else {
		return nil, fmt.Errorf("failed to determine current user for storage")
	}

	c.Meta.Dir = filepath.Join(homeDir, ".kronosdb/meta")
	c.Data.Dir = filepath.Join(homeDir, ".kronosdb/data")

	return c, nil
}

// FromTomlFile loads the config from a TOML file.
func (c *Config) FromTomlFile(fpath string) error {
	bs, err := ioutil.ReadFile(fpath)
	if err != nil {
		return err
	}

	// Handle any potential Byte-Order-Marks that may be in the config file.
	// This is for Windows compatibility only.
	bom := unicode.BOMOverride(transform.Nop)
	bs, _, err = transform.Bytes(bom, bs)
	if err != nil {
		return err
	}
	return c.FromToml(string(bs))
}

// FromToml loads the config from TOML.
func (c *Config) FromToml(input string) error {
	_, err := toml.Decode(input, c)
	return err
}

// Validate returns an error if the config is invalid.
func (c *Config) Validate() error {
	if c.Meta.Dir == "" {
		return fmt.Errorf("meta.dir must be specified")
	}

	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir must be specified")
	}

	if err := c.ContinuousQuery.Validate(); err != nil {
		return err
	}

	return nil
}

// ApplyEnvOverrides applies the environment configuration on top of the config.
func (c *Config) ApplyEnvOverrides(getenv func(string) string) error {
	return itoml.ApplyEnvOverrides(getenv, "KRONOSDB", c)
}
