package server

import (
	"bytes"
	"regexp"
	"strconv"

	"github.com/pkg/errors"

	"github.com/kronosdb/kronosdb/pkg/toml"
)

const (
	// DefaultBindAddress is the default address of the HTTP API.
	DefaultBindAddress = ":8086"

	// DefaultRealm is sent back when issuing a basic auth challenge.
	DefaultRealm = "KronosDB"

	// DefaultMaxBodySize is the default maximum size of a client
	// request body, in bytes. Zero means no limit.
	DefaultMaxBodySize = 25e6

	// DefaultEnqueuedWriteTimeout is the maximum time a throttled
	// write can wait to be processed.
	DefaultEnqueuedWriteTimeout = toml.Duration(30e9)
)

// HTTPConfig holds the settings of the HTTP API service.
type HTTPConfig struct {
	BindAddress             string         `toml:"bind-address"`
	AuthEnabled             bool           `toml:"auth-enabled"`
	LogEnabled              bool           `toml:"log-enabled"`
	WriteTracing            bool           `toml:"write-tracing"`
	SharedSecret            string         `toml:"shared-secret"`
	Realm                   string         `toml:"realm"`
	MaxBodySize             int            `toml:"max-body-size"`
	MaxRowLimit             int            `toml:"max-row-limit"`
	AccessLogPath           string         `toml:"access-log-path"`
	AccessLogStatusFilters  []StatusFilter `toml:"access-log-status-filters"`
	MaxConcurrentWriteLimit int            `toml:"max-concurrent-write-limit"`
	MaxEnqueuedWriteLimit   int            `toml:"max-enqueued-write-limit"`
	EnqueuedWriteTimeout    toml.Duration  `toml:"enqueued-write-timeout"`
}

// NewHTTPConfig returns the default HTTP API configuration.
func NewHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BindAddress:          DefaultBindAddress,
		LogEnabled:           true,
		Realm:                DefaultRealm,
		MaxBodySize:          DefaultMaxBodySize,
		EnqueuedWriteTimeout: DefaultEnqueuedWriteTimeout,
	}
}

// StatusFilter matches HTTP status codes by pattern; "4XX" matches
// every client error, "404" exactly one code.
type StatusFilter struct {
	base    int
	divisor int
}

var reStatusFilter = regexp.MustCompile(`^([1-5]\d*)([xX]*)$`)

// ParseStatusFilter parses a three character status pattern.
func ParseStatusFilter(s string) (StatusFilter, error) {
	m := reStatusFilter.FindStringSubmatch(s)
	if m == nil {
		return StatusFilter{}, errors.New("status filter must be a digit that starts with 1-5 optionally followed by X characters")
	} else if len(s) != 3 {
		return StatusFilter{}, errors.New("status filter must be exactly 3 characters long")
	}

	base, err := strconv.Atoi(m[1])
	if err != nil {
		return StatusFilter{}, err
	}

	divisor := 1
	switch len(m[2]) {
	case 1:
		divisor = 10
	case 2:
		divisor = 100
	}
	return StatusFilter{base: base, divisor: divisor}, nil
}

// Match reports whether the status code matches this filter.
func (sf StatusFilter) Match(statusCode int) bool {
	if sf.divisor == 0 {
		return false
	}
	return statusCode/sf.divisor == sf.base
}

// UnmarshalText parses a TOML status filter value.
func (sf *StatusFilter) UnmarshalText(text []byte) error {
	f, err := ParseStatusFilter(string(text))
	if err != nil {
		return err
	}
	*sf = f
	return nil
}

// MarshalText writes the filter back in its pattern form.
func (sf StatusFilter) MarshalText() (text []byte, err error) {
	var buf bytes.Buffer
	if sf.base != 0 {
		buf.WriteString(strconv.Itoa(sf.base))
	}

	switch sf.divisor {
	case 1:
	case 10:
		buf.WriteString("X")
	case 100:
		buf.WriteString("XX")
	default:
		return nil, errors.New("invalid status filter")
	}
	return buf.Bytes(), nil
}

// StatusFilters is a list of filters; an empty list matches everything.
type StatusFilters []StatusFilter

// Match reports whether any filter matches the status code.
func (filters StatusFilters) Match(statusCode int) bool {
	if len(filters) == 0 {
		return true
	}
	for _, sf := range filters {
		if sf.Match(statusCode) {
			return true
		}
	}
	return false
}
