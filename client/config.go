package client

import (
	"crypto/tls"
	"time"
)

const (
	// DEFAULT_HOST is the default server host to connect to.
	DEFAULT_HOST = "localhost"

	// DEFAULT_PORT is the default server HTTP port.
	DEFAULT_PORT = 8086
)

// HTTPConfig is the config data needed to create an HTTP Client.
type HTTPConfig struct {
	// Addr should be of the form "http://host:port"
	// or "http://[ipv6-host%zone]:port".
	Addr string

	// Username is the KronosDB username, optional.
	Username string

	// Password is the KronosDB password, optional.
	Password string

	// APIKey is a per-database api key, optional. Sent as the api_key
	// query parameter when set.
	APIKey string

	// UserAgent is the http User Agent, defaults to "KronosDBClient".
	UserAgent string

	// Timeout for requests, defaults to no timeout.
	Timeout time.Duration

	// InsecureSkipVerify gets passed to the http client, if true, it will
	// skip https certificate verification. Defaults to false.
	InsecureSkipVerify bool

	// TLSConfig allows the user to set their own TLS config for the HTTP
	// Client. If set, this option overrides InsecureSkipVerify.
	TLSConfig *tls.Config
}
