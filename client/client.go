// Package client is an HTTP client for the KronosDB API.
package client

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/pkg/errors"

	"github.com/kronosdb/kronosdb/models"
)

// Query defines a query to send to the server.
type Query struct {
	Command   string
	Database  string
	Precision string
}

// Batch is one entry of a write request: a series plus its points.
// Each point is [time, value, extra values...].
type Batch struct {
	Series       string          `json:"series"`
	ExtraColumns []string        `json:"extra_columns,omitempty"`
	Points       [][]interface{} `json:"points"`
}

// Key is a database api key.
type Key struct {
	Name  string `json:"name"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

// Response is a query response: rows on success, Err otherwise.
type Response struct {
	Rows []models.Row
	Err  string
}

// Error returns the response error, if any.
func (r *Response) Error() error {
	if r.Err != "" {
		return errors.New(r.Err)
	}
	return nil
}

// Client abstracts the HTTP API.
type Client interface {
	// Ping checks server connectivity, returning the latency and the
	// server version.
	Ping(timeout time.Duration) (time.Duration, string, error)

	// Query sends a query and returns the parsed response.
	Query(q Query) (*Response, error)

	// WritePoints writes batches of points to a database. Timestamps
	// are in the given precision ("s", "ms" or "u"; "" means ms).
	WritePoints(database string, batches []Batch, precision string) error

	// ListDatabases returns the database names.
	ListDatabases() ([]string, error)

	// CreateDatabase creates a database.
	CreateDatabase(name string) error

	// DropDatabase removes a database and its data.
	DropDatabase(name string) error

	// ListKeys returns a database's api keys.
	ListKeys(database string) ([]Key, error)

	// CreateKey adds an api key to a database.
	CreateKey(database string, key Key) error

	// DropKey removes an api key from a database.
	DropKey(database, name string) error

	// Close releases the client's resources.
	Close() error
}

// NewHTTPClient returns a Client connecting over HTTP(S).
func NewHTTPClient(conf HTTPConfig) (Client, error) {
	if conf.UserAgent == "" {
		conf.UserAgent = "KronosDBClient"
	}
	u, err := url.Parse(conf.Addr)
	if err != nil {
		return nil, err
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported protocol scheme %q, your address must start with http:// or https://", u.Scheme)
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: conf.InsecureSkipVerify,
		},
	}
	if conf.TLSConfig != nil {
		tr.TLSClientConfig = conf.TLSConfig
	}

	return &httpClient{
		url:       *u,
		config:    conf,
		transport: tr,
		client: &http.Client{
			Timeout:   conf.Timeout,
			Transport: tr,
		},
	}, nil
}

type httpClient struct {
	url       url.URL
	config    HTTPConfig
	client    *http.Client
	transport *http.Transport
}

func (c *httpClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func (c *httpClient) Ping(timeout time.Duration) (time.Duration, string, error) {
	now := time.Now()

	u := c.url
	u.Path = path.Join(u.Path, "ping")
	q := u.Query()
	q.Set("verbose", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, "", err
	}
	c.setAuth(req)

	cl := c.client
	if timeout > 0 {
		cl = &http.Client{Timeout: timeout, Transport: c.transport}
	}
	resp, err := cl.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return 0, "", errors.Errorf("ping failed: %s", string(body))
	}

	var v struct {
		Version string `json:"version"`
	}
	_ = json.Unmarshal(body, &v)

	return time.Since(now), v.Version, nil
}

func (c *httpClient) Query(q Query) (*Response, error) {
	u := c.url
	u.Path = path.Join(u.Path, "db", q.Database, "series")

	params := u.Query()
	params.Set("q", q.Command)
	if q.Precision != "" {
		params.Set("time_precision", q.Precision)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	response := &Response{}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Err string `json:"error"`
		}
		if err := json.Unmarshal(body, &e); err != nil || e.Err == "" {
			return nil, errors.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}
		response.Err = e.Err
		return response, nil
	}

	if err := json.Unmarshal(body, &response.Rows); err != nil {
		return nil, errors.Wrap(err, "decode query response")
	}
	return response, nil
}

func (c *httpClient) WritePoints(database string, batches []Batch, precision string) error {
	u := c.url
	u.Path = path.Join(u.Path, "db", database, "points")
	if precision != "" {
		params := u.Query()
		params.Set("time_precision", precision)
		u.RawQuery = params.Encode()
	}

	b, err := json.Marshal(batches)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	return c.do(req, http.StatusOK)
}

func (c *httpClient) ListDatabases() ([]string, error) {
	u := c.url
	u.Path = path.Join(u.Path, "db")

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var dbs []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dbs); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(dbs))
	for _, db := range dbs {
		names = append(names, db.Name)
	}
	return names, nil
}

func (c *httpClient) CreateDatabase(name string) error {
	u := c.url
	u.Path = path.Join(u.Path, "db")

	b, _ := json.Marshal(map[string]string{"name": name})
	req, err := http.NewRequest(http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	return c.do(req, http.StatusCreated)
}

func (c *httpClient) DropDatabase(name string) error {
	u := c.url
	u.Path = path.Join(u.Path, "db", name)

	req, err := http.NewRequest(http.MethodDelete, u.String(), nil)
	if err != nil {
		return err
	}
	c.setAuth(req)

	return c.do(req, http.StatusNoContent)
}

func (c *httpClient) ListKeys(database string) ([]Key, error) {
	u := c.url
	u.Path = path.Join(u.Path, "db", database, "keys")

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var keys []Key
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *httpClient) CreateKey(database string, key Key) error {
	u := c.url
	u.Path = path.Join(u.Path, "db", database, "keys")

	b, _ := json.Marshal(key)
	req, err := http.NewRequest(http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	return c.do(req, http.StatusCreated)
}

func (c *httpClient) DropKey(database, name string) error {
	u := c.url
	u.Path = path.Join(u.Path, "db", database, "keys", name)

	req, err := http.NewRequest(http.MethodDelete, u.String(), nil)
	if err != nil {
		return err
	}
	c.setAuth(req)

	return c.do(req, http.StatusNoContent)
}

func (c *httpClient) setAuth(req *http.Request) {
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}
	if c.config.APIKey != "" {
		q := req.URL.Query()
		q.Set("api_key", c.config.APIKey)
		req.URL.RawQuery = q.Encode()
	}
}

func (c *httpClient) do(req *http.Request, wantStatus int) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return readError(resp)
	}
	return nil
}

// readError decodes an error response body.
func readError(resp *http.Response) error {
	body, _ := ioutil.ReadAll(resp.Body)
	var e struct {
		Err string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Err != "" {
		return errors.New(e.Err)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
}
