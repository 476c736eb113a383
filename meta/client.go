// Package meta provides control over meta data for KronosDB, such as
// databases, api keys, users and continuous queries.
package meta

import (
	"bytes"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	// SaltBytes is the number of bytes used for salts in the auth cache.
	SaltBytes = 32

	metaFile = "meta.db"

	// bcryptCost is lower than the bcrypt default to keep authenticated
	// request latency reasonable; the auth cache below absorbs repeats.
	bcryptCost = 10
)

type authUser struct {
	bhash string
	salt  []byte
	hash  []byte
}

// Client manages the metadata for a single node and persists it as a
// snapshot under the configured directory.
type Client struct {
	mu   sync.RWMutex
	path string
	data *Data

	// Authentication cache.
	authCache map[string]authUser

	logger *zap.Logger
}

// NewClient returns a new Client instance.
func NewClient(config *Config) *Client {
	return &Client{
		path:      config.Dir,
		data:      &Data{},
		authCache: make(map[string]authUser),
		logger:    zap.NewNop(),
	}
}

// Open loads the metadata snapshot if one exists.
func (c *Client) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path != "" {
		if err := os.MkdirAll(c.path, 0777); err != nil {
			return errors.Wrap(err, "mkdir meta dir")
		}
	}
	return c.load()
}

// Close closes the client.
func (c *Client) Close() error {
	return nil
}

// WithLogger sets the logger on the client.
func (c *Client) WithLogger(log *zap.Logger) {
	c.logger = log.With(zap.String("service", "metaclient"))
}

// Database returns a copy of the named database's info, or nil.
func (c *Client) Database(name string) *DatabaseInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if di := c.data.Database(name); di != nil {
		clone := di.clone()
		return &clone
	}
	return nil
}

// Databases returns a copy of all database infos.
func (c *Client) Databases() []DatabaseInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dbs := make([]DatabaseInfo, len(c.data.Databases))
	for i := range c.data.Databases {
		dbs[i] = c.data.Databases[i].clone()
	}
	return dbs
}

// CreateDatabase creates a database and persists the change.
func (c *Client) CreateDatabase(name string) (*DatabaseInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.data.CreateDatabase(name); err != nil {
		return nil, err
	}
	if err := c.commit(); err != nil {
		return nil, err
	}
	clone := c.data.Database(name).clone()
	return &clone, nil
}

// DropDatabase removes a database. Dropping an unknown database returns
// ErrDatabaseNotExists so callers can 404.
func (c *Client) DropDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data.Database(name) == nil {
		return ErrDatabaseNotExists
	}
	c.data.DropDatabase(name)
	return c.commit()
}

// CreateKey adds an api key to a database.
func (c *Client) CreateKey(database string, key KeyInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.data.CreateKey(database, key); err != nil {
		return err
	}
	return c.commit()
}

// DropKey removes an api key from a database.
func (c *Client) DropKey(database, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.data.DropKey(database, name); err != nil {
		return err
	}
	return c.commit()
}

// Key returns the named api key of a database, or nil.
func (c *Client) Key(database, name string) *KeyInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	di := c.data.Database(database)
	if di == nil {
		return nil
	}
	if k := di.Key(name); k != nil {
		clone := *k
		return &clone
	}
	return nil
}

// CreateContinuousQuery registers a continuous query and returns its id.
func (c *Client) CreateContinuousQuery(database, query string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.data.CreateContinuousQuery(database, query)
	if err != nil {
		return 0, err
	}
	return id, c.commit()
}

// DropContinuousQuery removes a continuous query by id.
func (c *Client) DropContinuousQuery(database string, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.data.DropContinuousQuery(database, id); err != nil {
		return err
	}
	return c.commit()
}

// ContinuousQueries returns the continuous queries of a database.
func (c *Client) ContinuousQueries(database string) []ContinuousQueryInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	di := c.data.Database(database)
	if di == nil {
		return nil
	}
	cqs := make([]ContinuousQueryInfo, len(di.ContinuousQueries))
	copy(cqs, di.ContinuousQueries)
	return cqs
}

// SetContinuousQueryLastRun records the end of the last evaluated window.
func (c *Client) SetContinuousQueryLastRun(database string, id uint64, lastRun int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	di := c.data.Database(database)
	if di == nil {
		return ErrDatabaseNotExists
	}
	cq := di.ContinuousQuery(id)
	if cq == nil {
		return ErrContinuousQueryNotFound
	}
	cq.LastRun = lastRun
	return c.commit()
}

// CreateUser creates a user with a bcrypt-hashed password.
func (c *Client) CreateUser(name, password string, admin bool) (User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, err
	}
	if err := c.data.CreateUser(name, string(hash), admin); err != nil {
		return nil, err
	}
	if err := c.commit(); err != nil {
		return nil, err
	}
	return c.data.user(name), nil
}

// DropUser removes a user.
func (c *Client) DropUser(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.data.DropUser(name); err != nil {
		return err
	}
	delete(c.authCache, name)
	return c.commit()
}

// User returns a user by name.
func (c *Client) User(name string) (User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u := c.data.user(name)
	if u == nil {
		return nil, ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

// Users returns all users.
func (c *Client) Users() []UserInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a := make([]UserInfo, len(c.data.Users))
	copy(a, c.data.Users)
	return a
}

// UserCount returns the number of users.
func (c *Client) UserCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data.Users)
}

// AdminUserExists reports whether at least one admin user exists.
func (c *Client) AdminUserExists() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.data.Users {
		if c.data.Users[i].Admin {
			return true
		}
	}
	return false
}

// Authenticate checks a username/password pair against the stored
// bcrypt hash. A salted SHA256 cache short-circuits the bcrypt work for
// repeated requests with the same credentials.
func (c *Client) Authenticate(username, password string) (User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.data.user(username)
	if u == nil {
		return nil, ErrUserNotFound
	}

	if au, ok := c.authCache[username]; ok && au.bhash == u.Hash {
		salted := sha256.Sum256(append(append([]byte(nil), au.salt...), password...))
		if bytes.Equal(salted[:], au.hash) {
			clone := *u
			return &clone, nil
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)); err != nil {
		return nil, ErrAuthenticate
	}

	salt := make([]byte, SaltBytes)
	if _, err := crand.Read(salt); err == nil {
		salted := sha256.Sum256(append(append([]byte(nil), salt...), password...))
		c.authCache[username] = authUser{bhash: u.Hash, salt: salt, hash: salted[:]}
	}

	clone := *u
	return &clone, nil
}

// Data returns a deep copy of the metadata.
func (c *Client) Data() Data {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.data.Clone()
}

// commit bumps the index and writes the snapshot. Callers must hold mu.
func (c *Client) commit() error {
	c.data.Index++
	return c.snapshot()
}

// snapshot persists the metadata, writing a temp file and renaming it
// into place so a crash never leaves a torn snapshot.
func (c *Client) snapshot() error {
	if c.path == "" {
		return nil
	}

	file := filepath.Join(c.path, metaFile)
	tmpFile := file + "tmp"

	b, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal meta snapshot")
	}
	if err := ioutil.WriteFile(tmpFile, b, 0666); err != nil {
		return errors.Wrap(err, "write meta snapshot")
	}
	return os.Rename(tmpFile, file)
}

// load reads the latest snapshot from disk, if any. Callers must hold mu.
func (c *Client) load() error {
	if c.path == "" {
		return nil
	}

	file := filepath.Join(c.path, metaFile)
	b, err := ioutil.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read meta snapshot")
	}

	data := &Data{}
	if err := json.Unmarshal(b, data); err != nil {
		return errors.Wrap(err, "unmarshal meta snapshot")
	}
	c.data = data
	return nil
}
