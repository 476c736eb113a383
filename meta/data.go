package meta

import (
	"strings"
)

const (
	// MaxNameLen is the maximum length of a database name.
	// The name doubles as the on-disk directory name.
	MaxNameLen = 255
)

// Data is the top level collection of all metadata.
type Data struct {
	Index     uint64         `json:"index"`
	Databases []DatabaseInfo `json:"databases"`
	Users     []UserInfo     `json:"users"`
}

// DatabaseInfo holds metadata for a single database.
type DatabaseInfo struct {
	Name              string                `json:"name"`
	Keys              []KeyInfo             `json:"keys,omitempty"`
	ContinuousQueries []ContinuousQueryInfo `json:"continuous_queries,omitempty"`

	// MaxCQID is the highest continuous query id handed out so far.
	MaxCQID uint64 `json:"max_cq_id,omitempty"`
}

// Key returns the named api key, or nil.
func (di *DatabaseInfo) Key(name string) *KeyInfo {
	for i := range di.Keys {
		if di.Keys[i].Name == name {
			return &di.Keys[i]
		}
	}
	return nil
}

// ContinuousQuery returns the continuous query with the given id, or nil.
func (di *DatabaseInfo) ContinuousQuery(id uint64) *ContinuousQueryInfo {
	for i := range di.ContinuousQueries {
		if di.ContinuousQueries[i].ID == id {
			return &di.ContinuousQueries[i]
		}
	}
	return nil
}

func (di DatabaseInfo) clone() DatabaseInfo {
	other := di
	if di.Keys != nil {
		other.Keys = make([]KeyInfo, len(di.Keys))
		copy(other.Keys, di.Keys)
	}
	if di.ContinuousQueries != nil {
		other.ContinuousQueries = make([]ContinuousQueryInfo, len(di.ContinuousQueries))
		copy(other.ContinuousQueries, di.ContinuousQueries)
	}
	return other
}

// KeyInfo is a database api key with its permissions.
type KeyInfo struct {
	Name  string `json:"name"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

// ContinuousQueryInfo is a registered continuous query.
type ContinuousQueryInfo struct {
	ID    uint64 `json:"id"`
	Query string `json:"query"`

	// LastRun is the end (ns) of the window last evaluated by the
	// continuous query service. Zero means never run.
	LastRun int64 `json:"last_run,omitempty"`
}

// UserInfo is an administrative user.
type UserInfo struct {
	Name  string `json:"name"`
	Hash  string `json:"hash"`
	Admin bool   `json:"admin"`
}

// ID implements the User interface.
func (u *UserInfo) ID() string { return u.Name }

// IsAdmin implements the User interface.
func (u *UserInfo) IsAdmin() bool { return u.Admin }

// User carries the identity attached to an authenticated request.
type User interface {
	ID() string
	IsAdmin() bool
}

// Database returns a database by name.
func (data *Data) Database(name string) *DatabaseInfo {
	for i := range data.Databases {
		if data.Databases[i].Name == name {
			return &data.Databases[i]
		}
	}
	return nil
}

// CreateDatabase creates a new database.
// It returns an error if name is blank or if a database with the same name already exists.
func (data *Data) CreateDatabase(name string) error {
	if err := ValidName(name); err != nil {
		return err
	} else if data.Database(name) != nil {
		return ErrDatabaseExists
	}

	data.Databases = append(data.Databases, DatabaseInfo{Name: name})
	return nil
}

// DropDatabase removes a database by name. Dropping a database that does
// not exist is not an error.
func (data *Data) DropDatabase(name string) {
	for i := range data.Databases {
		if data.Databases[i].Name == name {
			data.Databases = append(data.Databases[:i], data.Databases[i+1:]...)
			return
		}
	}
}

// CreateKey adds an api key to a database.
func (data *Data) CreateKey(database string, key KeyInfo) error {
	di := data.Database(database)
	if di == nil {
		return ErrDatabaseNotExists
	}
	if key.Name == "" {
		return ErrKeyNameRequired
	}
	if di.Key(key.Name) != nil {
		return ErrKeyExists
	}
	di.Keys = append(di.Keys, key)
	return nil
}

// DropKey removes an api key from a database.
func (data *Data) DropKey(database, name string) error {
	di := data.Database(database)
	if di == nil {
		return ErrDatabaseNotExists
	}
	for i := range di.Keys {
		if di.Keys[i].Name == name {
			di.Keys = append(di.Keys[:i], di.Keys[i+1:]...)
			return nil
		}
	}
	return ErrKeyNotFound
}

// CreateContinuousQuery registers a continuous query and returns its id.
func (data *Data) CreateContinuousQuery(database, query string) (uint64, error) {
	di := data.Database(database)
	if di == nil {
		return 0, ErrDatabaseNotExists
	}
	for i := range di.ContinuousQueries {
		if di.ContinuousQueries[i].Query == query {
			return 0, ErrContinuousQueryExists
		}
	}
	di.MaxCQID++
	di.ContinuousQueries = append(di.ContinuousQueries, ContinuousQueryInfo{
		ID:    di.MaxCQID,
		Query: query,
	})
	return di.MaxCQID, nil
}

// DropContinuousQuery removes a continuous query by id.
func (data *Data) DropContinuousQuery(database string, id uint64) error {
	di := data.Database(database)
	if di == nil {
		return ErrDatabaseNotExists
	}
	for i := range di.ContinuousQueries {
		if di.ContinuousQueries[i].ID == id {
			di.ContinuousQueries = append(di.ContinuousQueries[:i], di.ContinuousQueries[i+1:]...)
			return nil
		}
	}
	return ErrContinuousQueryNotFound
}

// user returns a user by name.
func (data *Data) user(name string) *UserInfo {
	for i := range data.Users {
		if data.Users[i].Name == name {
			return &data.Users[i]
		}
	}
	return nil
}

// CreateUser creates a new user.
func (data *Data) CreateUser(name, hash string, admin bool) error {
	if name == "" {
		return ErrUsernameRequired
	} else if data.user(name) != nil {
		return ErrUserExists
	}

	data.Users = append(data.Users, UserInfo{
		Name:  name,
		Hash:  hash,
		Admin: admin,
	})
	return nil
}

// DropUser removes an existing user by name.
func (data *Data) DropUser(name string) error {
	for i := range data.Users {
		if data.Users[i].Name == name {
			data.Users = append(data.Users[:i], data.Users[i+1:]...)
			return nil
		}
	}
	return ErrUserNotFound
}

// Clone returns a deep copy of data.
func (data *Data) Clone() *Data {
	other := *data

	if data.Databases != nil {
		other.Databases = make([]DatabaseInfo, len(data.Databases))
		for i := range data.Databases {
			other.Databases[i] = data.Databases[i].clone()
		}
	}
	if data.Users != nil {
		other.Users = make([]UserInfo, len(data.Users))
		copy(other.Users, data.Users)
	}

	return &other
}

// ValidName checks that a database name will work as a directory name.
func ValidName(name string) error {
	if name == "" {
		return ErrDatabaseNameRequired
	} else if len(name) > MaxNameLen {
		return ErrNameTooLong
	} else if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return ErrInvalidName
	}
	return nil
}
