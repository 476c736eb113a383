package meta

import (
	"errors"
)

var (
	// ErrDatabaseExists is returned when creating an already existing database.
	ErrDatabaseExists = errors.New("database already exists")

	// ErrDatabaseNotExists is returned when operating on a not existing database.
	ErrDatabaseNotExists = errors.New("database does not exist")

	// ErrDatabaseNameRequired is returned when creating a database without a name.
	ErrDatabaseNameRequired = errors.New("database name required")

	// ErrNameTooLong is returned when attempting to create a database
	// with a name that is too long.
	ErrNameTooLong = errors.New("name too long")

	// ErrInvalidName is returned when attempting to create a database with an invalid name.
	ErrInvalidName = errors.New("invalid name")
)

var (
	// ErrKeyExists is returned when creating an already existing api key.
	ErrKeyExists = errors.New("api key already exists")

	// ErrKeyNotFound is returned when an expected api key wasn't found.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrKeyNameRequired is returned when creating an api key without a name.
	ErrKeyNameRequired = errors.New("api key name required")
)

var (
	// ErrContinuousQueryExists is returned when creating a duplicate continuous query.
	ErrContinuousQueryExists = errors.New("continuous query already exists")

	// ErrContinuousQueryNotFound is returned when a continuous query cannot be found.
	ErrContinuousQueryNotFound = errors.New("continuous query not found")
)

var (
	// ErrUserExists is returned when creating an already existing user.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound is returned when mutating a user that doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameRequired is returned when creating a user without a username.
	ErrUsernameRequired = errors.New("username required")

	// ErrAuthenticate is returned when authentication fails.
	ErrAuthenticate = errors.New("authentication failed")
)
