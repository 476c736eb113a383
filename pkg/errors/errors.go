// Package errors classifies errors crossing the HTTP boundary so
// handlers can map them onto status codes.
package errors

import (
	"github.com/pkg/errors"
)

type kind int

const (
	internal kind = iota
	client
	authorization
)

type classified struct {
	error
	kind kind
}

func (e classified) Unwrap() error { return e.error }

// NewClientError marks err as caused by bad client input.
func NewClientError(err error) error {
	if err == nil {
		return nil
	}
	return classified{error: err, kind: client}
}

// NewClientErrorf creates a client error from a format string.
func NewClientErrorf(format string, args ...interface{}) error {
	return classified{error: errors.Errorf(format, args...), kind: client}
}

// NewAuthorizationError marks err as an authorization failure.
func NewAuthorizationError(err error) error {
	if err == nil {
		return nil
	}
	return classified{error: err, kind: authorization}
}

// NewAuthorizationErrorf creates an authorization error from a format string.
func NewAuthorizationErrorf(format string, args ...interface{}) error {
	return classified{error: errors.Errorf(format, args...), kind: authorization}
}

// IsClientError reports whether err was caused by bad client input.
func IsClientError(err error) bool {
	for err != nil {
		if c, ok := err.(classified); ok {
			return c.kind == client
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsAuthorizationError reports whether err is an authorization failure.
func IsAuthorizationError(err error) bool {
	for err != nil {
		if c, ok := err.(classified); ok {
			return c.kind == authorization
		}
		err = errors.Unwrap(err)
	}
	return false
}
