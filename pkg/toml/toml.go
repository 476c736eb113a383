// Package toml adds types for parsing durations and sizes from TOML
// configuration files.
package toml

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Duration is a time.Duration that unmarshals from a TOML string such
// as "10s" or "1h30m".
type Duration time.Duration

// String returns the duration literal.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Duration converts to the standard library type.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalText parses a duration literal.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", text)
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration literal.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Size is a byte count that unmarshals from a TOML string with an
// optional k, m, or g suffix.
type Size uint64

// UnmarshalText parses a size literal such as "25m".
func (s *Size) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return errors.New("size is empty")
	}

	mult := uint64(1)
	switch text[len(text)-1] {
	case 'k', 'K':
		mult = 1 << 10
		text = text[:len(text)-1]
	case 'm', 'M':
		mult = 1 << 20
		text = text[:len(text)-1]
	case 'g', 'G':
		mult = 1 << 30
		text = text[:len(text)-1]
	}

	v, err := strconv.ParseUint(string(text), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "parse size %q", text)
	}
	*s = Size(v * mult)
	return nil
}

// MarshalText writes the size as a plain byte count.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%d", uint64(s))), nil
}
