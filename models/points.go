// Package models represents the shapes of data moving between the HTTP
// layer, the query engine and the storage engine.
package models

import (
	"sort"
	"time"

	kerrors "github.com/kronosdb/kronosdb/pkg/errors"
)

// TimeColumn and SequenceColumn are implicit columns present on every
// stored point. They are never part of a series' value column set.
const (
	TimeColumn     = "time"
	SequenceColumn = "sequence_number"
)

// Point is a single datapoint addressed to a series.
type Point struct {
	Series string

	// Time in nanoseconds since the epoch.
	Time int64

	// Sequence disambiguates points sharing a timestamp. Zero means
	// "assign at write".
	Sequence uint64

	// Values maps column name to value. Supported value types are
	// float64, int64, bool, string and nil.
	Values map[string]interface{}
}

// Validate checks that the point can be stored.
func (p *Point) Validate() error {
	if p.Series == "" {
		return kerrors.NewClientErrorf("point without series name")
	}
	for col, v := range p.Values {
		if col == TimeColumn || col == SequenceColumn {
			return kerrors.NewClientErrorf("column %q is reserved", col)
		}
		switch v.(type) {
		case float64, int64, bool, string, nil:
		default:
			return kerrors.NewClientErrorf("unsupported value type %T for column %q", v, col)
		}
	}
	return nil
}

// Columns returns the point's value column names, sorted.
func (p *Point) Columns() []string {
	cols := make([]string, 0, len(p.Values))
	for col := range p.Values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Precision expresses the timestamp resolution used on the wire.
type Precision int

const (
	PrecisionMillisecond Precision = iota // wire default
	PrecisionSecond
	PrecisionMicrosecond
	PrecisionNanosecond
)

// ParsePrecision parses a time_precision query parameter. An empty
// string selects the millisecond default.
func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "", "ms", "m":
		return PrecisionMillisecond, nil
	case "s":
		return PrecisionSecond, nil
	case "u":
		return PrecisionMicrosecond, nil
	case "ns", "n":
		return PrecisionNanosecond, nil
	default:
		return 0, kerrors.NewClientErrorf("invalid time precision %q (use s, ms, u or ns)", s)
	}
}

func (p Precision) duration() int64 {
	switch p {
	case PrecisionSecond:
		return int64(time.Second)
	case PrecisionMicrosecond:
		return int64(time.Microsecond)
	case PrecisionNanosecond:
		return 1
	default:
		return int64(time.Millisecond)
	}
}

// ToNanos converts a wire timestamp in this precision to nanoseconds.
func (p Precision) ToNanos(v float64) int64 {
	return int64(v * float64(p.duration()))
}

// FromNanos converts a nanosecond timestamp to this precision.
func (p Precision) FromNanos(ns int64) int64 {
	return ns / p.duration()
}
