package cql_test

import (
	"fmt"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/kronosdb/kronosdb/cql"
)

// Ensure the parser can parse statements correctly.
func TestParser_ParseStatement(t *testing.T) {
	var tests = []struct {
		s    string
		stmt cql.Statement
		err  string
	}{
		// Simple select with defaults.
		{
			s: `select value from cpu`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.VarRef{Val: "value"}}},
				Source: &cql.Series{Name: "cpu"},
				Limit:  cql.DefaultQueryLimit,
				Order:  cql.Descending,
			},
		},

		// Wildcard select.
		{
			s: `select * from cpu`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.Wildcard{}}},
				Source: &cql.Series{Name: "cpu"},
				Limit:  cql.DefaultQueryLimit,
			},
		},

		// Select with time condition.
		{
			s: `select value from cpu where time > now() - 1h`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.VarRef{Val: "value"}}},
				Source: &cql.Series{Name: "cpu"},
				Condition: &cql.BinaryExpr{
					Op:  cql.GT,
					LHS: &cql.VarRef{Val: "time"},
					RHS: &cql.BinaryExpr{
						Op:  cql.SUB,
						LHS: &cql.Call{Name: "now"},
						RHS: &cql.DurationLiteral{Val: time.Hour},
					},
				},
				Limit: cql.DefaultQueryLimit,
			},
		},

		// Aggregate with alias, group by time and column, fill.
		{
			s: `select count(value) as errors from events where type = 'error' group by time(10m), host fill(0)`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{
					Expr:  &cql.Call{Name: "count", Args: []cql.Expr{&cql.VarRef{Val: "value"}}},
					Alias: "errors",
				}},
				Source: &cql.Series{Name: "events"},
				Condition: &cql.BinaryExpr{
					Op:  cql.EQ,
					LHS: &cql.VarRef{Val: "type"},
					RHS: &cql.StringLiteral{Val: "error"},
				},
				GroupBy: &cql.GroupByClause{
					Interval:  10 * time.Minute,
					Columns:   []string{"host"},
					Fill:      true,
					FillValue: float64(0),
				},
				Limit: cql.DefaultQueryLimit,
			},
		},

		// Fill with null keeps a nil fill value.
		{
			s: `select mean(value) from cpu group by time(5m) fill(null)`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.Call{Name: "mean", Args: []cql.Expr{&cql.VarRef{Val: "value"}}}}},
				Source: &cql.Series{Name: "cpu"},
				GroupBy: &cql.GroupByClause{
					Interval: 5 * time.Minute,
					Fill:     true,
				},
				Limit: cql.DefaultQueryLimit,
			},
		},

		// Limit and order clauses.
		{
			s: `select value from cpu limit 50 order asc`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.VarRef{Val: "value"}}},
				Source: &cql.Series{Name: "cpu"},
				Limit:  50,
				Order:  cql.Ascending,
			},
		},

		// Limit 0 falls back to the default.
		{
			s: `select value from cpu limit 0`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.VarRef{Val: "value"}}},
				Source: &cql.Series{Name: "cpu"},
				Limit:  cql.DefaultQueryLimit,
			},
		},

		// Merge, infix and function forms.
		{
			s: `select value from cpu.0 merge cpu.1`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.VarRef{Val: "value"}}},
				Source: &cql.Merge{
					LHS: &cql.Series{Name: "cpu.0"},
					RHS: &cql.Series{Name: "cpu.1"},
				},
				Limit: cql.DefaultQueryLimit,
			},
		},
		{
			s: `select value from merge(cpu.0, cpu.1)`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.VarRef{Val: "value"}}},
				Source: &cql.Merge{
					LHS: &cql.Series{Name: "cpu.0"},
					RHS: &cql.Series{Name: "cpu.1"},
				},
				Limit: cql.DefaultQueryLimit,
			},
		},

		// Inner join, infix and function forms.
		{
			s: `select errors.value / requests.value from errors inner join requests`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.BinaryExpr{
					Op:  cql.DIV,
					LHS: &cql.VarRef{Val: "errors.value"},
					RHS: &cql.VarRef{Val: "requests.value"},
				}}},
				Source: &cql.InnerJoin{
					LHS: &cql.Series{Name: "errors"},
					RHS: &cql.Series{Name: "requests"},
				},
				Limit: cql.DefaultQueryLimit,
			},
		},
		{
			s: `select * from inner_join(errors, requests)`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.Wildcard{}}},
				Source: &cql.InnerJoin{
					LHS: &cql.Series{Name: "errors"},
					RHS: &cql.Series{Name: "requests"},
				},
				Limit: cql.DefaultQueryLimit,
			},
		},

		// Continuous query form.
		{
			s: `select mean(value) from cpu group by time(5m) into cpu.5m`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.Call{Name: "mean", Args: []cql.Expr{&cql.VarRef{Val: "value"}}}}},
				Source: &cql.Series{Name: "cpu"},
				GroupBy: &cql.GroupByClause{
					Interval: 5 * time.Minute,
				},
				Limit: cql.DefaultQueryLimit,
				Into:  "cpu.5m",
			},
		},

		// Regex condition.
		{
			s: `select value from cpu where host =~ /us-.*/`,
			stmt: &cql.SelectStatement{
				Fields: cql.Fields{{Expr: &cql.VarRef{Val: "value"}}},
				Source: &cql.Series{Name: "cpu"},
				Condition: &cql.BinaryExpr{
					Op:  cql.EQREGEX,
					LHS: &cql.VarRef{Val: "host"},
					RHS: &cql.RegexLiteral{Val: regexp.MustCompile(`us-.*`)},
				},
				Limit: cql.DefaultQueryLimit,
			},
		},

		// Delete.
		{
			s: `delete from cpu where time < now() - 1h`,
			stmt: &cql.DeleteStatement{
				Source: &cql.Series{Name: "cpu"},
				Condition: &cql.BinaryExpr{
					Op:  cql.LT,
					LHS: &cql.VarRef{Val: "time"},
					RHS: &cql.BinaryExpr{
						Op:  cql.SUB,
						LHS: &cql.Call{Name: "now"},
						RHS: &cql.DurationLiteral{Val: time.Hour},
					},
				},
			},
		},

		// Drop series.
		{
			s:    `drop series cpu`,
			stmt: &cql.DropSeriesStatement{Name: "cpu"},
		},

		// List series.
		{
			s:    `list series`,
			stmt: &cql.ListSeriesStatement{},
		},

		// Continuous query management.
		{
			s:    `list continuous queries`,
			stmt: &cql.ListContinuousQueriesStatement{},
		},
		{
			s:    `drop continuous query 42`,
			stmt: &cql.DropContinuousQueryStatement{ID: 42},
		},

		// Explain.
		{
			s: `explain select value from cpu`,
			stmt: &cql.ExplainStatement{
				Statement: &cql.SelectStatement{
					Fields: cql.Fields{{Expr: &cql.VarRef{Val: "value"}}},
					Source: &cql.Series{Name: "cpu"},
					Limit:  cql.DefaultQueryLimit,
				},
			},
		},

		// Errors.
		{s: `foo`, err: `found foo, expected SELECT, DELETE, DROP, LIST, EXPLAIN at line 1, char 1`},
		{s: `select value from cpu group time(10m)`, err: `found time, expected BY at line 1, char 29`},
		{s: `select count(value), value from cpu`, err: `mixing aggregate and raw columns is not supported`},
		{s: `select value from cpu group by time(5m)`, err: `group by time requires an aggregate function`},
		{s: `select foo(value) from cpu`, err: `unknown function "foo"`},
		{s: `drop cpu`, err: `found cpu, expected SERIES, CONTINUOUS at line 1, char 6`},
	}

	for i, tt := range tests {
		q, err := cql.ParseQuery(tt.s)
		if !reflect.DeepEqual(tt.err, errstring(err)) {
			t.Errorf("%d. %q: error mismatch:\n  exp=%s\n  got=%s\n\n", i, tt.s, tt.err, err)
		} else if tt.err == "" {
			if len(q.Statements) != 1 {
				t.Errorf("%d. %q: expected 1 statement, got %d", i, tt.s, len(q.Statements))
			} else if !reflect.DeepEqual(tt.stmt, q.Statements[0]) {
				t.Errorf("%d. %q\n\nstmt mismatch:\n\nexp=%s\n\ngot=%s\n\n", i, tt.s, spew.Sdump(tt.stmt), spew.Sdump(q.Statements[0]))
			}
		}
	}
}

// Ensure multiple semicolon separated statements can be parsed.
func TestParser_ParseQuery_Multi(t *testing.T) {
	q, err := cql.ParseQuery(`list series; select value from cpu`)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	} else if len(q.Statements) != 2 {
		t.Fatalf("unexpected statement count: %d", len(q.Statements))
	}
	if _, ok := q.Statements[0].(*cql.ListSeriesStatement); !ok {
		t.Fatalf("unexpected statement(0): %T", q.Statements[0])
	}
	if _, ok := q.Statements[1].(*cql.SelectStatement); !ok {
		t.Fatalf("unexpected statement(1): %T", q.Statements[1])
	}
}

func TestParser_ParseQuery_Empty(t *testing.T) {
	if _, err := cql.ParseQuery(``); err == nil {
		t.Fatal("expected error")
	}
}

// Ensure statements survive a parse/stringify/reparse round trip.
func TestStatement_String_RoundTrip(t *testing.T) {
	for _, s := range []string{
		`select value from cpu`,
		`select mean(value) from cpu where time > now() - 4h group by time(10m) fill(0) limit 20 order asc`,
		`select count(value) from cpu group by time(1m) fill(null)`,
		`select value from merge(cpu.0, cpu.1)`,
		`select errors.value from errors inner join requests`,
		`select count(value) from events into events.count`,
		`delete from cpu where time < 1399590718s`,
		`drop series cpu`,
		`list continuous queries`,
	} {
		q, err := cql.ParseQuery(s)
		if err != nil {
			t.Fatalf("%q: unexpected error: %s", s, err)
		}
		q2, err := cql.ParseQuery(q.String())
		if err != nil {
			t.Fatalf("%q: reparse error: %s", q.String(), err)
		}
		if !reflect.DeepEqual(q, q2) {
			t.Fatalf("round trip mismatch:\n\nexp=%s\n\ngot=%s\n\n", q.String(), q2.String())
		}
	}
}

// Ensure time conditions reduce to the correct nanosecond range.
func TestTimeRange(t *testing.T) {
	now := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	msToNanos := func(epoch int64) int64 { return epoch * int64(time.Millisecond) }

	var tests = []struct {
		cond string
		min  int64
		max  int64
	}{
		{cond: `time > now() - 1h`, min: now.Add(-time.Hour).UnixNano() + 1},
		{cond: `time >= now() - 1h`, min: now.Add(-time.Hour).UnixNano()},
		{cond: `time < now()`, max: now.UnixNano() - 1},
		{cond: `time <= now()`, max: now.UnixNano()},
		{cond: `time > now() - 4h and time < now() - 2h`,
			min: now.Add(-4*time.Hour).UnixNano() + 1,
			max: now.Add(-2*time.Hour).UnixNano() - 1},
		{cond: `now() - 1h < time`, min: now.Add(-time.Hour).UnixNano() + 1},
		{cond: `time = 10s`, min: 10 * int64(time.Second), max: 10 * int64(time.Second)},
		{cond: `time < 1399590718s`, max: 1399590718*int64(time.Second) - 1},
		{cond: `time >= '2000-01-01 00:00:00'`,
			min: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()},
		{cond: `time > 1000`, min: 1000*int64(time.Millisecond) + 1},
		{cond: `value > 10`},
	}

	for i, tt := range tests {
		q, err := cql.ParseQuery(fmt.Sprintf(`select value from cpu where %s`, tt.cond))
		if err != nil {
			t.Fatalf("%d. %q: unexpected error: %s", i, tt.cond, err)
		}
		stmt := q.Statements[0].(*cql.SelectStatement)

		min, max := cql.TimeRange(stmt.Condition, now, msToNanos)
		if min != tt.min {
			t.Errorf("%d. %q: min mismatch: exp=%d got=%d", i, tt.cond, tt.min, min)
		}
		if max != tt.max {
			t.Errorf("%d. %q: max mismatch: exp=%d got=%d", i, tt.cond, tt.max, max)
		}
	}
}

func TestSelectStatement_HasAggregates(t *testing.T) {
	for _, tt := range []struct {
		s   string
		exp bool
	}{
		{s: `select value from cpu`, exp: false},
		{s: `select mean(value) from cpu`, exp: true},
		{s: `select percentile(value, 95) from cpu`, exp: true},
	} {
		q, err := cql.ParseQuery(tt.s)
		if err != nil {
			t.Fatalf("%q: unexpected error: %s", tt.s, err)
		}
		if got := q.Statements[0].(*cql.SelectStatement).HasAggregates(); got != tt.exp {
			t.Errorf("%q: exp=%v got=%v", tt.s, tt.exp, got)
		}
	}
}

func TestSelectStatement_NamesInWhere(t *testing.T) {
	q, err := cql.ParseQuery(`select value from cpu where host = 'a' and value > 10`)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	names := q.Statements[0].(*cql.SelectStatement).NamesInWhere()
	if !reflect.DeepEqual(names, []string{"host", "value"}) {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestParseDuration(t *testing.T) {
	var tests = []struct {
		s   string
		d   time.Duration
		err bool
	}{
		{s: `10u`, d: 10 * time.Microsecond},
		{s: `15ms`, d: 15 * time.Millisecond},
		{s: `10s`, d: 10 * time.Second},
		{s: `10m`, d: 10 * time.Minute},
		{s: `1h`, d: time.Hour},
		{s: `2d`, d: 48 * time.Hour},
		{s: `1w`, d: 7 * 24 * time.Hour},
		{s: `1y`, d: 365 * 24 * time.Hour},
		{s: `10`, err: true},
		{s: `ms`, err: true},
		{s: ``, err: true},
	}

	for i, tt := range tests {
		d, err := cql.ParseDuration(tt.s)
		if tt.err {
			if err == nil {
				t.Errorf("%d. %q: expected error", i, tt.s)
			}
		} else if err != nil {
			t.Errorf("%d. %q: unexpected error: %s", i, tt.s, err)
		} else if d != tt.d {
			t.Errorf("%d. %q: exp=%s got=%s", i, tt.s, tt.d, d)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	var tests = []struct {
		d time.Duration
		s string
	}{
		{d: 0, s: `0s`},
		{d: time.Microsecond, s: `1u`},
		{d: 15 * time.Millisecond, s: `15ms`},
		{d: 30 * time.Second, s: `30s`},
		{d: 10 * time.Minute, s: `10m`},
		{d: 2 * time.Hour, s: `2h`},
		{d: 48 * time.Hour, s: `2d`},
		{d: 14 * 24 * time.Hour, s: `2w`},
	}
	for i, tt := range tests {
		if s := cql.FormatDuration(tt.d); s != tt.s {
			t.Errorf("%d. exp=%q got=%q", i, tt.s, s)
		}
	}
}

func TestQuoteIdent(t *testing.T) {
	var tests = []struct {
		s   string
		exp string
	}{
		{s: `cpu`, exp: `cpu`},
		{s: `cpu.load.1m`, exp: `cpu.load.1m`},
		{s: `foo bar`, exp: `"foo bar"`},
		{s: `select`, exp: `"select"`},
		{s: `1cpu`, exp: `"1cpu"`},
		{s: ``, exp: `""`},
	}
	for i, tt := range tests {
		if got := cql.QuoteIdent(tt.s); got != tt.exp {
			t.Errorf("%d. %q: exp=%s got=%s", i, tt.s, tt.exp, got)
		}
	}
}

// errstring converts an error to its string representation.
func errstring(err error) string {
	if err != nil {
		return err.Error()
	}
	return ""
}
