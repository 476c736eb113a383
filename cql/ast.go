package cql

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Node represents a node in the abstract syntax tree.
type Node interface {
	String() string
	node()
}

func (*Query) node()     {}
func (Statements) node() {}

func (*SelectStatement) node()                {}
func (*DeleteStatement) node()                {}
func (*DropSeriesStatement) node()            {}
func (*ListSeriesStatement) node()            {}
func (*ListContinuousQueriesStatement) node() {}
func (*DropContinuousQueryStatement) node()   {}
func (*ExplainStatement) node()               {}

func (*Series) node()    {}
func (*Merge) node()     {}
func (*InnerJoin) node() {}

func (*Field) node() {}
func (Fields) node() {}

func (*BinaryExpr) node()      {}
func (*BooleanLiteral) node()  {}
func (*Call) node()            {}
func (*DurationLiteral) node() {}
func (*IntegerLiteral) node()  {}
func (*NumberLiteral) node()   {}
func (*ParenExpr) node()       {}
func (*RegexLiteral) node()    {}
func (*StringLiteral) node()   {}
func (*VarRef) node()          {}
func (*Wildcard) node()        {}

// Query represents a collection of ordered statements.
type Query struct {
	Statements Statements
}

// String returns a string representation of the query.
func (q *Query) String() string { return q.Statements.String() }

// Statements represents a list of statements.
type Statements []Statement

// String returns a string representation of the statements.
func (a Statements) String() string {
	var str []string
	for _, stmt := range a {
		str = append(str, stmt.String())
	}
	return strings.Join(str, "; ")
}

// Statement represents a single command in a query.
type Statement interface {
	Node
	stmt()
}

func (*SelectStatement) stmt()                {}
func (*DeleteStatement) stmt()                {}
func (*DropSeriesStatement) stmt()            {}
func (*ListSeriesStatement) stmt()            {}
func (*ListContinuousQueriesStatement) stmt() {}
func (*DropContinuousQueryStatement) stmt()   {}
func (*ExplainStatement) stmt()               {}

// Expr represents an expression that can be evaluated to a value.
type Expr interface {
	Node
	expr()
}

func (*BinaryExpr) expr()      {}
func (*BooleanLiteral) expr()  {}
func (*Call) expr()            {}
func (*DurationLiteral) expr() {}
func (*IntegerLiteral) expr()  {}
func (*NumberLiteral) expr()   {}
func (*ParenExpr) expr()       {}
func (*RegexLiteral) expr()    {}
func (*StringLiteral) expr()   {}
func (*VarRef) expr()          {}
func (*Wildcard) expr()        {}

// Source represents the series source(s) of a select statement.
type Source interface {
	Node
	source()

	// Names returns the series names referenced by the source.
	Names() []string
}

func (*Series) source()    {}
func (*Merge) source()     {}
func (*InnerJoin) source() {}

// Series is a single series source.
type Series struct {
	Name string
}

func (s *Series) String() string  { return QuoteIdent(s.Name) }
func (s *Series) Names() []string { return []string{s.Name} }

// Merge interleaves the points of two series by time.
type Merge struct {
	LHS *Series
	RHS *Series
}

func (m *Merge) String() string {
	return fmt.Sprintf("%s merge %s", m.LHS.String(), m.RHS.String())
}
func (m *Merge) Names() []string { return []string{m.LHS.Name, m.RHS.Name} }

// InnerJoin pairs the points of two series in time order.
type InnerJoin struct {
	LHS *Series
	RHS *Series
}

func (j *InnerJoin) String() string {
	return fmt.Sprintf("%s inner join %s", j.LHS.String(), j.RHS.String())
}
func (j *InnerJoin) Names() []string { return []string{j.LHS.Name, j.RHS.Name} }

// SortOrder is the time ordering of results.
type SortOrder int

const (
	// Descending is the default: newest points first.
	Descending SortOrder = iota
	Ascending
)

// DefaultQueryLimit caps results when no limit clause is given.
const DefaultQueryLimit = 1000

// DefaultQueryWindow is the implicit time window applied when no time
// condition is present.
const DefaultQueryWindow = time.Hour

// GroupByClause describes the group by portion of a select statement.
type GroupByClause struct {
	// Interval is the time(...) bucket width; zero when absent.
	Interval time.Duration

	// Columns are the non-time grouping columns.
	Columns []string

	// Fill indicates fill(...) was present; FillValue is its argument.
	Fill      bool
	FillValue interface{}
}

func (g *GroupByClause) String() string {
	var parts []string
	if g.Interval > 0 {
		parts = append(parts, fmt.Sprintf("time(%s)", FormatDuration(g.Interval)))
	}
	for _, col := range g.Columns {
		parts = append(parts, QuoteIdent(col))
	}
	s := strings.Join(parts, ", ")
	if g.Fill {
		if g.FillValue == nil {
			s += " fill(null)"
		} else {
			s += fmt.Sprintf(" fill(%v)", g.FillValue)
		}
	}
	return s
}

// SelectStatement represents a command for extracting data from the database.
type SelectStatement struct {
	// Expressions returned from the selection.
	Fields Fields

	// Series source(s) for the select.
	Source Source

	// An expression evaluated on each point to restrict the result.
	Condition Expr

	// Group by clause, nil when absent.
	GroupBy *GroupByClause

	// Maximum number of points to return; DefaultQueryLimit when the
	// query has no limit clause.
	Limit int

	// Time ordering of the result.
	Order SortOrder

	// Target series name for into clauses; empty when absent.
	Into string
}

// String returns a string representation of the select statement.
func (s *SelectStatement) String() string {
	var buf bytes.Buffer
	_, _ = buf.WriteString("select ")
	_, _ = buf.WriteString(s.Fields.String())
	_, _ = buf.WriteString(" from ")
	_, _ = buf.WriteString(s.Source.String())
	if s.Condition != nil {
		_, _ = buf.WriteString(" where ")
		_, _ = buf.WriteString(s.Condition.String())
	}
	if s.GroupBy != nil {
		_, _ = buf.WriteString(" group by ")
		_, _ = buf.WriteString(s.GroupBy.String())
	}
	if s.Limit != DefaultQueryLimit {
		fmt.Fprintf(&buf, " limit %d", s.Limit)
	}
	if s.Order == Ascending {
		_, _ = buf.WriteString(" order asc")
	}
	if s.Into != "" {
		_, _ = buf.WriteString(" into ")
		_, _ = buf.WriteString(QuoteIdent(s.Into))
	}
	return buf.String()
}

// HasAggregates reports whether any selected field is an aggregate call.
func (s *SelectStatement) HasAggregates() bool {
	for _, f := range s.Fields {
		if call, ok := f.Expr.(*Call); ok && IsAggregateFunc(call.Name) {
			return true
		}
	}
	return false
}

// HasWildcard reports whether the selection contains "*".
func (s *SelectStatement) HasWildcard() bool {
	for _, f := range s.Fields {
		if _, ok := f.Expr.(*Wildcard); ok {
			return true
		}
	}
	return false
}

// IsContinuous reports whether the statement registers a continuous query.
func (s *SelectStatement) IsContinuous() bool { return s.Into != "" }

// NamesInWhere returns the column names referenced in the condition.
func (s *SelectStatement) NamesInWhere() []string {
	if s.Condition == nil {
		return nil
	}
	return walkRefs(s.Condition)
}

func walkRefs(expr Expr) []string {
	switch e := expr.(type) {
	case *VarRef:
		return []string{e.Val}
	case *Call:
		var refs []string
		for _, arg := range e.Args {
			refs = append(refs, walkRefs(arg)...)
		}
		return refs
	case *BinaryExpr:
		return append(walkRefs(e.LHS), walkRefs(e.RHS)...)
	case *ParenExpr:
		return walkRefs(e.Expr)
	}
	return nil
}

// TimeRange extracts the minimum and maximum timestamps (ns) from the
// condition, interpreting bare integers in the given wire precision.
// Missing bounds are reported as zero values.
func TimeRange(expr Expr, now time.Time, epochToNanos func(int64) int64) (min, max int64) {
	min, max = 0, 0
	Walk(expr, func(n Node) {
		be, ok := n.(*BinaryExpr)
		if !ok {
			return
		}

		// Normalize so the time reference is on the left.
		op, value := be.Op, be.RHS
		if ref, ok := be.RHS.(*VarRef); ok && strings.ToLower(ref.Val) == "time" {
			value = be.LHS
			switch be.Op {
			case LT:
				op = GT
			case LTE:
				op = GTE
			case GT:
				op = LT
			case GTE:
				op = LTE
			}
		} else if ref, ok := be.LHS.(*VarRef); !ok || strings.ToLower(ref.Val) != "time" {
			return
		}

		ns, ok := evalTimeExpr(value, now, epochToNanos)
		if !ok {
			return
		}

		switch op {
		case GT:
			if min == 0 || ns+1 > min {
				min = ns + 1
			}
		case GTE, EQ:
			if min == 0 || ns > min {
				min = ns
			}
			if op == EQ && (max == 0 || ns < max) {
				max = ns
			}
		case LT:
			if max == 0 || ns-1 < max {
				max = ns - 1
			}
		case LTE:
			if max == 0 || ns < max {
				max = ns
			}
		}
	})
	return min, max
}

func evalTimeExpr(expr Expr, now time.Time, epochToNanos func(int64) int64) (int64, bool) {
	switch e := expr.(type) {
	case *IntegerLiteral:
		if epochToNanos != nil {
			return epochToNanos(e.Val), true
		}
		return e.Val, true
	case *NumberLiteral:
		if epochToNanos != nil {
			return epochToNanos(int64(e.Val)), true
		}
		return int64(e.Val), true
	case *DurationLiteral:
		// A bare duration is an offset from the epoch, e.g. 1399590718s.
		return int64(e.Val), true
	case *StringLiteral:
		t, err := e.ToTime()
		if err != nil {
			return 0, false
		}
		return t.UnixNano(), true
	case *Call:
		if strings.ToLower(e.Name) == "now" {
			return now.UnixNano(), true
		}
	case *ParenExpr:
		return evalTimeExpr(e.Expr, now, epochToNanos)
	case *BinaryExpr:
		lhs, lok := evalTimeExpr(e.LHS, now, epochToNanos)
		rv, rok := evalTimeDuration(e.RHS)
		if !lok || !rok {
			return 0, false
		}
		switch e.Op {
		case ADD:
			return lhs + rv, true
		case SUB:
			return lhs - rv, true
		}
	}
	return 0, false
}

func evalTimeDuration(expr Expr) (int64, bool) {
	switch e := expr.(type) {
	case *DurationLiteral:
		return int64(e.Val), true
	case *ParenExpr:
		return evalTimeDuration(e.Expr)
	}
	return 0, false
}

// HasTimeCondition reports whether the condition references time.
func HasTimeCondition(expr Expr) bool {
	if expr == nil {
		return false
	}
	for _, name := range walkRefs(expr) {
		if strings.ToLower(name) == "time" {
			return true
		}
	}
	return false
}

// DeleteStatement deletes points from a series.
type DeleteStatement struct {
	Source    *Series
	Condition Expr
}

func (s *DeleteStatement) String() string {
	var buf bytes.Buffer
	_, _ = buf.WriteString("delete from ")
	_, _ = buf.WriteString(s.Source.String())
	if s.Condition != nil {
		_, _ = buf.WriteString(" where ")
		_, _ = buf.WriteString(s.Condition.String())
	}
	return buf.String()
}

// DropSeriesStatement removes a series entirely.
type DropSeriesStatement struct {
	Name string
}

func (s *DropSeriesStatement) String() string {
	return fmt.Sprintf("drop series %s", QuoteIdent(s.Name))
}

// ListSeriesStatement lists the series in the database.
type ListSeriesStatement struct{}

func (s *ListSeriesStatement) String() string { return "list series" }

// ListContinuousQueriesStatement lists registered continuous queries.
type ListContinuousQueriesStatement struct{}

func (s *ListContinuousQueriesStatement) String() string { return "list continuous queries" }

// DropContinuousQueryStatement removes a continuous query by id.
type DropContinuousQueryStatement struct {
	ID uint64
}

func (s *DropContinuousQueryStatement) String() string {
	return fmt.Sprintf("drop continuous query %d", s.ID)
}

// ExplainStatement describes the execution plan of a select statement.
type ExplainStatement struct {
	Statement *SelectStatement
}

func (s *ExplainStatement) String() string {
	return "explain " + s.Statement.String()
}

// Field represents an expression retrieved from a select statement.
type Field struct {
	Expr  Expr
	Alias string
}

// Name returns the name of the field: its alias when set, the function
// or column name otherwise.
func (f *Field) Name() string {
	if f.Alias != "" {
		return f.Alias
	}
	switch expr := f.Expr.(type) {
	case *Call:
		return strings.ToLower(expr.Name)
	case *VarRef:
		return expr.Val
	case *BinaryExpr:
		return "expr"
	}
	return "expr"
}

// String returns a string representation of the field.
func (f *Field) String() string {
	str := f.Expr.String()
	if f.Alias == "" {
		return str
	}
	return fmt.Sprintf("%s as %s", str, QuoteIdent(f.Alias))
}

// Fields represents a list of fields.
type Fields []*Field

// String returns a string representation of the fields.
func (a Fields) String() string {
	var str []string
	for _, f := range a {
		str = append(str, f.String())
	}
	return strings.Join(str, ", ")
}

// VarRef represents a reference to a column.
type VarRef struct {
	Val string
}

func (r *VarRef) String() string { return QuoteIdent(r.Val) }

// Call represents a function call.
type Call struct {
	Name string
	Args []Expr
}

func (c *Call) String() string {
	var str []string
	for _, arg := range c.Args {
		str = append(str, arg.String())
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(str, ", "))
}

// NumberLiteral represents a float literal.
type NumberLiteral struct {
	Val float64
}

func (l *NumberLiteral) String() string { return strconv.FormatFloat(l.Val, 'f', -1, 64) }

// IntegerLiteral represents an integer literal.
type IntegerLiteral struct {
	Val int64
}

func (l *IntegerLiteral) String() string { return strconv.FormatInt(l.Val, 10) }

// BooleanLiteral represents a boolean literal.
type BooleanLiteral struct {
	Val bool
}

func (l *BooleanLiteral) String() string {
	if l.Val {
		return "true"
	}
	return "false"
}

// StringLiteral represents a string literal.
type StringLiteral struct {
	Val string
}

func (l *StringLiteral) String() string { return QuoteString(l.Val) }

// ToTime parses the literal as an RFC3339-ish timestamp.
func (l *StringLiteral) ToTime() (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		"2006-01-02",
		time.RFC3339,
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, l.Val); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time literal %q", l.Val)
}

// DurationLiteral represents a duration literal.
type DurationLiteral struct {
	Val time.Duration
}

func (l *DurationLiteral) String() string { return FormatDuration(l.Val) }

// RegexLiteral represents a regular expression literal.
type RegexLiteral struct {
	Val *regexp.Regexp
}

func (l *RegexLiteral) String() string {
	if l.Val != nil {
		return fmt.Sprintf("/%s/", strings.Replace(l.Val.String(), `/`, `\/`, -1))
	}
	return ""
}

// ParenExpr represents a parenthesized expression.
type ParenExpr struct {
	Expr Expr
}

func (e *ParenExpr) String() string { return fmt.Sprintf("(%s)", e.Expr.String()) }

// Wildcard represents a wild card expression.
type Wildcard struct{}

func (e *Wildcard) String() string { return "*" }

// BinaryExpr represents an operation between two expressions.
type BinaryExpr struct {
	Op  Token
	LHS Expr
	RHS Expr
}

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("%s %s %s", e.LHS.String(), e.Op.String(), e.RHS.String())
}

// Walk traverses a node hierarchy in depth-first order.
func Walk(node Node, fn func(Node)) {
	if node == nil {
		return
	}
	fn(node)

	switch n := node.(type) {
	case *BinaryExpr:
		Walk(n.LHS, fn)
		Walk(n.RHS, fn)
	case *ParenExpr:
		Walk(n.Expr, fn)
	case *Call:
		for _, arg := range n.Args {
			Walk(arg, fn)
		}
	case Fields:
		for _, f := range n {
			Walk(f, fn)
		}
	case *Field:
		Walk(n.Expr, fn)
	case *SelectStatement:
		Walk(n.Fields, fn)
		Walk(n.Source, fn)
		Walk(n.Condition, fn)
	}
}

// aggregateFuncs are the functions evaluated over buckets of points.
var aggregateFuncs = map[string]struct{}{
	"count":      {},
	"sum":        {},
	"min":        {},
	"max":        {},
	"mean":       {},
	"median":     {},
	"mode":       {},
	"stddev":     {},
	"first":      {},
	"last":       {},
	"distinct":   {},
	"percentile": {},
	"derivative": {},
	"difference": {},
	"top":        {},
	"bottom":     {},
}

// IsAggregateFunc reports whether name is an aggregate function.
func IsAggregateFunc(name string) bool {
	_, ok := aggregateFuncs[strings.ToLower(name)]
	return ok
}

// QuoteIdent quotes an identifier if it would not scan cleanly.
func QuoteIdent(s string) string {
	if s == "" {
		return `""`
	}
	needsQuote := false
	for i, ch := range s {
		if !isIdentChar(ch) || (i == 0 && isDigit(ch)) {
			needsQuote = true
			break
		}
	}
	if !needsQuote && Lookup(s) == IDENT {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// QuoteString single-quotes a string literal.
func QuoteString(s string) string {
	return `'` + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + `'`
}

// FormatDuration formats a duration the way the scanner reads them.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	if d%(7*24*time.Hour) == 0 {
		return fmt.Sprintf("%dw", d/(7*24*time.Hour))
	} else if d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	} else if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	} else if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	} else if d%time.Second == 0 {
		return fmt.Sprintf("%ds", d/time.Second)
	} else if d%time.Millisecond == 0 {
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
	return fmt.Sprintf("%du", d/time.Microsecond)
}

// ParseDuration parses a duration literal such as 10m or 1h.
func ParseDuration(lit string) (time.Duration, error) {
	if len(lit) < 2 {
		return 0, fmt.Errorf("invalid duration %q", lit)
	}

	var unit time.Duration
	var cut int
	switch {
	case strings.HasSuffix(lit, "ms"):
		unit, cut = time.Millisecond, 2
	case strings.HasSuffix(lit, "u"):
		unit, cut = time.Microsecond, 1
	case strings.HasSuffix(lit, "s"):
		unit, cut = time.Second, 1
	case strings.HasSuffix(lit, "m"):
		unit, cut = time.Minute, 1
	case strings.HasSuffix(lit, "h"):
		unit, cut = time.Hour, 1
	case strings.HasSuffix(lit, "d"):
		unit, cut = 24*time.Hour, 1
	case strings.HasSuffix(lit, "w"):
		unit, cut = 7*24*time.Hour, 1
	case strings.HasSuffix(lit, "y"):
		unit, cut = 365*24*time.Hour, 1
	default:
		return 0, fmt.Errorf("invalid duration %q", lit)
	}

	n, err := strconv.ParseInt(lit[:len(lit)-cut], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", lit)
	}
	return time.Duration(n) * unit, nil
}
