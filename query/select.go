package query

import (
	"context"
	"regexp"
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/kronosdb/kronosdb/cql"
	"github.com/kronosdb/kronosdb/models"
	kerrors "github.com/kronosdb/kronosdb/pkg/errors"
)

// rawPoint is one row read from a source, values keyed by column.
type rawPoint struct {
	Time   int64
	Seq    uint64
	Values map[string]interface{}
}

// rawSeries is the materialized form of a select source: the rows of a
// single series, a merge, or a join, in ascending time order.
type rawSeries struct {
	Name    string
	Columns []string
	HasSeqs bool
	Points  []rawPoint
}

func (e *Executor) executeSelect(ctx context.Context, s *cql.SelectStatement, opt ExecutionOptions) ([]*models.Row, error) {
	sh := e.TSDBStore.Shard(opt.Database)
	if sh == nil {
		return nil, ErrDatabaseNotFound
	}

	min, max := timeRangeOf(s.Condition, opt)
	src, err := readSource(sh, s.Source, min, max)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&e.stats.PointsScanned, int64(len(src.Points)))

	points, err := filterPoints(src.Points, s.Condition, opt)
	if err != nil {
		return nil, err
	}

	var row *models.Row
	if s.HasAggregates() {
		row, err = aggregateRow(s, src, points, min, max, opt)
	} else {
		row, err = rawRow(s, src, points, opt)
	}
	if err != nil {
		return nil, err
	}
	return []*models.Row{row}, nil
}

// RunInto executes a continuous query's select and writes the result
// into its target series. Returns the number of points written.
func (e *Executor) RunInto(ctx context.Context, s *cql.SelectStatement, opt ExecutionOptions) (int, error) {
	target := s.Into
	if target == "" {
		return 0, errors.New("select has no target series")
	}

	inner := *s
	inner.Into = ""
	rows, err := e.executeSelect(ctx, &inner, opt)
	if err != nil {
		return 0, err
	}

	var points []models.Point
	for _, row := range rows {
		ti := -1
		for i, c := range row.Columns {
			if c == models.TimeColumn {
				ti = i
			}
		}
		for _, value := range row.Values {
			p := models.Point{Series: target, Values: make(map[string]interface{})}
			for i, c := range row.Columns {
				if c == models.TimeColumn || c == models.SequenceColumn {
					continue
				}
				if value[i] != nil {
					p.Values[c] = value[i]
				}
			}
			if ti >= 0 {
				p.Time = opt.Precision.ToNanos(cast.ToFloat64(value[ti]))
			}
			if len(p.Values) == 0 {
				continue
			}
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return 0, nil
	}
	if err := e.TSDBStore.WriteToShard(opt.Database, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// filterPoints drops points that fail the non-time parts of the
// condition. Time bounds were already applied by the range read.
func filterPoints(points []rawPoint, cond cql.Expr, opt ExecutionOptions) ([]rawPoint, error) {
	if cond == nil || !hasValueCondition(cond) {
		return points, nil
	}

	out := points[:0:0]
	for _, p := range points {
		ok, err := evalBool(cond, &p, opt)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// hasValueCondition reports whether expr references anything besides
// the time column.
func hasValueCondition(expr cql.Expr) bool {
	found := false
	cql.Walk(expr, func(n cql.Node) {
		if ref, ok := n.(*cql.VarRef); ok && ref.Val != models.TimeColumn {
			found = true
		}
	})
	return found
}

// rawRow builds the result row for a select without aggregates.
func rawRow(s *cql.SelectStatement, src *rawSeries, points []rawPoint, opt ExecutionOptions) (*models.Row, error) {
	columns := []string{models.TimeColumn}
	if src.HasSeqs {
		columns = append(columns, models.SequenceColumn)
	}

	var fields cql.Fields
	if s.HasWildcard() {
		for _, c := range src.Columns {
			fields = append(fields, &cql.Field{Expr: &cql.VarRef{Val: c}})
		}
	} else {
		fields = s.Fields
	}
	for _, f := range fields {
		columns = append(columns, f.Name())
	}

	row := &models.Row{Name: src.Name, Columns: columns}
	emit := func(p rawPoint) error {
		value := make([]interface{}, 0, len(columns))
		value = append(value, opt.Precision.FromNanos(p.Time))
		if src.HasSeqs {
			value = append(value, int64(p.Seq))
		}
		for _, f := range fields {
			v, err := evalExpr(f.Expr, &p, opt)
			if err != nil {
				return err
			}
			value = append(value, v)
		}
		row.Values = append(row.Values, value)
		return nil
	}

	limit := s.Limit
	if s.Order == cql.Ascending {
		for _, p := range points {
			if len(row.Values) >= limit {
				break
			}
			if err := emit(p); err != nil {
				return nil, err
			}
		}
	} else {
		for i := len(points) - 1; i >= 0; i-- {
			if len(row.Values) >= limit {
				break
			}
			if err := emit(points[i]); err != nil {
				return nil, err
			}
		}
	}
	return row, nil
}

// evalBool evaluates expr against a point as a condition.
func evalBool(expr cql.Expr, p *rawPoint, opt ExecutionOptions) (bool, error) {
	v, err := evalExpr(expr, p, opt)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, kerrors.NewClientError(errors.Errorf("condition %s is not boolean", expr.String()))
	}
	return b, nil
}

// evalExpr evaluates a field or condition expression against a point.
func evalExpr(expr cql.Expr, p *rawPoint, opt ExecutionOptions) (interface{}, error) {
	switch e := expr.(type) {
	case *cql.VarRef:
		if e.Val == models.TimeColumn {
			return p.Time, nil
		}
		return p.Values[e.Val], nil
	case *cql.NumberLiteral:
		return e.Val, nil
	case *cql.IntegerLiteral:
		return e.Val, nil
	case *cql.BooleanLiteral:
		return e.Val, nil
	case *cql.StringLiteral:
		return e.Val, nil
	case *cql.DurationLiteral:
		return int64(e.Val), nil
	case *cql.RegexLiteral:
		return e.Val, nil
	case *cql.ParenExpr:
		return evalExpr(e.Expr, p, opt)
	case *cql.Call:
		if e.Name == "now" {
			return opt.Now.UnixNano(), nil
		}
		return nil, kerrors.NewClientError(errors.Errorf("function %s not valid here", e.Name))
	case *cql.BinaryExpr:
		return evalBinary(e, p, opt)
	default:
		return nil, errors.Errorf("cannot evaluate expression type %T", expr)
	}
}

func evalBinary(e *cql.BinaryExpr, p *rawPoint, opt ExecutionOptions) (interface{}, error) {
	lhs, err := evalExpr(e.LHS, p, opt)
	if err != nil {
		return nil, err
	}
	rhs, err := evalExpr(e.RHS, p, opt)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case cql.AND:
		lb, lok := lhs.(bool)
		rb, rok := rhs.(bool)
		return lok && rok && lb && rb, nil
	case cql.OR:
		lb, _ := lhs.(bool)
		rb, _ := rhs.(bool)
		return lb || rb, nil
	case cql.EQREGEX:
		return evalRegexMatch(lhs, rhs)
	}

	// Comparisons against time interpret the other side as a timestamp.
	if isTimeExpr(e.LHS) || isTimeExpr(e.RHS) {
		return evalTimeCompare(e, lhs, rhs, opt)
	}

	switch e.Op {
	case cql.EQ:
		return equalValues(lhs, rhs), nil
	case cql.NEQ:
		return !equalValues(lhs, rhs), nil
	}

	// Everything else is numeric.
	if lhs == nil || rhs == nil {
		return nil, nil
	}
	lf, lerr := cast.ToFloat64E(lhs)
	rf, rerr := cast.ToFloat64E(rhs)
	if lerr != nil || rerr != nil {
		return nil, kerrors.NewClientError(errors.Errorf("operands of %s are not numeric", e.Op.String()))
	}

	switch e.Op {
	case cql.LT:
		return lf < rf, nil
	case cql.LTE:
		return lf <= rf, nil
	case cql.GT:
		return lf > rf, nil
	case cql.GTE:
		return lf >= rf, nil
	case cql.ADD:
		return lf + rf, nil
	case cql.SUB:
		return lf - rf, nil
	case cql.MUL:
		return lf * rf, nil
	case cql.DIV:
		if rf == 0 {
			return nil, nil
		}
		return lf / rf, nil
	default:
		return nil, errors.Errorf("unsupported operator %s", e.Op.String())
	}
}

func isTimeExpr(expr cql.Expr) bool {
	ref, ok := expr.(*cql.VarRef)
	return ok && ref.Val == models.TimeColumn
}

// evalTimeCompare compares a point timestamp with a literal given in
// the request's wire precision.
func evalTimeCompare(e *cql.BinaryExpr, lhs, rhs interface{}, opt ExecutionOptions) (interface{}, error) {
	lv, rv := lhs, rhs
	op := e.Op
	if !isTimeExpr(e.LHS) {
		lv, rv = rhs, lhs
		op = flipCompare(op)
	}

	t, ok := lv.(int64)
	if !ok {
		return nil, kerrors.NewClientError(errors.New("time column is not a timestamp"))
	}
	bound, err := timeOperand(e, rv, opt)
	if err != nil {
		return nil, err
	}

	switch op {
	case cql.EQ:
		return t == bound, nil
	case cql.NEQ:
		return t != bound, nil
	case cql.LT:
		return t < bound, nil
	case cql.LTE:
		return t <= bound, nil
	case cql.GT:
		return t > bound, nil
	case cql.GTE:
		return t >= bound, nil
	default:
		return nil, kerrors.NewClientError(errors.Errorf("operator %s not valid on time", op.String()))
	}
}

// timeOperand converts the non-time side of a time comparison to
// nanoseconds.
func timeOperand(e *cql.BinaryExpr, v interface{}, opt ExecutionOptions) (int64, error) {
	other := e.RHS
	if !isTimeExpr(e.LHS) {
		other = e.LHS
	}

	switch lit := other.(type) {
	case *cql.StringLiteral:
		t, err := lit.ToTime()
		if err != nil {
			return 0, kerrors.NewClientError(err)
		}
		return t.UnixNano(), nil
	case *cql.IntegerLiteral:
		return opt.Precision.ToNanos(float64(lit.Val)), nil
	case *cql.NumberLiteral:
		return opt.Precision.ToNanos(lit.Val), nil
	}

	// now() arithmetic and similar already evaluate to nanoseconds.
	ns, err := cast.ToInt64E(v)
	if err != nil {
		return 0, kerrors.NewClientError(errors.New("time bound is not a timestamp"))
	}
	return ns, nil
}

func flipCompare(op cql.Token) cql.Token {
	switch op {
	case cql.LT:
		return cql.GT
	case cql.LTE:
		return cql.GTE
	case cql.GT:
		return cql.LT
	case cql.GTE:
		return cql.LTE
	default:
		return op
	}
}

func evalRegexMatch(lhs, rhs interface{}) (interface{}, error) {
	re, ok := rhs.(*regexp.Regexp)
	if !ok {
		return nil, kerrors.NewClientError(errors.New("right side of =~ must be a regex"))
	}
	s, err := cast.ToStringE(lhs)
	if err != nil {
		return false, nil
	}
	return re.MatchString(s), nil
}

func equalValues(lhs, rhs interface{}) bool {
	if lhs == nil || rhs == nil {
		return lhs == rhs
	}
	if lf, err := cast.ToFloat64E(lhs); err == nil {
		if rf, err := cast.ToFloat64E(rhs); err == nil {
			return lf == rf
		}
		return false
	}
	return lhs == rhs
}

// sortedColumns returns the union of two sorted column lists.
func sortedColumns(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, c := range a {
		set[c] = struct{}{}
	}
	for _, c := range b {
		set[c] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
