package query

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/retailnext/hllpp"
	"github.com/spf13/cast"

	"github.com/kronosdb/kronosdb/cql"
	"github.com/kronosdb/kronosdb/models"
	kerrors "github.com/kronosdb/kronosdb/pkg/errors"
)

// hllThreshold is the bucket size above which count(distinct ...) uses
// an HLL++ estimate instead of an exact set.
const hllThreshold = 100000

// aggregateRow builds the result row for a select with aggregates.
func aggregateRow(s *cql.SelectStatement, src *rawSeries, points []rawPoint, min, max int64, opt ExecutionOptions) (*models.Row, error) {
	var interval int64
	var groupCols []string
	fill, fillValue := false, interface{}(nil)
	if s.GroupBy != nil {
		interval = int64(s.GroupBy.Interval)
		groupCols = s.GroupBy.Columns
		fill, fillValue = s.GroupBy.Fill, s.GroupBy.FillValue
	}

	columns := []string{models.TimeColumn}
	for _, f := range s.Fields {
		columns = append(columns, f.Name())
	}
	columns = append(columns, groupCols...)

	expanding := false
	for _, f := range s.Fields {
		call, ok := f.Expr.(*cql.Call)
		if !ok {
			return nil, kerrors.NewClientError(errors.Errorf("field %s must be an aggregate", f.Expr.String()))
		}
		if isExpandingFunc(call.Name) {
			expanding = true
		}
	}
	if expanding && len(s.Fields) > 1 {
		return nil, kerrors.NewClientError(errors.New("distinct, top, and bottom cannot be combined with other aggregates"))
	}

	// Partition the points into buckets.
	type bucketKey struct {
		time  int64
		group string
	}
	buckets := make(map[bucketKey][]rawPoint)
	groups := make(map[string][]interface{})
	var keys []bucketKey
	for _, p := range points {
		bt := min
		if interval > 0 {
			bt = p.Time - mod(p.Time, interval)
		}
		gvals := make([]interface{}, len(groupCols))
		var gk strings.Builder
		for i, c := range groupCols {
			gvals[i] = p.Values[c]
			fmt.Fprintf(&gk, "%v\x00", p.Values[c])
		}
		key := bucketKey{time: bt, group: gk.String()}
		if _, ok := buckets[key]; !ok {
			keys = append(keys, key)
			groups[key.group] = gvals
		}
		buckets[key] = append(buckets[key], p)
	}

	// fill emits every interval in the window, even the empty ones.
	if fill && interval > 0 {
		groupKeys := groups
		if len(groupKeys) == 0 {
			groupKeys = map[string][]interface{}{"": make([]interface{}, len(groupCols))}
		}
		for bt := min - mod(min, interval); bt <= max; bt += interval {
			for gk, gvals := range groupKeys {
				key := bucketKey{time: bt, group: gk}
				if _, ok := buckets[key]; !ok {
					keys = append(keys, key)
					groups[gk] = gvals
					buckets[key] = nil
				}
			}
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].time != keys[j].time {
			if s.Order == cql.Ascending {
				return keys[i].time < keys[j].time
			}
			return keys[i].time > keys[j].time
		}
		return keys[i].group < keys[j].group
	})

	row := &models.Row{Name: src.Name, Columns: columns}
	for _, key := range keys {
		if len(row.Values) >= s.Limit {
			break
		}
		pts := buckets[key]

		cells := make([][]interface{}, 0, 1)
		allNil := true
		for _, f := range s.Fields {
			call := f.Expr.(*cql.Call)
			v, err := applyAggregate(call, pts)
			if err != nil {
				return nil, err
			}
			if vs, ok := v.([]interface{}); ok {
				// Expanding aggregates emit one row per value.
				for _, ev := range vs {
					cells = append(cells, []interface{}{ev})
				}
				allNil = allNil && len(vs) == 0
			} else {
				if v != nil {
					allNil = false
				} else if fill {
					v = fillValue
				}
				if len(cells) == 0 {
					cells = append(cells, make([]interface{}, 0, len(s.Fields)))
				}
				cells[0] = append(cells[0], v)
			}
		}
		if allNil && !fill {
			continue
		}

		bt := opt.Precision.FromNanos(key.time)
		for _, cell := range cells {
			value := make([]interface{}, 0, len(columns))
			value = append(value, bt)
			value = append(value, cell...)
			value = append(value, groups[key.group]...)
			row.Values = append(row.Values, value)
		}
	}
	return row, nil
}

func mod(v, m int64) int64 {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}

// isExpandingFunc reports whether the aggregate can emit more than one
// value per bucket.
func isExpandingFunc(name string) bool {
	switch strings.ToLower(name) {
	case "distinct", "top", "bottom":
		return true
	}
	return false
}

// applyAggregate computes one aggregate over a bucket of points.
// Expanding aggregates return []interface{}.
func applyAggregate(call *cql.Call, points []rawPoint) (interface{}, error) {
	name := strings.ToLower(call.Name)

	// count(distinct col) is a nested call.
	if name == "count" && len(call.Args) == 1 {
		if inner, ok := call.Args[0].(*cql.Call); ok && strings.ToLower(inner.Name) == "distinct" {
			return countDistinct(inner, points)
		}
	}

	col, err := argColumn(call, 0)
	if err != nil {
		return nil, err
	}

	switch name {
	case "count":
		n := int64(0)
		for _, p := range points {
			if p.Values[col] != nil {
				n++
			}
		}
		return n, nil

	case "sum":
		vals := floatColumn(points, col)
		if len(vals) == 0 {
			return nil, nil
		}
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum, nil

	case "min":
		vals := floatColumn(points, col)
		if len(vals) == 0 {
			return nil, nil
		}
		min := vals[0]
		for _, v := range vals[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil

	case "max":
		vals := floatColumn(points, col)
		if len(vals) == 0 {
			return nil, nil
		}
		max := vals[0]
		for _, v := range vals[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil

	case "mean":
		vals := floatColumn(points, col)
		if len(vals) == 0 {
			return nil, nil
		}
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum / float64(len(vals)), nil

	case "median":
		vals := floatColumn(points, col)
		if len(vals) == 0 {
			return nil, nil
		}
		sort.Float64s(vals)
		n := len(vals)
		if n%2 == 1 {
			return vals[n/2], nil
		}
		return (vals[n/2-1] + vals[n/2]) / 2, nil

	case "mode":
		counts := make(map[interface{}]int)
		for _, p := range points {
			if v := p.Values[col]; v != nil {
				counts[v]++
			}
		}
		if len(counts) == 0 {
			return nil, nil
		}
		var mode interface{}
		best := -1
		for v, n := range counts {
			if n > best {
				mode, best = v, n
			}
		}
		return mode, nil

	case "stddev":
		vals := floatColumn(points, col)
		if len(vals) < 2 {
			return nil, nil
		}
		var sum float64
		for _, v := range vals {
			sum += v
		}
		mean := sum / float64(len(vals))
		var sq float64
		for _, v := range vals {
			sq += (v - mean) * (v - mean)
		}
		return math.Sqrt(sq / float64(len(vals)-1)), nil

	case "first":
		for _, p := range points {
			if v := p.Values[col]; v != nil {
				return v, nil
			}
		}
		return nil, nil

	case "last":
		for i := len(points) - 1; i >= 0; i-- {
			if v := points[i].Values[col]; v != nil {
				return v, nil
			}
		}
		return nil, nil

	case "distinct":
		seen := make(map[interface{}]struct{})
		var out []interface{}
		for _, p := range points {
			v := p.Values[col]
			if v == nil {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
		sortValues(out)
		return out, nil

	case "percentile":
		pct, err := argNumber(call, 1)
		if err != nil {
			return nil, err
		}
		if pct < 0 || pct > 100 {
			return nil, kerrors.NewClientError(errors.New("percentile must be between 0 and 100"))
		}
		vals := floatColumn(points, col)
		if len(vals) == 0 {
			return nil, nil
		}
		sort.Float64s(vals)
		idx := int(math.Ceil(pct/100*float64(len(vals)))) - 1
		if idx < 0 {
			idx = 0
		}
		return vals[idx], nil

	case "derivative":
		vals, times := floatColumnWithTimes(points, col)
		if len(vals) < 2 {
			return nil, nil
		}
		elapsed := float64(times[len(times)-1]-times[0]) / float64(1e9)
		if elapsed == 0 {
			return nil, nil
		}
		return (vals[len(vals)-1] - vals[0]) / elapsed, nil

	case "difference":
		vals := floatColumn(points, col)
		if len(vals) < 2 {
			return nil, nil
		}
		return vals[len(vals)-1] - vals[0], nil

	case "top", "bottom":
		n, err := argNumber(call, 1)
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, kerrors.NewClientError(errors.Errorf("%s requires a positive count", name))
		}
		vals := floatColumn(points, col)
		if len(vals) == 0 {
			return []interface{}(nil), nil
		}
		if name == "top" {
			sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
		} else {
			sort.Float64s(vals)
		}
		if len(vals) > int(n) {
			vals = vals[:int(n)]
		}
		out := make([]interface{}, len(vals))
		for i, v := range vals {
			out[i] = v
		}
		return out, nil

	default:
		return nil, kerrors.NewClientError(errors.Errorf("unknown aggregate function %s", call.Name))
	}
}

// countDistinct counts unique values, switching to an HLL++ estimate
// for very large buckets.
func countDistinct(inner *cql.Call, points []rawPoint) (interface{}, error) {
	col, err := argColumn(inner, 0)
	if err != nil {
		return nil, err
	}

	if len(points) > hllThreshold {
		sketch := hllpp.New()
		for _, p := range points {
			if v := p.Values[col]; v != nil {
				sketch.Add([]byte(fmt.Sprintf("%v", v)))
			}
		}
		return int64(sketch.Count()), nil
	}

	seen := make(map[interface{}]struct{})
	for _, p := range points {
		if v := p.Values[col]; v != nil {
			seen[v] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

// argColumn extracts the column reference at position i.
func argColumn(call *cql.Call, i int) (string, error) {
	if len(call.Args) <= i {
		return "", kerrors.NewClientError(errors.Errorf("%s requires a column argument", call.Name))
	}
	switch arg := call.Args[i].(type) {
	case *cql.VarRef:
		return arg.Val, nil
	case *cql.Wildcard:
		return "", kerrors.NewClientError(errors.Errorf("%s does not accept a wildcard", call.Name))
	default:
		return "", kerrors.NewClientError(errors.Errorf("argument %d of %s must be a column", i, call.Name))
	}
}

// argNumber extracts the numeric literal at position i.
func argNumber(call *cql.Call, i int) (float64, error) {
	if len(call.Args) <= i {
		return 0, kerrors.NewClientError(errors.Errorf("%s requires a numeric argument", call.Name))
	}
	switch arg := call.Args[i].(type) {
	case *cql.NumberLiteral:
		return arg.Val, nil
	case *cql.IntegerLiteral:
		return float64(arg.Val), nil
	default:
		return 0, kerrors.NewClientError(errors.Errorf("argument %d of %s must be a number", i, call.Name))
	}
}

// floatColumn extracts the non-null values of col coerced to float64.
func floatColumn(points []rawPoint, col string) []float64 {
	vals := make([]float64, 0, len(points))
	for _, p := range points {
		v := p.Values[col]
		if v == nil {
			continue
		}
		if f, err := cast.ToFloat64E(v); err == nil {
			vals = append(vals, f)
		}
	}
	return vals
}

func floatColumnWithTimes(points []rawPoint, col string) ([]float64, []int64) {
	vals := make([]float64, 0, len(points))
	times := make([]int64, 0, len(points))
	for _, p := range points {
		v := p.Values[col]
		if v == nil {
			continue
		}
		if f, err := cast.ToFloat64E(v); err == nil {
			vals = append(vals, f)
			times = append(times, p.Time)
		}
	}
	return vals, times
}

// sortValues orders mixed scalars for stable distinct output.
func sortValues(vals []interface{}) {
	sort.Slice(vals, func(i, j int) bool {
		return fmt.Sprintf("%v", vals[i]) < fmt.Sprintf("%v", vals[j])
	})
}
