package query

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/kronosdb/kronosdb/cql"
	kerrors "github.com/kronosdb/kronosdb/pkg/errors"
	"github.com/kronosdb/kronosdb/tsdb"
)

// OrigSeriesColumn marks each merged point with the series it came from.
const OrigSeriesColumn = "_orig_series"

// readSource materializes a select source over [min, max].
func readSource(sh *tsdb.Shard, source cql.Source, min, max int64) (*rawSeries, error) {
	switch src := source.(type) {
	case *cql.Series:
		return readSeries(sh, src.Name, min, max)
	case *cql.Merge:
		return mergeSeries(sh, src.LHS.Name, src.RHS.Name, min, max)
	case *cql.InnerJoin:
		return joinSeries(sh, src.LHS.Name, src.RHS.Name, min, max)
	default:
		return nil, errors.Errorf("unsupported source type %T", source)
	}
}

func readSeries(sh *tsdb.Shard, name string, min, max int64) (*rawSeries, error) {
	block, ok := sh.Read(name, min, max)
	if !ok {
		return nil, kerrors.NewClientError(errors.Errorf("series %q not found", name))
	}
	return blockToRaw(block), nil
}

func blockToRaw(b *tsdb.SeriesBlock) *rawSeries {
	src := &rawSeries{
		Name:    b.Name,
		Columns: b.Columns,
		HasSeqs: true,
		Points:  make([]rawPoint, b.Len()),
	}
	for i := 0; i < b.Len(); i++ {
		values := make(map[string]interface{}, len(b.Columns))
		for ci, c := range b.Columns {
			if v := b.Values[ci][i]; v != nil {
				values[c] = v
			}
		}
		src.Points[i] = rawPoint{Time: b.Times[i], Seq: b.Seqs[i], Values: values}
	}
	return src
}

// mergeSeries interleaves two series by time. Each point gains an
// _orig_series column naming the series it came from, and the combined
// series is named "<lhs>_merge_<rhs>".
func mergeSeries(sh *tsdb.Shard, lhs, rhs string, min, max int64) (*rawSeries, error) {
	left, err := readSeries(sh, lhs, min, max)
	if err != nil {
		return nil, err
	}
	right, err := readSeries(sh, rhs, min, max)
	if err != nil {
		return nil, err
	}

	columns := sortedColumns(left.Columns, right.Columns)
	columns = append(columns, OrigSeriesColumn)
	sort.Strings(columns)

	merged := &rawSeries{
		Name:    fmt.Sprintf("%s_merge_%s", lhs, rhs),
		Columns: columns,
		HasSeqs: true,
		Points:  make([]rawPoint, 0, len(left.Points)+len(right.Points)),
	}

	li, ri := 0, 0
	for li < len(left.Points) || ri < len(right.Points) {
		var p rawPoint
		var origin string
		takeLeft := ri >= len(right.Points) ||
			(li < len(left.Points) && left.Points[li].Time <= right.Points[ri].Time)
		if takeLeft {
			p, origin = left.Points[li], lhs
			li++
		} else {
			p, origin = right.Points[ri], rhs
			ri++
		}
		values := make(map[string]interface{}, len(p.Values)+1)
		for k, v := range p.Values {
			values[k] = v
		}
		values[OrigSeriesColumn] = origin
		merged.Points = append(merged.Points, rawPoint{Time: p.Time, Seq: p.Seq, Values: values})
	}
	return merged, nil
}

// joinSeries pairs the points of two series positionally in time order.
// Columns are prefixed with their series name and the combined series
// is named "<lhs>_join_<rhs>". The shorter side ends the join.
func joinSeries(sh *tsdb.Shard, lhs, rhs string, min, max int64) (*rawSeries, error) {
	left, err := readSeries(sh, lhs, min, max)
	if err != nil {
		return nil, err
	}
	right, err := readSeries(sh, rhs, min, max)
	if err != nil {
		return nil, err
	}

	var columns []string
	for _, c := range left.Columns {
		columns = append(columns, lhs+"."+c)
	}
	for _, c := range right.Columns {
		columns = append(columns, rhs+"."+c)
	}
	sort.Strings(columns)

	n := len(left.Points)
	if len(right.Points) < n {
		n = len(right.Points)
	}

	joined := &rawSeries{
		Name:    fmt.Sprintf("%s_join_%s", lhs, rhs),
		Columns: columns,
		Points:  make([]rawPoint, 0, n),
	}
	for i := 0; i < n; i++ {
		lp, rp := left.Points[i], right.Points[i]
		values := make(map[string]interface{}, len(lp.Values)+len(rp.Values))
		for k, v := range lp.Values {
			values[lhs+"."+k] = v
		}
		for k, v := range rp.Values {
			values[rhs+"."+k] = v
		}
		// The pair carries the later of the two timestamps.
		t := lp.Time
		if rp.Time > t {
			t = rp.Time
		}
		joined.Points = append(joined.Points, rawPoint{Time: t, Values: values})
	}
	return joined, nil
}
