// Package prometheus converts between the Prometheus remote read/write
// protobuf types and the native point model.
package prometheus

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/prometheus/prompb"

	"github.com/kronosdb/kronosdb/models"
	"github.com/kronosdb/kronosdb/tsdb"
)

// MeasurementLabel is the Prometheus label carrying the metric name.
const MeasurementLabel = "__name__"

// ValueColumn is the column samples are stored under.
const ValueColumn = "value"

// ErrNaNDropped reports that a write contained NaN samples, which have
// no representation here and were dropped.
var ErrNaNDropped = errors.New("dropped NaN sample")

// WriteRequestToPoints converts a remote write request to points. The
// metric name becomes the series name and the remaining labels become
// string columns.
func WriteRequestToPoints(req *prompb.WriteRequest) ([]models.Point, error) {
	var points []models.Point
	var droppedNaN error

	for _, ts := range req.Timeseries {
		name := ""
		labels := make(map[string]interface{}, len(ts.Labels))
		for _, l := range ts.Labels {
			if l.Name == MeasurementLabel {
				name = l.Value
				continue
			}
			labels[l.Name] = l.Value
		}
		if name == "" {
			return nil, errors.Errorf("missing %s label", MeasurementLabel)
		}

		for _, s := range ts.Samples {
			if math.IsNaN(s.Value) {
				droppedNaN = ErrNaNDropped
				continue
			}
			values := make(map[string]interface{}, len(labels)+1)
			for k, v := range labels {
				values[k] = v
			}
			values[ValueColumn] = s.Value
			points = append(points, models.Point{
				Series: name,
				Time:   s.Timestamp * int64(time.Millisecond),
				Values: values,
			})
		}
	}
	return points, droppedNaN
}

// ReadQuerySeries extracts the series name and time bounds (ns) from a
// remote read query. Only equality matching on the metric name is
// supported; label matchers are applied by the caller via FilterLabels.
func ReadQuerySeries(q *prompb.Query) (name string, min, max int64, err error) {
	for _, m := range q.Matchers {
		if m.Name != MeasurementLabel {
			continue
		}
		if m.Type != prompb.LabelMatcher_EQ {
			return "", 0, 0, errors.Errorf("unsupported matcher type %s on %s", m.Type, MeasurementLabel)
		}
		name = m.Value
	}
	if name == "" {
		return "", 0, 0, errors.Errorf("query has no %s matcher", MeasurementLabel)
	}
	return name,
		q.StartTimestampMs * int64(time.Millisecond),
		q.EndTimestampMs * int64(time.Millisecond),
		nil
}

// MatchLabels reports whether a row's label values satisfy the query's
// remaining matchers.
func MatchLabels(q *prompb.Query, labels map[string]string) (bool, error) {
	for _, m := range q.Matchers {
		if m.Name == MeasurementLabel {
			continue
		}
		v := labels[m.Name]
		switch m.Type {
		case prompb.LabelMatcher_EQ:
			if v != m.Value {
				return false, nil
			}
		case prompb.LabelMatcher_NEQ:
			if v == m.Value {
				return false, nil
			}
		default:
			return false, errors.Errorf("unsupported matcher type %s on %s", m.Type, m.Name)
		}
	}
	return true, nil
}

// BlockToTimeSeries converts a series block to remote read time series,
// one per distinct label set, filtered through the query's matchers.
// Sample timestamps are reported in milliseconds.
func BlockToTimeSeries(q *prompb.Query, block *tsdb.SeriesBlock) ([]*prompb.TimeSeries, error) {
	valueIdx := -1
	labelCols := make([]int, 0, len(block.Columns))
	for i, c := range block.Columns {
		if c == ValueColumn {
			valueIdx = i
			continue
		}
		labelCols = append(labelCols, i)
	}
	if valueIdx < 0 {
		return nil, nil
	}

	bySet := make(map[string]*prompb.TimeSeries)
	var order []string
	for i := 0; i < block.Len(); i++ {
		v, ok := block.Values[valueIdx][i].(float64)
		if !ok {
			continue
		}

		labels := make(map[string]string, len(labelCols))
		var key strings.Builder
		for _, ci := range labelCols {
			lv, _ := block.Values[ci][i].(string)
			if lv == "" {
				continue
			}
			labels[block.Columns[ci]] = lv
			fmt.Fprintf(&key, "%s\x00%s\x00", block.Columns[ci], lv)
		}

		ok, err := MatchLabels(q, labels)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		ts := bySet[key.String()]
		if ts == nil {
			ts = &prompb.TimeSeries{Labels: labelPairs(block.Name, labels)}
			bySet[key.String()] = ts
			order = append(order, key.String())
		}
		ts.Samples = append(ts.Samples, prompb.Sample{
			Value:     v,
			Timestamp: block.Times[i] / int64(time.Millisecond),
		})
	}

	out := make([]*prompb.TimeSeries, 0, len(order))
	for _, k := range order {
		out = append(out, bySet[k])
	}
	return out, nil
}

func labelPairs(name string, labels map[string]string) []prompb.Label {
	pairs := make([]prompb.Label, 0, len(labels)+1)
	pairs = append(pairs, prompb.Label{Name: MeasurementLabel, Value: name})
	for k, v := range labels {
		pairs = append(pairs, prompb.Label{Name: k, Value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs
}
