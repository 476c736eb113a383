package models_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/kronosdb/kronosdb/models"
	kerrors "github.com/kronosdb/kronosdb/pkg/errors"
)

func TestPoint_Validate(t *testing.T) {
	for _, tt := range []struct {
		name string
		p    models.Point
		err  bool
	}{
		{
			name: "valid",
			p: models.Point{Series: "cpu", Values: map[string]interface{}{
				"value": 0.5, "count": int64(3), "up": true, "host": "a", "gap": nil,
			}},
		},
		{
			name: "missing series",
			p:    models.Point{Values: map[string]interface{}{"value": 0.5}},
			err:  true,
		},
		{
			name: "reserved time column",
			p:    models.Point{Series: "cpu", Values: map[string]interface{}{"time": 0.5}},
			err:  true,
		},
		{
			name: "reserved sequence column",
			p:    models.Point{Series: "cpu", Values: map[string]interface{}{"sequence_number": 0.5}},
			err:  true,
		},
		{
			name: "unsupported value type",
			p:    models.Point{Series: "cpu", Values: map[string]interface{}{"value": []int{1}}},
			err:  true,
		},
	} {
		err := tt.p.Validate()
		if (err != nil) != tt.err {
			t.Errorf("%s: unexpected result: %v", tt.name, err)
		}
		// Validation failures are the caller's fault.
		if err != nil && !kerrors.IsClientError(err) {
			t.Errorf("%s: error not classified as client error: %v", tt.name, err)
		}
	}
}

func TestPoint_Columns(t *testing.T) {
	p := models.Point{Series: "cpu", Values: map[string]interface{}{
		"value": 0.5, "host": "a", "region": "us",
	}}
	if got, exp := p.Columns(), []string{"host", "region", "value"}; !reflect.DeepEqual(got, exp) {
		t.Fatalf("unexpected columns: exp=%v got=%v", exp, got)
	}
}

func TestParsePrecision(t *testing.T) {
	for _, tt := range []struct {
		s   string
		p   models.Precision
		err bool
	}{
		{s: "", p: models.PrecisionMillisecond},
		{s: "ms", p: models.PrecisionMillisecond},
		{s: "m", p: models.PrecisionMillisecond},
		{s: "s", p: models.PrecisionSecond},
		{s: "u", p: models.PrecisionMicrosecond},
		{s: "ns", p: models.PrecisionNanosecond},
		{s: "n", p: models.PrecisionNanosecond},
		{s: "h", err: true},
		{s: "millis", err: true},
	} {
		p, err := models.ParsePrecision(tt.s)
		if tt.err {
			if err == nil {
				t.Errorf("%q: expected error", tt.s)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %s", tt.s, err)
		} else if p != tt.p {
			t.Errorf("%q: exp=%v got=%v", tt.s, tt.p, p)
		}
	}
}

func TestPrecision_Conversions(t *testing.T) {
	for _, tt := range []struct {
		p  models.Precision
		v  float64
		ns int64
	}{
		{p: models.PrecisionMillisecond, v: 1500, ns: 1500 * int64(time.Millisecond)},
		{p: models.PrecisionSecond, v: 2, ns: 2 * int64(time.Second)},
		{p: models.PrecisionMicrosecond, v: 7, ns: 7 * int64(time.Microsecond)},
		{p: models.PrecisionNanosecond, v: 42, ns: 42},
		{p: models.PrecisionMillisecond, v: 0.5, ns: int64(time.Millisecond) / 2},
	} {
		if got := tt.p.ToNanos(tt.v); got != tt.ns {
			t.Errorf("ToNanos(%v): exp=%d got=%d", tt.v, tt.ns, got)
		}
	}

	if got := models.PrecisionMillisecond.FromNanos(1500 * int64(time.Millisecond)); got != 1500 {
		t.Fatalf("unexpected wire time: %d", got)
	}
	if got := models.PrecisionSecond.FromNanos(1500 * int64(time.Millisecond)); got != 1 {
		t.Fatalf("unexpected wire time: %d", got)
	}
}

func TestRows_Sort(t *testing.T) {
	rows := models.Rows{{Name: "mem"}, {Name: "cpu"}, {Name: "disk"}}
	if rows.Less(0, 1) {
		t.Fatal("mem should not sort before cpu")
	}
	rows.Swap(0, 1)
	if rows[0].Name != "cpu" || rows[1].Name != "mem" {
		t.Fatalf("unexpected order: %v %v", rows[0].Name, rows[1].Name)
	}
	if rows.Len() != 3 {
		t.Fatalf("unexpected length: %d", rows.Len())
	}
}

func TestRow_SameSeries(t *testing.T) {
	a := &models.Row{Name: "cpu", Columns: []string{"time", "value"}}
	b := &models.Row{Name: "cpu", Columns: []string{"time", "mean"}}
	c := &models.Row{Name: "mem"}
	if !a.SameSeries(b) {
		t.Fatal("rows with the same name should match")
	}
	if a.SameSeries(c) {
		t.Fatal("rows with different names should not match")
	}
}
