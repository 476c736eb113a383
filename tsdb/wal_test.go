package tsdb

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kronosdb/kronosdb/models"
)

// Ensure appended entries come back from a replay in order.
func TestWAL_AppendReplay(t *testing.T) {
	dir := t.TempDir()

	w := NewWAL(dir, 0)
	if err := w.Open(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	entries := []*walEntry{
		{Type: walWritePoints, Points: []models.Point{
			{Series: "cpu", Time: 1000, Sequence: 1, Values: map[string]interface{}{"value": 0.5}},
			{Series: "cpu", Time: 2000, Sequence: 2, Values: map[string]interface{}{"value": 0.6, "host": "a"}},
		}},
		{Type: walDeleteRange, Series: "cpu", MinTime: 0, MaxTime: 1500},
		{Type: walDropSeries, Series: "cpu"},
	}
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var got []*walEntry
	if err := NewWAL(dir, 0).Replay(func(e *walEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !reflect.DeepEqual(entries, got) {
		t.Fatalf("replay mismatch:\n  exp=%+v\n  got=%+v", entries, got)
	}
}

// Ensure a replay of a missing log is a no-op.
func TestWAL_Replay_Missing(t *testing.T) {
	if err := NewWAL(t.TempDir(), 0).Replay(func(*walEntry) error {
		t.Fatal("unexpected entry")
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
}

// Ensure a torn tail stops replay without losing the entries before it.
func TestWAL_Replay_TornTail(t *testing.T) {
	dir := t.TempDir()

	w := NewWAL(dir, 0)
	if err := w.Open(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Append(&walEntry{Type: walDropSeries, Series: "cpu"}); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// Simulate a crash mid-append: a frame header promising more bytes
	// than the file holds.
	f, err := os.OpenFile(filepath.Join(dir, WALFileName), os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := f.Write([]byte{0, 0, 0, 200, 1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var n int
	if err := NewWAL(dir, 0).Replay(func(*walEntry) error {
		n++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if n != 3 {
		t.Fatalf("unexpected entry count: exp=3 got=%d", n)
	}
}

// Ensure a checksum mismatch stops replay.
func TestWAL_Replay_BadChecksum(t *testing.T) {
	dir := t.TempDir()

	w := NewWAL(dir, 0)
	if err := w.Open(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := w.Append(&walEntry{Type: walDropSeries, Series: "cpu"}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// A complete frame whose checksum does not match its payload.
	f, err := os.OpenFile(filepath.Join(dir, WALFileName), os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := f.Write([]byte{0, 0, 0, 4, 0, 0, 0, 0, 1, 2, 3, 4}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var n int
	if err := NewWAL(dir, 0).Replay(func(*walEntry) error {
		n++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if n != 1 {
		t.Fatalf("unexpected entry count: exp=1 got=%d", n)
	}
}

// Ensure truncation empties the log.
func TestWAL_Truncate(t *testing.T) {
	dir := t.TempDir()

	w := NewWAL(dir, 0)
	if err := w.Open(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := w.Append(&walEntry{Type: walDropSeries, Series: "cpu"}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := w.Truncate(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := w.Append(&walEntry{Type: walDropSeries, Series: "mem"}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var got []string
	if err := NewWAL(dir, 0).Replay(func(e *walEntry) error {
		got = append(got, e.Series)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !reflect.DeepEqual(got, []string{"mem"}) {
		t.Fatalf("unexpected entries after truncate: %v", got)
	}
}
