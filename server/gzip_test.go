package server

import (
	"compress/gzip"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGzipResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newGzipResponseWriter(rec)

	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("unexpected encoding: %q", got)
	}
	gr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	body, err := ioutil.ReadAll(gr)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if string(body) != "hello" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestGzipResponseWriter_Error(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newGzipResponseWriter(rec)

	// Non-200 responses skip compression.
	w.WriteHeader(http.StatusBadRequest)
	if _, err := w.Write([]byte("nope")); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Fatalf("unexpected encoding: %q", got)
	}
	if rec.Body.String() != "nope" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}
