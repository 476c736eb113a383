package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestResponseLogger(t *testing.T) {
	w := httptest.NewRecorder()
	l := &ResponseLogger{w: w}

	// An unset status defaults to 200.
	if l.Status() != 200 {
		t.Fatalf("unexpected status: %d", l.Status())
	}

	if _, err := l.Write([]byte("hello")); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if l.Status() != 200 || l.Size() != 5 {
		t.Fatalf("unexpected state: status=%d size=%d", l.Status(), l.Size())
	}

	l2 := &ResponseLogger{w: httptest.NewRecorder()}
	l2.WriteHeader(404)
	if l2.Status() != 404 {
		t.Fatalf("unexpected status: %d", l2.Status())
	}
}

func TestRedactPassword(t *testing.T) {
	r := httptest.NewRequest("GET", "/db/db0/series?u=root&p=secret&q=list+series", nil)
	redactPassword(r)
	q := r.URL.Query()
	if got := q.Get("p"); got != "[REDACTED]" {
		t.Fatalf("password not redacted: %q", got)
	}
	if q.Get("u") != "root" || q.Get("q") != "list series" {
		t.Fatalf("other params disturbed: %s", r.URL.RawQuery)
	}

	// Requests without a password pass through untouched.
	r = httptest.NewRequest("GET", "/ping?verbose=true", nil)
	redactPassword(r)
	if r.URL.RawQuery != "verbose=true" {
		t.Fatalf("query string disturbed: %q", r.URL.RawQuery)
	}
}

func TestBuildLogLine(t *testing.T) {
	r := httptest.NewRequest("GET", "/db/db0/series?u=root&p=secret&q=list+series", nil)
	r.RemoteAddr = "192.168.0.1:12345"
	r.Header.Set("User-Agent", "test-agent")
	r.Header.Set(headerRequestID, "req-1")

	l := &ResponseLogger{w: httptest.NewRecorder()}
	l.WriteHeader(200)
	_, _ = l.Write([]byte("body"))

	start := time.Date(2019, time.March, 1, 12, 0, 0, 0, time.UTC)
	line := buildLogLine(l, r, start)

	for _, want := range []string{
		"192.168.0.1 - root ",
		`"GET /db/db0/series?p=%5BREDACTED%5D&q=list+series&u=root HTTP/1.1"`,
		" 200 4 ",
		`"test-agent"`,
		"req-1",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q:\n%s", want, line)
		}
	}
	if strings.Contains(line, "secret") {
		t.Fatalf("password leaked into log line:\n%s", line)
	}
}

func TestParseUsername(t *testing.T) {
	r := httptest.NewRequest("GET", "/?u=alice", nil)
	if got := parseUsername(r); got != "alice" {
		t.Fatalf("unexpected username: %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.SetBasicAuth("bob", "pass")
	if got := parseUsername(r); got != "bob" {
		t.Fatalf("unexpected username: %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer sometoken")
	if got := parseUsername(r); got != "[token]" {
		t.Fatalf("unexpected username: %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	if got := parseUsername(r); got != "" {
		t.Fatalf("unexpected username: %q", got)
	}
}
