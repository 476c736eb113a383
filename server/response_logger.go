package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ResponseLogger wraps a ResponseWriter and captures the status code and
// response size for access logging.
type ResponseLogger struct {
	w      http.ResponseWriter
	status int
	size   int
}

func (l *ResponseLogger) Header() http.Header {
	return l.w.Header()
}

func (l *ResponseLogger) Write(b []byte) (int, error) {
	if l.status == 0 {
		l.status = http.StatusOK
	}
	n, err := l.w.Write(b)
	l.size += n
	return n, err
}

func (l *ResponseLogger) WriteHeader(code int) {
	l.status = code
	l.w.WriteHeader(code)
}

// Flush flushes the underlying writer, if supported.
func (l *ResponseLogger) Flush() {
	if f, ok := l.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Status returns the response status, defaulting to 200.
func (l *ResponseLogger) Status() int {
	if l.status == 0 {
		return http.StatusOK
	}
	return l.status
}

// Size returns the number of body bytes written.
func (l *ResponseLogger) Size() int {
	return l.size
}

// redact any password references in the query string before logging
func redactPassword(r *http.Request) {
	q := r.URL.Query()
	if p := q.Get("p"); p != "" {
		q.Set("p", "[REDACTED]")
		r.URL.RawQuery = q.Encode()
	}
}

// buildLogLine creates a common log format line for the request.
func buildLogLine(l *ResponseLogger, r *http.Request, start time.Time) string {
	redactPassword(r)

	username := parseUsername(r)

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	uri := r.URL.RequestURI()

	referer := r.Referer()
	userAgent := r.UserAgent()

	return fmt.Sprintf(`%s - %s [%s] "%s %s %s" %s %s "%s" "%s" %s %d`,
		host,
		detect(username, "-"),
		start.Format("02/Jan/2006:15:04:05 -0700"),
		r.Method,
		uri,
		r.Proto,
		detect(strconv.Itoa(l.Status()), "-"),
		strconv.Itoa(l.Size()),
		detect(referer, "-"),
		detect(userAgent, "-"),
		r.Header.Get(headerRequestID),
		time.Since(start)/time.Millisecond)
}

// detect detects the first presence of a non blank string and returns it
func detect(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parses the username either from the url or auth header
func parseUsername(r *http.Request) string {
	var username string

	q := r.URL.Query()
	if u := q.Get("u"); u != "" {
		username = u
	} else if u, _, ok := r.BasicAuth(); ok {
		username = u
	} else if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		username = "[token]"
	}

	return username
}
