package server

import (
	"compress/gzip"
	"io"
	"net/http"
	"sync"
)

// Compressors are pooled; a response borrows one on the first byte of a
// 200 body and returns it when the request finishes.
var gzipPool = sync.Pool{
	New: func() interface{} { return gzip.NewWriter(nil) },
}

// gzipResponseWriter swaps in a pooled gzip writer when the response
// turns out to be a 200. Error responses stay uncompressed so their
// bodies remain readable in logs and curl output.
type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
	http.Flusher
	headerWritten bool
}

func newGzipResponseWriter(w http.ResponseWriter) *gzipResponseWriter {
	gw := &gzipResponseWriter{ResponseWriter: w, Writer: w}
	if f, ok := w.(http.Flusher); ok {
		gw.Flusher = f
	}
	return gw
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	if w.headerWritten {
		return
	}
	w.headerWritten = true

	if code == http.StatusOK {
		w.Header().Set("Content-Encoding", "gzip")
		if _, ok := w.Writer.(*gzip.Writer); !ok {
			gz := gzipPool.Get().(*gzip.Writer)
			gz.Reset(w.Writer)
			w.Writer = gz
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *gzipResponseWriter) Write(p []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.Writer.Write(p)
}

func (w *gzipResponseWriter) Flush() {
	if f, ok := w.Writer.(interface{ Flush() }); ok {
		f.Flush()
	}
	if w.Flusher != nil {
		w.Flusher.Flush()
	}
}

// Close terminates the gzip stream and puts the compressor back in the
// pool. Safe to call when no compression happened.
func (w *gzipResponseWriter) Close() error {
	if gz, ok := w.Writer.(*gzip.Writer); ok {
		err := gz.Close()
		gzipPool.Put(gz)
		return err
	}
	return nil
}
