package server

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/tinylib/msgp/msgp"

	"github.com/kronosdb/kronosdb/models"
)

// Response is the result of a query. On success it marshals as a bare
// JSON array of rows; on failure as an error object.
type Response struct {
	Rows []*models.Row
	Err  error
}

// MarshalJSON encodes the response to JSON.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(map[string]string{"error": r.Err.Error()})
	}
	if r.Rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Rows)
}

// Error returns the first error in the response, if any.
func (r *Response) Error() error {
	return r.Err
}

// ResponseWriter is an interface for writing a response.
type ResponseWriter interface {
	// WriteResponse writes a response.
	WriteResponse(resp Response) (int, error)

	http.ResponseWriter
}

// NewResponseWriter creates a new ResponseWriter based on the Accept header
// in the request that wraps the ResponseWriter.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) ResponseWriter {
	pretty := r.URL.Query().Get("pretty") == "true"
	rw := &responseWriter{ResponseWriter: w}
	switch r.Header.Get("Accept") {
	case "application/csv", "text/csv":
		w.Header().Add("Content-Type", "text/csv")
		rw.formatter = &csvFormatter{}
	case "application/x-msgpack":
		w.Header().Add("Content-Type", "application/x-msgpack")
		rw.formatter = &msgpackFormatter{}
	case "application/json":
		fallthrough
	default:
		w.Header().Add("Content-Type", "application/json")
		rw.formatter = &jsonFormatter{Pretty: pretty}
	}
	return rw
}

type bytesCountWriter struct {
	w io.Writer
	n int
}

func (w *bytesCountWriter) Write(data []byte) (int, error) {
	n, err := w.w.Write(data)
	w.n += n
	return n, err
}

// responseWriter is an implementation of ResponseWriter.
type responseWriter struct {
	formatter interface {
		WriteResponse(w io.Writer, resp Response) error
	}
	http.ResponseWriter
}

// WriteResponse writes the response using the formatter.
func (w *responseWriter) WriteResponse(resp Response) (int, error) {
	writer := bytesCountWriter{w: w.ResponseWriter}
	err := w.formatter.WriteResponse(&writer, resp)
	return writer.n, err
}

// Flush flushes the ResponseWriter if it has a Flush() method.
func (w *responseWriter) Flush() {
	if w, ok := w.ResponseWriter.(http.Flusher); ok {
		w.Flush()
	}
}

type jsonFormatter struct {
	Pretty bool
}

func (f *jsonFormatter) WriteResponse(w io.Writer, resp Response) (err error) {
	var b []byte
	if f.Pretty {
		b, err = json.MarshalIndent(resp, "", "    ")
	} else {
		b, err = json.Marshal(resp)
	}

	if err != nil {
		_, err = io.WriteString(w, err.Error())
	} else {
		_, err = w.Write(b)
	}

	_, _ = w.Write([]byte("\n"))
	return err
}

type csvFormatter struct {
	columns []string
}

func (f *csvFormatter) WriteResponse(w io.Writer, resp Response) (err error) {
	cw := csv.NewWriter(w)
	if resp.Err != nil {
		_ = cw.Write([]string{"error"})
		_ = cw.Write([]string{resp.Err.Error()})
		cw.Flush()
		return cw.Error()
	}

	for i, row := range resp.Rows {
		if i == 0 || !stringsEqual(resp.Rows[i-1].Columns, row.Columns) {
			// The columns have changed. Print a newline and reprint the header.
			if i > 0 {
				cw.Flush()
				if err := cw.Error(); err != nil {
					return err
				}
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}

			f.columns = make([]string, 1+len(row.Columns))
			f.columns[0] = "series"
			copy(f.columns[1:], row.Columns)
			if err := cw.Write(f.columns); err != nil {
				return err
			}
		}

		f.columns[0] = row.Name
		for _, values := range row.Values {
			for i, value := range values {
				if value == nil {
					f.columns[i+1] = ""
					continue
				}

				switch v := value.(type) {
				case float64:
					f.columns[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
				case int64:
					f.columns[i+1] = strconv.FormatInt(v, 10)
				case uint64:
					f.columns[i+1] = strconv.FormatUint(v, 10)
				case string:
					f.columns[i+1] = v
				case bool:
					if v {
						f.columns[i+1] = "true"
					} else {
						f.columns[i+1] = "false"
					}
				default:
					f.columns[i+1] = ""
				}
			}
			_ = cw.Write(f.columns)
		}
	}
	cw.Flush()
	return cw.Error()
}

type msgpackFormatter struct{}

func (f *msgpackFormatter) ContentType() string {
	return "application/x-msgpack"
}

func (f *msgpackFormatter) WriteResponse(w io.Writer, resp Response) (err error) {
	enc := msgp.NewWriter(w)
	defer enc.Flush()

	if resp.Err != nil {
		_ = enc.WriteMapHeader(1)
		_ = enc.WriteString("error")
		_ = enc.WriteString(resp.Err.Error())
		return nil
	}

	_ = enc.WriteArrayHeader(uint32(len(resp.Rows)))
	for _, row := range resp.Rows {
		_ = enc.WriteMapHeader(3)
		_ = enc.WriteString("series")
		_ = enc.WriteString(row.Name)
		_ = enc.WriteString("columns")
		_ = enc.WriteArrayHeader(uint32(len(row.Columns)))
		for _, col := range row.Columns {
			_ = enc.WriteString(col)
		}
		_ = enc.WriteString("datapoints")
		_ = enc.WriteArrayHeader(uint32(len(row.Values)))
		for _, values := range row.Values {
			_ = enc.WriteArrayHeader(uint32(len(values)))
			for _, v := range values {
				_ = enc.WriteIntf(v)
			}
		}
	}
	return nil
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
