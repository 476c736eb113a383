package client_test

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/kronosdb/kronosdb/client"
)

func mustNewClient(t *testing.T, conf client.HTTPConfig) client.Client {
	t.Helper()
	c, err := client.NewHTTPClient(conf)
	if err != nil {
		t.Fatalf("new client: %s", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewHTTPClient_BadAddr(t *testing.T) {
	if _, err := client.NewHTTPClient(client.HTTPConfig{Addr: "localhost:8086"}); err == nil {
		t.Fatal("expected error for address without scheme")
	}
	if _, err := client.NewHTTPClient(client.HTTPConfig{Addr: "udp://localhost:8086"}); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestClient_Ping(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"v0.0.0"}`))
	}))
	defer ts.Close()

	c := mustNewClient(t, client.HTTPConfig{Addr: ts.URL})
	d, version, err := c.Ping(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if version != "v0.0.0" {
		t.Fatalf("unexpected version: %q", version)
	}
	if d <= 0 {
		t.Fatalf("unexpected latency: %s", d)
	}
}

func TestClient_Query(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/db/db0/series" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "select value from cpu" {
			t.Errorf("unexpected query: %q", got)
		}
		if got := r.URL.Query().Get("time_precision"); got != "s" {
			t.Errorf("unexpected precision: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"series":"cpu","columns":["time","sequence_number","value"],"datapoints":[[2,2,0.2],[1,1,0.1]]}]`))
	}))
	defer ts.Close()

	c := mustNewClient(t, client.HTTPConfig{Addr: ts.URL})
	resp, err := c.Query(client.Query{Command: "select value from cpu", Database: "db0", Precision: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := resp.Error(); err != nil {
		t.Fatalf("unexpected response error: %s", err)
	}
	if len(resp.Rows) != 1 {
		t.Fatalf("unexpected row count: %d", len(resp.Rows))
	}
	row := resp.Rows[0]
	if row.Name != "cpu" {
		t.Fatalf("unexpected series: %q", row.Name)
	}
	if exp := []string{"time", "sequence_number", "value"}; !reflect.DeepEqual(row.Columns, exp) {
		t.Fatalf("unexpected columns: %v", row.Columns)
	}
	if len(row.Values) != 2 || row.Values[0][2] != 0.2 {
		t.Fatalf("unexpected values: %v", row.Values)
	}
}

func TestClient_Query_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"error parsing query: found boom, expected SELECT, DELETE, DROP, LIST, EXPLAIN at line 1, char 1"}`))
	}))
	defer ts.Close()

	c := mustNewClient(t, client.HTTPConfig{Addr: ts.URL})
	resp, err := c.Query(client.Query{Command: "boom", Database: "db0"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.Error() == nil {
		t.Fatal("expected response error")
	}
}

func TestClient_WritePoints(t *testing.T) {
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/db/db0/points" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("time_precision"); got != "s" {
			t.Errorf("unexpected precision: %q", got)
		}
		gotBody, _ = ioutil.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := mustNewClient(t, client.HTTPConfig{Addr: ts.URL})
	batches := []client.Batch{{
		Series:       "cpu",
		ExtraColumns: []string{"host"},
		Points:       [][]interface{}{{1, 0.1, "a"}, {2, 0.2, "b"}},
	}}
	if err := c.WritePoints("db0", batches, "s"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var decoded []client.Batch
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("unmarshal body: %s", err)
	}
	if len(decoded) != 1 || decoded[0].Series != "cpu" || len(decoded[0].Points) != 2 {
		t.Fatalf("unexpected body: %s", gotBody)
	}
}

func TestClient_WritePoints_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"database not found: \"db0\""}`))
	}))
	defer ts.Close()

	c := mustNewClient(t, client.HTTPConfig{Addr: ts.URL})
	err := c.WritePoints("db0", []client.Batch{{Series: "cpu", Points: [][]interface{}{{1, 0.1}}}}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != `database not found: "db0"` {
		t.Fatalf("unexpected error: %q", got)
	}
}

func TestClient_Databases(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/db":
			var body struct {
				Name string `json:"name"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Name != "db0" {
				t.Errorf("unexpected name: %q", body.Name)
			}
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/db":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"name":"db0"},{"name":"db1"}]`))
		case r.Method == http.MethodDelete && r.URL.Path == "/db/db0":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := mustNewClient(t, client.HTTPConfig{Addr: ts.URL})
	if err := c.CreateDatabase("db0"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	names, err := c.ListDatabases()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !reflect.DeepEqual(names, []string{"db0", "db1"}) {
		t.Fatalf("unexpected names: %v", names)
	}
	if err := c.DropDatabase("db0"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
}

func TestClient_Keys(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/db/db0/keys":
			var key client.Key
			_ = json.NewDecoder(r.Body).Decode(&key)
			if key.Name != "reader" || !key.Read || key.Write {
				t.Errorf("unexpected key: %+v", key)
			}
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/db/db0/keys":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"name":"reader","read":true,"write":false}]`))
		case r.Method == http.MethodDelete && r.URL.Path == "/db/db0/keys/reader":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := mustNewClient(t, client.HTTPConfig{Addr: ts.URL})
	if err := c.CreateKey("db0", client.Key{Name: "reader", Read: true}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	keys, err := c.ListKeys("db0")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !reflect.DeepEqual(keys, []client.Key{{Name: "reader", Read: true}}) {
		t.Fatalf("unexpected keys: %+v", keys)
	}
	if err := c.DropKey("db0", "reader"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
}

func TestClient_Auth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "root" || p != "pass" {
			t.Errorf("missing basic auth: %q %q %v", u, p, ok)
		}
		if got := r.URL.Query().Get("api_key"); got != "reader" {
			t.Errorf("missing api key: %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "KronosDBClient" {
			t.Errorf("unexpected user agent: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c := mustNewClient(t, client.HTTPConfig{
		Addr:     ts.URL,
		Username: "root",
		Password: "pass",
		APIKey:   "reader",
	})
	if _, err := c.Query(client.Query{Command: "list series", Database: "db0"}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
}
