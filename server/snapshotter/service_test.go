package snapshotter

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"io/ioutil"
	"net"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/soheilhy/cmux"

	"github.com/kronosdb/kronosdb/meta"
	"github.com/kronosdb/kronosdb/models"
	"github.com/kronosdb/kronosdb/pkg/network"
	"github.com/kronosdb/kronosdb/tsdb"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	mc := meta.NewClient(&meta.Config{Dir: t.TempDir()})
	if err := mc.Open(); err != nil {
		t.Fatalf("open meta client: %s", err)
	}
	if _, err := mc.CreateDatabase("db0"); err != nil {
		t.Fatalf("create database: %s", err)
	}

	st := tsdb.NewStore(tsdb.Config{Dir: t.TempDir()})
	if err := st.Open(); err != nil {
		t.Fatalf("open store: %s", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.CreateShard("db0"); err != nil {
		t.Fatalf("create shard: %s", err)
	}
	err := st.WriteToShard("db0", []models.Point{{
		Series: "cpu",
		Time:   int64(time.Second),
		Values: map[string]interface{}{"value": 0.5},
	}})
	if err != nil {
		t.Fatalf("write point: %s", err)
	}

	s := NewService()
	s.MetaClient = mc
	s.TSDBStore = st
	return s
}

// request runs one request against handleConn over an in-memory pipe
// and returns the raw response stream.
func request(t *testing.T, s *Service, req Request) ([]byte, error) {
	t.Helper()

	client, server := net.Pipe()
	errc := make(chan error, 1)
	go func() {
		defer server.Close()
		errc <- s.handleConn(server)
	}()

	if err := json.NewEncoder(client).Encode(req); err != nil {
		t.Fatalf("write request: %s", err)
	}
	body, err := ioutil.ReadAll(client)
	if err != nil {
		t.Fatalf("read response: %s", err)
	}
	return body, <-errc
}

// readArchive unpacks a gzipped tar stream into a name to content map.
func readArchive(t *testing.T, body []byte) map[string][]byte {
	t.Helper()

	gz, err := pgzip.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("gzip reader: %s", err)
	}
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %s", err)
		}
		data, err := ioutil.ReadAll(tr)
		if err != nil {
			t.Fatalf("read tar file %q: %s", hdr.Name, err)
		}
		files[hdr.Name] = data
	}
	return files
}

func TestService_BackupMeta(t *testing.T) {
	s := newTestService(t)

	body, err := request(t, s, Request{Type: RequestBackupMeta})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	files := readArchive(t, body)
	if len(files) != 1 {
		t.Fatalf("unexpected file count: %v", files)
	}

	var data meta.Data
	if err := json.Unmarshal(files["meta.json"], &data); err != nil {
		t.Fatalf("unmarshal meta: %s", err)
	}
	if data.Database("db0") == nil {
		t.Fatal("database missing from meta backup")
	}
}

func TestService_BackupDatabase(t *testing.T) {
	s := newTestService(t)

	body, err := request(t, s, Request{Type: RequestBackupDatabase, Database: "db0"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	files := readArchive(t, body)
	if _, ok := files["meta.json"]; !ok {
		t.Fatal("meta.json missing from backup")
	}
	snap, ok := files["db0/snapshot.db"]
	if !ok {
		t.Fatal("shard snapshot missing from backup")
	}
	if !bytes.HasPrefix(snap, []byte("KRSNAP01")) {
		t.Fatalf("unexpected snapshot magic: %q", snap[:8])
	}
}

func TestService_BackupDatabase_Errors(t *testing.T) {
	s := newTestService(t)

	if _, err := request(t, s, Request{Type: RequestBackupDatabase}); err == nil {
		t.Fatal("expected error for missing database name")
	}
	if _, err := request(t, s, Request{Type: RequestBackupDatabase, Database: "nope"}); err == nil {
		t.Fatal("expected error for unknown database")
	}
	if _, err := request(t, s, Request{Type: RequestType(99)}); err == nil {
		t.Fatal("expected error for unknown request type")
	}
}

// The client and service speak over a shared multiplexed listener.
func TestClient_BackupMeta(t *testing.T) {
	s := newTestService(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	t.Cleanup(func() { ln.Close() })

	mux := cmux.New(ln)
	s.Listener = network.ListenByte(mux, MuxHeader)
	go func() { _ = mux.Serve() }()

	if err := s.Open(); err != nil {
		t.Fatalf("open service: %s", err)
	}
	t.Cleanup(func() { s.Close() })

	var buf bytes.Buffer
	c := NewClient(ln.Addr().String())
	if err := c.BackupMeta(&buf); err != nil {
		t.Fatalf("backup meta: %s", err)
	}

	files := readArchive(t, buf.Bytes())
	if _, ok := files["meta.json"]; !ok {
		t.Fatal("meta.json missing from backup")
	}
}
