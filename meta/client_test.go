package meta_test

import (
	"reflect"
	"testing"

	"github.com/kronosdb/kronosdb/meta"
)

func newClient(t *testing.T, dir string) *meta.Client {
	t.Helper()
	c := meta.NewClient(&meta.Config{Dir: dir})
	if err := c.Open(); err != nil {
		t.Fatalf("open meta client: %s", err)
	}
	return c
}

func TestMetaClient_CreateDatabase(t *testing.T) {
	c := newClient(t, t.TempDir())
	defer c.Close()

	di, err := c.CreateDatabase("db0")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if di.Name != "db0" {
		t.Fatalf("unexpected name: %s", di.Name)
	}

	if _, err := c.CreateDatabase("db0"); err != meta.ErrDatabaseExists {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.CreateDatabase(""); err != meta.ErrDatabaseNameRequired {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.CreateDatabase("a/b"); err != meta.ErrInvalidName {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Database("db0") == nil {
		t.Fatal("expected database")
	}
	if c.Database("nope") != nil {
		t.Fatal("expected nil database")
	}

	dbs := c.Databases()
	if len(dbs) != 1 || dbs[0].Name != "db0" {
		t.Fatalf("unexpected databases: %+v", dbs)
	}
}

func TestMetaClient_DropDatabase(t *testing.T) {
	c := newClient(t, t.TempDir())
	defer c.Close()

	if _, err := c.CreateDatabase("db0"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := c.DropDatabase("db0"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if c.Database("db0") != nil {
		t.Fatal("expected database to be gone")
	}
	if err := c.DropDatabase("db0"); err != meta.ErrDatabaseNotExists {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMetaClient_Keys(t *testing.T) {
	c := newClient(t, t.TempDir())
	defer c.Close()

	if _, err := c.CreateDatabase("db0"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	key := meta.KeyInfo{Name: "reader", Read: true}
	if err := c.CreateKey("db0", key); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := c.CreateKey("db0", key); err != meta.ErrKeyExists {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.CreateKey("db0", meta.KeyInfo{}); err != meta.ErrKeyNameRequired {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.CreateKey("nope", key); err != meta.ErrDatabaseNotExists {
		t.Fatalf("unexpected error: %v", err)
	}

	got := c.Key("db0", "reader")
	if got == nil || !got.Read || got.Write {
		t.Fatalf("unexpected key: %+v", got)
	}
	if c.Key("db0", "nope") != nil {
		t.Fatal("expected nil key")
	}

	if err := c.DropKey("db0", "reader"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := c.DropKey("db0", "reader"); err != meta.ErrKeyNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMetaClient_ContinuousQueries(t *testing.T) {
	c := newClient(t, t.TempDir())
	defer c.Close()

	if _, err := c.CreateDatabase("db0"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	q := `select mean(value) from cpu group by time(5m) into cpu.5m`
	id, err := c.CreateContinuousQuery("db0", q)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if id != 1 {
		t.Fatalf("unexpected id: %d", id)
	}
	if _, err := c.CreateContinuousQuery("db0", q); err != meta.ErrContinuousQueryExists {
		t.Fatalf("unexpected error: %v", err)
	}

	id2, err := c.CreateContinuousQuery("db0", `select count(value) from events into events.count`)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if id2 != 2 {
		t.Fatalf("unexpected id: %d", id2)
	}

	cqs := c.ContinuousQueries("db0")
	if len(cqs) != 2 || cqs[0].Query != q {
		t.Fatalf("unexpected continuous queries: %+v", cqs)
	}

	if err := c.SetContinuousQueryLastRun("db0", 1, 12345); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if cqs := c.ContinuousQueries("db0"); cqs[0].LastRun != 12345 {
		t.Fatalf("unexpected last run: %d", cqs[0].LastRun)
	}

	if err := c.DropContinuousQuery("db0", 1); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := c.DropContinuousQuery("db0", 1); err != meta.ErrContinuousQueryNotFound {
		t.Fatalf("unexpected error: %v", err)
	}

	// Ids are never reused after a drop.
	id3, err := c.CreateContinuousQuery("db0", `select max(value) from cpu into cpu.max`)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if id3 != 3 {
		t.Fatalf("unexpected id: %d", id3)
	}
}

func TestMetaClient_Users(t *testing.T) {
	c := newClient(t, t.TempDir())
	defer c.Close()

	if c.AdminUserExists() {
		t.Fatal("expected no admin user")
	}

	u, err := c.CreateUser("root", "secret", true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if u.ID() != "root" || !u.IsAdmin() {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := c.CreateUser("root", "other", false); err != meta.ErrUserExists {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.AdminUserExists() {
		t.Fatal("expected an admin user")
	}
	if n := c.UserCount(); n != 1 {
		t.Fatalf("unexpected user count: %d", n)
	}

	if _, err := c.User("root"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := c.User("nope"); err != meta.ErrUserNotFound {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.DropUser("root"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := c.DropUser("root"); err != meta.ErrUserNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMetaClient_Authenticate(t *testing.T) {
	c := newClient(t, t.TempDir())
	defer c.Close()

	if _, err := c.CreateUser("root", "secret", true); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	u, err := c.Authenticate("root", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if u.ID() != "root" {
		t.Fatalf("unexpected user: %s", u.ID())
	}

	// Second authentication exercises the cache path.
	if _, err := c.Authenticate("root", "secret"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := c.Authenticate("root", "wrong"); err != meta.ErrAuthenticate {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Authenticate("nope", "secret"); err != meta.ErrUserNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Ensure metadata survives a reopen.
func TestMetaClient_Persistence(t *testing.T) {
	dir := t.TempDir()

	c := newClient(t, dir)
	if _, err := c.CreateDatabase("db0"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := c.CreateKey("db0", meta.KeyInfo{Name: "writer", Write: true}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := c.CreateContinuousQuery("db0", `select mean(value) from cpu group by time(5m) into cpu.5m`); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := c.CreateUser("root", "secret", true); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	c = newClient(t, dir)
	defer c.Close()

	di := c.Database("db0")
	if di == nil {
		t.Fatal("expected database after reopen")
	}
	if k := c.Key("db0", "writer"); k == nil || !k.Write {
		t.Fatalf("unexpected key after reopen: %+v", k)
	}
	if cqs := c.ContinuousQueries("db0"); len(cqs) != 1 || cqs[0].ID != 1 {
		t.Fatalf("unexpected continuous queries after reopen: %+v", cqs)
	}
	if !c.AdminUserExists() {
		t.Fatal("expected admin user after reopen")
	}
	if _, err := c.Authenticate("root", "secret"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
}

// Ensure Data returns a copy decoupled from the client's state.
func TestMetaClient_Data(t *testing.T) {
	c := newClient(t, t.TempDir())
	defer c.Close()

	if _, err := c.CreateDatabase("db0"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	data := c.Data()
	if !reflect.DeepEqual([]string{"db0"}, databaseNames(data)) {
		t.Fatalf("unexpected databases: %+v", data.Databases)
	}

	data.Databases[0].Name = "mutated"
	if c.Database("db0") == nil {
		t.Fatal("expected client state to be unaffected")
	}
}

func databaseNames(data meta.Data) []string {
	names := make([]string, 0, len(data.Databases))
	for _, di := range data.Databases {
		names = append(names, di.Name)
	}
	return names
}
