package snapshotter

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/kronosdb/kronosdb/pkg/network"
)

// Client provides an API for talking to the snapshotter service.
type Client struct {
	host string
}

// NewClient returns a new Client for the given host:port.
func NewClient(host string) *Client {
	return &Client{host: host}
}

// BackupMeta streams a meta store backup to w.
func (c *Client) BackupMeta(w io.Writer) error {
	return c.backup(Request{Type: RequestBackupMeta}, w)
}

// BackupDatabase streams a backup of the named database to w.
func (c *Client) BackupDatabase(database string, w io.Writer) error {
	return c.backup(Request{Type: RequestBackupDatabase, Database: database}, w)
}

func (c *Client) backup(req Request, w io.Writer) error {
	conn, err := network.Dial("tcp", c.host, MuxHeader)
	if err != nil {
		return errors.Wrapf(err, "dial %s", c.host)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return errors.Wrap(err, "write request")
	}
	if _, err := io.Copy(w, conn); err != nil {
		return errors.Wrap(err, "read backup stream")
	}
	return nil
}
