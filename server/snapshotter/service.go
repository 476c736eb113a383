// Package snapshotter streams backups of the meta store and shard data
// over a dedicated TCP channel.
package snapshotter

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kronosdb/kronosdb/meta"
)

// MuxHeader is the header byte used for the TCP muxer.
const MuxHeader = 'S'

// RequestType identifies a snapshotter request.
type RequestType uint8

const (
	// RequestBackupMeta streams the meta store state.
	RequestBackupMeta RequestType = iota

	// RequestBackupDatabase streams one database's shard data plus the
	// meta store state.
	RequestBackupDatabase
)

// Request is the wire form of a snapshotter request.
type Request struct {
	Type     RequestType `json:"type"`
	Database string      `json:"database"`
}

// Service manages the listener for the backup endpoint.
type Service struct {
	wg sync.WaitGroup

	MetaClient interface {
		Database(name string) *meta.DatabaseInfo
		Data() meta.Data
	}

	TSDBStore interface {
		BackupShard(database string, w io.Writer) error
	}

	Listener net.Listener

	logger *zap.Logger
}

// NewService returns a new instance of Service.
func NewService() *Service {
	return &Service{
		logger: zap.NewNop(),
	}
}

// Open starts the service.
func (s *Service) Open() error {
	s.logger.Info("Starting snapshot service")

	s.wg.Add(1)
	go s.serve()
	return nil
}

// Close stops the service.
func (s *Service) Close() error {
	if s.Listener != nil {
		if err := s.Listener.Close(); err != nil {
			return err
		}
	}
	s.wg.Wait()
	return nil
}

// WithLogger sets the logger on the service.
func (s *Service) WithLogger(log *zap.Logger) {
	s.logger = log.With(zap.String("service", "snapshot"))
}

func (s *Service) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.Listener.Accept()
		if err != nil && strings.Contains(err.Error(), "closed") {
			return
		} else if err != nil {
			s.logger.Info("Error accepting snapshot request", zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			defer conn.Close()
			if err := s.handleConn(conn); err != nil {
				s.logger.Info("Snapshot request failed", zap.Error(err))
			}
		}(conn)
	}
}

func (s *Service) handleConn(conn net.Conn) error {
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return errors.Wrap(err, "read request")
	}

	switch req.Type {
	case RequestBackupMeta:
		return s.writeBackup(conn, "")
	case RequestBackupDatabase:
		if req.Database == "" {
			return errors.New("database is required")
		}
		if s.MetaClient.Database(req.Database) == nil {
			return errors.Errorf("database not found: %q", req.Database)
		}
		return s.writeBackup(conn, req.Database)
	default:
		return errors.Errorf("snapshotter request type unknown: %v", req.Type)
	}
}

// writeBackup streams a gzipped tar with the meta state and, when a
// database is named, its shard snapshot.
func (s *Service) writeBackup(w io.Writer, database string) error {
	gz := pgzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	now := time.Now().UTC()

	metaBytes, err := json.Marshal(s.MetaClient.Data())
	if err != nil {
		return errors.Wrap(err, "marshal meta")
	}
	if err := writeTarFile(tw, "meta.json", metaBytes, now); err != nil {
		return err
	}

	if database != "" {
		var buf bytes.Buffer
		if err := s.TSDBStore.BackupShard(database, &buf); err != nil {
			return errors.Wrapf(err, "backup shard %s", database)
		}
		if err := writeTarFile(tw, database+"/snapshot.db", buf.Bytes(), now); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func writeTarFile(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Mode:    0600,
		Size:    int64(len(data)),
		ModTime: modTime,
	}); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
