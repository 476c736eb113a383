package tsdb

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kronosdb/kronosdb/models"
)

// WALFileName is the name of the write-ahead log inside a shard directory.
const WALFileName = "wal"

// walEntryType identifies the operation a WAL record carries.
type walEntryType byte

const (
	walWritePoints walEntryType = iota + 1
	walDeleteRange
	walDropSeries
)

// walEntry is the unit of durability. Every mutating shard operation is
// appended here before it is applied to the in-memory series data.
type walEntry struct {
	Type    walEntryType   `json:"type"`
	Points  []models.Point `json:"points,omitempty"`
	Series  string         `json:"series,omitempty"`
	MinTime int64          `json:"min_time,omitempty"`
	MaxTime int64          `json:"max_time,omitempty"`
}

// WAL is an append-only log of shard mutations. Records are framed as
// uint32 length + uint32 crc32 + snappy-compressed JSON payload. Replay
// stops at the first torn or corrupt record, which makes a crash during
// an append recoverable.
type WAL struct {
	mu sync.Mutex

	path string
	f    *os.File
	w    *bufio.Writer

	fsyncDelay  time.Duration
	syncTimer   *time.Timer
	syncPending bool
	lastSyncErr error

	logger *zap.Logger
}

// NewWAL opens or creates the WAL file under dir.
func NewWAL(dir string, fsyncDelay time.Duration) *WAL {
	return &WAL{
		path:       filepath.Join(dir, WALFileName),
		fsyncDelay: fsyncDelay,
		logger:     zap.NewNop(),
	}
}

// WithLogger sets the logger on the WAL.
func (l *WAL) WithLogger(log *zap.Logger) {
	l.logger = log.With(zap.String("service", "wal"))
}

// Open opens the WAL file for appending, creating it if needed.
func (l *WAL) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0666)
	if err != nil {
		return errors.Wrap(err, "open wal")
	}
	l.f = f
	l.w = bufio.NewWriterSize(f, 1<<16)
	return nil
}

// Close flushes and closes the WAL file.
func (l *WAL) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	if l.syncTimer != nil {
		l.syncTimer.Stop()
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	if err := l.f.Sync(); err != nil {
		return err
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Append writes one entry to the log and schedules a sync.
func (l *WAL) Append(entry *walEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encode wal entry")
	}
	compressed := snappy.Encode(nil, payload)

	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(compressed)))
	binary.BigEndian.PutUint32(hdr[4:8], crc32.ChecksumIEEE(compressed))

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return errors.New("wal closed")
	}
	if _, err := l.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := l.w.Write(compressed); err != nil {
		return err
	}
	return l.scheduleSync()
}

// scheduleSync flushes immediately when no fsync delay is configured,
// otherwise coalesces syncs onto a timer. Must be called with mu held.
func (l *WAL) scheduleSync() error {
	if l.fsyncDelay == 0 {
		if err := l.w.Flush(); err != nil {
			return err
		}
		return l.f.Sync()
	}

	if l.syncPending {
		return l.lastSyncErr
	}
	l.syncPending = true
	l.syncTimer = time.AfterFunc(l.fsyncDelay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.syncPending = false
		if l.f == nil {
			return
		}
		if err := l.w.Flush(); err != nil {
			l.lastSyncErr = err
			l.logger.Error("wal flush failed", zap.Error(err))
			return
		}
		if err := l.f.Sync(); err != nil {
			l.lastSyncErr = err
			l.logger.Error("wal fsync failed", zap.Error(err))
		}
	})
	return l.lastSyncErr
}

// Replay reads every intact entry from the log and hands it to fn.
// A torn or corrupt tail terminates replay without error; everything
// before it has already been applied.
func (l *WAL) Replay(fn func(*walEntry) error) error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "open wal for replay")
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<16)
	var n int
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}
		size := binary.BigEndian.Uint32(hdr[0:4])
		sum := binary.BigEndian.Uint32(hdr[4:8])

		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			l.logger.Warn("wal tail truncated, stopping replay", zap.Int("entries", n))
			break
		}
		if crc32.ChecksumIEEE(buf) != sum {
			l.logger.Warn("wal checksum mismatch, stopping replay", zap.Int("entries", n))
			break
		}

		payload, err := snappy.Decode(nil, buf)
		if err != nil {
			l.logger.Warn("wal entry corrupt, stopping replay", zap.Int("entries", n))
			break
		}
		entry := &walEntry{}
		if err := json.Unmarshal(payload, entry); err != nil {
			l.logger.Warn("wal entry unreadable, stopping replay", zap.Int("entries", n))
			break
		}
		if err := fn(entry); err != nil {
			return err
		}
		n++
	}

	if n > 0 {
		l.logger.Info("wal replayed", zap.Int("entries", n))
	}
	return nil
}

// Truncate discards the log contents. Called after a snapshot has made
// the logged mutations durable elsewhere.
func (l *WAL) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return errors.New("wal closed")
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	l.w.Reset(l.f)
	return l.f.Sync()
}
