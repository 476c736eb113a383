package tsdb

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kronosdb/kronosdb/models"
	"github.com/kronosdb/kronosdb/pkg/logger"
)

// ErrShardNotFound is returned when a database has no open shard.
var ErrShardNotFound = errors.New("shard not found")

// Store manages one shard per database under a common data directory.
type Store struct {
	mu sync.RWMutex

	cfg    Config
	shards map[string]*Shard
	opened bool

	logger *zap.Logger
}

// NewStore returns a store rooted at cfg.Dir.
func NewStore(cfg Config) *Store {
	return &Store{
		cfg:    cfg,
		shards: make(map[string]*Shard),
		logger: zap.NewNop(),
	}
}

// WithLogger sets the logger on the store.
func (s *Store) WithLogger(log *zap.Logger) {
	s.logger = log.With(zap.String("service", "store"))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sh := range s.shards {
		sh.WithLogger(s.logger)
	}
}

// Path returns the store's data directory.
func (s *Store) Path() string { return s.cfg.Dir }

// Open opens every shard found under the data directory, in parallel.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return nil
	}
	if err := os.MkdirAll(s.cfg.Dir, 0777); err != nil {
		return errors.Wrap(err, "mkdir store")
	}

	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return errors.Wrap(err, "read store dir")
	}

	log, end := logger.NewOperation(s.logger, "Open store", "tsdb_open")
	defer end()

	var g errgroup.Group
	var mu sync.Mutex
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		db := e.Name()
		g.Go(func() error {
			start := time.Now()
			sh := NewShard(db, filepath.Join(s.cfg.Dir, db), s.cfg)
			sh.WithLogger(s.logger)
			if err := sh.Open(); err != nil {
				return errors.Wrapf(err, "open shard %s", db)
			}
			mu.Lock()
			s.shards[db] = sh
			mu.Unlock()
			log.Info("Opened shard",
				logger.Database(db),
				zap.Int("series", sh.SeriesN()),
				zap.Duration("took", time.Since(start)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, sh := range s.shards {
			sh.Close()
		}
		s.shards = make(map[string]*Shard)
		return err
	}
	s.opened = true
	return nil
}

// Close closes every shard.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, sh := range s.shards {
		if err := sh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.shards = make(map[string]*Shard)
	s.opened = false
	return firstErr
}

// CreateShard opens a shard for database, creating its directory if
// needed. Creating an existing shard is a no-op.
func (s *Store) CreateShard(database string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return errors.New("store is closed")
	}
	if _, ok := s.shards[database]; ok {
		return nil
	}

	sh := NewShard(database, filepath.Join(s.cfg.Dir, database), s.cfg)
	sh.WithLogger(s.logger)
	if err := sh.Open(); err != nil {
		return err
	}
	s.shards[database] = sh
	return nil
}

// Shard returns the shard for database, or nil.
func (s *Store) Shard(database string) *Shard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shards[database]
}

// Databases returns the names of databases with open shards.
func (s *Store) Databases() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a := make([]string, 0, len(s.shards))
	for db := range s.shards {
		a = append(a, db)
	}
	return a
}

// DeleteShard closes the shard for database and removes its files.
func (s *Store) DeleteShard(database string) error {
	s.mu.Lock()
	sh := s.shards[database]
	delete(s.shards, database)
	s.mu.Unlock()

	if sh == nil {
		return nil
	}
	if err := sh.Close(); err != nil {
		return err
	}
	return os.RemoveAll(sh.Path())
}

// WriteToShard writes points into the shard for database.
func (s *Store) WriteToShard(database string, points []models.Point) error {
	sh := s.Shard(database)
	if sh == nil {
		return ErrShardNotFound
	}
	return sh.WritePoints(points)
}

// WriteSnapshots flushes every shard to disk and truncates the WALs.
func (s *Store) WriteSnapshots() error {
	s.mu.RLock()
	shards := make([]*Shard, 0, len(s.shards))
	for _, sh := range s.shards {
		shards = append(shards, sh)
	}
	s.mu.RUnlock()

	for _, sh := range shards {
		if err := sh.WriteSnapshot(); err != nil {
			return errors.Wrapf(err, "snapshot shard %s", sh.Database())
		}
	}
	return nil
}

// BackupShard streams an encoded snapshot of database's shard to w.
func (s *Store) BackupShard(database string, w io.Writer) error {
	sh := s.Shard(database)
	if sh == nil {
		return ErrShardNotFound
	}
	return sh.WriteSnapshotTo(w)
}

// Statistics returns per-shard statistics rows for the monitor.
func (s *Store) Statistics() []models.Statistic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]models.Statistic, 0, len(s.shards))
	for db, sh := range s.shards {
		st := sh.Statistics()
		stats = append(stats, models.Statistic{
			Name: "shard",
			Tags: map[string]string{"database": db},
			Values: map[string]interface{}{
				"writeReq":      st.WriteReq,
				"pointsWritten": st.PointsWritten,
				"writeErrors":   st.WriteErrors,
				"seriesCreated": st.SeriesCreated,
				"deleteReq":     st.DeleteReq,
				"snapshots":     st.SnapshotsTaken,
				"seriesN":       int64(sh.SeriesN()),
			},
		})
	}
	return stats
}
