package tsdb

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kronosdb/kronosdb/models"
)

// SnapshotFileName is the name of the on-disk snapshot inside a shard
// directory.
const SnapshotFileName = "snapshot.db"

var snapshotMagic = []byte("KRSNAP01")

// ErrShardClosed is returned when an operation reaches a closed shard.
var ErrShardClosed = errors.New("shard is closed")

// ShardStatistics keeps shard-level counters, read atomically.
type ShardStatistics struct {
	WriteReq       int64
	PointsWritten  int64
	WriteErrors    int64
	SeriesCreated  int64
	DeleteReq      int64
	SnapshotsTaken int64
}

// seriesData holds a single series, rows kept sorted by (time, sequence).
type seriesData struct {
	columns []string
	rows    []seriesRow
}

type seriesRow struct {
	time   int64
	seq    uint64
	values map[string]interface{}
}

func (s *seriesData) addColumn(name string) {
	for _, c := range s.columns {
		if c == name {
			return
		}
	}
	s.columns = append(s.columns, name)
	sort.Strings(s.columns)
}

// insert places r into the rows slice keeping sort order. Writes mostly
// arrive in time order so the common case is an append.
func (s *seriesData) insert(r seriesRow) {
	n := len(s.rows)
	if n == 0 || less(s.rows[n-1], r) {
		s.rows = append(s.rows, r)
		return
	}
	i := sort.Search(n, func(i int) bool { return !less(s.rows[i], r) })
	s.rows = append(s.rows, seriesRow{})
	copy(s.rows[i+1:], s.rows[i:])
	s.rows[i] = r
}

func less(a, b seriesRow) bool {
	if a.time != b.time {
		return a.time < b.time
	}
	return a.seq < b.seq
}

// SeriesBlock is the column-oriented result of reading a series range.
// Values[i] holds the cell for Columns[i] aligned with Times and Seqs.
type SeriesBlock struct {
	Name    string
	Columns []string
	Times   []int64
	Seqs    []uint64
	Values  [][]interface{}
}

// Len returns the number of rows in the block.
func (b *SeriesBlock) Len() int { return len(b.Times) }

// Shard stores the series data for one database. All data lives in
// memory; durability comes from the WAL and periodic snapshots.
type Shard struct {
	mu sync.RWMutex

	database string
	path     string

	series map[string]*seriesData
	index  *SeriesIndex
	wal    *WAL

	seq    uint64
	closed bool

	stats ShardStatistics

	logger *zap.Logger
}

// NewShard returns a shard for database rooted at path.
func NewShard(database, path string, cfg Config) *Shard {
	return &Shard{
		database: database,
		path:     path,
		series:   make(map[string]*seriesData),
		index:    NewSeriesIndex(),
		wal:      NewWAL(path, cfg.WALFsyncDelay.Duration()),
		logger:   zap.NewNop(),
	}
}

// WithLogger sets the logger on the shard and its WAL.
func (s *Shard) WithLogger(log *zap.Logger) {
	s.logger = log.With(zap.String("db", s.database))
	s.wal.WithLogger(s.logger)
}

// Path returns the shard's directory.
func (s *Shard) Path() string { return s.path }

// Database returns the owning database name.
func (s *Shard) Database() string { return s.database }

// Statistics returns a copy of the shard counters.
func (s *Shard) Statistics() ShardStatistics {
	return ShardStatistics{
		WriteReq:       atomic.LoadInt64(&s.stats.WriteReq),
		PointsWritten:  atomic.LoadInt64(&s.stats.PointsWritten),
		WriteErrors:    atomic.LoadInt64(&s.stats.WriteErrors),
		SeriesCreated:  atomic.LoadInt64(&s.stats.SeriesCreated),
		DeleteReq:      atomic.LoadInt64(&s.stats.DeleteReq),
		SnapshotsTaken: atomic.LoadInt64(&s.stats.SnapshotsTaken),
	}
}

// Open loads the snapshot, replays the WAL, and readies the shard for
// writes.
func (s *Shard) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.path, 0777); err != nil {
		return errors.Wrap(err, "mkdir shard")
	}
	if err := s.loadSnapshot(); err != nil {
		return err
	}
	if err := s.wal.Open(); err != nil {
		return err
	}
	if err := s.wal.Replay(func(e *walEntry) error {
		switch e.Type {
		case walWritePoints:
			s.applyWrite(e.Points)
		case walDeleteRange:
			s.applyDeleteRange(e.Series, e.MinTime, e.MaxTime)
		case walDropSeries:
			s.applyDropSeries(e.Series)
		}
		return nil
	}); err != nil {
		return err
	}
	s.closed = false
	return nil
}

// Close makes the shard durable and releases its files.
func (s *Shard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.writeSnapshotLocked(); err != nil {
		s.logger.Error("snapshot on close failed", zap.Error(err))
	}
	return s.wal.Close()
}

// WritePoints assigns sequence numbers, logs the batch, and applies it.
func (s *Shard) WritePoints(points []models.Point) error {
	atomic.AddInt64(&s.stats.WriteReq, 1)

	for i := range points {
		if err := points[i].Validate(); err != nil {
			atomic.AddInt64(&s.stats.WriteErrors, 1)
			return err
		}
		if points[i].Sequence == 0 {
			points[i].Sequence = atomic.AddUint64(&s.seq, 1)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShardClosed
	}
	if err := s.wal.Append(&walEntry{Type: walWritePoints, Points: points}); err != nil {
		atomic.AddInt64(&s.stats.WriteErrors, 1)
		return err
	}
	s.applyWrite(points)
	return nil
}

// applyWrite assumes mu is held.
func (s *Shard) applyWrite(points []models.Point) {
	for _, p := range points {
		sd := s.series[p.Series]
		if sd == nil {
			sd = &seriesData{}
			s.series[p.Series] = sd
			// Revives the series if it was dropped earlier.
			s.index.CreateSeriesIfNotExists(p.Series)
			atomic.AddInt64(&s.stats.SeriesCreated, 1)
		}
		if p.Sequence > atomic.LoadUint64(&s.seq) {
			atomic.StoreUint64(&s.seq, p.Sequence)
		}

		values := make(map[string]interface{}, len(p.Values))
		for k, v := range p.Values {
			sd.addColumn(k)
			values[k] = v
		}
		sd.insert(seriesRow{time: p.Time, seq: p.Sequence, values: values})
	}
	atomic.AddInt64(&s.stats.PointsWritten, int64(len(points)))
}

// Read returns the rows of series name with min <= time <= max, oldest
// first. The bool reports whether the series exists.
func (s *Shard) Read(name string, min, max int64) (*SeriesBlock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sd := s.series[name]
	if sd == nil || !s.index.Contains(name) {
		return nil, false
	}

	lo := sort.Search(len(sd.rows), func(i int) bool { return sd.rows[i].time >= min })
	hi := sort.Search(len(sd.rows), func(i int) bool { return sd.rows[i].time > max })

	block := &SeriesBlock{
		Name:    name,
		Columns: append([]string(nil), sd.columns...),
		Values:  make([][]interface{}, len(sd.columns)),
	}
	n := hi - lo
	block.Times = make([]int64, 0, n)
	block.Seqs = make([]uint64, 0, n)
	for i := range block.Values {
		block.Values[i] = make([]interface{}, 0, n)
	}
	for _, r := range sd.rows[lo:hi] {
		block.Times = append(block.Times, r.time)
		block.Seqs = append(block.Seqs, r.seq)
		for ci, c := range block.Columns {
			block.Values[ci] = append(block.Values[ci], r.values[c])
		}
	}
	return block, true
}

// DeleteRange removes the rows of name with min <= time <= max.
func (s *Shard) DeleteRange(name string, min, max int64) error {
	atomic.AddInt64(&s.stats.DeleteReq, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShardClosed
	}
	if err := s.wal.Append(&walEntry{Type: walDeleteRange, Series: name, MinTime: min, MaxTime: max}); err != nil {
		return err
	}
	s.applyDeleteRange(name, min, max)
	return nil
}

func (s *Shard) applyDeleteRange(name string, min, max int64) {
	sd := s.series[name]
	if sd == nil {
		return
	}
	lo := sort.Search(len(sd.rows), func(i int) bool { return sd.rows[i].time >= min })
	hi := sort.Search(len(sd.rows), func(i int) bool { return sd.rows[i].time > max })
	if lo >= hi {
		return
	}
	sd.rows = append(sd.rows[:lo], sd.rows[hi:]...)
}

// DropSeries removes name entirely.
func (s *Shard) DropSeries(name string) error {
	atomic.AddInt64(&s.stats.DeleteReq, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShardClosed
	}
	if err := s.wal.Append(&walEntry{Type: walDropSeries, Series: name}); err != nil {
		return err
	}
	s.applyDropSeries(name)
	return nil
}

func (s *Shard) applyDropSeries(name string) {
	if s.series[name] == nil {
		return
	}
	delete(s.series, name)
	s.index.DropSeries(name)
}

// SeriesNames returns the live series names, sorted.
func (s *Shard) SeriesNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.SeriesNames()
}

// MatchSeries returns the live series names matching re, sorted.
func (s *Shard) MatchSeries(re *regexp.Regexp) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.MatchSeries(re)
}

// SeriesN returns the number of live series.
func (s *Shard) SeriesN() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.SeriesN()
}

// WriteSnapshot persists the in-memory data and truncates the WAL.
func (s *Shard) WriteSnapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShardClosed
	}
	if err := s.writeSnapshotLocked(); err != nil {
		return err
	}
	atomic.AddInt64(&s.stats.SnapshotsTaken, 1)
	return s.wal.Truncate()
}

// WriteSnapshotTo streams an encoded snapshot of the shard to w without
// touching the on-disk files. Used by backups.
func (s *Shard) WriteSnapshotTo(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encodeSnapshot(w)
}

// writeSnapshotLocked writes the snapshot file via temp file + rename.
func (s *Shard) writeSnapshotLocked() error {
	tmp := filepath.Join(s.path, SnapshotFileName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create snapshot")
	}
	if err := s.encodeSnapshot(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(s.path, SnapshotFileName))
}

func (s *Shard) encodeSnapshot(w io.Writer) error {
	if _, err := w.Write(snapshotMagic); err != nil {
		return err
	}

	names := s.index.SeriesNames()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(atomic.LoadUint64(&s.seq)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(buf[:4], uint32(len(names)))
	if _, err := w.Write(buf[:4]); err != nil {
		return err
	}

	for _, name := range names {
		sd := s.series[name]
		if sd == nil {
			continue
		}
		if err := encodeSeries(w, name, sd); err != nil {
			return errors.Wrapf(err, "encode series %s", name)
		}
	}
	return nil
}

func encodeSeries(w io.Writer, name string, sd *seriesData) error {
	if err := writeBlock(w, []byte(name)); err != nil {
		return err
	}

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(sd.columns)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	for _, c := range sd.columns {
		if err := writeBlock(w, []byte(c)); err != nil {
			return err
		}
	}

	binary.BigEndian.PutUint32(buf[:], uint32(len(sd.rows)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if len(sd.rows) == 0 {
		return nil
	}

	times := make([]int64, len(sd.rows))
	seqs := make([]int64, len(sd.rows))
	for i, r := range sd.rows {
		times[i] = r.time
		seqs[i] = int64(r.seq)
	}
	if err := writeBlock(w, encodeInts(times)); err != nil {
		return err
	}
	if err := writeBlock(w, encodeInts(seqs)); err != nil {
		return err
	}

	for _, c := range sd.columns {
		col := make([]interface{}, len(sd.rows))
		for i, r := range sd.rows {
			col[i] = r.values[c]
		}
		cb, err := encodeColumn(col)
		if err != nil {
			return err
		}
		if err := writeBlock(w, cb); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shard) loadSnapshot() error {
	b, err := os.ReadFile(filepath.Join(s.path, SnapshotFileName))
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "read snapshot")
	}
	if len(b) < len(snapshotMagic)+12 || !bytes.Equal(b[:len(snapshotMagic)], snapshotMagic) {
		return errors.New("snapshot file malformed")
	}
	r := bytes.NewReader(b[len(snapshotMagic):])

	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	atomic.StoreUint64(&s.seq, binary.BigEndian.Uint64(buf[:]))
	if _, err := io.ReadFull(r, buf[:4]); err != nil {
		return err
	}
	seriesN := binary.BigEndian.Uint32(buf[:4])

	for n := uint32(0); n < seriesN; n++ {
		if err := s.decodeSeries(r); err != nil {
			return errors.Wrap(err, "decode snapshot")
		}
	}
	return nil
}

func (s *Shard) decodeSeries(r *bytes.Reader) error {
	nameb, err := readBlock(r)
	if err != nil {
		return err
	}
	name := string(nameb)

	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	columnN := binary.BigEndian.Uint32(buf[:])
	columns := make([]string, columnN)
	for i := range columns {
		cb, err := readBlock(r)
		if err != nil {
			return err
		}
		columns[i] = string(cb)
	}

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	rowN := int(binary.BigEndian.Uint32(buf[:]))

	sd := &seriesData{columns: columns}
	s.series[name] = sd
	s.index.CreateSeriesIfNotExists(name)
	if rowN == 0 {
		return nil
	}

	tb, err := readBlock(r)
	if err != nil {
		return err
	}
	times, err := decodeInts(tb, rowN)
	if err != nil {
		return err
	}
	sb, err := readBlock(r)
	if err != nil {
		return err
	}
	seqs, err := decodeInts(sb, rowN)
	if err != nil {
		return err
	}

	cols := make([][]interface{}, columnN)
	for i := range cols {
		cb, err := readBlock(r)
		if err != nil {
			return err
		}
		col, err := decodeColumn(cb, rowN)
		if err != nil {
			return err
		}
		cols[i] = col
	}

	sd.rows = make([]seriesRow, rowN)
	for i := 0; i < rowN; i++ {
		values := make(map[string]interface{}, columnN)
		for ci, c := range columns {
			if v := cols[ci][i]; v != nil {
				values[c] = v
			}
		}
		sd.rows[i] = seriesRow{time: times[i], seq: uint64(seqs[i]), values: values}
	}
	return nil
}
