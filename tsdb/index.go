package tsdb

import (
	"regexp"
	"sort"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/retailnext/hllpp"
	"github.com/willf/bitset"
)

// SeriesIndex tracks the series that exist inside a shard. Series get
// sequential ids on first write; a bitset records which ids are still
// live so dropped series can be skipped without rewriting the map, and
// an HLL++ sketch gives a cheap cardinality estimate across the life of
// the shard, deletions included.
type SeriesIndex struct {
	mu sync.RWMutex

	nextID uint64
	byName map[string]uint64
	names  []string

	live   *bitset.BitSet
	sketch *hllpp.HLLPP
}

// NewSeriesIndex returns an empty index.
func NewSeriesIndex() *SeriesIndex {
	return &SeriesIndex{
		byName: make(map[string]uint64),
		live:   bitset.New(64),
		sketch: hllpp.New(),
	}
}

// CreateSeriesIfNotExists registers name and returns its id.
func (i *SeriesIndex) CreateSeriesIfNotExists(name string) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()

	if id, ok := i.byName[name]; ok {
		// A dropped series keeps its id, so a rewrite revives it.
		i.live.Set(uint(id))
		return id
	}

	id := i.nextID
	i.nextID++
	i.byName[name] = id
	i.names = append(i.names, name)
	i.live.Set(uint(id))

	var buf [8]byte
	h := xxhash.Sum64String(name)
	for n := 0; n < 8; n++ {
		buf[n] = byte(h >> (8 * uint(n)))
	}
	i.sketch.Add(buf[:])

	return id
}

// DropSeries marks name as dead. Reports whether the series existed.
func (i *SeriesIndex) DropSeries(name string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	id, ok := i.byName[name]
	if !ok || !i.live.Test(uint(id)) {
		return false
	}
	i.live.Clear(uint(id))
	return true
}

// Contains reports whether name is a live series.
func (i *SeriesIndex) Contains(name string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	id, ok := i.byName[name]
	return ok && i.live.Test(uint(id))
}

// SeriesNames returns the live series names in sorted order.
func (i *SeriesIndex) SeriesNames() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	a := make([]string, 0, i.live.Count())
	for _, name := range i.names {
		if i.live.Test(uint(i.byName[name])) {
			a = append(a, name)
		}
	}
	sort.Strings(a)
	return a
}

// MatchSeries returns the live series names matching re, sorted.
func (i *SeriesIndex) MatchSeries(re *regexp.Regexp) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var a []string
	for _, name := range i.names {
		if i.live.Test(uint(i.byName[name])) && re.MatchString(name) {
			a = append(a, name)
		}
	}
	sort.Strings(a)
	return a
}

// SeriesN returns the number of live series.
func (i *SeriesIndex) SeriesN() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return int(i.live.Count())
}

// SeriesSketchCount estimates how many distinct series were ever
// written to the shard.
func (i *SeriesIndex) SeriesSketchCount() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.sketch.Count()
}
