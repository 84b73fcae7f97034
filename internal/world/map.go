package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// grid is one published version of the world. Published grids are never mutated.
type grid struct {
	byCoord map[HexCoord]*Territory
	byID    map[string]HexCoord
}

func newGrid(size int) *grid {
	return &grid{
		byCoord: make(map[HexCoord]*Territory, size),
		byID:    make(map[string]HexCoord, size),
	}
}

func (g *grid) shallowCopy() *grid {
	c := newGrid(len(g.byCoord))
	for k, v := range g.byCoord {
		c.byCoord[k] = v
	}
	for k, v := range g.byID {
		c.byID[k] = v
	}
	return c
}

// Map holds the complete territory state of one game instance.
// Readers always see a whole published version: the state before a tick or after it.
type Map struct {
	Width  int `json:"width"`
	Height int `json:"height"`

	mu  sync.RWMutex
	cur *grid

	// writer serializes transactions; only the tick context writes.
	writer sync.Mutex
}

// NewMap creates an empty map for a width x height grid.
func NewMap(width, height int) *Map {
	return &Map{
		Width:  width,
		Height: height,
		cur:    newGrid(width * height),
	}
}

func (m *Map) view() *grid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Set places a territory at its location. Used while building a world before it is shared.
func (m *Map) Set(t *Territory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur.byCoord[t.Location] = t
	m.cur.byID[t.ID] = t.Location
}

// Get returns a copy of the territory at the given coordinate.
func (m *Map) Get(coord HexCoord) (*Territory, bool) {
	t, ok := m.view().byCoord[coord]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// ByID returns a copy of the territory with the given id.
func (m *Map) ByID(id string) (*Territory, bool) {
	g := m.view()
	coord, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return g.byCoord[coord].Clone(), true
}

// Yield returns a copy of a territory's resource yield without cloning its claims.
func (m *Map) Yield(id string) (map[ResourceType]int, bool) {
	g := m.view()
	coord, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	res := g.byCoord[coord].Biome.Resources
	out := make(map[ResourceType]int, len(res))
	for k, v := range res {
		out[k] = v
	}
	return out, true
}

// Entry pairs a coordinate with its territory.
type Entry struct {
	Coordinates HexCoord   `json:"coordinates"`
	Territory   *Territory `json:"territory"`
}

// Entries returns every territory ordered by q, then r.
func (m *Map) Entries() []Entry {
	g := m.view()
	out := make([]Entry, 0, len(g.byCoord))
	for coord, t := range g.byCoord {
		out = append(out, Entry{Coordinates: coord, Territory: t.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return lessCoord(out[i].Coordinates, out[j].Coordinates) })
	return out
}

func lessCoord(a, b HexCoord) bool {
	if a.Q != b.Q {
		return a.Q < b.Q
	}
	return a.R < b.R
}

// Len returns the total number of territories in the map.
func (m *Map) Len() int {
	return len(m.view().byCoord)
}

// Contains reports whether a territory exists at coord.
func (m *Map) Contains(coord HexCoord) bool {
	_, ok := m.view().byCoord[coord]
	return ok
}

// BiomeCounts returns the number of territories of each biome.
func (m *Map) BiomeCounts() map[BiomeType]int {
	counts := make(map[BiomeType]int)
	for _, t := range m.view().byCoord {
		counts[t.Biome.Type]++
	}
	return counts
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(%dx%d, territories=%d)", m.Width, m.Height, m.Len())
}

// Txn is a copy-on-write working view of the map. Changes become visible to
// readers only on Commit.
type Txn struct {
	m     *Map
	base  *grid
	work  *grid
	dirty map[HexCoord]bool

	// journal records the working value of each territory first modified after the savepoint sp.
	journal []journalEntry
	sp      int
	done    bool
}

type journalEntry struct {
	coord    HexCoord
	prev     *Territory // nil when the territory was still the base version
	wasDirty bool
}

// Begin starts the single writer transaction. It blocks while another transaction is open.
func (m *Map) Begin() *Txn {
	m.writer.Lock()
	base := m.view()
	return &Txn{
		m:     m,
		base:  base,
		work:  base.shallowCopy(),
		dirty: make(map[HexCoord]bool),
	}
}

// Read returns the working territory at coord. Callers must not mutate it.
func (tx *Txn) Read(coord HexCoord) (*Territory, bool) {
	t, ok := tx.work.byCoord[coord]
	return t, ok
}

// ReadByID is Read keyed by territory id.
func (tx *Txn) ReadByID(id string) (*Territory, bool) {
	coord, ok := tx.work.byID[id]
	if !ok {
		return nil, false
	}
	return tx.work.byCoord[coord], true
}

// Modify returns a private, mutable copy of the territory at coord.
func (tx *Txn) Modify(coord HexCoord) (*Territory, error) {
	if tx.done {
		return nil, eris.New("transaction already closed")
	}
	t, ok := tx.work.byCoord[coord]
	if !ok {
		return nil, eris.Errorf("no territory at %s", coord)
	}
	if !tx.journaledSinceSavepoint(coord) {
		e := journalEntry{coord: coord, wasDirty: tx.dirty[coord]}
		if e.wasDirty {
			e.prev = t.Clone()
		}
		tx.journal = append(tx.journal, e)
	}
	if !tx.dirty[coord] {
		t = t.Clone()
		tx.work.byCoord[coord] = t
		tx.dirty[coord] = true
	}
	return t, nil
}

func (tx *Txn) journaledSinceSavepoint(coord HexCoord) bool {
	for _, e := range tx.journal[tx.sp:] {
		if e.coord == coord {
			return true
		}
	}
	return false
}

// Savepoint marks the current state so later changes can be undone with RollbackTo.
func (tx *Txn) Savepoint() int {
	tx.sp = len(tx.journal)
	return tx.sp
}

// RollbackTo undoes every Modify made since the given savepoint.
func (tx *Txn) RollbackTo(sp int) {
	if sp < 0 || sp > len(tx.journal) {
		return
	}
	for i := len(tx.journal) - 1; i >= sp; i-- {
		e := tx.journal[i]
		if e.wasDirty {
			tx.work.byCoord[e.coord] = e.prev
			continue
		}
		tx.work.byCoord[e.coord] = tx.base.byCoord[e.coord]
		delete(tx.dirty, e.coord)
	}
	tx.journal = tx.journal[:sp]
	tx.sp = sp
}

// Changed returns the number of territories modified in this transaction.
func (tx *Txn) Changed() int {
	return len(tx.dirty)
}

// Commit publishes the working view and releases the writer.
func (tx *Txn) Commit() {
	if tx.done {
		return
	}
	tx.done = true
	if len(tx.dirty) > 0 {
		tx.m.mu.Lock()
		tx.m.cur = tx.work
		tx.m.mu.Unlock()
	}
	tx.m.writer.Unlock()
}

// Rollback discards the working view and releases the writer.
func (tx *Txn) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.m.writer.Unlock()
}
