package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/lifelog/lifelog/internal/models"
)

const ownerChunkSize = 1024

// ownerChunk maps a block of datapoint ids to their series, 0 = unused slot
type ownerChunk [ownerChunkSize]int64

// snapshot is an immutable committed state. Write transactions copy the
// top-level maps and clone the per-series row slices they touch.
type snapshot struct {
	nextSeriesID    int64
	nextDatapointID int64

	series map[int64]*models.Series
	names  map[string]int64
	rows   map[int64][]*models.Datapoint // per series, ordered by (TsStart, ID)
	owners map[int64]*ownerChunk
	edges  map[int64][]int64 // result -> sorted sources
}

// Memory is an in-process Store. Readers load the current snapshot without
// locking; writers are serialised and publish a new snapshot on commit.
type Memory struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

var _ Store = &Memory{}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	m := &Memory{}
	m.current.Store(&snapshot{
		series: make(map[int64]*models.Series),
		names:  make(map[string]int64),
		rows:   make(map[int64][]*models.Datapoint),
		owners: make(map[int64]*ownerChunk),
		edges:  make(map[int64][]int64),
	})
	return m
}

// View runs fn against the last committed snapshot
func (m *Memory) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memTx{snap: m.current.Load()})
}

// Update runs fn in a write transaction
func (m *Memory) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tx := newMemWriteTx(m.current.Load())
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.current.Store(tx.snap)
	return nil
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}

type memTx struct {
	snap *snapshot

	// copy-on-write bookkeeping of a write transaction
	ownedRows   map[int64]bool
	ownedChunks map[int64]bool
}

func newMemWriteTx(base *snapshot) *memTx {
	return &memTx{
		snap: &snapshot{
			nextSeriesID:    base.nextSeriesID,
			nextDatapointID: base.nextDatapointID,
			series:          maps.Clone(base.series),
			names:           maps.Clone(base.names),
			rows:            maps.Clone(base.rows),
			owners:          maps.Clone(base.owners),
			edges:           maps.Clone(base.edges),
		},
		ownedRows:   make(map[int64]bool),
		ownedChunks: make(map[int64]bool),
	}
}

func rowLess(a, b *models.Datapoint) bool {
	if a.TsStart != b.TsStart {
		return a.TsStart < b.TsStart
	}
	return a.ID < b.ID
}

// --- Reader ---

func (t *memTx) GetSeries(id int64) (*models.Series, error) {
	s, ok := t.snap.series[id]
	if !ok {
		return nil, SeriesNotFound(id)
	}
	c := *s
	return &c, nil
}

func (t *memTx) GetSeriesByName(name string) (*models.Series, error) {
	id, ok := t.snap.names[name]
	if !ok {
		return nil, models.NotFoundf("series %q not found", name)
	}
	return t.GetSeries(id)
}

func (t *memTx) ListSeries() ([]*models.Series, error) {
	out := make([]*models.Series, 0, len(t.snap.series))
	for _, s := range t.snap.series {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) GetDatapoint(id int64) (*models.Datapoint, error) {
	rows := t.snap.rows[t.ownerOf(id)]
	for _, d := range rows {
		if d.ID == id {
			return d.Clone(), nil
		}
	}
	return nil, DatapointNotFound(id)
}

func (t *memTx) QueryRecent(seriesID int64, count int, g models.Granularity) ([]*models.Datapoint, error) {
	return t.QueryBefore(seriesID, MaxTime, count, g)
}

func (t *memTx) QueryBefore(seriesID, before int64, count int, g models.Granularity) ([]*models.Datapoint, error) {
	if _, ok := t.snap.series[seriesID]; !ok {
		return nil, SeriesNotFound(seriesID)
	}
	rows := t.snap.rows[seriesID]
	end := sort.Search(len(rows), func(i int) bool { return rows[i].TsStart >= before })

	var out []*models.Datapoint
	var lastBucket int64
	for i := end - 1; i >= 0; i-- {
		if count > 0 && len(out) >= count {
			break
		}
		d := rows[i]
		if d.Open {
			continue
		}
		if !g.IsRaw() {
			bucket := d.Shadows[g].BucketStart
			if len(out) > 0 && bucket == lastBucket {
				continue
			}
			lastBucket = bucket
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

func (t *memTx) QueryRange(seriesID, from, to int64, g models.Granularity) ([]*models.Datapoint, error) {
	if _, ok := t.snap.series[seriesID]; !ok {
		return nil, SeriesNotFound(seriesID)
	}
	rows := t.snap.rows[seriesID]
	start := sort.Search(len(rows), func(i int) bool { return rows[i].TsStart >= from })

	var out []*models.Datapoint
	for i := start; i < len(rows) && rows[i].TsStart <= to; i++ {
		d := rows[i]
		if d.Open {
			continue
		}
		// keep the newest row of each bucket
		if !g.IsRaw() && len(out) > 0 && out[len(out)-1].Shadows[g].BucketStart == d.Shadows[g].BucketStart {
			out[len(out)-1] = d.Clone()
			continue
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

func (t *memTx) SourcesOf(resultID int64) ([]int64, error) {
	return append([]int64(nil), t.snap.edges[resultID]...), nil
}

func (t *memTx) DependentsOf(sourceID int64) ([]int64, error) {
	var out []int64
	for result, sources := range t.snap.edges {
		for _, s := range sources {
			if s == sourceID {
				out = append(out, result)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *memTx) ListEdges() ([]models.Edge, error) {
	var out []models.Edge
	for result, sources := range t.snap.edges {
		for _, s := range sources {
			out = append(out, models.Edge{ResultID: result, SourceID: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResultID != out[j].ResultID {
			return out[i].ResultID < out[j].ResultID
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out, nil
}

// --- Tx ---

func (t *memTx) PutSeries(s *models.Series) error {
	if id, ok := t.snap.names[s.Name]; ok && id != s.ID {
		return DuplicateName(s.Name)
	}

	if s.ID == 0 {
		t.snap.nextSeriesID++
		s.ID = t.snap.nextSeriesID
	} else {
		old, ok := t.snap.series[s.ID]
		if !ok {
			return SeriesNotFound(s.ID)
		}
		if old.Name != s.Name {
			delete(t.snap.names, old.Name)
		}
	}

	c := *s
	t.snap.series[s.ID] = &c
	t.snap.names[s.Name] = s.ID
	return nil
}

func (t *memTx) DeleteSeries(id int64) error {
	s, ok := t.snap.series[id]
	if !ok {
		return SeriesNotFound(id)
	}

	for _, d := range t.snap.rows[id] {
		t.setOwner(d.ID, 0)
	}
	delete(t.snap.rows, id)
	delete(t.snap.names, s.Name)
	delete(t.snap.series, id)
	delete(t.snap.edges, id)

	for result, sources := range t.snap.edges {
		kept := make([]int64, 0, len(sources))
		for _, src := range sources {
			if src != id {
				kept = append(kept, src)
			}
		}
		if len(kept) == len(sources) {
			continue
		}
		if len(kept) == 0 {
			delete(t.snap.edges, result)
		} else {
			t.snap.edges[result] = kept
		}
	}
	return nil
}

func (t *memTx) InsertDatapoint(d *models.Datapoint) error {
	if _, ok := t.snap.series[d.SeriesID]; !ok {
		return SeriesNotFound(d.SeriesID)
	}
	t.snap.nextDatapointID++
	d.ID = t.snap.nextDatapointID

	t.insertRow(d.Clone())
	t.setOwner(d.ID, d.SeriesID)
	return nil
}

func (t *memTx) UpdateDatapoint(d *models.Datapoint) error {
	owner := t.ownerOf(d.ID)
	if owner == 0 || owner != d.SeriesID {
		return DatapointNotFound(d.ID)
	}
	if !t.removeRow(owner, d) {
		return DatapointNotFound(d.ID)
	}
	t.insertRow(d.Clone())
	return nil
}

func (t *memTx) DeleteDatapoint(id int64) error {
	owner := t.ownerOf(id)
	if owner == 0 || !t.removeRow(owner, &models.Datapoint{ID: id}) {
		return DatapointNotFound(id)
	}
	t.setOwner(id, 0)
	return nil
}

func (t *memTx) ReplaceEdges(resultID int64, sourceIDs []int64) error {
	if _, ok := t.snap.series[resultID]; !ok {
		return SeriesNotFound(resultID)
	}

	seen := make(map[int64]bool, len(sourceIDs))
	sources := make([]int64, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		if _, ok := t.snap.series[id]; !ok {
			return SeriesNotFound(id)
		}
		if !seen[id] {
			seen[id] = true
			sources = append(sources, id)
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	if len(sources) == 0 {
		delete(t.snap.edges, resultID)
	} else {
		t.snap.edges[resultID] = sources
	}
	return nil
}

// --- copy-on-write helpers ---

func (t *memTx) ownerOf(id int64) int64 {
	if id <= 0 {
		return 0
	}
	chunk, ok := t.snap.owners[id/ownerChunkSize]
	if !ok {
		return 0
	}
	return chunk[id%ownerChunkSize]
}

func (t *memTx) setOwner(id, seriesID int64) {
	key := id / ownerChunkSize
	chunk := t.snap.owners[key]
	if !t.ownedChunks[key] {
		c := &ownerChunk{}
		if chunk != nil {
			*c = *chunk
		}
		chunk = c
		t.snap.owners[key] = chunk
		t.ownedChunks[key] = true
	}
	chunk[id%ownerChunkSize] = seriesID
}

func (t *memTx) mutableRows(seriesID int64) []*models.Datapoint {
	rows := t.snap.rows[seriesID]
	if !t.ownedRows[seriesID] {
		rows = append(make([]*models.Datapoint, 0, len(rows)+1), rows...)
		t.snap.rows[seriesID] = rows
		t.ownedRows[seriesID] = true
	}
	return rows
}

func (t *memTx) insertRow(d *models.Datapoint) {
	rows := t.mutableRows(d.SeriesID)
	i := sort.Search(len(rows), func(i int) bool { return rowLess(d, rows[i]) })
	rows = append(rows, nil)
	copy(rows[i+1:], rows[i:])
	rows[i] = d
	t.snap.rows[d.SeriesID] = rows
}

// removeRow drops the row with d.ID, probing the committed position of d first
func (t *memTx) removeRow(seriesID int64, d *models.Datapoint) bool {
	rows := t.mutableRows(seriesID)

	idx := -1
	if i := sort.Search(len(rows), func(i int) bool { return !rowLess(rows[i], d) }); i < len(rows) && rows[i].ID == d.ID {
		idx = i
	} else {
		for i, r := range rows {
			if r.ID == d.ID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return false
	}

	rows = append(rows[:idx], rows[idx+1:]...)
	t.snap.rows[seriesID] = rows
	return true
}
