package engine

import (
	"errors"
	"fmt"

	"github.com/lifelog/lifelog/internal/dependency"
	"github.com/lifelog/lifelog/internal/formula"
	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
)

// mutation is the state of one engine transaction
type mutation struct {
	e      *Engine
	tx     store.Tx
	series map[int64]*models.Series

	touched  map[int64]bool // series whose aggregates changed
	events   []models.ChangeEvent
	rows     int
	cascaded int
}

func newMutation(e *Engine, tx store.Tx) *mutation {
	return &mutation{
		e:       e,
		tx:      tx,
		series:  make(map[int64]*models.Series),
		touched: make(map[int64]bool),
	}
}

func (m *mutation) getSeries(id int64) (*models.Series, error) {
	if s, ok := m.series[id]; ok {
		return s, nil
	}
	s, err := m.tx.GetSeries(id)
	if err != nil {
		return nil, err
	}
	m.series[id] = s
	return s, nil
}

func (m *mutation) putSeries(s *models.Series) error {
	if err := m.tx.PutSeries(s); err != nil {
		return err
	}
	m.series[s.ID] = s
	return nil
}

func (m *mutation) emit(t models.ChangeType, seriesID, datapointID int64) {
	m.events = append(m.events, models.NewChangeEvent(t, seriesID, datapointID))
}

// placeShadows sets the bucket boundaries of every granularity from the
// row timestamps. Stats are left to refresh.
func (m *mutation) placeShadows(d *models.Datapoint) {
	for _, g := range models.Granularities {
		sh := d.Shadow(g)
		if g.IsRaw() {
			sh.BucketStart, sh.BucketEnd = d.TsStart, d.TsEnd
		} else {
			sh.BucketStart, sh.BucketEnd = m.e.cal.Bucket(d.TsStart, g.Period())
		}
		d.SetShadow(g, sh)
	}
}

func (m *mutation) insert(d *models.Datapoint) error {
	m.placeShadows(d)
	if err := m.tx.InsertDatapoint(d); err != nil {
		return err
	}
	m.emit(models.ChangeDatapointCreated, d.SeriesID, d.ID)
	return nil
}

// refresh recomputes the shadows of every granularity for all closed rows
// of s from the bucket containing from onwards.
func (m *mutation) refresh(s *models.Series, from int64) error {
	bounds := make(map[models.Granularity]int64, len(models.Granularities))
	lo := from
	for _, g := range models.Granularities {
		b := from
		if !g.IsRaw() {
			b = m.e.cal.PeriodStart(from, g.Period())
		}
		bounds[g] = b
		if b < lo {
			lo = b
		}
	}

	rows, err := m.tx.QueryRange(s.ID, lo, store.MaxTime, models.GranularityRaw)
	if err != nil {
		return err
	}
	m.touched[s.ID] = true
	if len(rows) == 0 {
		return nil
	}

	orig := make([]*models.Datapoint, len(rows))
	for i, d := range rows {
		orig[i] = d.Clone()
	}

	for _, g := range models.Granularities {
		before, err := m.tx.QueryBefore(s.ID, bounds[g], s.History, g)
		if err != nil {
			return err
		}
		acc := newAccumulator(s, g, before)

		i := 0
		for i < len(rows) && rows[i].TsStart < bounds[g] {
			i++
		}
		if g.IsRaw() {
			for ; i < len(rows); i++ {
				d := rows[i]
				d.SetShadow(g, acc.next(element{start: d.TsStart, end: d.TsEnd, sum: d.Value, entries: d.Entries}))
			}
			continue
		}

		p := g.Period()
		for i < len(rows) {
			start, end := m.e.cal.Bucket(rows[i].TsStart, p)
			el := element{start: start, end: end}
			j := i
			for ; j < len(rows) && rows[j].TsStart <= end; j++ {
				el.sum += rows[j].Value
				el.entries += rows[j].Entries
			}
			sh := acc.next(el)
			for ; i < j; i++ {
				rows[i].SetShadow(g, sh)
			}
		}
	}

	for i, d := range rows {
		if shadowsEqual(orig[i], d) {
			continue
		}
		if err := m.tx.UpdateDatapoint(d); err != nil {
			return err
		}
		m.rows++
	}
	return nil
}

// rebuild recomputes every aggregate of s from its first row
func (m *mutation) rebuild(s *models.Series) error {
	first, err := m.tx.QueryRange(s.ID, store.MinTime, store.MaxTime, models.GranularityRaw)
	if err != nil {
		return err
	}
	m.touched[s.ID] = true
	if len(first) == 0 {
		return nil
	}
	for _, d := range first {
		m.placeShadows(d)
		if err := m.tx.UpdateDatapoint(d); err != nil {
			return err
		}
	}
	return m.refresh(s, first[0].TsStart)
}

func shadowsEqual(a, b *models.Datapoint) bool {
	for _, g := range models.Granularities {
		if a.Shadow(g) != b.Shadow(g) {
			return false
		}
	}
	return true
}

// cascade re-evaluates every synthetic series downstream of id
func (m *mutation) cascade(id int64) error {
	down, err := dependency.Downstream(m.tx, id, m.e.maxDepth)
	if err != nil {
		return err
	}
	for _, d := range down {
		if err := m.evaluate(d); err != nil {
			return fmt.Errorf("recompute series %d: %w", d, err)
		}
	}
	return nil
}

// evaluate recomputes the datapoints of a synthetic series from its sources
// and refreshes its aggregates from the earliest changed point.
func (m *mutation) evaluate(id int64) error {
	s, err := m.getSeries(id)
	if err != nil {
		return err
	}
	if s.Kind != models.KindSynthetic || s.Formula == "" {
		return nil
	}

	f, err := formula.Parse(s.Formula)
	if err != nil {
		return dependency.FormulaError(err)
	}

	sourceIDs, err := m.tx.SourcesOf(id)
	if err != nil {
		return err
	}
	sources := make(map[string][]formula.Point, len(sourceIDs))
	for _, srcID := range sourceIDs {
		src, err := m.getSeries(srcID)
		if err != nil {
			return err
		}
		rows, err := m.tx.QueryRange(srcID, store.MinTime, store.MaxTime, models.GranularityRaw)
		if err != nil {
			return err
		}
		points := make([]formula.Point, len(rows))
		for i, d := range rows {
			points[i] = formula.Point{TsStart: d.TsStart, TsEnd: d.TsEnd, Value: d.Value}
		}
		sources[src.Name] = points
	}

	out, err := f.Apply(sources, m.e.aligner)
	if errors.Is(err, formula.ErrNoSeries) {
		return models.InvalidArgumentf("formula of %q does not reference a series", s.Name)
	}
	if err != nil {
		return err
	}

	existing, err := m.tx.QueryRange(id, store.MinTime, store.MaxTime, models.GranularityRaw)
	if err != nil {
		return err
	}

	changed, from, err := m.sync(s, existing, out)
	if err != nil {
		return err
	}
	m.cascaded++
	if !changed {
		return nil
	}
	if err := m.refresh(s, from); err != nil {
		return err
	}
	m.emit(models.ChangeRecomputed, id, 0)
	return nil
}

type occurrence struct {
	ts int64
	n  int
}

// sync makes the rows of s match points, keyed by timestamp and occurrence
// at that timestamp. It reports the earliest changed timestamp.
func (m *mutation) sync(s *models.Series, existing []*models.Datapoint, points []formula.Point) (bool, int64, error) {
	rows := make(map[occurrence]*models.Datapoint, len(existing))
	counts := make(map[int64]int, len(existing))
	for _, d := range existing {
		key := occurrence{d.TsStart, counts[d.TsStart]}
		counts[d.TsStart]++
		rows[key] = d
	}

	changed := false
	var from int64
	mark := func(ts int64) {
		if !changed || ts < from {
			from = ts
		}
		changed = true
	}

	clear(counts)
	for _, p := range points {
		key := occurrence{p.TsStart, counts[p.TsStart]}
		counts[p.TsStart]++

		d, ok := rows[key]
		if !ok {
			nd := &models.Datapoint{SeriesID: s.ID, TsStart: p.TsStart, TsEnd: p.TsEnd, Value: p.Value, Entries: 1}
			m.placeShadows(nd)
			if err := m.tx.InsertDatapoint(nd); err != nil {
				return false, 0, err
			}
			mark(p.TsStart)
			continue
		}
		delete(rows, key)
		if d.Value == p.Value && d.TsEnd == p.TsEnd {
			continue
		}
		d.Value, d.TsEnd = p.Value, p.TsEnd
		m.placeShadows(d)
		if err := m.tx.UpdateDatapoint(d); err != nil {
			return false, 0, err
		}
		mark(p.TsStart)
	}

	for _, d := range rows {
		if err := m.tx.DeleteDatapoint(d.ID); err != nil {
			return false, 0, err
		}
		mark(d.TsStart)
	}
	return changed, from, nil
}
