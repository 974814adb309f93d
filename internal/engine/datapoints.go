package engine

import (
	"context"
	"fmt"

	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
)

// writable rejects series whose datapoints are computed from a formula
func writable(s *models.Series) error {
	if s.Kind == models.KindSynthetic {
		return models.InvalidArgumentf("series %q is synthetic, its datapoints are computed", s.Name)
	}
	return nil
}

func newDatapoint(s *models.Series, tsStart, tsEnd int64, value float64, entries int64) (*models.Datapoint, error) {
	if entries == 0 {
		entries = 1
	}
	if s.Kind == models.KindDiscrete {
		tsEnd = tsStart
	}
	d := &models.Datapoint{SeriesID: s.ID, TsStart: tsStart, TsEnd: tsEnd, Value: value, Entries: entries}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// InsertDatapoint stores a closed datapoint and refreshes the aggregates
// from its timestamp. For discrete series tsEnd is forced to tsStart and an
// entries value of 0 means a single event.
func (e *Engine) InsertDatapoint(ctx context.Context, seriesID, tsStart, tsEnd int64, value float64, entries int64) (*models.Datapoint, error) {
	var out *models.Datapoint
	err := e.mutate(ctx, "insert", seriesID, func(m *mutation) error {
		s, err := m.getSeries(seriesID)
		if err != nil {
			return err
		}
		if err := writable(s); err != nil {
			return err
		}
		d, err := newDatapoint(s, tsStart, tsEnd, value, entries)
		if err != nil {
			return err
		}
		if err := m.insert(d); err != nil {
			return err
		}
		if err := m.refresh(s, d.TsStart); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.reload(ctx, out)
}

// InsertBatch stores several datapoints of one series with a single
// aggregate refresh from the earliest of them.
func (e *Engine) InsertBatch(ctx context.Context, seriesID int64, points []*models.Datapoint) ([]int64, error) {
	if len(points) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(points))
	err := e.mutate(ctx, "insert_batch", seriesID, func(m *mutation) error {
		s, err := m.getSeries(seriesID)
		if err != nil {
			return err
		}
		if err := writable(s); err != nil {
			return err
		}
		from := points[0].TsStart
		for i, p := range points {
			d, err := newDatapoint(s, p.TsStart, p.TsEnd, p.Value, p.Entries)
			if err != nil {
				return fmt.Errorf("point %d: %w", i, err)
			}
			if err := m.insert(d); err != nil {
				return err
			}
			ids = append(ids, d.ID)
			if d.TsStart < from {
				from = d.TsStart
			}
		}
		return m.refresh(s, from)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateDatapoint changes the fields set in upd and refreshes the aggregates
// from the earlier of the old and new timestamps.
func (e *Engine) UpdateDatapoint(ctx context.Context, id int64, upd models.DatapointUpdate) (*models.Datapoint, error) {
	seriesID, err := e.ownerOf(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *models.Datapoint
	err = e.mutate(ctx, "update", seriesID, func(m *mutation) error {
		d, s, err := m.datapoint(id, seriesID)
		if err != nil {
			return err
		}
		if err := writable(s); err != nil {
			return err
		}
		if d.Open {
			return models.InvalidArgumentf("datapoint %d is still recording", id)
		}

		from := d.TsStart
		upd.Apply(d, s.Kind)
		if err := d.Validate(); err != nil {
			return err
		}
		if d.TsStart < from {
			from = d.TsStart
		}

		m.placeShadows(d)
		if err := m.tx.UpdateDatapoint(d); err != nil {
			return err
		}
		m.emit(models.ChangeDatapointUpdated, seriesID, id)
		out = d
		return m.refresh(s, from)
	})
	if err != nil {
		return nil, err
	}
	return e.reload(ctx, out)
}

// DeleteDatapoint removes a datapoint and refreshes the aggregates from its
// timestamp. Deleting the open datapoint of a recording cancels it.
func (e *Engine) DeleteDatapoint(ctx context.Context, id int64) error {
	seriesID, err := e.ownerOf(ctx, id)
	if err != nil {
		return err
	}

	return e.mutate(ctx, "delete", seriesID, func(m *mutation) error {
		d, s, err := m.datapoint(id, seriesID)
		if err != nil {
			return err
		}
		if err := writable(s); err != nil {
			return err
		}
		if err := m.tx.DeleteDatapoint(id); err != nil {
			return err
		}
		m.emit(models.ChangeDatapointDeleted, seriesID, id)

		if d.Open {
			if s.RecordingID == id {
				s.RecordingID = 0
				s.UpdatedAt = e.timestamp()
				return m.putSeries(s)
			}
			return nil
		}
		return m.refresh(s, d.TsStart)
	})
}

// GetDatapoint returns one datapoint, open or closed
func (e *Engine) GetDatapoint(ctx context.Context, id int64) (*models.Datapoint, error) {
	var d *models.Datapoint
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		d, err = r.GetDatapoint(id)
		return err
	})
	return d, err
}

// ownerOf resolves the series of a datapoint before its locks are taken
func (e *Engine) ownerOf(ctx context.Context, id int64) (int64, error) {
	d, err := e.GetDatapoint(ctx, id)
	if err != nil {
		return 0, err
	}
	return d.SeriesID, nil
}

// datapoint loads id and its series inside the transaction. The owner is
// checked again since the row may have been deleted before the locks were held.
func (m *mutation) datapoint(id, seriesID int64) (*models.Datapoint, *models.Series, error) {
	d, err := m.tx.GetDatapoint(id)
	if err != nil {
		return nil, nil, err
	}
	if d.SeriesID != seriesID {
		return nil, nil, store.DatapointNotFound(id)
	}
	s, err := m.getSeries(seriesID)
	if err != nil {
		return nil, nil, err
	}
	return d, s, nil
}

// reload returns the committed version of d with its refreshed shadows
func (e *Engine) reload(ctx context.Context, d *models.Datapoint) (*models.Datapoint, error) {
	fresh, err := e.GetDatapoint(ctx, d.ID)
	if err != nil {
		return d, nil
	}
	return fresh, nil
}

// RecordEvent records a single event of a discrete series at ts
func (e *Engine) RecordEvent(ctx context.Context, seriesID, ts int64, value float64) (*models.Datapoint, error) {
	var out *models.Datapoint
	err := e.mutate(ctx, "record", seriesID, func(m *mutation) error {
		s, err := m.getSeries(seriesID)
		if err != nil {
			return err
		}
		if s.Kind != models.KindDiscrete {
			return models.InvalidArgumentf("series %q is not a discrete series", s.Name)
		}
		d, err := newDatapoint(s, ts, ts, value, 1)
		if err != nil {
			return err
		}
		if err := m.insert(d); err != nil {
			return err
		}
		out = d
		return m.refresh(s, ts)
	})
	if err != nil {
		return nil, err
	}
	return e.reload(ctx, out)
}

// RecordEventStart opens a recording on a range series. The open datapoint
// is excluded from aggregation until it is stopped.
func (e *Engine) RecordEventStart(ctx context.Context, seriesID, ts int64) (*models.Datapoint, error) {
	var out *models.Datapoint
	err := e.mutate(ctx, "record_start", seriesID, func(m *mutation) error {
		s, err := m.getSeries(seriesID)
		if err != nil {
			return err
		}
		if s.Kind != models.KindRange {
			return models.InvalidArgumentf("series %q is not a range series", s.Name)
		}
		if s.IsRecording() {
			return models.NewErrorWithDetails(models.CodeInvalidArgument,
				fmt.Sprintf("series %q is already recording", s.Name),
				map[string]interface{}{"recording_id": s.RecordingID})
		}

		d := &models.Datapoint{SeriesID: seriesID, TsStart: ts, TsEnd: ts, Entries: 1, Open: true}
		if err := m.insert(d); err != nil {
			return err
		}
		s.RecordingID = d.ID
		s.UpdatedAt = e.timestamp()
		out = d
		return m.putSeries(s)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordEventStop closes the recording of a range series at ts. A nil value
// records the duration in seconds.
func (e *Engine) RecordEventStop(ctx context.Context, seriesID, ts int64, value *float64) (*models.Datapoint, error) {
	var out *models.Datapoint
	err := e.mutate(ctx, "record_stop", seriesID, func(m *mutation) error {
		s, err := m.getSeries(seriesID)
		if err != nil {
			return err
		}
		if s.Kind != models.KindRange {
			return models.InvalidArgumentf("series %q is not a range series", s.Name)
		}
		if !s.IsRecording() {
			return models.InvalidArgumentf("series %q is not recording", s.Name)
		}

		d, err := m.tx.GetDatapoint(s.RecordingID)
		if err != nil {
			return err
		}
		if ts < d.TsStart {
			return models.InvalidArgumentf("stop %d precedes start %d", ts, d.TsStart)
		}
		d.TsEnd = ts
		d.Open = false
		if value != nil {
			d.Value = *value
		} else {
			d.Value = float64(ts - d.TsStart)
		}
		m.placeShadows(d)
		if err := m.tx.UpdateDatapoint(d); err != nil {
			return err
		}
		m.emit(models.ChangeDatapointUpdated, seriesID, d.ID)

		s.RecordingID = 0
		s.UpdatedAt = e.timestamp()
		if err := m.putSeries(s); err != nil {
			return err
		}
		out = d
		return m.refresh(s, d.TsStart)
	})
	if err != nil {
		return nil, err
	}
	return e.reload(ctx, out)
}

// QueryRecent returns up to count closed datapoints newest first, projected
// to one row per bucket for granularities other than raw
func (e *Engine) QueryRecent(ctx context.Context, seriesID int64, count int, g models.Granularity) ([]*models.Datapoint, error) {
	var out []*models.Datapoint
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.QueryRecent(seriesID, count, g)
		return err
	})
	return out, err
}

// QueryRange returns closed datapoints with TsStart in [from, to] oldest
// first, projected to one row per bucket for granularities other than raw
func (e *Engine) QueryRange(ctx context.Context, seriesID, from, to int64, g models.Granularity) ([]*models.Datapoint, error) {
	if from > to {
		return nil, models.InvalidArgumentf("from %d is after to %d", from, to)
	}
	var out []*models.Datapoint
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.QueryRange(seriesID, from, to, g)
		return err
	})
	return out, err
}
