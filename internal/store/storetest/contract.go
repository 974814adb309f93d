// Package storetest holds the repository contract every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
)

// Factory opens an empty store for one subtest
type Factory func(t *testing.T) store.Store

// Run executes the contract suite against stores produced by open
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"SeriesCRUD", testSeriesCRUD},
		{"DuplicateName", testDuplicateName},
		{"DatapointCRUD", testDatapointCRUD},
		{"OpenDatapointsHidden", testOpenDatapointsHidden},
		{"QueryOrdering", testQueryOrdering},
		{"BucketProjection", testBucketProjection},
		{"Edges", testEdges},
		{"DeleteSeriesCascades", testDeleteSeriesCascades},
		{"Rollback", testRollback},
		{"NotFound", testNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func newSeries(name string) *models.Series {
	return models.NewSeries(name)
}

func mustCreate(t *testing.T, s store.Store, names ...string) []*models.Series {
	t.Helper()
	out := make([]*models.Series, 0, len(names))
	err := s.Update(context.Background(), func(tx store.Tx) error {
		for _, name := range names {
			ser := newSeries(name)
			if err := tx.PutSeries(ser); err != nil {
				return err
			}
			out = append(out, ser)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func mustInsert(t *testing.T, s store.Store, points ...*models.Datapoint) {
	t.Helper()
	err := s.Update(context.Background(), func(tx store.Tx) error {
		for _, d := range points {
			if err := tx.InsertDatapoint(d); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func point(seriesID, ts int64, value float64) *models.Datapoint {
	return &models.Datapoint{SeriesID: seriesID, TsStart: ts, TsEnd: ts, Value: value, Entries: 1}
}

func timestamps(points []*models.Datapoint) []int64 {
	out := make([]int64, len(points))
	for i, d := range points {
		out[i] = d.TsStart
	}
	return out
}

func testSeriesCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := mustCreate(t, s, "steps", "sleep")
	require.NotZero(t, created[0].ID)
	require.NotEqual(t, created[0].ID, created[1].ID)

	err := s.View(ctx, func(r store.Reader) error {
		got, err := r.GetSeries(created[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "steps", got.Name)
		assert.Equal(t, models.KindDiscrete, got.Kind)
		assert.Equal(t, models.DefaultAlpha, got.Alpha)

		byName, err := r.GetSeriesByName("sleep")
		require.NoError(t, err)
		assert.Equal(t, created[1].ID, byName.ID)

		list, err := r.ListSeries()
		require.NoError(t, err)
		assert.Len(t, list, 2)
		assert.Equal(t, created[0].ID, list[0].ID)
		return nil
	})
	require.NoError(t, err)

	// rename and change settings
	err = s.Update(ctx, func(tx store.Tx) error {
		ser, err := tx.GetSeries(created[0].ID)
		if err != nil {
			return err
		}
		ser.Name = "walking"
		ser.History = 30
		ser.Zerofill = true
		ser.RecordingID = 42
		return tx.PutSeries(ser)
	})
	require.NoError(t, err)

	err = s.View(ctx, func(r store.Reader) error {
		_, err := r.GetSeriesByName("steps")
		assert.True(t, errors.Is(err, models.ErrNotFound))

		got, err := r.GetSeriesByName("walking")
		require.NoError(t, err)
		assert.Equal(t, 30, got.History)
		assert.True(t, got.Zerofill)
		assert.Equal(t, int64(42), got.RecordingID)
		return nil
	})
	require.NoError(t, err)
}

func testDuplicateName(t *testing.T, s store.Store) {
	mustCreate(t, s, "steps")
	err := s.Update(context.Background(), func(tx store.Tx) error {
		return tx.PutSeries(newSeries("steps"))
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidArgument), "got %v", err)
}

func testDatapointCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	ser := mustCreate(t, s, "steps")[0]

	d := point(ser.ID, 100, 5)
	d.SetShadow(models.GranularityDay, models.Shadow{BucketStart: 0, BucketEnd: 86399, Value: 5, Entries: 1, Trend: 5, SumValue: 5, SumEntries: 1, SumValueSqr: 25})
	mustInsert(t, s, d)
	require.NotZero(t, d.ID)

	err := s.View(ctx, func(r store.Reader) error {
		got, err := r.GetDatapoint(d.ID)
		require.NoError(t, err)
		assert.Equal(t, ser.ID, got.SeriesID)
		assert.Equal(t, 5.0, got.Value)
		assert.Equal(t, int64(1), got.Entries)
		assert.Equal(t, 25.0, got.Shadow(models.GranularityDay).SumValueSqr)
		assert.Equal(t, int64(86399), got.Shadow(models.GranularityDay).BucketEnd)
		return nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx store.Tx) error {
		got, err := tx.GetDatapoint(d.ID)
		if err != nil {
			return err
		}
		got.TsStart, got.TsEnd, got.Value, got.Entries = 50, 60, 7.5, 3
		sh := got.Shadow(models.GranularityRaw)
		sh.Trend = 1.25
		got.SetShadow(models.GranularityRaw, sh)
		return tx.UpdateDatapoint(got)
	})
	require.NoError(t, err)

	err = s.View(ctx, func(r store.Reader) error {
		got, err := r.GetDatapoint(d.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(50), got.TsStart)
		assert.Equal(t, int64(60), got.TsEnd)
		assert.Equal(t, 7.5, got.Value)
		assert.Equal(t, int64(3), got.Entries)
		assert.Equal(t, 1.25, got.Shadow(models.GranularityRaw).Trend)
		return nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.DeleteDatapoint(d.ID)
	})
	require.NoError(t, err)

	err = s.View(ctx, func(r store.Reader) error {
		_, err := r.GetDatapoint(d.ID)
		assert.True(t, errors.Is(err, models.ErrNotFound))
		rows, err := r.QueryRecent(ser.ID, 0, models.GranularityRaw)
		require.NoError(t, err)
		assert.Empty(t, rows)
		return nil
	})
	require.NoError(t, err)
}

func testOpenDatapointsHidden(t *testing.T, s store.Store) {
	ser := mustCreate(t, s, "run")[0]
	closed := point(ser.ID, 100, 30)
	open := &models.Datapoint{SeriesID: ser.ID, TsStart: 200, TsEnd: 200, Entries: 1, Open: true}
	mustInsert(t, s, closed, open)

	err := s.View(context.Background(), func(r store.Reader) error {
		rows, err := r.QueryRecent(ser.ID, 10, models.GranularityRaw)
		require.NoError(t, err)
		assert.Equal(t, []int64{100}, timestamps(rows))

		rows, err = r.QueryRange(ser.ID, store.MinTime, store.MaxTime, models.GranularityRaw)
		require.NoError(t, err)
		assert.Equal(t, []int64{100}, timestamps(rows))

		got, err := r.GetDatapoint(open.ID)
		require.NoError(t, err)
		assert.True(t, got.Open)
		return nil
	})
	require.NoError(t, err)
}

func testQueryOrdering(t *testing.T, s store.Store) {
	ser := mustCreate(t, s, "mood")[0]
	// inserted out of order, with a timestamp tie
	mustInsert(t, s, point(ser.ID, 300, 3), point(ser.ID, 100, 1), point(ser.ID, 200, 2), point(ser.ID, 200, 4))

	err := s.View(context.Background(), func(r store.Reader) error {
		rows, err := r.QueryRecent(ser.ID, 0, models.GranularityRaw)
		require.NoError(t, err)
		assert.Equal(t, []int64{300, 200, 200, 100}, timestamps(rows))
		// ties resolve by id, newest first
		assert.Equal(t, 4.0, rows[1].Value)

		rows, err = r.QueryRecent(ser.ID, 2, models.GranularityRaw)
		require.NoError(t, err)
		assert.Equal(t, []int64{300, 200}, timestamps(rows))

		rows, err = r.QueryBefore(ser.ID, 300, 2, models.GranularityRaw)
		require.NoError(t, err)
		assert.Equal(t, []int64{200, 200}, timestamps(rows))

		rows, err = r.QueryRange(ser.ID, 150, 300, models.GranularityRaw)
		require.NoError(t, err)
		assert.Equal(t, []int64{200, 200, 300}, timestamps(rows))
		assert.Equal(t, 2.0, rows[0].Value)
		return nil
	})
	require.NoError(t, err)
}

func testBucketProjection(t *testing.T, s store.Store) {
	ser := mustCreate(t, s, "water")[0]

	day := func(ts, start int64, value float64) *models.Datapoint {
		d := point(ser.ID, ts, value)
		d.SetShadow(models.GranularityDay, models.Shadow{BucketStart: start, BucketEnd: start + 86399, Value: value})
		return d
	}
	mustInsert(t, s,
		day(10, 0, 1), day(20, 0, 2),
		day(86400+5, 86400, 3),
		day(2*86400+1, 2*86400, 4), day(2*86400+9, 2*86400, 5),
	)

	err := s.View(context.Background(), func(r store.Reader) error {
		rows, err := r.QueryRecent(ser.ID, 0, models.GranularityDay)
		require.NoError(t, err)
		assert.Equal(t, []int64{2*86400 + 9, 86400 + 5, 20}, timestamps(rows))

		rows, err = r.QueryRecent(ser.ID, 2, models.GranularityDay)
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		rows, err = r.QueryBefore(ser.ID, 2*86400, 5, models.GranularityDay)
		require.NoError(t, err)
		assert.Equal(t, []int64{86400 + 5, 20}, timestamps(rows))

		rows, err = r.QueryRange(ser.ID, 0, 3*86400, models.GranularityDay)
		require.NoError(t, err)
		assert.Equal(t, []int64{20, 86400 + 5, 2*86400 + 9}, timestamps(rows))
		assert.Equal(t, int64(86400), rows[1].Shadow(models.GranularityDay).BucketStart)
		return nil
	})
	require.NoError(t, err)
}

func testEdges(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := mustCreate(t, s, "a", "b", "c")
	a, b, c := ss[0].ID, ss[1].ID, ss[2].ID

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.ReplaceEdges(c, []int64{b, a, b}); err != nil {
			return err
		}
		return tx.ReplaceEdges(b, []int64{a})
	})
	require.NoError(t, err)

	err = s.View(ctx, func(r store.Reader) error {
		src, err := r.SourcesOf(c)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{a, b}, src)

		deps, err := r.DependentsOf(a)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{b, c}, deps)

		edges, err := r.ListEdges()
		require.NoError(t, err)
		assert.Len(t, edges, 3)
		return nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.ReplaceEdges(c, nil)
	})
	require.NoError(t, err)

	err = s.View(ctx, func(r store.Reader) error {
		src, err := r.SourcesOf(c)
		require.NoError(t, err)
		assert.Empty(t, src)
		deps, err := r.DependentsOf(a)
		require.NoError(t, err)
		assert.Equal(t, []int64{b}, deps)
		return nil
	})
	require.NoError(t, err)
}

func testDeleteSeriesCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := mustCreate(t, s, "a", "b")
	a, b := ss[0].ID, ss[1].ID
	d := point(a, 100, 1)
	mustInsert(t, s, d)

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return tx.ReplaceEdges(b, []int64{a})
	}))
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return tx.DeleteSeries(a)
	}))

	err := s.View(ctx, func(r store.Reader) error {
		_, err := r.GetSeries(a)
		assert.True(t, errors.Is(err, models.ErrNotFound))
		_, err = r.GetDatapoint(d.ID)
		assert.True(t, errors.Is(err, models.ErrNotFound))

		src, err := r.SourcesOf(b)
		require.NoError(t, err)
		assert.Empty(t, src)

		edges, err := r.ListEdges()
		require.NoError(t, err)
		assert.Empty(t, edges)
		return nil
	})
	require.NoError(t, err)

	// the name is free again
	mustCreate(t, s, "a")
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	ser := mustCreate(t, s, "steps")[0]
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertDatapoint(point(ser.ID, 100, 1)); err != nil {
			return err
		}
		if err := tx.PutSeries(newSeries("other")); err != nil {
			return err
		}
		// writes are visible inside the transaction
		rows, err := tx.QueryRecent(ser.ID, 0, models.GranularityRaw)
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			return errors.New("own write not visible")
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(r store.Reader) error {
		rows, err := r.QueryRecent(ser.ID, 0, models.GranularityRaw)
		require.NoError(t, err)
		assert.Empty(t, rows)
		_, err = r.GetSeriesByName("other")
		assert.True(t, errors.Is(err, models.ErrNotFound))
		return nil
	})
	require.NoError(t, err)
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.View(ctx, func(r store.Reader) error {
		_, err := r.GetSeries(999)
		assert.True(t, errors.Is(err, models.ErrNotFound))
		_, err = r.GetDatapoint(999)
		assert.True(t, errors.Is(err, models.ErrNotFound))
		return nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertDatapoint(point(999, 1, 1))
	})
	assert.True(t, errors.Is(err, models.ErrNotFound), "got %v", err)

	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.DeleteDatapoint(999)
	})
	assert.True(t, errors.Is(err, models.ErrNotFound), "got %v", err)
}
