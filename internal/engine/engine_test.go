package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelog/lifelog/internal/calendar"
	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
)

const daySec = int64(calendar.Day)

// Monday 2024-03-04 00:00 UTC
var day0 = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC).Unix()

type recorder struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (r *recorder) Notify(_ context.Context, events []models.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recorder) types() []models.ChangeType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ChangeType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func newTestEngine(t *testing.T, s store.Store) (*Engine, *recorder) {
	t.Helper()
	if s == nil {
		s = store.NewMemory()
	}
	rec := &recorder{}
	e := New(s, Options{
		Calendar: calendar.New(),
		Notifier: rec,
		Logger:   logging.NewNop(),
	})
	return e, rec
}

// withDefaults fills the smoothing and history window a test leaves out
func withDefaults(s models.Series) *models.Series {
	if s.Alpha == 0 {
		s.Alpha = models.DefaultAlpha
	}
	if s.History == 0 {
		s.History = models.DefaultHistory
	}
	return &s
}

func createSeries(t *testing.T, e *Engine, s models.Series) *models.Series {
	t.Helper()
	created, err := e.CreateSeries(context.Background(), withDefaults(s))
	require.NoError(t, err)
	return created
}

func allRows(t *testing.T, e *Engine, id int64, g models.Granularity) []*models.Datapoint {
	t.Helper()
	out, err := e.QueryRange(context.Background(), id, store.MinTime, store.MaxTime, g)
	require.NoError(t, err)
	return out
}

// assertSameAggregates compares rows of two series ignoring ids
func assertSameAggregates(t *testing.T, want, got []*models.Datapoint) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].TsStart, got[i].TsStart, "row %d", i)
		assert.Equal(t, want[i].Value, got[i].Value, "row %d", i)
		for _, g := range models.Granularities {
			w, a := want[i].Shadow(g), got[i].Shadow(g)
			assert.Equal(t, w.BucketStart, a.BucketStart, "row %d %s", i, g)
			assert.Equal(t, w.BucketEnd, a.BucketEnd, "row %d %s", i, g)
			assert.Equal(t, w.Entries, a.Entries, "row %d %s", i, g)
			assert.InDelta(t, w.Value, a.Value, 1e-9, "row %d %s", i, g)
			assert.InDelta(t, w.Trend, a.Trend, 1e-9, "row %d %s", i, g)
			assert.InDelta(t, w.StdDev, a.StdDev, 1e-9, "row %d %s", i, g)
			assert.InDelta(t, w.SumValue, a.SumValue, 1e-9, "row %d %s", i, g)
			assert.InDelta(t, w.SumEntries, a.SumEntries, 1e-9, "row %d %s", i, g)
			assert.InDelta(t, w.SumValueSqr, a.SumValueSqr, 1e-6, "row %d %s", i, g)
		}
	}
}

func TestInsert_TrendPerGranularity(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	s := createSeries(t, e, models.Series{Name: "steps", Alpha: 0.25, History: 3})

	// one point per day, so raw and day sequences are identical
	values := []float64{8, 2, 6, 6, 10}
	for i, v := range values {
		_, err := e.InsertDatapoint(ctx, s.ID, day0+int64(i)*daySec+3600, 0, v, 1)
		require.NoError(t, err)
	}

	raw := allRows(t, e, s.ID, models.GranularityRaw)
	days := allRows(t, e, s.ID, models.GranularityDay)
	require.Len(t, raw, len(values))
	require.Len(t, days, len(values))

	want := values[0]
	for i, v := range values {
		if i > 0 {
			want += 0.25 * (v - want)
		}
		assert.InDelta(t, want, raw[i].Shadow(models.GranularityRaw).Trend, 1e-12)
		assert.InDelta(t, want, days[i].Shadow(models.GranularityDay).Trend, 1e-12)
		assert.Equal(t, day0+int64(i)*daySec, days[i].Shadow(models.GranularityDay).BucketStart)
	}

	// every point falls into the same week, month, quarter and year bucket
	for _, g := range []models.Granularity{models.GranularityWeek, models.GranularityMonth, models.GranularityQuarter, models.GranularityYear} {
		buckets := allRows(t, e, s.ID, g)
		require.Len(t, buckets, 1, "granularity %s", g)
		sh := buckets[0].Shadow(g)
		assert.Equal(t, 32.0, sh.Value)
		assert.Equal(t, int64(5), sh.Entries)
		assert.Equal(t, 32.0, sh.Trend)
		assert.Equal(t, 0.0, sh.StdDev)
	}
}

func TestInsert_BucketValues(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	avg := createSeries(t, e, models.Series{Name: "mood", Method: models.MethodAverage})
	sum := createSeries(t, e, models.Series{Name: "coffee", Method: models.MethodSum})

	for _, id := range []int64{avg.ID, sum.ID} {
		for i, v := range []float64{2, 4, 9} {
			_, err := e.InsertDatapoint(ctx, id, day0+int64(i+1)*3600, 0, v, 1)
			require.NoError(t, err)
		}
		_, err := e.InsertDatapoint(ctx, id, day0+daySec+60, 0, 5, 1)
		require.NoError(t, err)
	}

	days := allRows(t, e, avg.ID, models.GranularityDay)
	require.Len(t, days, 2)
	assert.Equal(t, 5.0, days[0].Shadow(models.GranularityDay).Value)
	assert.Equal(t, int64(3), days[0].Shadow(models.GranularityDay).Entries)
	assert.Equal(t, 5.0, days[1].Shadow(models.GranularityDay).Trend)

	days = allRows(t, e, sum.ID, models.GranularityDay)
	require.Len(t, days, 2)
	assert.Equal(t, 15.0, days[0].Shadow(models.GranularityDay).Value)
	assert.Equal(t, 10.0, days[1].Shadow(models.GranularityDay).Trend)
	assert.InDelta(t, 5.0, days[1].Shadow(models.GranularityDay).StdDev, 1e-9)

	// all rows of a bucket carry the same projection
	raw := allRows(t, e, sum.ID, models.GranularityRaw)
	require.Len(t, raw, 4)
	assert.Equal(t, raw[0].Shadow(models.GranularityDay), raw[1].Shadow(models.GranularityDay))
	assert.Equal(t, raw[0].Shadow(models.GranularityDay), raw[2].Shadow(models.GranularityDay))
	assert.Equal(t, raw[0].Shadow(models.GranularityWeek), raw[3].Shadow(models.GranularityWeek))
}

func TestInsert_AverageWithEntries(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	s := createSeries(t, e, models.Series{Name: "pace", Method: models.MethodAverage})

	d, err := e.InsertDatapoint(ctx, s.ID, day0, 0, 12, 4)
	require.NoError(t, err)
	assert.Equal(t, 3.0, d.Shadow(models.GranularityRaw).Value)
	assert.Equal(t, int64(4), d.Shadow(models.GranularityRaw).Entries)
}

// sample spans several days, weeks and a month boundary
func sample() (ts []int64, values []float64) {
	base := time.Date(2024, time.February, 20, 6, 0, 0, 0, time.UTC).Unix()
	for i := 0; i < 40; i++ {
		ts = append(ts, base+int64(i)*50000)
		values = append(values, float64((i*7)%11)+0.5)
	}
	return ts, values
}

func TestInsert_OutOfOrderMatchesInOrder(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	inOrder := createSeries(t, e, models.Series{Name: "in-order", Alpha: 0.4, History: 5})
	shuffled := createSeries(t, e, models.Series{Name: "shuffled", Alpha: 0.4, History: 5})

	ts, values := sample()
	for i := range ts {
		_, err := e.InsertDatapoint(ctx, inOrder.ID, ts[i], 0, values[i], 1)
		require.NoError(t, err)
	}
	perm := rand.New(rand.NewSource(3)).Perm(len(ts))
	for _, i := range perm {
		_, err := e.InsertDatapoint(ctx, shuffled.ID, ts[i], 0, values[i], 1)
		require.NoError(t, err)
	}

	for _, g := range models.Granularities {
		assertSameAggregates(t, allRows(t, e, inOrder.ID, g), allRows(t, e, shuffled.ID, g))
	}
}

func TestInsertBatch_MatchesSingleInserts(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	single := createSeries(t, e, models.Series{Name: "single", History: 4})
	batch := createSeries(t, e, models.Series{Name: "batch", History: 4})

	ts, values := sample()
	points := make([]*models.Datapoint, len(ts))
	for i := range ts {
		_, err := e.InsertDatapoint(ctx, single.ID, ts[i], 0, values[i], 1)
		require.NoError(t, err)
		points[len(ts)-1-i] = &models.Datapoint{TsStart: ts[i], Value: values[i]}
	}
	ids, err := e.InsertBatch(ctx, batch.ID, points)
	require.NoError(t, err)
	assert.Len(t, ids, len(ts))

	for _, g := range models.Granularities {
		assertSameAggregates(t, allRows(t, e, single.ID, g), allRows(t, e, batch.ID, g))
	}
}

func TestUpdateDelete_MatchRebuild(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	edited := createSeries(t, e, models.Series{Name: "edited", Alpha: 0.3, History: 4, Method: models.MethodAverage})
	fresh := createSeries(t, e, models.Series{Name: "fresh", Alpha: 0.3, History: 4, Method: models.MethodAverage})

	ts, values := sample()
	ids := make([]int64, len(ts))
	for i := range ts {
		d, err := e.InsertDatapoint(ctx, edited.ID, ts[i], 0, values[i], 1)
		require.NoError(t, err)
		ids[i] = d.ID
	}

	// move point 5 forward past several others and change its value
	movedTs := ts[12] + 100
	newValue := 42.0
	_, err := e.UpdateDatapoint(ctx, ids[5], models.DatapointUpdate{TsStart: &movedTs, Value: &newValue})
	require.NoError(t, err)
	// and drop two points
	require.NoError(t, e.DeleteDatapoint(ctx, ids[20]))
	require.NoError(t, e.DeleteDatapoint(ctx, ids[0]))

	for i := range ts {
		switch i {
		case 0, 20:
			continue
		case 5:
			_, err = e.InsertDatapoint(ctx, fresh.ID, movedTs, 0, newValue, 1)
		default:
			_, err = e.InsertDatapoint(ctx, fresh.ID, ts[i], 0, values[i], 1)
		}
		require.NoError(t, err)
	}

	for _, g := range models.Granularities {
		assertSameAggregates(t, allRows(t, e, fresh.ID, g), allRows(t, e, edited.ID, g))
	}
}

func TestCascade(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t, nil)
	a := createSeries(t, e, models.Series{Name: "A"})
	b := createSeries(t, e, models.Series{Name: "B", Kind: models.KindSynthetic, Formula: `series "A" * 2`})
	rec.reset()

	_, err := e.InsertDatapoint(ctx, a.ID, 100, 100, 5, 1)
	require.NoError(t, err)

	got, err := e.QueryRecent(ctx, b.ID, 10, models.GranularityRaw)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].TsStart)
	assert.Equal(t, 10.0, got[0].Value)
	assert.Equal(t, 10.0, got[0].Shadow(models.GranularityRaw).Trend)
	assert.Equal(t, 0.0, got[0].Shadow(models.GranularityRaw).StdDev)

	assert.Equal(t, []models.ChangeType{models.ChangeDatapointCreated, models.ChangeRecomputed}, rec.types())

	_, err = e.InsertDatapoint(ctx, a.ID, 200, 200, 7, 1)
	require.NoError(t, err)
	got = allRows(t, e, b.ID, models.GranularityRaw)
	require.Len(t, got, 2)
	assert.Equal(t, 14.0, got[1].Value)
	assert.Equal(t, 12.0, got[1].Shadow(models.GranularityRaw).Trend)
	assert.Equal(t, 2.0, got[1].Shadow(models.GranularityRaw).StdDev)
}

func TestCascade_Chain(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	a := createSeries(t, e, models.Series{Name: "A"})
	_, err := e.InsertDatapoint(ctx, a.ID, day0, 0, 3, 1)
	require.NoError(t, err)

	// created after A has data, so its points exist right away
	b := createSeries(t, e, models.Series{Name: "B", Kind: models.KindSynthetic, Formula: `series "A" + 1`})
	c := createSeries(t, e, models.Series{Name: "C", Kind: models.KindSynthetic, Formula: `series "B" * series "A"`})

	assert.Equal(t, 4.0, allRows(t, e, b.ID, models.GranularityRaw)[0].Value)
	assert.Equal(t, 12.0, allRows(t, e, c.ID, models.GranularityRaw)[0].Value)

	first := allRows(t, e, a.ID, models.GranularityRaw)[0]
	v := 5.0
	_, err = e.UpdateDatapoint(ctx, first.ID, models.DatapointUpdate{Value: &v})
	require.NoError(t, err)
	assert.Equal(t, 6.0, allRows(t, e, b.ID, models.GranularityRaw)[0].Value)
	assert.Equal(t, 30.0, allRows(t, e, c.ID, models.GranularityRaw)[0].Value)

	require.NoError(t, e.DeleteDatapoint(ctx, first.ID))
	assert.Empty(t, allRows(t, e, b.ID, models.GranularityRaw))
	assert.Empty(t, allRows(t, e, c.ID, models.GranularityRaw))
}

func TestCascade_DeltaFormula(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	a := createSeries(t, e, models.Series{Name: "weight"})
	d := createSeries(t, e, models.Series{Name: "gain", Kind: models.KindSynthetic, Formula: `series "weight" delta value`})

	for i, v := range []float64{70, 71.5, 71} {
		_, err := e.InsertDatapoint(ctx, a.ID, day0+int64(i)*daySec, 0, v, 1)
		require.NoError(t, err)
	}
	got := allRows(t, e, d.ID, models.GranularityRaw)
	require.Len(t, got, 2)
	assert.InDelta(t, 1.5, got[0].Value, 1e-12)
	assert.InDelta(t, -0.5, got[1].Value, 1e-12)
}

func TestCreateSeries_SelfDependency(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t, nil)

	_, err := e.CreateSeries(ctx, withDefaults(models.Series{Name: "S", Kind: models.KindSynthetic, Formula: `series "S" + 1`}))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSelfDependency)

	list, err := e.ListSeries(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, rec.types())
}

func TestCreateSeries_RejectsZeroAlphaAndHistory(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t, nil)

	tests := []struct {
		name string
		s    models.Series
	}{
		{"both zero", models.Series{Name: "z"}},
		{"zero alpha", models.Series{Name: "z", History: 7}},
		{"zero history", models.Series{Name: "z", Alpha: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CreateSeries(ctx, &tt.s)
			assert.ErrorIs(t, err, models.ErrInvalidArgument)
		})
	}

	list, err := e.ListSeries(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, rec.types())

	created, err := e.CreateSeries(ctx, models.NewSeries("z"))
	require.NoError(t, err)
	assert.Equal(t, models.DefaultAlpha, created.Alpha)
	assert.Equal(t, models.DefaultHistory, created.History)
}

func TestUpdateSeries_Cycle(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	createSeries(t, e, models.Series{Name: "A"})
	b := createSeries(t, e, models.Series{Name: "B", Kind: models.KindSynthetic, Formula: `series "A" * 2`})
	createSeries(t, e, models.Series{Name: "C", Kind: models.KindSynthetic, Formula: `series "B" + 1`})

	f := `series "C" - 1`
	_, err := e.UpdateSeries(ctx, b.ID, models.SeriesUpdate{Formula: &f})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDependencyCycle)

	got, err := e.GetSeries(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, `series "A" * 2`, got.Formula)
}

func TestUpdateSeries_RenameRewritesFormulas(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	a := createSeries(t, e, models.Series{Name: "A"})
	b := createSeries(t, e, models.Series{Name: "B", Kind: models.KindSynthetic, Formula: `series "A" * 2`})

	name := "Alpha"
	_, err := e.UpdateSeries(ctx, a.ID, models.SeriesUpdate{Name: &name})
	require.NoError(t, err)

	got, err := e.GetSeries(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, `series "Alpha" * 2`, got.Formula)

	_, err = e.InsertDatapoint(ctx, a.ID, day0, 0, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 4.0, allRows(t, e, b.ID, models.GranularityRaw)[0].Value)
}

func TestUpdateSeries_AlphaRebuilds(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	s := createSeries(t, e, models.Series{Name: "A", Alpha: 0.5})
	for i, v := range []float64{0, 10} {
		_, err := e.InsertDatapoint(ctx, s.ID, day0+int64(i)*daySec, 0, v, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 5.0, allRows(t, e, s.ID, models.GranularityRaw)[1].Shadow(models.GranularityRaw).Trend)

	alpha := 0.1
	_, err := e.UpdateSeries(ctx, s.ID, models.SeriesUpdate{Alpha: &alpha})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, allRows(t, e, s.ID, models.GranularityRaw)[1].Shadow(models.GranularityRaw).Trend, 1e-12)
}

func TestDeleteSeries_ReevaluatesDependents(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t, nil)
	a := createSeries(t, e, models.Series{Name: "A"})
	other := createSeries(t, e, models.Series{Name: "Other"})
	b := createSeries(t, e, models.Series{Name: "B", Kind: models.KindSynthetic, Formula: `series "A" + series "Other"`})

	_, err := e.InsertDatapoint(ctx, a.ID, day0, 0, 1, 1)
	require.NoError(t, err)
	_, err = e.InsertDatapoint(ctx, other.ID, day0, 0, 2, 1)
	require.NoError(t, err)
	require.Len(t, allRows(t, e, b.ID, models.GranularityRaw), 1)
	rec.reset()

	require.NoError(t, e.DeleteSeries(ctx, a.ID))
	_, err = e.GetSeries(ctx, a.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, allRows(t, e, b.ID, models.GranularityRaw))
	assert.Contains(t, rec.types(), models.ChangeSeriesDeleted)

	sources, err := e.Sources(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{other.ID}, sources)
}

func TestSyntheticSeriesRejectWrites(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	createSeries(t, e, models.Series{Name: "A"})
	b := createSeries(t, e, models.Series{Name: "B", Kind: models.KindSynthetic, Formula: `series "A"`})

	_, err := e.InsertDatapoint(ctx, b.ID, day0, 0, 1, 1)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestRecording(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	r := createSeries(t, e, models.Series{Name: "sleep", Kind: models.KindRange})
	disc := createSeries(t, e, models.Series{Name: "coffee"})

	_, err := e.RecordEvent(ctx, r.ID, day0, 1)
	assert.ErrorIs(t, err, models.ErrInvalidArgument, "range series take start/stop")
	_, err = e.RecordEventStart(ctx, disc.ID, day0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument, "discrete series cannot record")
	_, err = e.RecordEventStop(ctx, r.ID, day0, nil)
	assert.ErrorIs(t, err, models.ErrInvalidArgument, "stop while idle")

	open, err := e.RecordEventStart(ctx, r.ID, day0+1000)
	require.NoError(t, err)
	assert.True(t, open.Open)

	s, err := e.GetSeries(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, open.ID, s.RecordingID)

	_, err = e.RecordEventStart(ctx, r.ID, day0+2000)
	assert.ErrorIs(t, err, models.ErrInvalidArgument, "already recording")

	// open markers are not aggregated
	assert.Empty(t, allRows(t, e, r.ID, models.GranularityRaw))

	_, err = e.RecordEventStop(ctx, r.ID, day0+500, nil)
	assert.ErrorIs(t, err, models.ErrInvalidArgument, "stop before start")

	closed, err := e.RecordEventStop(ctx, r.ID, day0+4600, nil)
	require.NoError(t, err)
	assert.False(t, closed.Open)
	assert.Equal(t, 3600.0, closed.Value)
	assert.Equal(t, day0+4600, closed.TsEnd)

	s, err = e.GetSeries(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, s.IsRecording())
	assert.Len(t, allRows(t, e, r.ID, models.GranularityRaw), 1)

	v := 7.0
	_, err = e.RecordEventStart(ctx, r.ID, day0+daySec)
	require.NoError(t, err)
	closed, err = e.RecordEventStop(ctx, r.ID, day0+daySec+60, &v)
	require.NoError(t, err)
	assert.Equal(t, 7.0, closed.Value)

	ev, err := e.RecordEvent(ctx, disc.ID, day0, 2)
	require.NoError(t, err)
	assert.Equal(t, ev.TsStart, ev.TsEnd)
}

func TestDeleteOpenDatapointCancelsRecording(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	r := createSeries(t, e, models.Series{Name: "work", Kind: models.KindRange})

	open, err := e.RecordEventStart(ctx, r.ID, day0)
	require.NoError(t, err)
	require.NoError(t, e.DeleteDatapoint(ctx, open.ID))

	s, err := e.GetSeries(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, s.IsRecording())
	_, err = e.RecordEventStart(ctx, r.ID, day0+10)
	assert.NoError(t, err)
}

// failingStore fails the n-th UpdateDatapoint of every transaction
type failingStore struct {
	store.Store
	failOn int
}

func (f *failingStore) Update(ctx context.Context, fn func(store.Tx) error) error {
	return f.Store.Update(ctx, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, remaining: f.failOn})
	})
}

type failingTx struct {
	store.Tx
	remaining int
}

func (t *failingTx) UpdateDatapoint(d *models.Datapoint) error {
	t.remaining--
	if t.remaining == 0 {
		return errors.New("disk full")
	}
	return t.Tx.UpdateDatapoint(d)
}

func TestMutationRollsBackAllGranularities(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: store.NewMemory()}
	e, rec := newTestEngine(t, fs)
	a := createSeries(t, e, models.Series{Name: "A"})
	b := createSeries(t, e, models.Series{Name: "B", Kind: models.KindSynthetic, Formula: `series "A" * 2`})

	for i := 0; i < 3; i++ {
		_, err := e.InsertDatapoint(ctx, a.ID, day0+int64(i)*daySec*2, 0, float64(i+1), 1)
		require.NoError(t, err)
	}
	beforeA := allRows(t, e, a.ID, models.GranularityRaw)
	beforeB := allRows(t, e, b.ID, models.GranularityRaw)
	rec.reset()

	// A rewrites its four rows, the failure hits B's refresh
	fs.failOn = 6
	_, err := e.InsertDatapoint(ctx, a.ID, day0+daySec, 0, 10, 1)
	require.Error(t, err)

	assert.Equal(t, beforeA, allRows(t, e, a.ID, models.GranularityRaw))
	assert.Equal(t, beforeB, allRows(t, e, b.ID, models.GranularityRaw))
	assert.Empty(t, rec.types(), "nothing is published for a failed mutation")
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), Options{Logger: logging.NewNop(), LockTimeout: 20 * time.Millisecond})
	s := createSeries(t, e, models.Series{Name: "A"})

	release, err := e.locks.acquire(ctx, []int64{s.ID}, 0)
	require.NoError(t, err)
	defer release()

	_, err = e.InsertDatapoint(ctx, s.ID, day0, 0, 1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreFailure)
}

func TestConcurrentWritersOnDistinctSeries(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)

	const seriesCount, points = 6, 15
	ids := make([]int64, seriesCount)
	for i := range ids {
		ids[i] = createSeries(t, e, models.Series{Name: fmt.Sprintf("s%d", i)}).ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, seriesCount*points)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for i := 0; i < points; i++ {
				if _, err := e.InsertDatapoint(ctx, id, day0+int64(i)*3600, 0, float64(i), 1); err != nil {
					errs <- err
				}
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	for _, id := range ids {
		rows := allRows(t, e, id, models.GranularityRaw)
		require.Len(t, rows, points)
		assert.Equal(t, float64(points), rows[points-1].Shadow(models.GranularityRaw).SumEntries)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	s := createSeries(t, e, models.Series{Name: "A", History: 3})
	ts, values := sample()
	for i := range ts {
		_, err := e.InsertDatapoint(ctx, s.ID, ts[i], 0, values[i], 1)
		require.NoError(t, err)
	}

	before := allRows(t, e, s.ID, models.GranularityRaw)
	require.NoError(t, e.Recompute(ctx, s.ID))
	assertSameAggregates(t, before, allRows(t, e, s.ID, models.GranularityRaw))

	assert.ErrorIs(t, e.Recompute(ctx, 999), models.ErrNotFound)
}

func TestQueryRecent(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, nil)
	s := createSeries(t, e, models.Series{Name: "A"})
	for i := 0; i < 5; i++ {
		_, err := e.InsertDatapoint(ctx, s.ID, day0+int64(i)*3600*10, 0, float64(i), 1)
		require.NoError(t, err)
	}

	recent, err := e.QueryRecent(ctx, s.ID, 2, models.GranularityRaw)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 4.0, recent[0].Value)
	assert.Equal(t, 3.0, recent[1].Value)

	// 0h, 10h, 20h on day 0; 30h, 40h on day 1
	days, err := e.QueryRecent(ctx, s.ID, 0, models.GranularityDay)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, 7.0, days[0].Shadow(models.GranularityDay).Value)
	assert.Equal(t, 3.0, days[1].Shadow(models.GranularityDay).Value)

	_, err = e.QueryRange(ctx, s.ID, 10, 5, models.GranularityRaw)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = e.QueryRecent(ctx, 999, 1, models.GranularityRaw)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
