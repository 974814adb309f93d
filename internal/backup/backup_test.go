package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelog/lifelog/internal/engine"
	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
)

var day0 = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC).Unix()

func newEngine() *engine.Engine {
	return engine.New(store.NewMemory(), engine.Options{Logger: logging.NewNop()})
}

func seed(t *testing.T, e *engine.Engine) {
	t.Helper()
	ctx := context.Background()

	a, err := e.CreateSeries(ctx, &models.Series{Name: "coffee", Method: models.MethodSum, Alpha: 0.3, History: 4})
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		_, err := e.InsertDatapoint(ctx, a.ID, day0+int64(i)*50000, 0, float64(i%4+1), 1)
		require.NoError(t, err)
	}

	r, err := e.CreateSeries(ctx, &models.Series{Name: "sleep", Kind: models.KindRange, Method: models.MethodAverage, Alpha: 0.5, History: 7})
	require.NoError(t, err)
	_, err = e.InsertDatapoint(ctx, r.ID, day0, day0+7*3600, 7*3600, 1)
	require.NoError(t, err)
	_, err = e.RecordEventStart(ctx, r.ID, day0+daySeconds)
	require.NoError(t, err)

	_, err = e.CreateSeries(ctx, &models.Series{Name: "double", Kind: models.KindSynthetic, Formula: `series "coffee" * 2`, Alpha: 0.5, History: 7})
	require.NoError(t, err)
	_, err = e.CreateSeries(ctx, &models.Series{Name: "triple", Kind: models.KindSynthetic, Formula: `series "double" + series "coffee"`, Alpha: 0.5, History: 7})
	require.NoError(t, err)
}

const daySeconds = 86400

func rowsByName(t *testing.T, e *engine.Engine, name string) []*models.Datapoint {
	t.Helper()
	ctx := context.Background()
	s, err := e.GetSeriesByName(ctx, name)
	require.NoError(t, err)
	rows, err := e.QueryRange(ctx, s.ID, store.MinTime, store.MaxTime, models.GranularityRaw)
	require.NoError(t, err)
	return rows
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newEngine()
	seed(t, src)

	var buf bytes.Buffer
	sum, err := Export(ctx, src, &buf)
	require.NoError(t, err)
	assert.Equal(t, Summary{Series: 4, Datapoints: 14}, sum)

	dst := newEngine()
	// shift ids so they differ from the source
	_, err = dst.CreateSeries(ctx, models.NewSeries("placeholder"))
	require.NoError(t, err)

	sum, err = Import(ctx, dst, &buf, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Summary{Series: 4, Datapoints: 14}, sum)

	for _, name := range []string{"coffee", "sleep", "double", "triple"} {
		want, got := rowsByName(t, src, name), rowsByName(t, dst, name)
		require.Len(t, got, len(want), name)
		for i := range want {
			assert.Equal(t, want[i].TsStart, got[i].TsStart, name)
			assert.Equal(t, want[i].TsEnd, got[i].TsEnd, name)
			assert.Equal(t, want[i].Value, got[i].Value, name)
			for _, g := range models.Granularities {
				assert.InDelta(t, want[i].Shadow(g).Trend, got[i].Shadow(g).Trend, 1e-9, "%s %s", name, g)
				assert.InDelta(t, want[i].Shadow(g).StdDev, got[i].Shadow(g).StdDev, 1e-9, "%s %s", name, g)
			}
		}
	}

	wantSeries, err := src.GetSeriesByName(ctx, "coffee")
	require.NoError(t, err)
	gotSeries, err := dst.GetSeriesByName(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, wantSeries.Alpha, gotSeries.Alpha)
	assert.Equal(t, wantSeries.History, gotSeries.History)
	assert.NotEqual(t, wantSeries.ID, gotSeries.ID)

	sleep, err := dst.GetSeriesByName(ctx, "sleep")
	require.NoError(t, err)
	require.True(t, sleep.IsRecording())
	open, err := dst.GetDatapoint(ctx, sleep.RecordingID)
	require.NoError(t, err)
	assert.Equal(t, day0+daySeconds, open.TsStart)

	triple, err := dst.GetSeriesByName(ctx, "triple")
	require.NoError(t, err)
	sources, err := dst.Sources(ctx, triple.ID)
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}

func TestImport_DuplicateName(t *testing.T) {
	ctx := context.Background()
	src := newEngine()
	seed(t, src)

	var buf bytes.Buffer
	_, err := Export(ctx, src, &buf)
	require.NoError(t, err)

	_, err = Import(ctx, src, &buf, logging.NewNop())
	assert.Error(t, err)
}

func encode(t *testing.T, records ...interface{}) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := snappy.NewBufferedWriter(&buf)
	enc := json.NewEncoder(w)
	for _, r := range records {
		require.NoError(t, enc.Encode(r))
	}
	require.NoError(t, w.Close())
	return &buf
}

func TestImport_Malformed(t *testing.T) {
	ctx := context.Background()
	header := Record{Kind: KindHeader, Header: &Header{Format: Format, Version: Version}}

	tests := []struct {
		name string
		in   *bytes.Buffer
	}{
		{"not snappy", bytes.NewBufferString("plain text")},
		{"empty", encode(t)},
		{"missing header", encode(t, Record{Kind: KindSeries, Series: &models.Series{Name: "x"}})},
		{"wrong format", encode(t, Record{Kind: KindHeader, Header: &Header{Format: "other"}})},
		{"newer version", encode(t, Record{Kind: KindHeader, Header: &Header{Format: Format, Version: Version + 1}})},
		{"unknown kind", encode(t, header, Record{Kind: "mystery"})},
		{"orphan datapoint", encode(t, header, Record{Kind: KindDatapoint, Datapoint: &Point{SeriesID: 9, TsStart: 1}})},
		{"missing source", encode(t, header, Record{Kind: KindSeries, Series: &models.Series{
			ID: 1, Name: "s", Kind: models.KindSynthetic, Formula: `series "nowhere"`,
		}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import(ctx, newEngine(), tt.in, logging.NewNop())
			assert.Error(t, err)
		})
	}
}
