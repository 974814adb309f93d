package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
	"github.com/lifelog/lifelog/internal/store/sqlstore"
	"github.com/lifelog/lifelog/internal/store/storetest"
)

func openSQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), store.BackendSQLite, filepath.Join(t.TempDir(), "lifelog.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	return s
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openSQLite(t)
	})
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	defer func() { _ = s.Close() }()

	version, err := sqlstore.Migrate(s.DB(), store.BackendSQLite, -1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestSQLite_MigrateDown(t *testing.T) {
	s := openSQLite(t)
	defer func() { _ = s.Close() }()

	_, err := sqlstore.Migrate(s.DB(), store.BackendSQLite, 0)
	require.NoError(t, err)

	err = s.View(context.Background(), func(r store.Reader) error {
		_, err := r.ListSeries()
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreFailure)
}

func TestSQLite_ShadowsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	defer func() { _ = s.Close() }()

	ser := &models.Series{Name: "sleep", Kind: models.KindRange, Zerofill: true, Period: 86400}
	ser.ApplyDefaults()
	dp := &models.Datapoint{TsStart: 100, TsEnd: 200, Value: 1.5, Entries: 2}
	for i, g := range models.Granularities {
		dp.SetShadow(g, models.Shadow{
			BucketStart: int64(i), BucketEnd: int64(i + 10), Value: float64(i) + 0.25, Entries: int64(i + 1),
			Trend: 0.5, StdDev: 0.1, SumValue: 3, SumEntries: 4, SumValueSqr: 5,
		})
	}

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		if err := tx.PutSeries(ser); err != nil {
			return err
		}
		dp.SeriesID = ser.ID
		return tx.InsertDatapoint(dp)
	}))

	require.NoError(t, s.View(ctx, func(r store.Reader) error {
		got, err := r.GetDatapoint(dp.ID)
		require.NoError(t, err)
		assert.Equal(t, dp, got)

		gotSeries, err := r.GetSeries(ser.ID)
		require.NoError(t, err)
		assert.True(t, gotSeries.Zerofill)
		assert.Equal(t, models.KindRange, gotSeries.Kind)
		return nil
	}))
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), "oracle", "")
	require.Error(t, err)
}
