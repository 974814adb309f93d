package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type sqlTx struct {
	ctx context.Context
	q   querier
	d   dialect
}

var _ store.Tx = &sqlTx{}

var datapointUpdateSet = assignments(datapointMutableColumns)

func assignments(columns string) string {
	parts := strings.Split(columns, ", ")
	for i, col := range parts {
		parts[i] = col + " = ?"
	}
	return strings.Join(parts, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func storeFailure(op string, err error) error {
	return models.StoreFailure(op, err)
}

func (t *sqlTx) exec(query string, args ...interface{}) (sql.Result, error) {
	return t.q.ExecContext(t.ctx, t.d.rebind(query), args...)
}

func (t *sqlTx) query(query string, args ...interface{}) (*sql.Rows, error) {
	return t.q.QueryContext(t.ctx, t.d.rebind(query), args...)
}

func (t *sqlTx) queryRow(query string, args ...interface{}) *sql.Row {
	return t.q.QueryRowContext(t.ctx, t.d.rebind(query), args...)
}

// --- series ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSeries(row rowScanner) (*models.Series, error) {
	var s models.Series
	var zerofill int
	var created, updated int64
	err := row.Scan(&s.ID, &s.Name, &s.Kind, &s.Period, &s.Method, &s.Alpha, &s.Sensitivity,
		&s.History, &zerofill, &s.Formula, &s.RecordingID, &created, &updated)
	if err != nil {
		return nil, err
	}
	s.Zerofill = zerofill != 0
	s.CreatedAt = time.UnixMicro(created).UTC()
	s.UpdatedAt = time.UnixMicro(updated).UTC()
	return &s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (t *sqlTx) GetSeries(id int64) (*models.Series, error) {
	s, err := scanSeries(t.queryRow("SELECT "+seriesColumns+" FROM "+tableSeries+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.SeriesNotFound(id)
	}
	if err != nil {
		return nil, storeFailure("get series", err)
	}
	return s, nil
}

func (t *sqlTx) GetSeriesByName(name string) (*models.Series, error) {
	s, err := scanSeries(t.queryRow("SELECT "+seriesColumns+" FROM "+tableSeries+" WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundf("series %q not found", name)
	}
	if err != nil {
		return nil, storeFailure("get series", err)
	}
	return s, nil
}

func (t *sqlTx) ListSeries() ([]*models.Series, error) {
	rows, err := t.query("SELECT " + seriesColumns + " FROM " + tableSeries + " ORDER BY id")
	if err != nil {
		return nil, storeFailure("list series", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, storeFailure("scan series", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure("list series", err)
	}
	return out, nil
}

func (t *sqlTx) PutSeries(s *models.Series) error {
	var existing int64
	err := t.queryRow("SELECT id FROM "+tableSeries+" WHERE name = ?", s.Name).Scan(&existing)
	switch {
	case err == nil && existing != s.ID:
		return store.DuplicateName(s.Name)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return storeFailure("check series name", err)
	}

	args := []interface{}{s.Name, string(s.Kind), s.Period, string(s.Method), s.Alpha, s.Sensitivity,
		s.History, boolInt(s.Zerofill), s.Formula, s.RecordingID, s.CreatedAt.UnixMicro(), s.UpdatedAt.UnixMicro()}

	if s.ID == 0 {
		q := "INSERT INTO " + tableSeries + " (name, kind, period, method, alpha, sensitivity, history, " +
			"zerofill, formula, recording_id, created_at, updated_at) VALUES (" + placeholders(len(args)) + ") RETURNING id"
		if err := t.queryRow(q, args...).Scan(&s.ID); err != nil {
			return t.constraintError(s.Name, "insert series", err)
		}
		return nil
	}

	q := "UPDATE " + tableSeries + " SET name = ?, kind = ?, period = ?, method = ?, alpha = ?, sensitivity = ?, " +
		"history = ?, zerofill = ?, formula = ?, recording_id = ?, created_at = ?, updated_at = ? WHERE id = ?"
	res, err := t.exec(q, append(args, s.ID)...)
	if err != nil {
		return t.constraintError(s.Name, "update series", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.SeriesNotFound(s.ID)
	}
	return nil
}

// constraintError maps a unique violation on the series name
func (t *sqlTx) constraintError(name, op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.DuplicateName(name)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.DuplicateName(name)
	}
	return storeFailure(op, err)
}

func (t *sqlTx) DeleteSeries(id int64) error {
	if _, err := t.exec("DELETE FROM "+tableDependencies+" WHERE result_id = ? OR source_id = ?", id, id); err != nil {
		return storeFailure("delete edges", err)
	}
	if _, err := t.exec("DELETE FROM "+tableDatapoints+" WHERE series_id = ?", id); err != nil {
		return storeFailure("delete datapoints", err)
	}
	res, err := t.exec("DELETE FROM "+tableSeries+" WHERE id = ?", id)
	if err != nil {
		return storeFailure("delete series", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.SeriesNotFound(id)
	}
	return nil
}

func (t *sqlTx) seriesExists(id int64) (bool, error) {
	var one int
	err := t.queryRow("SELECT 1 FROM "+tableSeries+" WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeFailure("check series", err)
	}
	return true, nil
}

// --- datapoints ---

func scanDatapoint(row rowScanner) (*models.Datapoint, error) {
	var d models.Datapoint
	var open int
	shadows := make([]models.Shadow, len(models.Granularities))

	dest := make([]interface{}, 0, 7+len(shadows)*shadowFieldCount)
	dest = append(dest, &d.ID, &d.SeriesID, &d.TsStart, &d.TsEnd, &d.Value, &d.Entries, &open)
	for i := range shadows {
		sh := &shadows[i]
		dest = append(dest, &sh.BucketStart, &sh.BucketEnd, &sh.Value, &sh.Entries, &sh.Trend,
			&sh.StdDev, &sh.SumValue, &sh.SumEntries, &sh.SumValueSqr)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	d.Open = open != 0
	d.Shadows = make(map[models.Granularity]models.Shadow, len(shadows))
	for i, g := range models.Granularities {
		d.Shadows[g] = shadows[i]
	}
	return &d, nil
}

// datapointArgs returns values for datapointMutableColumns
func datapointArgs(d *models.Datapoint) []interface{} {
	args := make([]interface{}, 0, 6+len(models.Granularities)*shadowFieldCount)
	args = append(args, d.SeriesID, d.TsStart, d.TsEnd, d.Value, d.Entries, boolInt(d.Open))
	for _, g := range models.Granularities {
		sh := d.Shadows[g]
		args = append(args, sh.BucketStart, sh.BucketEnd, sh.Value, sh.Entries, sh.Trend,
			sh.StdDev, sh.SumValue, sh.SumEntries, sh.SumValueSqr)
	}
	return args
}

func (t *sqlTx) collect(rows *sql.Rows, err error) ([]*models.Datapoint, error) {
	if err != nil {
		return nil, storeFailure("query datapoints", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Datapoint
	for rows.Next() {
		d, err := scanDatapoint(rows)
		if err != nil {
			return nil, storeFailure("scan datapoint", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure("query datapoints", err)
	}
	return out, nil
}

func (t *sqlTx) GetDatapoint(id int64) (*models.Datapoint, error) {
	d, err := scanDatapoint(t.queryRow("SELECT "+datapointColumns+" FROM "+tableDatapoints+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.DatapointNotFound(id)
	}
	if err != nil {
		return nil, storeFailure("get datapoint", err)
	}
	return d, nil
}

// selectDatapoints builds a query over closed rows of one series matching
// where. For bucketed granularities only the newest row of each bucket is kept.
func selectDatapoints(g models.Granularity, where string, desc bool, count int) string {
	order := "ts_start, id"
	if desc {
		order = "ts_start DESC, id DESC"
	}
	filter := "series_id = ? AND is_open = 0 AND " + where

	var q string
	if g.IsRaw() {
		q = "SELECT " + datapointColumns + " FROM " + tableDatapoints + " WHERE " + filter + " ORDER BY " + order
	} else {
		q = "SELECT " + datapointColumns + " FROM (" +
			"SELECT " + datapointColumns + ", ROW_NUMBER() OVER (PARTITION BY " + string(g) + "_start " +
			"ORDER BY ts_start DESC, id DESC) AS rn FROM " + tableDatapoints + " WHERE " + filter +
			") projected WHERE rn = 1 ORDER BY " + order
	}
	if count > 0 {
		q += fmt.Sprintf(" LIMIT %d", count)
	}
	return q
}

func (t *sqlTx) QueryRecent(seriesID int64, count int, g models.Granularity) ([]*models.Datapoint, error) {
	return t.QueryBefore(seriesID, store.MaxTime, count, g)
}

func (t *sqlTx) QueryBefore(seriesID, before int64, count int, g models.Granularity) ([]*models.Datapoint, error) {
	if err := t.requireSeries(seriesID); err != nil {
		return nil, err
	}
	return t.collect(t.query(selectDatapoints(g, "ts_start < ?", true, count), seriesID, before))
}

func (t *sqlTx) QueryRange(seriesID, from, to int64, g models.Granularity) ([]*models.Datapoint, error) {
	if err := t.requireSeries(seriesID); err != nil {
		return nil, err
	}
	return t.collect(t.query(selectDatapoints(g, "ts_start >= ? AND ts_start <= ?", false, 0), seriesID, from, to))
}

func (t *sqlTx) requireSeries(id int64) error {
	ok, err := t.seriesExists(id)
	if err != nil {
		return err
	}
	if !ok {
		return store.SeriesNotFound(id)
	}
	return nil
}

func (t *sqlTx) InsertDatapoint(d *models.Datapoint) error {
	if err := t.requireSeries(d.SeriesID); err != nil {
		return err
	}
	args := datapointArgs(d)
	q := "INSERT INTO " + tableDatapoints + " (" + datapointMutableColumns + ") VALUES (" +
		placeholders(len(args)) + ") RETURNING id"
	if err := t.queryRow(q, args...).Scan(&d.ID); err != nil {
		return storeFailure("insert datapoint", err)
	}
	return nil
}

func (t *sqlTx) UpdateDatapoint(d *models.Datapoint) error {
	q := "UPDATE " + tableDatapoints + " SET " + datapointUpdateSet + " WHERE id = ? AND series_id = ?"
	res, err := t.exec(q, append(datapointArgs(d), d.ID, d.SeriesID)...)
	if err != nil {
		return storeFailure("update datapoint", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.DatapointNotFound(d.ID)
	}
	return nil
}

func (t *sqlTx) DeleteDatapoint(id int64) error {
	res, err := t.exec("DELETE FROM "+tableDatapoints+" WHERE id = ?", id)
	if err != nil {
		return storeFailure("delete datapoint", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.DatapointNotFound(id)
	}
	return nil
}

// --- dependency edges ---

func (t *sqlTx) ids(q string, arg int64) ([]int64, error) {
	rows, err := t.query(q, arg)
	if err != nil {
		return nil, storeFailure("query edges", err)
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storeFailure("scan edge", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure("query edges", err)
	}
	return out, nil
}

func (t *sqlTx) SourcesOf(resultID int64) ([]int64, error) {
	return t.ids("SELECT source_id FROM "+tableDependencies+" WHERE result_id = ? ORDER BY source_id", resultID)
}

func (t *sqlTx) DependentsOf(sourceID int64) ([]int64, error) {
	return t.ids("SELECT result_id FROM "+tableDependencies+" WHERE source_id = ? ORDER BY result_id", sourceID)
}

func (t *sqlTx) ListEdges() ([]models.Edge, error) {
	rows, err := t.query("SELECT result_id, source_id FROM " + tableDependencies + " ORDER BY result_id, source_id")
	if err != nil {
		return nil, storeFailure("list edges", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Edge
	for rows.Next() {
		var e models.Edge
		if err := rows.Scan(&e.ResultID, &e.SourceID); err != nil {
			return nil, storeFailure("scan edge", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure("list edges", err)
	}
	return out, nil
}

func (t *sqlTx) ReplaceEdges(resultID int64, sourceIDs []int64) error {
	if err := t.requireSeries(resultID); err != nil {
		return err
	}
	if _, err := t.exec("DELETE FROM "+tableDependencies+" WHERE result_id = ?", resultID); err != nil {
		return storeFailure("delete edges", err)
	}

	seen := make(map[int64]bool, len(sourceIDs))
	for _, src := range sourceIDs {
		if seen[src] {
			continue
		}
		seen[src] = true
		if err := t.requireSeries(src); err != nil {
			return err
		}
		if _, err := t.exec("INSERT INTO "+tableDependencies+" (result_id, source_id) VALUES (?, ?)", resultID, src); err != nil {
			return storeFailure("insert edge", err)
		}
	}
	return nil
}
