// Package backup writes and reads a portable copy of every series.
//
// A backup is a snappy framed stream of JSON lines: one header record, one
// record per series, then the datapoints of every non-synthetic series
// grouped by series. Synthetic datapoints and all aggregates are left out;
// import recomputes them.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/snappy"

	"github.com/lifelog/lifelog/internal/engine"
	"github.com/lifelog/lifelog/internal/formula"
	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
	"github.com/lifelog/lifelog/internal/utils"
)

// Format identifies the stream in the header
const (
	Format  = "lifelog-backup"
	Version = 1
)

// Record kinds
const (
	KindHeader    = "header"
	KindSeries    = "series"
	KindDatapoint = "datapoint"
)

// Header opens every backup
type Header struct {
	Format         string    `json:"format"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	Timezone       string    `json:"timezone"`
	FirstDayOfWeek string    `json:"first_day_of_week"`
}

// Point is an exported raw datapoint
type Point struct {
	SeriesID int64   `json:"series_id"`
	TsStart  int64   `json:"ts_start"`
	TsEnd    int64   `json:"ts_end"`
	Value    float64 `json:"value"`
	Entries  int64   `json:"entries"`
	Open     bool    `json:"open,omitempty"`
}

// Record is one line of the stream
type Record struct {
	Kind      string         `json:"kind"`
	Header    *Header        `json:"header,omitempty"`
	Series    *models.Series `json:"series,omitempty"`
	Datapoint *Point         `json:"datapoint,omitempty"`
}

// Summary counts what a backup or restore handled
type Summary struct {
	Series     int `json:"series"`
	Datapoints int `json:"datapoints"`
}

// Export writes every series of e to w
func Export(ctx context.Context, e *engine.Engine, w io.Writer) (Summary, error) {
	var sum Summary
	sw := snappy.NewBufferedWriter(w)
	enc := json.NewEncoder(sw)

	cal := e.Calendar()
	header := &Header{
		Format:         Format,
		Version:        Version,
		CreatedAt:      time.Now().UTC(),
		Timezone:       cal.Location().String(),
		FirstDayOfWeek: cal.FirstDayOfWeek().String(),
	}
	if err := enc.Encode(Record{Kind: KindHeader, Header: header}); err != nil {
		return sum, fmt.Errorf("write header: %w", err)
	}

	all, err := e.ListSeries(ctx)
	if err != nil {
		return sum, err
	}
	for _, s := range all {
		if err := enc.Encode(Record{Kind: KindSeries, Series: s}); err != nil {
			return sum, fmt.Errorf("write series %d: %w", s.ID, err)
		}
		sum.Series++
	}

	for _, s := range all {
		if s.Kind == models.KindSynthetic {
			continue
		}
		rows, err := e.QueryRange(ctx, s.ID, store.MinTime, store.MaxTime, models.GranularityRaw)
		if err != nil {
			return sum, err
		}
		if s.IsRecording() {
			open, err := e.GetDatapoint(ctx, s.RecordingID)
			if err != nil {
				return sum, fmt.Errorf("read recording of series %d: %w", s.ID, err)
			}
			rows = append(rows, open)
		}
		for _, d := range rows {
			p := &Point{SeriesID: s.ID, TsStart: d.TsStart, TsEnd: d.TsEnd, Value: d.Value, Entries: d.Entries, Open: d.Open}
			if err := enc.Encode(Record{Kind: KindDatapoint, Datapoint: p}); err != nil {
				return sum, fmt.Errorf("write datapoint %d: %w", d.ID, err)
			}
			sum.Datapoints++
		}
	}

	if err := sw.Close(); err != nil {
		return sum, fmt.Errorf("flush backup: %w", err)
	}
	return sum, nil
}

// importer carries the state of one Import call
type importer struct {
	ctx    context.Context
	e      *engine.Engine
	logger *logging.Logger

	ids       map[int64]int64 // backup id -> new id
	synthetic []*models.Series
	open      map[int64]Point

	batchSeries int64
	batch       []*models.Datapoint
	sum         Summary
}

// Import restores a backup into e. Series keep their settings but get new
// ids; names must not exist yet. Synthetic series are created last so their
// datapoints are computed from the restored sources.
func Import(ctx context.Context, e *engine.Engine, r io.Reader, logger *logging.Logger) (Summary, error) {
	if logger == nil {
		logger = logging.Global()
	}
	im := &importer{
		ctx:    ctx,
		e:      e,
		logger: logger.With("component", "backup"),
		ids:    make(map[int64]int64),
		open:   make(map[int64]Point),
	}

	dec := json.NewDecoder(bufio.NewReader(snappy.NewReader(r)))
	first := true
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return im.sum, fmt.Errorf("read backup: %w", err)
		}
		if first {
			if err := checkHeader(rec); err != nil {
				return im.sum, err
			}
			first = false
			continue
		}
		if err := im.apply(rec); err != nil {
			return im.sum, err
		}
	}
	if first {
		return im.sum, fmt.Errorf("read backup: empty stream")
	}

	if err := im.flush(); err != nil {
		return im.sum, err
	}
	if err := im.createSynthetic(); err != nil {
		return im.sum, err
	}
	if err := im.reopen(); err != nil {
		return im.sum, err
	}
	return im.sum, nil
}

func checkHeader(rec Record) error {
	if rec.Kind != KindHeader || rec.Header == nil {
		return fmt.Errorf("read backup: missing header")
	}
	if rec.Header.Format != Format {
		return fmt.Errorf("read backup: unknown format %q", rec.Header.Format)
	}
	if rec.Header.Version > Version {
		return fmt.Errorf("read backup: version %d is newer than %d", rec.Header.Version, Version)
	}
	return nil
}

func (im *importer) apply(rec Record) error {
	switch rec.Kind {
	case KindSeries:
		if rec.Series == nil {
			return fmt.Errorf("read backup: series record without series")
		}
		return im.series(rec.Series)
	case KindDatapoint:
		if rec.Datapoint == nil {
			return fmt.Errorf("read backup: datapoint record without datapoint")
		}
		return im.datapoint(*rec.Datapoint)
	default:
		return fmt.Errorf("read backup: unknown record kind %q", rec.Kind)
	}
}

func (im *importer) series(s *models.Series) error {
	if s.Kind == models.KindSynthetic {
		im.synthetic = append(im.synthetic, s)
		return nil
	}
	oldID := s.ID
	created, err := im.e.CreateSeries(im.ctx, s)
	if err != nil {
		return fmt.Errorf("restore series %q: %w", s.Name, err)
	}
	im.ids[oldID] = created.ID
	im.sum.Series++
	return nil
}

func (im *importer) datapoint(p Point) error {
	id, ok := im.ids[p.SeriesID]
	if !ok {
		return fmt.Errorf("read backup: datapoint of unknown series %d", p.SeriesID)
	}
	if p.Open {
		im.open[id] = p
		return nil
	}
	if id != im.batchSeries || len(im.batch) >= utils.MaxBatchSize {
		if err := im.flush(); err != nil {
			return err
		}
		im.batchSeries = id
	}
	im.batch = append(im.batch, &models.Datapoint{TsStart: p.TsStart, TsEnd: p.TsEnd, Value: p.Value, Entries: p.Entries})
	return nil
}

// flush inserts the pending datapoints of one series with one refresh
func (im *importer) flush() error {
	if len(im.batch) == 0 {
		return nil
	}
	if _, err := im.e.InsertBatch(im.ctx, im.batchSeries, im.batch); err != nil {
		return fmt.Errorf("restore datapoints of series %d: %w", im.batchSeries, err)
	}
	im.sum.Datapoints += len(im.batch)
	im.batch = im.batch[:0]
	return nil
}

// createSynthetic creates synthetic series once every series their formula
// reads exists
func (im *importer) createSynthetic() error {
	pending := im.synthetic
	for len(pending) > 0 {
		var next []*models.Series
		for _, s := range pending {
			ready, err := im.sourcesExist(s)
			if err != nil {
				return err
			}
			if !ready {
				next = append(next, s)
				continue
			}
			created, err := im.e.CreateSeries(im.ctx, s)
			if err != nil {
				return fmt.Errorf("restore series %q: %w", s.Name, err)
			}
			im.ids[s.ID] = created.ID
			im.sum.Series++
		}
		if len(next) == len(pending) {
			return fmt.Errorf("restore series %q: formula reads a series missing from the backup", next[0].Name)
		}
		pending = next
	}
	return nil
}

func (im *importer) sourcesExist(s *models.Series) (bool, error) {
	f, err := formula.Parse(s.Formula)
	if err != nil {
		return false, fmt.Errorf("restore series %q: %w", s.Name, err)
	}
	for _, name := range f.Dependents {
		if _, err := im.e.GetSeriesByName(im.ctx, name); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// reopen restarts the recordings that were in flight
func (im *importer) reopen() error {
	for id, p := range im.open {
		if _, err := im.e.RecordEventStart(im.ctx, id, p.TsStart); err != nil {
			return fmt.Errorf("restore recording of series %d: %w", id, err)
		}
		im.sum.Datapoints++
	}
	if len(im.open) > 0 {
		im.logger.Info("Restored open recordings", "count", len(im.open))
	}
	return nil
}
