package engine

import (
	"context"
	"strings"

	"github.com/lifelog/lifelog/internal/dependency"
	"github.com/lifelog/lifelog/internal/formula"
	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
)

// CreateSeries validates and stores a new series. A synthetic series gets
// its dependency edges and its initial datapoints in the same transaction.
func (e *Engine) CreateSeries(ctx context.Context, s *models.Series) (*models.Series, error) {
	created := *s
	created.ID = 0
	created.RecordingID = 0
	created.Name = strings.TrimSpace(created.Name)
	created.ApplyDefaults()
	if err := created.Validate(); err != nil {
		return nil, err
	}
	now := e.timestamp()
	created.CreatedAt, created.UpdatedAt = now, now

	err := e.exclusive(ctx, "create_series", func(m *mutation) error {
		if err := m.putSeries(&created); err != nil {
			return err
		}
		m.emit(models.ChangeSeriesCreated, created.ID, 0)
		if created.Kind != models.KindSynthetic {
			return nil
		}
		if _, err := dependency.SetFormula(m.tx, &created, created.Formula); err != nil {
			return err
		}
		return m.evaluate(created.ID)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Series created", "series_id", created.ID, "name", created.Name, "kind", string(created.Kind))
	return &created, nil
}

// UpdateSeries changes series settings. Aggregation settings trigger a full
// rebuild; a formula change replaces the edges and re-evaluates the series.
// Renaming a series rewrites the formulas that reference it.
func (e *Engine) UpdateSeries(ctx context.Context, id int64, upd models.SeriesUpdate) (*models.Series, error) {
	var updated *models.Series
	err := e.exclusive(ctx, "update_series", func(m *mutation) error {
		s, err := m.getSeries(id)
		if err != nil {
			return err
		}
		oldName := s.Name
		if upd.Name != nil {
			trimmed := strings.TrimSpace(*upd.Name)
			upd.Name = &trimmed
		}
		rebuild, formulaChanged := upd.Apply(s)
		if err := s.Validate(); err != nil {
			return err
		}
		s.UpdatedAt = e.timestamp()
		if err := m.putSeries(s); err != nil {
			return err
		}
		m.emit(models.ChangeSeriesUpdated, id, 0)

		if s.Name != oldName {
			if err := m.renameReferences(id, oldName, s.Name); err != nil {
				return err
			}
		}

		switch {
		case formulaChanged:
			if _, err := dependency.SetFormula(m.tx, s, s.Formula); err != nil {
				return err
			}
			if err := m.evaluate(id); err != nil {
				return err
			}
			if rebuild {
				if err := m.rebuild(s); err != nil {
					return err
				}
			}
		case rebuild:
			if err := m.rebuild(s); err != nil {
				return err
			}
		default:
			updated = s
			return nil
		}

		updated = s
		return m.cascade(id)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// renameReferences rewrites the formulas of the direct dependents of id
func (m *mutation) renameReferences(id int64, from, to string) error {
	dependents, err := m.tx.DependentsOf(id)
	if err != nil {
		return err
	}
	for _, depID := range dependents {
		dep, err := m.getSeries(depID)
		if err != nil {
			return err
		}
		f, err := formula.Parse(dep.Formula)
		if err != nil {
			return dependency.FormulaError(err)
		}
		if !f.Rename(from, to) {
			continue
		}
		dep.Formula = f.Text
		dep.UpdatedAt = m.e.timestamp()
		if err := m.putSeries(dep); err != nil {
			return err
		}
		m.emit(models.ChangeSeriesUpdated, depID, 0)
	}
	return nil
}

// DeleteSeries removes a series with its datapoints and edges. Dependents
// are re-evaluated with the series treated as empty.
func (e *Engine) DeleteSeries(ctx context.Context, id int64) error {
	err := e.exclusive(ctx, "delete_series", func(m *mutation) error {
		if _, err := m.getSeries(id); err != nil {
			return err
		}
		down, err := dependency.Downstream(m.tx, id, 0)
		if err != nil {
			return err
		}
		if err := m.tx.DeleteSeries(id); err != nil {
			return err
		}
		delete(m.series, id)
		m.emit(models.ChangeSeriesDeleted, id, 0)

		for _, d := range down {
			if err := m.evaluate(d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.locks.forget(id)
	e.logger.Info("Series deleted", "series_id", id)
	return nil
}

// GetSeries returns one series
func (e *Engine) GetSeries(ctx context.Context, id int64) (*models.Series, error) {
	var s *models.Series
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		s, err = r.GetSeries(id)
		return err
	})
	return s, err
}

// GetSeriesByName returns the series with the given name
func (e *Engine) GetSeriesByName(ctx context.Context, name string) (*models.Series, error) {
	var s *models.Series
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		s, err = r.GetSeriesByName(name)
		return err
	})
	return s, err
}

// ListSeries returns every series ordered by id
func (e *Engine) ListSeries(ctx context.Context) ([]*models.Series, error) {
	var out []*models.Series
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.ListSeries()
		return err
	})
	return out, err
}

// Sources returns the series the formula of id reads
func (e *Engine) Sources(ctx context.Context, id int64) ([]int64, error) {
	var out []int64
	err := e.store.View(ctx, func(r store.Reader) error {
		if _, err := r.GetSeries(id); err != nil {
			return err
		}
		var err error
		out, err = dependency.SourcesOf(r, id)
		return err
	})
	return out, err
}

// Dependents returns the series whose formulas read id directly
func (e *Engine) Dependents(ctx context.Context, id int64) ([]int64, error) {
	var out []int64
	err := e.store.View(ctx, func(r store.Reader) error {
		if _, err := r.GetSeries(id); err != nil {
			return err
		}
		var err error
		out, err = dependency.DependentsOf(r, id)
		return err
	})
	return out, err
}

// Recompute rebuilds every aggregate of a series and re-evaluates its
// dependents. Synthetic series are re-evaluated from their sources first.
func (e *Engine) Recompute(ctx context.Context, id int64) error {
	return e.mutate(ctx, "recompute", id, func(m *mutation) error {
		s, err := m.getSeries(id)
		if err != nil {
			return err
		}
		if err := m.evaluate(id); err != nil {
			return err
		}
		if err := m.rebuild(s); err != nil {
			return err
		}
		m.emit(models.ChangeRecomputed, id, 0)
		return nil
	})
}
