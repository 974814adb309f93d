package dependency

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelog/lifelog/internal/formula"
	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
)

// seed creates one series per name and returns them by name
func seed(t *testing.T, s store.Store, names ...string) map[string]*models.Series {
	t.Helper()
	out := make(map[string]*models.Series, len(names))
	require.NoError(t, s.Update(context.Background(), func(tx store.Tx) error {
		for _, name := range names {
			ser := &models.Series{Name: name}
			ser.ApplyDefaults()
			if err := tx.PutSeries(ser); err != nil {
				return err
			}
			out[name] = ser
		}
		return nil
	}))
	return out
}

func setFormula(s store.Store, ser *models.Series, text string) error {
	return s.Update(context.Background(), func(tx store.Tx) error {
		_, err := SetFormula(tx, ser, text)
		return err
	})
}

func edges(t *testing.T, s store.Store) []models.Edge {
	t.Helper()
	var out []models.Edge
	require.NoError(t, s.View(context.Background(), func(r store.Reader) error {
		var err error
		out, err = r.ListEdges()
		return err
	}))
	return out
}

func TestSetFormula(t *testing.T) {
	s := store.NewMemory()
	ser := seed(t, s, "Coffee", "Tea", "Drinks")

	require.NoError(t, setFormula(s, ser["Drinks"], `series "Coffee" + series "Tea"`))
	assert.Equal(t, []models.Edge{
		{ResultID: ser["Drinks"].ID, SourceID: ser["Coffee"].ID},
		{ResultID: ser["Drinks"].ID, SourceID: ser["Tea"].ID},
	}, edges(t, s))

	// replacing the formula replaces the whole edge set
	require.NoError(t, setFormula(s, ser["Drinks"], `series "Tea" * 2`))
	assert.Equal(t, []models.Edge{{ResultID: ser["Drinks"].ID, SourceID: ser["Tea"].ID}}, edges(t, s))
}

func TestSetFormula_SelfDependency(t *testing.T) {
	s := store.NewMemory()
	ser := seed(t, s, "A", "B")
	require.NoError(t, setFormula(s, ser["B"], `series "A"`))

	err := setFormula(s, ser["B"], `series "A" + series "B"`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSelfDependency))

	// previous edge set survives the failed transaction
	assert.Equal(t, []models.Edge{{ResultID: ser["B"].ID, SourceID: ser["A"].ID}}, edges(t, s))
}

func TestSetFormula_SelfDependencyCommitsNothing(t *testing.T) {
	s := store.NewMemory()
	ser := seed(t, s, "A")

	err := setFormula(s, ser["A"], `series "A"`)
	assert.ErrorIs(t, err, models.ErrSelfDependency)
	assert.Empty(t, edges(t, s))
}

func TestSetFormula_Errors(t *testing.T) {
	s := store.NewMemory()
	ser := seed(t, s, "A", "B", "C")

	tests := []struct {
		name    string
		series  string
		formula string
		want    error
	}{
		{"unknown source", "B", `series "Missing" + 1`, models.ErrNotFound},
		{"parse error", "B", `series "A" +`, models.ErrInvalidArgument},
		{"constant", "B", `1 + 2`, models.ErrInvalidArgument},
		{"trailing operator chain", "B", `series "A" + 1 + 2`, models.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := setFormula(s, ser[tt.series], tt.formula)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, edges(t, s))
}

func TestSetFormula_ParseErrorDetails(t *testing.T) {
	s := store.NewMemory()
	ser := seed(t, s, "A")

	err := setFormula(s, ser["A"], `1 + `)
	require.Error(t, err)

	var pe *formula.ParseError
	require.True(t, errors.As(err, &pe))

	var de *models.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, pe.Pos, de.Details["position"])
}

func TestSetFormula_TransitiveCycle(t *testing.T) {
	s := store.NewMemory()
	ser := seed(t, s, "A", "B", "C")

	require.NoError(t, setFormula(s, ser["B"], `series "A" * 2`))
	require.NoError(t, setFormula(s, ser["C"], `series "B" + 1`))

	err := setFormula(s, ser["A"], `series "C" - 1`)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDependencyCycle)
	assert.Len(t, edges(t, s), 2)
}

func TestDownstream(t *testing.T) {
	s := store.NewMemory()
	ser := seed(t, s, "A", "B", "C", "D")

	// D reads B and C, C reads B, B reads A
	require.NoError(t, setFormula(s, ser["B"], `series "A" * 2`))
	require.NoError(t, setFormula(s, ser["C"], `series "B" + 1`))
	require.NoError(t, setFormula(s, ser["D"], `series "B" + series "C"`))

	require.NoError(t, s.View(context.Background(), func(r store.Reader) error {
		order, err := Downstream(r, ser["A"].ID, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{ser["B"].ID, ser["C"].ID, ser["D"].ID}, order)

		direct, err := DependentsOf(r, ser["B"].ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{ser["C"].ID, ser["D"].ID}, direct)

		sources, err := SourcesOf(r, ser["D"].ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{ser["B"].ID, ser["C"].ID}, sources)

		closure, err := Closure(r, ser["C"].ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{ser["C"].ID, ser["D"].ID}, closure)

		leaf, err := Downstream(r, ser["D"].ID, 0)
		require.NoError(t, err)
		assert.Empty(t, leaf)

		_, err = Downstream(r, ser["A"].ID, 2)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
		return nil
	}))
}
