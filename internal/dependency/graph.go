// Package dependency maintains the edges between synthetic series and the
// series their formulas read.
//
// Edges are stored through the store transaction passed in by the caller, so a
// failed SetFormula leaves the previous edge set untouched once the
// transaction rolls back.
package dependency

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lifelog/lifelog/internal/formula"
	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
)

// SetFormula parses text and replaces the source edges of series with the
// series it references. The series is not modified; callers store the text.
func SetFormula(tx store.Tx, series *models.Series, text string) (*formula.Formula, error) {
	f, err := formula.Parse(text)
	if err != nil {
		return nil, FormulaError(err)
	}
	if len(f.Dependents) == 0 {
		return nil, models.NewErrorWithDetails(models.CodeInvalidArgument,
			"formula must reference at least one series", map[string]interface{}{"formula": text})
	}

	sources := make([]int64, 0, len(f.Dependents))
	for _, name := range f.Dependents {
		src, err := tx.GetSeriesByName(name)
		if err != nil {
			return nil, err
		}
		if src.ID == series.ID {
			return nil, models.NewErrorWithDetails(models.CodeSelfDependency,
				fmt.Sprintf("formula of %q references itself", series.Name),
				map[string]interface{}{"series": series.Name})
		}
		sources = append(sources, src.ID)
	}

	// A source that already reads series (directly or not) would close a loop.
	for _, src := range sources {
		reaches, err := reachable(tx, series.ID, src)
		if err != nil {
			return nil, err
		}
		if reaches {
			return nil, models.NewErrorWithDetails(models.CodeDependencyCycle,
				fmt.Sprintf("formula of %q introduces a dependency cycle", series.Name),
				map[string]interface{}{"series": series.Name, "source_id": src})
		}
	}

	if err := tx.ReplaceEdges(series.ID, sources); err != nil {
		return nil, err
	}
	return f, nil
}

// FormulaError converts a parse failure into an INVALID_ARGUMENT error that
// still unwraps to the *formula.ParseError.
func FormulaError(err error) error {
	var pe *formula.ParseError
	if !errors.As(err, &pe) {
		return models.InvalidArgumentf("invalid formula: %v", err)
	}
	return &models.Error{
		Code:    models.CodeInvalidArgument,
		Message: "invalid formula",
		Details: map[string]interface{}{"token": pe.Token.Text, "position": pe.Pos, "reason": pe.Msg},
		Err:     pe,
	}
}

// DependentsOf returns the series whose formulas read id directly
func DependentsOf(r store.Reader, id int64) ([]int64, error) {
	return r.DependentsOf(id)
}

// SourcesOf returns the series the formula of id reads
func SourcesOf(r store.Reader, id int64) ([]int64, error) {
	return r.SourcesOf(id)
}

// reachable reports whether to is reachable from from by following
// source -> dependent edges.
func reachable(r store.Reader, from, to int64) (bool, error) {
	if from == to {
		return true, nil
	}
	seen := map[int64]bool{from: true}
	queue := []int64{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		next, err := r.DependentsOf(id)
		if err != nil {
			return false, err
		}
		for _, n := range next {
			if n == to {
				return true, nil
			}
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false, nil
}

// Downstream returns every transitive dependent of id in topological order,
// each exactly once. maxDepth bounds the longest dependency chain below id;
// zero or less means unbounded.
func Downstream(r store.Reader, id int64, maxDepth int) ([]int64, error) {
	// collect the reachable subgraph
	children := make(map[int64][]int64)
	depth := map[int64]int{id: 0}
	queue := []int64{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next, err := r.DependentsOf(cur)
		if err != nil {
			return nil, err
		}
		children[cur] = next
		for _, n := range next {
			if n == id {
				return nil, cycleError(id)
			}
			if _, ok := depth[n]; !ok {
				depth[n] = 0
				queue = append(queue, n)
			}
		}
	}

	// Kahn's algorithm over the subgraph, ties broken by id
	indegree := make(map[int64]int, len(depth))
	for _, next := range children {
		for _, n := range next {
			indegree[n]++
		}
	}
	ready := []int64{id}
	order := make([]int64, 0, len(depth)-1)
	visited := 0
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		cur := ready[0]
		ready = ready[1:]
		visited++
		if cur != id {
			order = append(order, cur)
		}
		for _, n := range children[cur] {
			if depth[cur]+1 > depth[n] {
				depth[n] = depth[cur] + 1
			}
			if maxDepth > 0 && depth[n] > maxDepth {
				return nil, models.NewErrorWithDetails(models.CodeInvalidArgument,
					fmt.Sprintf("dependency chain below series %d exceeds %d levels", id, maxDepth),
					map[string]interface{}{"series_id": id, "max_depth": maxDepth})
			}
			indegree[n]--
			if indegree[n] == 0 {
				ready = append(ready, n)
			}
		}
	}
	if visited != len(depth) {
		return nil, cycleError(id)
	}
	return order, nil
}

// Closure returns id and all of its transitive dependents in ascending id
// order, the order series locks are taken in.
func Closure(r store.Reader, id int64) ([]int64, error) {
	down, err := Downstream(r, id, 0)
	if err != nil {
		return nil, err
	}
	ids := append([]int64{id}, down...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func cycleError(id int64) error {
	return models.NewErrorWithDetails(models.CodeDependencyCycle,
		fmt.Sprintf("series %d is part of a dependency cycle", id),
		map[string]interface{}{"series_id": id})
}
