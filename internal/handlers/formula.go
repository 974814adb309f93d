package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/lifelog/lifelog/internal/dependency"
	"github.com/lifelog/lifelog/internal/formula"
	"github.com/lifelog/lifelog/internal/middleware"
	"github.com/lifelog/lifelog/internal/models"
)

// CheckFormula parses a formula and reports its canonical form, the series
// it reads and the problems creating it would hit. A rejected formula is
// still a 200 response with valid=false.
func (h *Handler) CheckFormula(c *fiber.Ctx) error {
	var req models.FormulaCheckRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	f, err := formula.Parse(req.Formula)
	if err != nil {
		return c.JSON(rejected(dependency.FormulaError(err)))
	}

	if len(f.Dependents) == 0 {
		return c.JSON(rejected(models.InvalidArgumentf("formula must reference at least one series")))
	}

	ctx, cancel := h.context(c)
	defer cancel()

	resp := models.FormulaCheckResponse{
		Valid:      true,
		Formula:    f.String(),
		Dependents: f.Dependents,
	}

	var sourceIDs []int64
	for _, name := range f.Dependents {
		if req.Series != "" && name == req.Series {
			r := rejected(models.ErrSelfDependency)
			r.Formula, r.Dependents = resp.Formula, resp.Dependents
			return c.JSON(r)
		}
		s, err := h.engine.GetSeriesByName(ctx, name)
		if errors.Is(err, models.ErrNotFound) {
			resp.Missing = append(resp.Missing, name)
			continue
		}
		if err != nil {
			return err
		}
		sourceIDs = append(sourceIDs, s.ID)
	}
	if len(resp.Missing) > 0 {
		resp.Valid = false
		resp.Error = &models.ErrorDetail{
			Code:    models.CodeNotFound,
			Message: "formula reads series that do not exist",
		}
		return c.JSON(resp)
	}

	if req.Series != "" {
		cycle, err := h.wouldCycle(ctx, req.Series, sourceIDs)
		if err != nil {
			return err
		}
		if cycle {
			r := rejected(models.ErrDependencyCycle)
			r.Formula, r.Dependents = resp.Formula, resp.Dependents
			return c.JSON(r)
		}
	}
	return c.JSON(resp)
}

// wouldCycle reports whether an existing series named name is reachable
// from itself through sources, following source -> dependent edges.
func (h *Handler) wouldCycle(ctx context.Context, name string, sources []int64) (bool, error) {
	s, err := h.engine.GetSeriesByName(ctx, name)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	downstream := map[int64]bool{s.ID: true}
	queue := []int64{s.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		deps, err := h.engine.Dependents(ctx, id)
		if err != nil {
			return false, err
		}
		for _, d := range deps {
			if !downstream[d] {
				downstream[d] = true
				queue = append(queue, d)
			}
		}
	}
	for _, id := range sources {
		if downstream[id] {
			return true, nil
		}
	}
	return false, nil
}

func rejected(err error) models.FormulaCheckResponse {
	_, detail := middleware.Detail(err)
	return models.FormulaCheckResponse{Valid: false, Error: &detail}
}
