package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lifelog/lifelog/internal/models"
)

// CreateSeries creates a series. Synthetic series are evaluated before the
// response is sent.
func (h *Handler) CreateSeries(c *fiber.Ctx) error {
	var req models.CreateSeriesRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ctx, cancel := h.context(c)
	defer cancel()

	s, err := h.engine.CreateSeries(ctx, req.Series())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(s)
}

// ListSeries lists every series, or the one named by ?name=
func (h *Handler) ListSeries(c *fiber.Ctx) error {
	ctx, cancel := h.context(c)
	defer cancel()

	if name := c.Query("name"); name != "" {
		s, err := h.engine.GetSeriesByName(ctx, name)
		if err != nil {
			return err
		}
		return c.JSON(models.SeriesListResponse{Series: []*models.Series{s}, Count: 1})
	}

	all, err := h.engine.ListSeries(ctx)
	if err != nil {
		return err
	}
	if all == nil {
		all = []*models.Series{}
	}
	return c.JSON(models.SeriesListResponse{Series: all, Count: len(all)})
}

// GetSeries returns one series
func (h *Handler) GetSeries(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	ctx, cancel := h.context(c)
	defer cancel()

	s, err := h.engine.GetSeries(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(s)
}

// UpdateSeries changes series settings
func (h *Handler) UpdateSeries(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var upd models.SeriesUpdate
	if err := parseBody(c, &upd); err != nil {
		return err
	}

	ctx, cancel := h.context(c)
	defer cancel()

	s, err := h.engine.UpdateSeries(ctx, id, upd)
	if err != nil {
		return err
	}
	return c.JSON(s)
}

// DeleteSeries deletes a series with its datapoints and edges
func (h *Handler) DeleteSeries(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	ctx, cancel := h.context(c)
	defer cancel()

	if err := h.engine.DeleteSeries(ctx, id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Dependencies lists the sources and direct dependents of a series
func (h *Handler) Dependencies(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	ctx, cancel := h.context(c)
	defer cancel()

	if _, err := h.engine.GetSeries(ctx, id); err != nil {
		return err
	}
	sources, err := h.engine.Sources(ctx, id)
	if err != nil {
		return err
	}
	dependents, err := h.engine.Dependents(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(models.DependencyResponse{
		SeriesID:   id,
		Sources:    nonNil(sources),
		Dependents: nonNil(dependents),
	})
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
