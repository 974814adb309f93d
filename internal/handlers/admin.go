package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/utils"
)

// TriggerZerofill runs one zerofill sweep over every eligible series
func (h *Handler) TriggerZerofill(c *fiber.Ctx) error {
	if h.sweeper == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "zerofill is not configured")
	}

	ctx, cancel := requestContext(c, utils.AdminRequestTimeout)
	defer cancel()

	res, err := h.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	h.logger.Info("Zerofill triggered",
		"visited", res.Visited,
		"inserted", res.Inserted,
		"failures", res.Failures)
	return c.JSON(res)
}

// Recompute rebuilds every aggregate of a series and re-evaluates its dependents
func (h *Handler) Recompute(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c, utils.AdminRequestTimeout)
	defer cancel()

	if err := h.engine.Recompute(ctx, id); err != nil {
		return err
	}
	s, err := h.engine.GetSeries(ctx, id)
	if err != nil {
		return err
	}
	h.logger.Info("Series recomputed", "series_id", id, "name", s.Name)
	return c.JSON(fiber.Map{
		"success": true,
		"series":  s,
		"type":    models.ChangeRecomputed,
	})
}
