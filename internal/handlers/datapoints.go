package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/utils"
)

// InsertDatapoint inserts one closed datapoint
func (h *Handler) InsertDatapoint(c *fiber.Ctx) error {
	seriesID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req models.DatapointRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	p := req.Datapoint()

	ctx, cancel := h.context(c)
	defer cancel()

	d, err := h.engine.InsertDatapoint(ctx, seriesID, p.TsStart, p.TsEnd, p.Value, p.Entries)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(d)
}

// InsertBatch inserts up to utils.MaxBatchSize datapoints with one
// aggregate refresh
func (h *Handler) InsertBatch(c *fiber.Ctx) error {
	seriesID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req models.DatapointBatchRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if len(req.Points) == 0 {
		return models.InvalidArgumentf("points must not be empty")
	}
	if len(req.Points) > utils.MaxBatchSize {
		return models.InvalidArgumentf("a batch holds at most %d points", utils.MaxBatchSize)
	}

	points := make([]*models.Datapoint, len(req.Points))
	for i := range req.Points {
		points[i] = req.Points[i].Datapoint()
	}

	ctx, cancel := requestContext(c, utils.AdminRequestTimeout)
	defer cancel()

	ids, err := h.engine.InsertBatch(ctx, seriesID, points)
	if err != nil {
		return err
	}
	h.logger.Debug("Batch inserted", "series_id", seriesID, "count", len(ids))
	return c.Status(fiber.StatusCreated).JSON(models.BatchResponse{IDs: ids, Count: len(ids)})
}

// GetDatapoint returns one datapoint with its shadows, open or closed
func (h *Handler) GetDatapoint(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	ctx, cancel := h.context(c)
	defer cancel()

	d, err := h.engine.GetDatapoint(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(d)
}

// UpdateDatapoint changes the fields present in the body
func (h *Handler) UpdateDatapoint(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var upd models.DatapointUpdate
	if err := parseBody(c, &upd); err != nil {
		return err
	}

	ctx, cancel := h.context(c)
	defer cancel()

	d, err := h.engine.UpdateDatapoint(ctx, id, upd)
	if err != nil {
		return err
	}
	return c.JSON(d)
}

// DeleteDatapoint deletes a datapoint. Deleting an open datapoint cancels
// the recording.
func (h *Handler) DeleteDatapoint(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	ctx, cancel := h.context(c)
	defer cancel()

	if err := h.engine.DeleteDatapoint(ctx, id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Record records a single event of a discrete series
func (h *Handler) Record(c *fiber.Ctx) error {
	seriesID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req models.RecordRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ctx, cancel := h.context(c)
	defer cancel()

	d, err := h.engine.RecordEvent(ctx, seriesID, h.timestampOr(req.Ts), req.Value)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(d)
}

// RecordStart opens a recording on a range series
func (h *Handler) RecordStart(c *fiber.Ctx) error {
	seriesID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req models.RecordRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}

	ctx, cancel := h.context(c)
	defer cancel()

	d, err := h.engine.RecordEventStart(ctx, seriesID, h.timestampOr(req.Ts))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(d)
}

// RecordStop closes the recording of a range series
func (h *Handler) RecordStop(c *fiber.Ctx) error {
	seriesID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req models.RecordStopRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}

	ctx, cancel := h.context(c)
	defer cancel()

	d, err := h.engine.RecordEventStop(ctx, seriesID, h.timestampOr(req.Ts), req.Value)
	if err != nil {
		return err
	}
	return c.JSON(d)
}
