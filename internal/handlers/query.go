package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store"
	"github.com/lifelog/lifelog/internal/utils"
)

// Query handles GET /v1/series/:id/datapoints.
//
// Parameters:
//   - granularity: raw (default), day, week, month, quarter, year
//   - from, to: unix seconds; either selects an ascending range query
//   - recent: number of newest rows, used when no range is given
//
// For granularities other than raw every bucket is returned once.
func (h *Handler) Query(c *fiber.Ctx) error {
	seriesID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	g, err := models.ParseGranularity(c.Query("granularity"))
	if err != nil {
		return err
	}

	ctx, cancel := h.context(c)
	defer cancel()

	var rows []*models.Datapoint
	if c.Query("from") != "" || c.Query("to") != "" {
		from, err := queryInt64(c, "from", store.MinTime)
		if err != nil {
			return err
		}
		to, err := queryInt64(c, "to", store.MaxTime)
		if err != nil {
			return err
		}
		rows, err = h.engine.QueryRange(ctx, seriesID, from, to, g)
		if err != nil {
			return err
		}
	} else {
		count, err := queryInt64(c, "recent", utils.DefaultQueryCount)
		if err != nil {
			return err
		}
		if count < 1 || count > utils.MaxQueryCount {
			return models.InvalidArgumentf("recent must be between 1 and %d", utils.MaxQueryCount)
		}
		rows, err = h.engine.QueryRecent(ctx, seriesID, int(count), g)
		if err != nil {
			return err
		}
	}

	return c.JSON(models.NewQueryResponse(seriesID, g, rows))
}
