package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lifelog/lifelog/internal/models"
)

// Health handles health check requests
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(models.HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Version:   h.version,
		Store:     h.backend,
	})
}

// NotFound handles 404 errors
func (h *Handler) NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    models.CodeNotFound,
			Message: "Route not found",
			Path:    c.Path(),
		},
	})
}
