package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/models"
)

// StatusOf maps a domain error code to an HTTP status
func StatusOf(code string) int {
	switch code {
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeInvalidArgument:
		return fiber.StatusBadRequest
	case models.CodeDependencyCycle:
		return fiber.StatusConflict
	case models.CodeSelfDependency:
		return fiber.StatusUnprocessableEntity
	case models.CodeStoreFailure:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// Detail renders err as a response body
func Detail(err error) (int, models.ErrorDetail) {
	var de *models.Error
	if errors.As(err, &de) {
		return StatusOf(de.Code), models.ErrorDetail{
			Code:      de.Code,
			Message:   de.Message,
			Retryable: de.Retryable(),
			Details:   de.Details,
		}
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, models.ErrorDetail{Code: "ERROR", Message: fe.Message}
	}
	return fiber.StatusInternalServerError, models.ErrorDetail{Code: "ERROR", Message: "Internal Server Error"}
}

// ErrorHandler returns a custom error handler middleware
func ErrorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, detail := Detail(err)
		detail.Path = c.Path()

		fields := []interface{}{
			"path", c.Path(),
			"method", c.Method(),
			"status", code,
			"error", err,
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("Request error", fields...)
		} else {
			logger.Debug("Request rejected", fields...)
		}

		return c.Status(code).JSON(models.ErrorResponse{Error: detail})
	}
}
