package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/robbenti/nsdb/internal/model"
)

// statusFor maps the caller-visible error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrMetricNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, model.ErrTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, model.ErrUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, model.ErrUnsupportedDistributedAvg):
		return fiber.StatusBadRequest
	case model.IsSchemaConflict(err), model.IsInvalidStatement(err):
		return fiber.StatusBadRequest
	default:
		var sv *model.SchemaViolation
		if errors.As(err, &sv) {
			return fiber.StatusBadRequest
		}
		return fiber.StatusInternalServerError
	}
}
