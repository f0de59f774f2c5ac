package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/hr-platform/backend/internal/pipeline"
	"github.com/hr-platform/backend/pkg/logger"
)

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, pipeline.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotAuthorized):
		return fiber.StatusForbidden
	case errors.Is(err, pipeline.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, pipeline.ErrNotRetryable), errors.Is(err, pipeline.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, pipeline.ErrStorageUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, op string, err error) error {
	code := statusFor(err)
	msg := err.Error()
	if code >= fiber.StatusInternalServerError {
		logger.Error("Request failed", zap.String("op", op), zap.String("path", c.Path()), zap.Error(err))
		if code == fiber.StatusInternalServerError {
			msg = "Internal error"
		}
	}
	return c.Status(code).JSON(fiber.Map{
		"error": msg,
	})
}

var errNoPrincipal = fiber.NewError(fiber.StatusUnauthorized, "Missing identity")
