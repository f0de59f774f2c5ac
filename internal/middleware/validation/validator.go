package validation

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hr-platform/backend/pkg/logger"
)

type Config struct {
	MaxUploadBytes int64
}

// Upload rejects upload requests that cannot carry a CV before the body is
// parsed: wrong content type or a declared length over the limit.
func Upload(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Upload must be multipart/form-data with a file field",
			})
		}

		// multipart framing adds a little on top of the file itself
		if cfg.MaxUploadBytes > 0 && int64(c.Request().Header.ContentLength()) > cfg.MaxUploadBytes+64*1024 {
			logger.Warn("Upload rejected by declared size",
				zap.String("ip", c.IP()),
				zap.Int("content_length", c.Request().Header.ContentLength()),
			)
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "File exceeds maximum size",
			})
		}

		if _, err := EmployeeID(c); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.Next()
	}
}

// ExtractionID rejects routes whose :id parameter is not a UUID.
func ExtractionID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := uuid.Parse(c.Params("id")); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid extraction id",
			})
		}
		return c.Next()
	}
}

// EmployeeID parses the :employeeId route parameter.
func EmployeeID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("employeeId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid employee id")
	}
	return id, nil
}
