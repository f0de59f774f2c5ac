package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hr-platform/backend/internal/access"
	"github.com/hr-platform/backend/internal/middleware/auth"
	"github.com/hr-platform/backend/internal/middleware/validation"
	"github.com/hr-platform/backend/internal/pipeline"
	"github.com/hr-platform/backend/internal/storage/models"
)

// Service is the part of the orchestrator the HTTP layer calls.
type Service interface {
	Upload(ctx context.Context, p access.Principal, req pipeline.UploadRequest) (*models.Extraction, error)
	GetStatus(ctx context.Context, p access.Principal, id string) (*pipeline.StatusView, error)
	List(ctx context.Context, p access.Principal, employeeID int64, limit int) ([]*pipeline.StatusView, error)
	Retry(ctx context.Context, p access.Principal, id string) (*pipeline.StatusView, error)
	Cancel(ctx context.Context, p access.Principal, id string) (*pipeline.StatusView, error)
	Delete(ctx context.Context, p access.Principal, id string) error
	UsageSummary(ctx context.Context, p access.Principal, since time.Time) ([]models.UsageSummaryRow, error)
}

type ExtractionHandler struct {
	svc Service
}

func NewExtractionHandler(svc Service) *ExtractionHandler {
	return &ExtractionHandler{
		svc: svc,
	}
}

func (h *ExtractionHandler) Upload(c *fiber.Ctx) error {
	p, ok := auth.FromCtx(c)
	if !ok {
		return writeError(c, "upload", errNoPrincipal)
	}
	employeeID, err := validation.EmployeeID(c)
	if err != nil {
		return writeError(c, "upload", err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A file field is required",
		})
	}
	f, err := fh.Open()
	if err != nil {
		return writeError(c, "upload", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return writeError(c, "upload", err)
	}

	ext, err := h.svc.Upload(c.UserContext(), p, pipeline.UploadRequest{
		EmployeeID: employeeID,
		Filename:   fh.Filename,
		MimeType:   fh.Header.Get(fiber.HeaderContentType),
		Data:       data,
	})
	if err != nil {
		return writeError(c, "upload", err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"extraction_id": ext.ID,
		"status":        ext.Status,
	})
}

func (h *ExtractionHandler) GetStatus(c *fiber.Ctx) error {
	p, ok := auth.FromCtx(c)
	if !ok {
		return writeError(c, "status", errNoPrincipal)
	}
	view, err := h.svc.GetStatus(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return writeError(c, "status", err)
	}
	return c.JSON(view)
}

func (h *ExtractionHandler) List(c *fiber.Ctx) error {
	p, ok := auth.FromCtx(c)
	if !ok {
		return writeError(c, "list", errNoPrincipal)
	}
	employeeID, err := validation.EmployeeID(c)
	if err != nil {
		return writeError(c, "list", err)
	}

	views, err := h.svc.List(c.UserContext(), p, employeeID, c.QueryInt("limit", 0))
	if err != nil {
		return writeError(c, "list", err)
	}
	return c.JSON(fiber.Map{
		"extractions": views,
	})
}

func (h *ExtractionHandler) Retry(c *fiber.Ctx) error {
	p, ok := auth.FromCtx(c)
	if !ok {
		return writeError(c, "retry", errNoPrincipal)
	}
	view, err := h.svc.Retry(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return writeError(c, "retry", err)
	}
	return c.Status(fiber.StatusAccepted).JSON(view)
}

func (h *ExtractionHandler) Cancel(c *fiber.Ctx) error {
	p, ok := auth.FromCtx(c)
	if !ok {
		return writeError(c, "cancel", errNoPrincipal)
	}
	view, err := h.svc.Cancel(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return writeError(c, "cancel", err)
	}
	return c.JSON(view)
}

func (h *ExtractionHandler) Delete(c *fiber.Ctx) error {
	p, ok := auth.FromCtx(c)
	if !ok {
		return writeError(c, "delete", errNoPrincipal)
	}
	if err := h.svc.Delete(c.UserContext(), p, c.Params("id")); err != nil {
		return writeError(c, "delete", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
