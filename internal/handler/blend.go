package handler

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/songblend/api/internal/client"
	"github.com/songblend/api/internal/model"
	"github.com/songblend/api/internal/service"
	"github.com/songblend/api/pkg/response"
)

type BlendHandler struct {
	service   *service.BlendService
	validator *validator.Validate
}

func NewBlendHandler(svc *service.BlendService, v *validator.Validate) *BlendHandler {
	return &BlendHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/generate
func (h *BlendHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.UserContext(), req.Songs)
	if err != nil {
		return err
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/status/:jobId
func (h *BlendHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return err
	}

	return response.OK(c, result)
}

// Jobs handles GET /api/jobs
func (h *BlendHandler) Jobs(c *fiber.Ctx) error {
	query := model.JobListQuery{Limit: service.DefaultJobListLimit}
	if err := c.QueryParser(&query); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}

	if err := h.validator.Struct(&query); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.ListJobs(c.UserContext(), query.Limit, query.Offset)
	if err != nil {
		return err
	}

	return response.OK(c, result)
}

// Cancel handles DELETE /api/jobs/:jobId
func (h *BlendHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return err
	}

	return response.OK(c, result)
}

// Download handles GET /api/download/:fileId
func (h *BlendHandler) Download(c *fiber.Ctx) error {
	fileID := c.Params("fileId")
	body, size, err := h.service.OpenOutput(c.UserContext(), fileID)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, client.OutputContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="blend-%s.mp3"`, fileID))
	// The stream is closed once the body has been written.
	return c.SendStream(body, int(size))
}
