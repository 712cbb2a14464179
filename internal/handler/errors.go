// Package handler exposes the blend service over HTTP.
package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/songblend/api/internal/logging"
	"github.com/songblend/api/internal/model"
	"github.com/songblend/api/pkg/response"
)

const genericErrorMessage = "Internal Server Error"

// ErrorHandler maps errors returned by handlers onto the error envelope.
// Messages of 5xx errors are replaced in production.
func ErrorHandler(logger *zap.Logger, isProduction bool) fiber.ErrorHandler {
	logger = logging.OrNop(logger).Named("http")
	return func(c *fiber.Ctx, err error) error {
		status, message := mapError(err)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		}
		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			fields = append(fields, zap.String("request_id", rid))
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}

		if isProduction && status >= fiber.StatusInternalServerError && status != fiber.StatusServiceUnavailable {
			message = genericErrorMessage
		}
		return response.Error(c, status, response.CodeForStatus(status), message, nil)
	}
}

// mapError picks the status for err and the message shown to the client.
func mapError(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case errors.Is(err, model.ErrInvalidSongs):
		return fiber.StatusBadRequest, model.ErrInvalidSongs.Error()
	case errors.Is(err, model.ErrInvalidJobID):
		return fiber.StatusBadRequest, "Invalid job ID"
	case errors.Is(err, model.ErrInvalidFileID):
		return fiber.StatusBadRequest, "Invalid file ID"
	case errors.Is(err, model.ErrJobNotFound):
		return fiber.StatusNotFound, "Job not found"
	case errors.Is(err, model.ErrArtifactNotFound):
		return fiber.StatusNotFound, "File not found"
	case errors.Is(err, model.ErrJobTerminal):
		return fiber.StatusConflict, "Job already finished"
	case errors.Is(err, model.ErrQueueFull):
		return fiber.StatusServiceUnavailable, "Too many jobs in progress, try again later"
	case errors.Is(err, model.ErrDispatchFailed):
		return fiber.StatusServiceUnavailable, "Job could not be scheduled, try again later"
	default:
		return fiber.StatusInternalServerError, err.Error()
	}
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make(map[string]string)
		for _, e := range validationErrors {
			errs[e.Field()] = e.Tag()
		}
		return errs
	}
	return nil
}
