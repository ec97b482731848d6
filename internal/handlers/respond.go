package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/oryxhealth/clinic-backend/internal/domain"
	"github.com/oryxhealth/clinic-backend/internal/dto"
)

// respondError maps service errors onto HTTP responses. Policy denials carry
// their code and details to the client as 409s; infrastructure failures are
// logged and returned without internals.
func respondError(c *fiber.Ctx, err error) error {
	if denial, ok := domain.AsDenial(err); ok {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error:   true,
			Code:    denial.Code,
			Message: denial.Message,
			Details: denial.Details,
		})
	}
	switch {
	case domain.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	case domain.IsTimeout(err):
		return c.Status(fiber.StatusGatewayTimeout).JSON(dto.ErrorResponse{
			Error: true, Message: "Request timed out",
		})
	case domain.IsContention(err):
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: "Temporary contention, please retry",
		})
	}

	slog.Error("request failed", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error: true, Message: "Internal server error",
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Message: msg,
	})
}
