package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/services"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
}

func NewNotificationHandler(notificationService *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

func (h *NotificationHandler) Queue(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}

	var req dto.NotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	n, err := h.notificationService.Queue(c.Context(), actor, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}

func (h *NotificationHandler) ListPending(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	out, err := h.notificationService.ListPending(c.Context(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}
