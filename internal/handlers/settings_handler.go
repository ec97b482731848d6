package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/services"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

type SettingsHandler struct {
	tenantService *services.TenantService
}

func NewSettingsHandler(tenantService *services.TenantService) *SettingsHandler {
	return &SettingsHandler{tenantService: tenantService}
}

func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	settings, err := h.tenantService.GetSettings(c.Context(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(settings)
}

func (h *SettingsHandler) Update(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}

	var req dto.SettingsUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	settings, err := h.tenantService.UpdateSettings(c.Context(), actor, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(settings)
}
