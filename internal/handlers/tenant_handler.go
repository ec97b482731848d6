package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/services"
)

type TenantHandler struct {
	tenantService *services.TenantService
}

func NewTenantHandler(tenantService *services.TenantService) *TenantHandler {
	return &TenantHandler{tenantService: tenantService}
}

func (h *TenantHandler) Signup(c *fiber.Ctx) error {
	var req dto.TenantSignupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Slug == "" || req.ClinicName == "" || req.AdminEmail == "" || req.AdminPassword == "" {
		return badRequest(c, "clinic_name, slug, admin_email and admin_password are required")
	}

	resp, err := h.tenantService.Signup(c.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrSlugTaken) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// Deactivate is an operator endpoint guarded by the admin token middleware.
func (h *TenantHandler) Deactivate(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("tenant_id"))
	if err != nil {
		return badRequest(c, "Invalid tenant id")
	}
	if err := h.tenantService.Deactivate(c.Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Tenant deactivated"})
}
