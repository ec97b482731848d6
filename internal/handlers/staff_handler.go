package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/services"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

type StaffHandler struct {
	staffService *services.StaffService
}

func NewStaffHandler(staffService *services.StaffService) *StaffHandler {
	return &StaffHandler{staffService: staffService}
}

func (h *StaffHandler) Invite(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}

	var req dto.StaffInviteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.staffService.Invite(c.Context(), actor, &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmailTaken):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		case errors.Is(err, services.ErrInvalidRole):
			return badRequest(c, err.Error())
		}
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *StaffHandler) List(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	staff, err := h.staffService.List(c.Context(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(staff)
}

func (h *StaffHandler) Deactivate(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	userID, err := uuid.Parse(c.Params("user_id"))
	if err != nil {
		return badRequest(c, "Invalid user id")
	}
	if err := h.staffService.Deactivate(c.Context(), actor, userID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Staff member deactivated"})
}

func (h *StaffHandler) ChangeRole(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	userID, err := uuid.Parse(c.Params("user_id"))
	if err != nil {
		return badRequest(c, "Invalid user id")
	}

	var req dto.ChangeRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.staffService.ChangeRole(c.Context(), actor, userID, req.Role); err != nil {
		if errors.Is(err, services.ErrInvalidRole) {
			return badRequest(c, err.Error())
		}
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Role updated"})
}
