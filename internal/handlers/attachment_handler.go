package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/services"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

type AttachmentHandler struct {
	attachmentService *services.AttachmentService
}

func NewAttachmentHandler(attachmentService *services.AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{attachmentService: attachmentService}
}

func (h *AttachmentHandler) Create(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}

	var req dto.AttachmentCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	att, err := h.attachmentService.Create(c.Context(), actor, &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidSize) {
			return badRequest(c, err.Error())
		}
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(att)
}

func (h *AttachmentHandler) Delete(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := uuid.Parse(c.Params("attachment_id"))
	if err != nil {
		return badRequest(c, "Invalid attachment id")
	}
	if err := h.attachmentService.Delete(c.Context(), actor, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Attachment deleted"})
}

func (h *AttachmentHandler) ListForPatient(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	patientID, err := uuid.Parse(c.Params("patient_id"))
	if err != nil {
		return badRequest(c, "Invalid patient id")
	}
	atts, err := h.attachmentService.ListForPatient(c.Context(), actor, patientID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(atts)
}
