package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/services"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

type PatientHandler struct {
	patientService *services.PatientService
}

func NewPatientHandler(patientService *services.PatientService) *PatientHandler {
	return &PatientHandler{patientService: patientService}
}

func (h *PatientHandler) Register(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}

	var req dto.PatientCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.FullName == "" {
		return badRequest(c, "full_name is required")
	}

	patient, err := h.patientService.Register(c.Context(), actor, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(patient)
}

func (h *PatientHandler) List(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	patients, err := h.patientService.List(c.Context(), actor, c.QueryBool("active_only"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(patients)
}

func (h *PatientHandler) Get(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := uuid.Parse(c.Params("patient_id"))
	if err != nil {
		return badRequest(c, "Invalid patient id")
	}
	patient, err := h.patientService.Get(c.Context(), actor, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(patient)
}

func (h *PatientHandler) Update(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := uuid.Parse(c.Params("patient_id"))
	if err != nil {
		return badRequest(c, "Invalid patient id")
	}

	var req dto.PatientUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	patient, err := h.patientService.Update(c.Context(), actor, id, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(patient)
}

func (h *PatientHandler) Archive(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := uuid.Parse(c.Params("patient_id"))
	if err != nil {
		return badRequest(c, "Invalid patient id")
	}
	if err := h.patientService.Archive(c.Context(), actor, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Patient archived"})
}

func (h *PatientHandler) Reactivate(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := uuid.Parse(c.Params("patient_id"))
	if err != nil {
		return badRequest(c, "Invalid patient id")
	}
	if err := h.patientService.Reactivate(c.Context(), actor, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Patient reactivated"})
}
