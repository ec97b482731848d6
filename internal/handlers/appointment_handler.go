package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/scheduling"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

type AppointmentHandler struct {
	scheduler *scheduling.Scheduler
}

func NewAppointmentHandler(scheduler *scheduling.Scheduler) *AppointmentHandler {
	return &AppointmentHandler{scheduler: scheduler}
}

func (h *AppointmentHandler) Book(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}

	var req dto.BookAppointmentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.DurationMinutes <= 0 {
		return badRequest(c, "duration_minutes must be positive")
	}

	result, err := h.scheduler.Book(c.Context(), actor, scheduling.BookingRequest{
		PsychologistID: req.PsychologistID,
		PatientID:      req.PatientID,
		StartTime:      req.StartTime,
		EndTime:        req.StartTime.Add(time.Duration(req.DurationMinutes) * time.Minute),
		Notes:          req.Notes,
		Remind:         req.Remind,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"appointment":     result.Appointment,
		"reminder_queued": result.ReminderQueued,
	})
}

func (h *AppointmentHandler) CheckConflicts(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}

	var req dto.ConflictCheckRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.DurationMinutes <= 0 {
		return badRequest(c, "duration_minutes must be positive")
	}

	end := req.StartTime.Add(time.Duration(req.DurationMinutes) * time.Minute)
	conflicts, err := h.scheduler.CheckConflicts(c.Context(), actor, req.PsychologistID, req.StartTime, end, req.ExcludeAppointmentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"conflicts":     conflicts,
		"has_conflicts": len(conflicts) > 0,
	})
}

func (h *AppointmentHandler) Reschedule(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := uuid.Parse(c.Params("appointment_id"))
	if err != nil {
		return badRequest(c, "Invalid appointment id")
	}

	var req dto.RescheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.DurationMinutes <= 0 {
		return badRequest(c, "duration_minutes must be positive")
	}

	end := req.StartTime.Add(time.Duration(req.DurationMinutes) * time.Minute)
	appt, err := h.scheduler.Reschedule(c.Context(), actor, id, req.StartTime, end)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(appt)
}

func (h *AppointmentHandler) Cancel(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := uuid.Parse(c.Params("appointment_id"))
	if err != nil {
		return badRequest(c, "Invalid appointment id")
	}

	var req dto.CancelRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.scheduler.Cancel(c.Context(), actor, id, req.NoShow); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Appointment cancelled"})
}
