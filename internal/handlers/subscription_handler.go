package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/subscription"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

type SubscriptionHandler struct {
	lifecycle *subscription.Lifecycle
}

func NewSubscriptionHandler(lifecycle *subscription.Lifecycle) *SubscriptionHandler {
	return &SubscriptionHandler{lifecycle: lifecycle}
}

func (h *SubscriptionHandler) Get(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	view, err := h.lifecycle.Get(c.Context(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(view)
}

func (h *SubscriptionHandler) Plans(c *fiber.Ctx) error {
	return c.JSON(subscription.AllPlans)
}

func (h *SubscriptionHandler) Upgrade(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}

	var req dto.PlanChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	result, err := h.lifecycle.Upgrade(c.Context(), actor, req.Tier)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

func (h *SubscriptionHandler) Downgrade(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}

	var req dto.PlanChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	result, err := h.lifecycle.Downgrade(c.Context(), actor, req.Tier)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

func (h *SubscriptionHandler) FeatureAccess(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	feature := c.Params("feature")
	enabled, err := h.lifecycle.CheckFeatureAccess(c.Context(), actor, feature)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.FeatureAccessResponse{Feature: feature, Enabled: enabled})
}

func (h *SubscriptionHandler) Usage(c *fiber.Ctx) error {
	actor, err := tenant.ActorFromFiber(c)
	if err != nil {
		return respondError(c, err)
	}
	report, err := h.lifecycle.CheckUsageLimit(c.Context(), actor, c.Params("resource"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}
