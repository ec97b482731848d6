package handlers

import (
	"crypto/subtle"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/oryxhealth/clinic-backend/internal/config"
	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/subscription"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

type WebhookHandler struct {
	lifecycle *subscription.Lifecycle
	resolver  *tenant.Resolver
	cfg       *config.Config
}

func NewWebhookHandler(lifecycle *subscription.Lifecycle, resolver *tenant.Resolver, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{lifecycle: lifecycle, resolver: resolver, cfg: cfg}
}

// HandlePayment processes billing provider events with shared-secret auth.
func (h *WebhookHandler) HandlePayment(c *fiber.Ctx) error {
	if h.cfg.PaymentWebhookSecret == "" {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "Webhooks not configured",
		})
	}

	authHeader := c.Get("Authorization")
	if subtle.ConstantTimeCompare([]byte(authHeader), []byte(h.cfg.PaymentWebhookSecret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var webhook dto.PaymentWebhook
	if err := c.BodyParser(&webhook); err != nil {
		return badRequest(c, "Invalid webhook payload")
	}

	if !h.resolver.Exists(webhook.TenantID) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "Unknown tenant",
		})
	}

	if err := h.lifecycle.HandlePaymentEvent(c.Context(), webhook.TenantID, webhook.EventType); err != nil {
		slog.Error("webhook processing failed",
			"tenant_id", webhook.TenantID, "event_type", webhook.EventType, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to process webhook event",
		})
	}

	slog.Info("webhook processed", "tenant_id", webhook.TenantID, "event_type", webhook.EventType)
	return c.JSON(fiber.Map{"received": true})
}
