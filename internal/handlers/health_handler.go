package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/oryxhealth/clinic-backend/internal/database"
	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

type HealthHandler struct {
	resolver *tenant.Resolver
}

func NewHealthHandler(resolver *tenant.Resolver) *HealthHandler {
	return &HealthHandler{resolver: resolver}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := database.Ping(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	return c.JSON(dto.HealthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		DB:          dbStatus,
		TenantCount: h.resolver.Count(),
	})
}
