package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/models"
	"github.com/oryxhealth/clinic-backend/internal/services"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

// AuthHandler resolves the clinic from the X-Clinic-Slug header on the
// unauthenticated auth routes, then delegates to the auth service.
type AuthHandler struct {
	authService *services.AuthService
	resolver    *tenant.Resolver
}

func NewAuthHandler(authService *services.AuthService, resolver *tenant.Resolver) *AuthHandler {
	return &AuthHandler{authService: authService, resolver: resolver}
}

func (h *AuthHandler) clinic(c *fiber.Ctx) (*models.Tenant, error) {
	slug := c.Get("X-Clinic-Slug")
	if slug == "" {
		return nil, errors.New("missing X-Clinic-Slug header")
	}
	t := h.resolver.GetBySlug(slug)
	if t == nil || !t.Active {
		return nil, errors.New("unknown clinic")
	}
	return t, nil
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	t, err := h.clinic(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	}

	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.authService.Login(c.Context(), t.ID, &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) || errors.Is(err, services.ErrUserInactive) {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	t, err := h.clinic(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	}

	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.authService.Refresh(c.Context(), t.ID, &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidToken) || errors.Is(err, services.ErrUserInactive) {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	t, err := h.clinic(c)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	}

	var req dto.LogoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.authService.Logout(c.Context(), t.ID, &req); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}
