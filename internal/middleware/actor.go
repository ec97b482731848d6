package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

// ResolveActor turns the verified JWT (placed in locals by JWTProtected) into
// a tenant.Actor, rejects tokens for deactivated tenants, and stores the
// actor in locals for handlers.
func ResolveActor(resolver *tenant.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals("user").(*jwt.Token)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized: missing token",
			})
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized: invalid claims",
			})
		}

		actor, err := tenant.ActorFromClaims(claims)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized: " + err.Error(),
			})
		}

		t := resolver.Get(actor.TenantID)
		if t == nil || !t.Active {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: true, Message: "Clinic account is not active",
			})
		}

		c.Locals(tenant.LocalsActorKey, actor)
		return c.Next()
	}
}

// AdminOnly restricts a route group to actors with the ADMIN role.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := tenant.ActorFromFiber(c)
		if err != nil || actor.Role != tenant.RoleAdmin {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: true, Message: "Admin role required",
			})
		}
		return c.Next()
	}
}
