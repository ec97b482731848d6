package routes

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/oryxhealth/clinic-backend/internal/config"
	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/handlers"
	"github.com/oryxhealth/clinic-backend/internal/middleware"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

type Handlers struct {
	Health       *handlers.HealthHandler
	Auth         *handlers.AuthHandler
	Tenant       *handlers.TenantHandler
	Staff        *handlers.StaffHandler
	Patient      *handlers.PatientHandler
	Appointment  *handlers.AppointmentHandler
	Attachment   *handlers.AttachmentHandler
	Subscription *handlers.SubscriptionHandler
	Notification *handlers.NotificationHandler
	Settings     *handlers.SettingsHandler
	Webhook      *handlers.WebhookHandler
}

func Setup(app *fiber.App, cfg *config.Config, resolver *tenant.Resolver, h Handlers) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	// Health (no tenant required)
	api.Get("/health", h.Health.Check)

	// Clinic signup: public, stricter rate limit
	signup := api.Group("/clinics")
	signup.Use(limiter.New(limiter.Config{
		Max:               5,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	signup.Post("/signup", h.Tenant.Signup)

	// Auth: public, clinic resolved via the X-Clinic-Slug header.
	// Auth-specific rate limit: 10 req/min per IP (stricter)
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/login", h.Auth.Login)
	auth.Post("/refresh", h.Auth.Refresh)
	auth.Post("/logout", h.Auth.Logout)

	// Webhooks use shared-secret auth, no JWT.
	webhooks := api.Group("/webhooks")
	webhooks.Post("/payment", h.Webhook.HandlePayment)

	// Operator endpoints guarded by the static admin token.
	ops := api.Group("/ops", adminTokenRequired(cfg))
	ops.Delete("/tenants/:tenant_id", h.Tenant.Deactivate)

	// Everything below requires a verified JWT resolved to an active clinic.
	protected := api.Group("", middleware.JWTProtected(cfg), middleware.ResolveActor(resolver))

	protected.Get("/subscription", h.Subscription.Get)
	protected.Get("/subscription/plans", h.Subscription.Plans)
	protected.Get("/subscription/features/:feature", h.Subscription.FeatureAccess)
	protected.Get("/subscription/usage/:resource", h.Subscription.Usage)

	protected.Get("/patients", h.Patient.List)
	protected.Post("/patients", h.Patient.Register)
	protected.Get("/patients/:patient_id", h.Patient.Get)
	protected.Put("/patients/:patient_id", h.Patient.Update)
	protected.Delete("/patients/:patient_id", h.Patient.Archive)
	protected.Post("/patients/:patient_id/reactivate", h.Patient.Reactivate)
	protected.Get("/patients/:patient_id/attachments", h.Attachment.ListForPatient)

	protected.Post("/attachments", h.Attachment.Create)
	protected.Delete("/attachments/:attachment_id", h.Attachment.Delete)

	protected.Post("/appointments", h.Appointment.Book)
	protected.Post("/appointments/check", h.Appointment.CheckConflicts)
	protected.Put("/appointments/:appointment_id", h.Appointment.Reschedule)
	protected.Post("/appointments/:appointment_id/cancel", h.Appointment.Cancel)

	protected.Post("/notifications", h.Notification.Queue)
	protected.Get("/notifications/pending", h.Notification.ListPending)

	// Admin-only clinic management
	admin := protected.Group("", middleware.AdminOnly())
	admin.Get("/staff", h.Staff.List)
	admin.Post("/staff", h.Staff.Invite)
	admin.Delete("/staff/:user_id", h.Staff.Deactivate)
	admin.Put("/staff/:user_id/role", h.Staff.ChangeRole)
	admin.Post("/subscription/upgrade", h.Subscription.Upgrade)
	admin.Post("/subscription/downgrade", h.Subscription.Downgrade)
	admin.Get("/settings", h.Settings.Get)
	admin.Put("/settings", h.Settings.Update)
}

func adminTokenRequired(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Admin-Token")
		if cfg.AdminToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(cfg.AdminToken)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}
		return c.Next()
	}
}
